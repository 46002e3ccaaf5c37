package gateway

import (
	"sync"
	"time"
)

// HeartbeatScheduler calls beat at a fixed period until cancelled.
// beat runs on the scheduler's goroutine and must not block.
type HeartbeatScheduler struct {
	beat func()

	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	interval time.Duration
}

// NewHeartbeatScheduler creates an unarmed scheduler.
func NewHeartbeatScheduler(beat func()) *HeartbeatScheduler {
	return &HeartbeatScheduler{beat: beat}
}

// Arm starts emitting at interval, replacing any previously armed timer.
// A non-positive interval only cancels.
func (h *HeartbeatScheduler) Arm(interval time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cancelLocked()
	if interval <= 0 {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	h.stop, h.done, h.interval = stop, done, interval

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				h.beat()
			}
		}
	}()
}

// Cancel stops the timer and waits for it to exit. Safe when never armed.
func (h *HeartbeatScheduler) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelLocked()
}

// Armed reports whether a timer is running.
func (h *HeartbeatScheduler) Armed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stop != nil
}

// Interval returns the armed period, or 0.
func (h *HeartbeatScheduler) Interval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interval
}

func (h *HeartbeatScheduler) cancelLocked() {
	if h.stop == nil {
		return
	}
	close(h.stop)
	<-h.done
	h.stop, h.done, h.interval = nil, nil, 0
}
