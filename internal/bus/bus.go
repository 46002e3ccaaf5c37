// Package bus connects the relay to the external message bus.
//
// Frames read from the gateway are sent to a sender queue, and commands
// destined for the gateway are received from a receiver queue. Received
// messages are settled individually: a handler returning true completes
// the message, false abandons it for redelivery.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Errors
var (
	ErrClosed      = errors.New("bus closed")
	ErrBreakerOpen = errors.New("bus circuit open")
)

// Message is one message received from the bus.
type Message struct {
	ID            string
	Body          []byte
	DeliveryCount int
}

// Handler processes a received message and reports whether it succeeded.
type Handler func(ctx context.Context, msg Message) bool

// Bus sends to the sender queue and receives from the receiver queue.
type Bus interface {
	// Send publishes one message body.
	Send(ctx context.Context, body []byte) error

	// Subscribe delivers received messages to handler until ctx is done,
	// running at most the configured number of handlers at once.
	Subscribe(ctx context.Context, handler Handler) error

	// Close releases the underlying connections.
	Close(ctx context.Context) error

	// Stats returns current counters.
	Stats() Stats
}

// Options holds settings shared by every driver.
type Options struct {
	Concurrency   int           // Max concurrent handlers (default: 100)
	MaxDeliveries int           // Deliveries before a message is dead-lettered (default: 10)
	SettleTimeout time.Duration // Deadline for complete/abandon calls (default: 5s)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Concurrency:   100,
		MaxDeliveries: 10,
		SettleTimeout: 5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Concurrency < 1 {
		o.Concurrency = d.Concurrency
	}
	if o.MaxDeliveries < 1 {
		o.MaxDeliveries = d.MaxDeliveries
	}
	if o.SettleTimeout <= 0 {
		o.SettleTimeout = d.SettleTimeout
	}
	return o
}

// Stats contains bus statistics.
type Stats struct {
	Sent         int64
	SendErrors   int64
	Received     int64
	Completed    int64
	Abandoned    int64
	DeadLettered int64
	SettleErrors int64
}

type counters struct {
	sent         atomic.Int64
	sendErrors   atomic.Int64
	received     atomic.Int64
	completed    atomic.Int64
	abandoned    atomic.Int64
	deadLettered atomic.Int64
	settleErrors atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Sent:         c.sent.Load(),
		SendErrors:   c.sendErrors.Load(),
		Received:     c.received.Load(),
		Completed:    c.completed.Load(),
		Abandoned:    c.abandoned.Load(),
		DeadLettered: c.deadLettered.Load(),
		SettleErrors: c.settleErrors.Load(),
	}
}

// dispatcher bounds the number of handlers running at once.
type dispatcher struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func newDispatcher(concurrency int) *dispatcher {
	return &dispatcher{sem: make(chan struct{}, concurrency)}
}

// acquire takes a slot, blocking until one is free or ctx is done.
func (d *dispatcher) acquire(ctx context.Context) bool {
	select {
	case d.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *dispatcher) release() {
	<-d.sem
}

// free returns the number of slots not in use.
func (d *dispatcher) free() int {
	return cap(d.sem) - len(d.sem)
}

// waitFree blocks until at least one slot is free.
func (d *dispatcher) waitFree(ctx context.Context) bool {
	if !d.acquire(ctx) {
		return false
	}
	d.release()
	return true
}

// run executes fn in a goroutine holding an already acquired slot.
func (d *dispatcher) run(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release()
		fn()
	}()
}

func (d *dispatcher) wait() {
	d.wg.Wait()
}

// settleContext detaches settlement from the subscription context so that
// in-flight messages are still settled during shutdown.
func settleContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
