package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the send circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        // Consecutive failures before the circuit opens
	Timeout     time.Duration // Open duration before a half-open probe
	Interval    time.Duration // Closed-state period for clearing counts
}

// Breaker wraps a Bus so that sends fail fast while the bus keeps failing.
// Subscribe and Close pass through unchanged.
type Breaker struct {
	Bus
	cb     *gobreaker.CircuitBreaker[struct{}]
	logger *slog.Logger
}

// NewBreaker wraps inner with a circuit breaker on Send.
func NewBreaker(inner Bus, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "bus:send",
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// A cancelled caller says nothing about the bus.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Breaker{Bus: inner, cb: cb, logger: logger}
}

// Send routes through the circuit breaker.
func (b *Breaker) Send(ctx context.Context, body []byte) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.Bus.Send(ctx, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	}
	return err
}

// State returns the breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
