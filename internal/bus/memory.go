package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/anthonian/aura-gateway/internal/queue"
)

// Memory is an in-process bus for local runs and tests. Sent messages are
// kept in an outbox; messages injected with Deliver are handed to Subscribe.
type Memory struct {
	opts   Options
	logger *slog.Logger

	outbox *queue.Queue[Message]
	inbox  *queue.Queue[Message]

	mu   sync.Mutex
	dead []Message

	counters
}

// NewMemory creates an in-memory bus. maxBuffer caps both queues (0 = unbounded).
func NewMemory(opts Options, maxBuffer int, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		opts:   opts.withDefaults(),
		logger: logger,
		outbox: queue.New[Message](64, maxBuffer),
		inbox:  queue.New[Message](64, maxBuffer),
	}
}

// Send appends body to the outbox.
func (m *Memory) Send(ctx context.Context, body []byte) error {
	msg := Message{ID: uuid.NewString(), Body: append([]byte(nil), body...)}
	if err := m.outbox.Push(msg); err != nil {
		m.sendErrors.Add(1)
		if errors.Is(err, queue.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("memory send: %w", err)
	}
	m.sent.Add(1)
	return nil
}

// Outbox returns the queue of sent messages.
func (m *Memory) Outbox() *queue.Queue[Message] {
	return m.outbox
}

// Deliver makes body available to Subscribe.
func (m *Memory) Deliver(body []byte) (string, error) {
	msg := Message{ID: uuid.NewString(), Body: append([]byte(nil), body...)}
	if err := m.inbox.Push(msg); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return "", ErrClosed
		}
		return "", fmt.Errorf("memory deliver: %w", err)
	}
	return msg.ID, nil
}

// DeadLetters returns messages abandoned MaxDeliveries times.
func (m *Memory) DeadLetters() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.dead...)
}

// Subscribe hands inbox messages to handler until ctx is done or the bus is closed.
// Abandoned messages go back to the end of the inbox.
func (m *Memory) Subscribe(ctx context.Context, handler Handler) error {
	d := newDispatcher(m.opts.Concurrency)
	defer d.wait()

	for {
		if !d.acquire(ctx) {
			return nil
		}

		msg, err := m.inbox.Pop(ctx)
		if err != nil {
			d.release()
			if errors.Is(err, queue.ErrClosed) {
				return ErrClosed
			}
			return nil
		}

		msg.DeliveryCount++
		m.received.Add(1)

		d.run(func() {
			m.settle(msg, handler(ctx, msg))
		})
	}
}

func (m *Memory) settle(msg Message, ok bool) {
	if ok {
		m.completed.Add(1)
		return
	}

	if msg.DeliveryCount >= m.opts.MaxDeliveries {
		m.deadLettered.Add(1)
		m.mu.Lock()
		m.dead = append(m.dead, msg)
		m.mu.Unlock()
		m.logger.Warn("message dead-lettered", "id", msg.ID, "deliveries", msg.DeliveryCount)
		return
	}

	if err := m.inbox.Push(msg); err != nil {
		m.settleErrors.Add(1)
		m.logger.Warn("failed to requeue message", "id", msg.ID, "error", err)
		return
	}
	m.abandoned.Add(1)
}

// Close stops both queues. Pending inbox messages are still delivered.
func (m *Memory) Close(ctx context.Context) error {
	m.outbox.Close()
	m.inbox.Close()
	return nil
}

// Stats returns current counters.
func (m *Memory) Stats() Stats {
	return m.snapshot()
}
