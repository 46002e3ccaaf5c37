// Package queue provides an unbounded-by-default FIFO used to hand work
// between goroutines without blocking the producer.
package queue

import (
	"context"
	"errors"
	"sync"
)

// Errors
var (
	ErrClosed = errors.New("queue closed")
	ErrFull   = errors.New("queue at max capacity")
)

// Queue is a thread-safe ring buffer that doubles its capacity when it
// reaches 70% full, up to an optional ceiling.
type Queue[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	max      int // 0 = no ceiling
	closed   bool

	pushed  int64
	popped  int64
	dropped int64
	grows   int
}

// Stats contains queue statistics.
type Stats struct {
	Len      int
	Capacity int
	Pushed   int64
	Popped   int64
	Dropped  int64
	Grows    int
}

// New creates a queue with the given initial capacity. A positive max caps
// growth; Push then fails with ErrFull once max items are queued.
func New[T any](initial, max int) *Queue[T] {
	if initial < 1 {
		initial = 1
	}
	if max > 0 && initial > max {
		initial = max
	}
	q := &Queue[T]{
		buf:      make([]T, initial),
		capacity: initial,
		max:      max,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item without blocking.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold && (q.max == 0 || q.capacity < q.max) {
		q.grow()
	}
	if q.count == q.capacity {
		q.dropped++
		return ErrFull
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.pushed++

	q.cond.Signal()
	return nil
}

// Pop removes the oldest item, blocking until one is available, the queue
// is closed and drained (ErrClosed), or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}

	var zero T
	if q.count == 0 {
		if q.closed {
			return zero, ErrClosed
		}
		return zero, ctx.Err()
	}

	return q.take(), nil
}

// TryPop removes the oldest item if one is queued.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.take(), true
}

// Close stops accepting items. Queued items can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns a snapshot of queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:      q.count,
		Capacity: q.capacity,
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
		Grows:    q.grows,
	}
}

// take must be called with the lock held and count > 0.
func (q *Queue[T]) take() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // release reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.popped++
	return item
}

// grow doubles the capacity (clamped to max). Must be called with lock held.
func (q *Queue[T]) grow() {
	newCapacity := q.capacity * 2
	if q.max > 0 && newCapacity > q.max {
		newCapacity = q.max
	}
	newBuf := make([]T, newCapacity)

	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = newCapacity
	q.grows++
}
