package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueue_PushPop(t *testing.T) {
	q := New[int](10, 0)

	for i := 0; i < 5; i++ {
		if err := q.Push(i); err != nil {
			t.Fatalf("Push(%d) = %v", i, err)
		}
	}

	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}

	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_GrowAt70Percent(t *testing.T) {
	q := New[int](10, 0)

	for i := 0; i < 7; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Capacity <= 10 {
		t.Errorf("Capacity = %d, expected growth after 70%% fill", stats.Capacity)
	}
	if stats.Grows != 1 {
		t.Errorf("Grows = %d, want 1", stats.Grows)
	}

	for i := 0; i < 7; i++ {
		val, ok := q.TryPop()
		if !ok || val != i {
			t.Fatalf("TryPop() = %d, %v; want %d, true", val, ok, i)
		}
	}
}

func TestQueue_MaxCapacity(t *testing.T) {
	q := New[int](2, 4)

	for i := 0; i < 4; i++ {
		if err := q.Push(i); err != nil {
			t.Fatalf("Push(%d) = %v", i, err)
		}
	}

	if err := q.Push(4); !errors.Is(err, ErrFull) {
		t.Fatalf("Push past max = %v, want ErrFull", err)
	}

	stats := q.Stats()
	if stats.Capacity != 4 {
		t.Errorf("Capacity = %d, want 4", stats.Capacity)
	}
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}

	// Space frees up again once consumed.
	q.TryPop()
	if err := q.Push(5); err != nil {
		t.Errorf("Push after pop = %v", err)
	}
}

func TestQueue_BlockingPop(t *testing.T) {
	q := New[int](10, 0)

	received := make(chan int, 1)
	go func() {
		val, err := q.Pop(context.Background())
		if err == nil {
			received <- val
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(42)

	select {
	case val := <-received:
		if val != 42 {
			t.Errorf("received %d, want 42", val)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked pop")
	}
}

func TestQueue_PopContextCancel(t *testing.T) {
	q := New[int](10, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Pop() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancel did not unblock Pop")
	}
}

func TestQueue_Close(t *testing.T) {
	q := New[int](10, 0)

	q.Push(1)
	q.Push(2)
	q.Close()

	if err := q.Push(3); !errors.Is(err, ErrClosed) {
		t.Errorf("Push after Close = %v, want ErrClosed", err)
	}

	// Queued items survive Close.
	for _, want := range []int{1, 2} {
		got, err := q.Pop(context.Background())
		if err != nil || got != want {
			t.Errorf("Pop() = %d, %v; want %d, nil", got, err, want)
		}
	}

	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Pop on closed empty queue = %v, want ErrClosed", err)
	}
}

func TestQueue_CloseUnblocksPop(t *testing.T) {
	q := New[int](10, 0)

	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Pop() error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Pop")
	}
}

func TestQueue_ConcurrentPushPopKeepsOrder(t *testing.T) {
	q := New[int](4, 0)
	const numItems = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numItems; i++ {
			q.Push(i)
		}
	}()

	received := make([]int, 0, numItems)
	for len(received) < numItems {
		val, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("Pop() = %v", err)
		}
		received = append(received, val)
	}
	wg.Wait()

	// Single producer, single consumer: FIFO order must hold.
	for i, val := range received {
		if val != i {
			t.Fatalf("received[%d] = %d, want %d", i, val, i)
		}
	}
}

func TestQueue_WrapAround(t *testing.T) {
	q := New[int](5, 0)

	q.Push(1)
	q.Push(2)
	q.Push(3)

	q.TryPop()
	q.TryPop()

	q.Push(4)
	q.Push(5)
	q.Push(6)
	q.Push(7)
	q.Push(8)

	expected := []int{3, 4, 5, 6, 7, 8}
	for _, want := range expected {
		got, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop failed, expected %d", want)
		}
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
}

func TestNew_MinCapacity(t *testing.T) {
	tests := []struct {
		name    string
		initial int
		max     int
		wantCap int
	}{
		{name: "zero", initial: 0, wantCap: 1},
		{name: "negative", initial: -5, wantCap: 1},
		{name: "clamped to max", initial: 10, max: 3, wantCap: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New[int](tt.initial, tt.max)
			if got := q.Stats().Capacity; got != tt.wantCap {
				t.Errorf("Capacity = %d, want %d", got, tt.wantCap)
			}
		})
	}
}
