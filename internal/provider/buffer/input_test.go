package buffer

import (
	"errors"
	"sync"
	"testing"
)

func TestInputQueue_PushDrain(t *testing.T) {
	q := NewInputQueue[string](10)

	if err := q.Push("a", "b"); err != nil {
		t.Fatalf("failed to push: %v", err)
	}
	if err := q.Push("c"); err != nil {
		t.Fatalf("failed to push: %v", err)
	}

	got := q.Drain()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("expected [a b c], got %v", got)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue after drain, got %d", q.Len())
	}
	if got := q.Drain(); got != nil {
		t.Errorf("expected nil from empty drain, got %v", got)
	}
}

func TestInputQueue_Full(t *testing.T) {
	q := NewInputQueue[int](3)

	if err := q.Push(1, 2); err != nil {
		t.Fatalf("failed to push: %v", err)
	}
	if err := q.Push(3, 4); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Len() != 2 {
		t.Errorf("rejected push must not partially apply, len=%d", q.Len())
	}
}

func TestInputQueue_Close(t *testing.T) {
	q := NewInputQueue[int](0)
	_ = q.Push(1)
	q.Close()

	if err := q.Push(2); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if got := q.Drain(); len(got) != 0 {
		t.Errorf("expected closed queue to be empty, got %v", got)
	}
}

func TestInputQueue_ConcurrentPush(t *testing.T) {
	q := NewInputQueue[int](1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = q.Push(j)
			}
		}()
	}
	wg.Wait()

	if got := len(q.Drain()); got != 500 {
		t.Errorf("expected 500 items, got %d", got)
	}
}
