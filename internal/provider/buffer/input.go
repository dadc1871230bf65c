package buffer

import (
	"errors"
	"sync"
)

var (
	ErrQueueFull   = errors.New("input queue full")
	ErrQueueClosed = errors.New("input queue closed")
)

// DefaultQueueSize bounds the keystrokes waiting for one flush.
const DefaultQueueSize = 1024

// InputQueue collects input between flushes. Push never blocks; the consumer
// takes everything at once with Drain.
type InputQueue[T any] struct {
	mu      sync.Mutex
	pending []T
	limit   int
	closed  bool
}

// NewInputQueue creates a queue holding at most limit pending items.
func NewInputQueue[T any](limit int) *InputQueue[T] {
	if limit <= 0 {
		limit = DefaultQueueSize
	}
	return &InputQueue[T]{limit: limit}
}

// Push appends items, all or nothing.
func (q *InputQueue[T]) Push(items ...T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if len(q.pending)+len(items) > q.limit {
		return ErrQueueFull
	}
	q.pending = append(q.pending, items...)
	return nil
}

// Drain removes and returns everything pending, oldest first.
func (q *InputQueue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.pending
	q.pending = nil
	return out
}

func (q *InputQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close discards pending input. Later pushes fail with ErrQueueClosed.
func (q *InputQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending = nil
}
