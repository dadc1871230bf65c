package terminal

import (
	"sync"
)

// UpdateBroadcaster fans session updates out to channel subscribers without
// ever blocking the publisher. A subscriber that falls behind loses its
// oldest pending update, never the newest, so an UpdateClosed is always
// delivered.
type UpdateBroadcaster struct {
	mu     sync.Mutex
	subs   map[int64]chan Update
	closed bool
	nextID int64
	seq    int64
}

func NewUpdateBroadcaster() *UpdateBroadcaster {
	return &UpdateBroadcaster{
		subs: make(map[int64]chan Update),
	}
}

// Subscribe returns a channel of updates and a function that cancels the
// subscription. The channel is closed on cancel or when the broadcaster
// closes.
func (b *UpdateBroadcaster) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Update, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
}

// Broadcast stamps update with the next sequence number and offers it to
// every subscriber.
func (b *UpdateBroadcaster) Broadcast(update Update) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b.seq
	}
	b.seq++
	update.Seq = b.seq
	for _, sub := range b.subs {
		select {
		case sub <- update:
			continue
		default:
		}
		select {
		case <-sub:
		default:
		}
		select {
		case sub <- update:
		default:
		}
	}
	return b.seq
}

// Seq returns the sequence number of the last broadcast.
func (b *UpdateBroadcaster) Seq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

func (b *UpdateBroadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
	b.mu.Unlock()
}
