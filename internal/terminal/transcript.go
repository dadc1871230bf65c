package terminal

import (
	"sync"
	"unicode/utf8"
)

// Transcript keeps the most recent decoded output of a session in a ring
// buffer so late joiners and operators can see what scrolled past.
type Transcript struct {
	mu       sync.RWMutex
	buffer   []byte
	size     int
	writePos int
	wrapped  bool
	total    int64
}

func NewTranscript(size int) *Transcript {
	if size <= 0 {
		size = 64 * 1024
	}
	return &Transcript{
		buffer: make([]byte, size),
		size:   size,
	}
}

func (t *Transcript) WriteString(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total += int64(len(s))
	if len(s) >= t.size {
		copy(t.buffer, s[len(s)-t.size:])
		t.writePos = 0
		t.wrapped = true
		return
	}
	n := copy(t.buffer[t.writePos:], s)
	if n < len(s) {
		copy(t.buffer, s[n:])
		t.wrapped = true
	}
	t.writePos = (t.writePos + len(s)) % t.size
	if t.writePos == 0 && len(s) > 0 {
		t.wrapped = true
	}
}

// Text returns the retained output in order, and whether older output was
// discarded. A character cut in half by the ring boundary is dropped.
func (t *Transcript) Text() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.wrapped {
		return string(t.buffer[:t.writePos]), false
	}
	out := make([]byte, 0, t.size)
	out = append(out, t.buffer[t.writePos:]...)
	out = append(out, t.buffer[:t.writePos]...)
	for len(out) > 0 && !utf8.RuneStart(out[0]) {
		out = out[1:]
	}
	return string(out), t.total > int64(t.size)
}

// Total is the number of bytes ever written.
func (t *Transcript) Total() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}
