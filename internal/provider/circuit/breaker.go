package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while a breaker is cooling down.
var ErrOpen = errors.New("circuit open")

// Breaker counts consecutive failures. Reaching the threshold opens it for
// the cooldown period, during which Allow fails fast.
type Breaker struct {
	mu             sync.Mutex
	threshold      int
	cooldownPeriod time.Duration
	failureCount   int
	cooldownUntil  time.Time
	now            func() time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{
		threshold:      threshold,
		cooldownPeriod: cooldown,
		now:            time.Now,
	}
}

// Allow reports whether an attempt may proceed. The returned error wraps
// ErrOpen and names the remaining cooldown.
func (cb *Breaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if remaining := cb.cooldownUntil.Sub(cb.now()); remaining > 0 {
		return fmt.Errorf("%w: retry in %s", ErrOpen, remaining.Round(time.Second))
	}
	return nil
}

// RecordFailure records a failure. Returns true if the breaker opened.
func (cb *Breaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	if cb.failureCount >= cb.threshold {
		cb.cooldownUntil = cb.now().Add(cb.cooldownPeriod)
		cb.failureCount = 0
		return true
	}
	return false
}

// RecordSuccess clears the failure streak.
func (cb *Breaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
}

func (cb *Breaker) IsInCooldown() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.now().Before(cb.cooldownUntil)
}

// CooldownRemaining returns 0 when the breaker is closed.
func (cb *Breaker) CooldownRemaining() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return max(cb.cooldownUntil.Sub(cb.now()), 0)
}

func (cb *Breaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.cooldownUntil = time.Time{}
}

func (cb *Breaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// Set lazily keeps one breaker per key, all with the same settings.
type Set[K comparable] struct {
	mu        sync.Mutex
	breakers  map[K]*Breaker
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func NewSet[K comparable](threshold int, cooldown time.Duration) *Set[K] {
	return &Set[K]{
		breakers:  make(map[K]*Breaker),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Get returns the breaker for key, creating it on first use.
func (s *Set[K]) Get(key K) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[key]
	if !ok {
		b = NewBreaker(s.threshold, s.cooldown)
		b.now = s.now
		s.breakers[key] = b
	}
	return b
}

// Forget drops the breaker for key.
func (s *Set[K]) Forget(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, key)
}

// SetClock replaces the time source of the set and every breaker in it.
func (s *Set[K]) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	for _, b := range s.breakers {
		b.mu.Lock()
		b.now = now
		b.mu.Unlock()
	}
}
