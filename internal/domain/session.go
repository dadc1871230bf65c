package domain

import (
	"errors"
	"fmt"
)

// SessionState is the lifecycle of one bridged game session.
type SessionState int

const (
	SessionStateStarting SessionState = iota
	SessionStateRunning
	SessionStateTerminated
)

func (s SessionState) String() string {
	switch s {
	case SessionStateStarting:
		return "starting"
	case SessionStateRunning:
		return "running"
	case SessionStateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

var ErrInvalidTransition = errors.New("invalid state transition")

func NewInvalidTransitionError(from, to SessionState) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

var validTransitions = map[SessionState][]SessionState{
	SessionStateStarting: {SessionStateRunning, SessionStateTerminated},
	SessionStateRunning:  {SessionStateTerminated},
}

func CanTransition(from, to SessionState) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
