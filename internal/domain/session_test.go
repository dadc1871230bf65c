package domain

import (
	"errors"
	"testing"
)

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		state    SessionState
		expected string
	}{
		{SessionStateStarting, "starting"},
		{SessionStateRunning, "running"},
		{SessionStateTerminated, "terminated"},
		{SessionState(999), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("SessionState(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from     SessionState
		to       SessionState
		expected bool
	}{
		{SessionStateStarting, SessionStateRunning, true},
		{SessionStateStarting, SessionStateTerminated, true},
		{SessionStateStarting, SessionStateStarting, false},
		{SessionStateRunning, SessionStateTerminated, true},
		{SessionStateRunning, SessionStateStarting, false},
		{SessionStateTerminated, SessionStateRunning, false},
		{SessionStateTerminated, SessionStateStarting, false},
		{SessionStateTerminated, SessionStateTerminated, false},
	}

	for _, tt := range tests {
		got := CanTransition(tt.from, tt.to)
		if got != tt.expected {
			t.Errorf("CanTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.expected)
		}
	}
}

func TestNewInvalidTransitionError(t *testing.T) {
	err := NewInvalidTransitionError(SessionStateTerminated, SessionStateRunning)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if got, want := err.Error(), "invalid state transition: terminated -> running"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
