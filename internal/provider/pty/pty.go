// Package pty runs a child process attached to a pseudo-terminal and
// exposes non-blocking readiness plus plain read/write on the master side.
//
// A Process is owned by exactly one goroutine at a time; only Terminate,
// State, Running and PID may be called from elsewhere.
package pty

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyLaunched = errors.New("pty process already launched")
	ErrNotLaunched     = errors.New("pty process not launched")
	// ErrClosed reports an orderly end of the stream: the child exited or
	// the slave side went away. It is not a failure.
	ErrClosed = errors.New("pty process closed")
	// ErrTransport reports a read or write failure on the master.
	ErrTransport = errors.New("pty transport error")
	// ErrUnsupported is returned on platforms without pseudo-terminals.
	ErrUnsupported = errors.New("pseudo-terminals are not supported on this platform")
)

// LaunchError wraps the OS error that kept a child from starting.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

type State int

const (
	StateUnstarted State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// PollResult is the outcome of a zero-timeout readiness check.
type PollResult int

const (
	// PollIdle means the child is alive and nothing is waiting to be read.
	PollIdle PollResult = iota
	// PollReady means a Read will return data without blocking.
	PollReady
	// PollClosed means the process is no longer running.
	PollClosed
)

func (r PollResult) String() string {
	switch r {
	case PollIdle:
		return "idle"
	case PollReady:
		return "ready"
	case PollClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LaunchRequest describes the child to start.
type LaunchRequest struct {
	Path   string
	Args   []string
	Env    []string
	Dir    string
	Width  int
	Height int
}
