//go:build !unix

package pty

// Supported reports whether this platform can run pty processes.
func Supported() bool { return false }

// Process is unavailable here; every operation reports ErrUnsupported or a
// closed stream.
type Process struct {
	exited chan struct{}
}

func NewProcess() *Process {
	p := &Process{exited: make(chan struct{})}
	close(p.exited)
	return p
}

func (p *Process) Launch(req LaunchRequest) error {
	return &LaunchError{Path: req.Path, Err: ErrUnsupported}
}

func (p *Process) Poll() PollResult              { return PollClosed }
func (p *Process) Read(buf []byte) (int, error)  { return 0, ErrClosed }
func (p *Process) Write(buf []byte) (int, error) { return 0, ErrClosed }
func (p *Process) Terminate()                    {}
func (p *Process) State() State                  { return StateTerminated }
func (p *Process) Running() bool                 { return false }
func (p *Process) PID() (int, bool)              { return 0, false }
func (p *Process) Exited() <-chan struct{}       { return p.exited }
