//go:build unix

package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	gopty "github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Supported reports whether this platform can run pty processes.
func Supported() bool { return true }

type Process struct {
	mu      sync.Mutex
	state   State
	cmd     *exec.Cmd
	master  *os.File
	rawConn syscall.RawConn
	exited  chan struct{}
}

func NewProcess() *Process {
	return &Process{exited: make(chan struct{})}
}

// Launch starts the child in a new session with the pty slave as its
// controlling terminal. A failed launch leaves the process terminated.
func (p *Process) Launch(req LaunchRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateUnstarted {
		return ErrAlreadyLaunched
	}

	cmd := exec.Command(req.Path, req.Args...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = req.Env
	}

	master, err := gopty.StartWithSize(cmd, winsize(req.Width, req.Height))
	if err != nil {
		p.state = StateTerminated
		close(p.exited)
		return &LaunchError{Path: req.Path, Err: err}
	}

	rawConn, err := master.SyscallConn()
	if err != nil {
		_ = killGroup(cmd.Process)
		_ = cmd.Wait()
		_ = master.Close()
		p.state = StateTerminated
		close(p.exited)
		return &LaunchError{Path: req.Path, Err: err}
	}

	p.cmd = cmd
	p.master = master
	p.rawConn = rawConn
	p.state = StateRunning

	go p.reap()
	return nil
}

func (p *Process) reap() {
	_ = p.cmd.Wait()
	close(p.exited)
}

// Poll checks the master for readable data without blocking.
func (p *Process) Poll() PollResult {
	p.mu.Lock()
	state, rawConn := p.state, p.rawConn
	p.mu.Unlock()

	if state != StateRunning {
		return PollClosed
	}

	var revents int16
	var pollErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for {
			_, pollErr = unix.Poll(fds, 0)
			if pollErr != unix.EINTR {
				break
			}
		}
		revents = fds[0].Revents
	})
	if ctrlErr != nil || pollErr != nil {
		p.Terminate()
		return PollClosed
	}

	// Data written just before exit is still drained.
	if revents&unix.POLLIN != 0 {
		return PollReady
	}
	if revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		p.Terminate()
		return PollClosed
	}
	select {
	case <-p.exited:
		p.Terminate()
		return PollClosed
	default:
		return PollIdle
	}
}

func (p *Process) Read(buf []byte) (int, error) {
	master, err := p.file()
	if err != nil {
		return 0, err
	}
	n, err := master.Read(buf)
	if n > 0 {
		return n, nil
	}
	return 0, p.fail(err)
}

func (p *Process) Write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	master, err := p.file()
	if err != nil {
		return 0, err
	}
	n, err := master.Write(buf)
	if err == nil && n > 0 {
		return n, nil
	}
	return n, p.fail(err)
}

// Terminate kills the child if it is still alive, waits for it to be reaped
// and closes the master. It is safe to call more than once and from any
// goroutine.
func (p *Process) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateTerminated:
		return
	case StateUnstarted:
		p.state = StateTerminated
		close(p.exited)
		return
	}

	select {
	case <-p.exited:
	default:
		_ = killGroup(p.cmd.Process)
		<-p.exited
	}
	_ = p.master.Close()
	p.state = StateTerminated
}

func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Running reports whether the child is launched and has not exited.
func (p *Process) Running() bool {
	if p.State() != StateRunning {
		return false
	}
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// PID returns the child's process id while it is running.
func (p *Process) PID() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning {
		return 0, false
	}
	return p.cmd.Process.Pid, true
}

// Exited is closed once the child has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

func (p *Process) file() (*os.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateRunning:
		return p.master, nil
	case StateUnstarted:
		return nil, ErrNotLaunched
	default:
		return nil, ErrClosed
	}
}

// fail terminates the process and classifies err. A zero-length transfer,
// EOF and EIO mean the slave side is gone.
func (p *Process) fail(err error) error {
	p.Terminate()
	switch {
	case err == nil,
		errors.Is(err, io.EOF),
		errors.Is(err, syscall.EIO),
		errors.Is(err, os.ErrClosed):
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// killGroup signals the child's whole session; it is a group leader because
// it was started with setsid.
func killGroup(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	if err := unix.Kill(-proc.Pid, unix.SIGKILL); err != nil {
		return proc.Kill()
	}
	return nil
}

func winsize(width, height int) *gopty.Winsize {
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 25
	}
	return &gopty.Winsize{Cols: uint16(width), Rows: uint16(height)}
}
