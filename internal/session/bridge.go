// Package session bridges one pseudo-terminal process to a shared terminal
// buffer. A single pump goroutine per session owns the process: it writes
// queued keystrokes, drains output into the buffer, and tells viewers when
// the screen changed.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ricochet1k/termslots/internal/domain"
	"github.com/ricochet1k/termslots/internal/provider/buffer"
	"github.com/ricochet1k/termslots/internal/provider/pty"
	"github.com/ricochet1k/termslots/internal/terminal"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrLaunchFailed   = errors.New("session launch failed")
	ErrClosed         = errors.New("session closed")
)

const (
	// DefaultTickRate is how often the pump runs per second.
	DefaultTickRate = 60

	readChunk = 4096
	// maxDrainPerTick keeps a chatty process from starving input.
	maxDrainPerTick = 256 * 1024
	// maxFinalDrains bounds the reads after the child has exited, in case a
	// leftover grandchild keeps writing.
	maxFinalDrains = 16
	// closeGrace is how long Close waits for the pump before killing the
	// child out from under it.
	closeGrace = 500 * time.Millisecond
)

// Process is the pseudo-terminal child a bridge drives. *pty.Process
// implements it.
type Process interface {
	Launch(req pty.LaunchRequest) error
	Poll() pty.PollResult
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Terminate()
	Running() bool
	PID() (int, bool)
}

// Viewer is told when a session's screen changed. OnSessionOutput runs on
// the pump goroutine at most once per drain cycle and should return quickly;
// it typically calls RenderInto.
type Viewer interface {
	OnSessionOutput(b *Bridge)
}

// ViewerFunc adapts a function to Viewer.
type ViewerFunc func(b *Bridge)

func (f ViewerFunc) OnSessionOutput(b *Bridge) { f(b) }

type Option func(*Bridge)

func WithLogger(log *slog.Logger) Option {
	return func(b *Bridge) {
		if log != nil {
			b.log = log
		}
	}
}

// WithTick sets the pump interval.
func WithTick(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.tick = d
		}
	}
}

// WithCodec sets the process text encoding. The default is UTF-8.
func WithCodec(c terminal.Codec) Option {
	return func(b *Bridge) {
		if c != nil {
			b.codec = c
		}
	}
}

// WithEnv adds KEY=VALUE entries to the child's environment.
func WithEnv(env []string) Option {
	return func(b *Bridge) {
		b.env = append([]string(nil), env...)
	}
}

// WithProcessFactory replaces how the child process is created.
func WithProcessFactory(newProcess func() Process) Option {
	return func(b *Bridge) {
		if newProcess != nil {
			b.newProcess = newProcess
		}
	}
}

func WithTranscriptSize(size int) Option {
	return func(b *Bridge) {
		b.transcript = terminal.NewTranscript(size)
	}
}

// Bridge is one launched session. It is created once per launch and never
// reused.
type Bridge struct {
	id         string
	log        *slog.Logger
	tick       time.Duration
	env        []string
	newProcess func() Process

	mu         sync.Mutex
	params     map[string]string
	state      domain.SessionState
	started    bool
	closed     bool
	proc       Process
	viewers    map[int64]Viewer
	nextViewer int64

	input      *buffer.InputQueue[terminal.KeyEvent]
	buf        *terminal.Buffer
	codec      terminal.Codec
	transcript *terminal.Transcript
	updates    *terminal.UpdateBroadcaster

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(opts ...Option) *Bridge {
	b := &Bridge{
		id:         uuid.NewString(),
		log:        slog.Default(),
		tick:       time.Second / DefaultTickRate,
		newProcess: func() Process { return pty.NewProcess() },
		params:     make(map[string]string),
		state:      domain.SessionStateStarting,
		viewers:    make(map[int64]Viewer),
		input:      buffer.NewInputQueue[terminal.KeyEvent](buffer.DefaultQueueSize),
		buf:        terminal.NewBuffer(domain.DefaultWidth, domain.DefaultHeight),
		codec:      &terminal.UTF8Codec{},
		transcript: terminal.NewTranscript(0),
		updates:    terminal.NewUpdateBroadcaster(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("session", b.id)
	return b
}

// StartProfile creates a bridge parametrized from profile and starts it.
func StartProfile(profile domain.SlotProfile, opts ...Option) (*Bridge, error) {
	profile.Normalize()
	codec, err := terminal.NewCodec(profile.Encoding)
	if err != nil {
		return nil, err
	}
	base := []Option{WithCodec(codec), WithEnv(profile.Env)}
	b := New(append(base, opts...)...)

	b.SetParameter("path", profile.Executable)
	b.SetParameter("work", profile.WorkingDir)
	b.SetParameter("w", strconv.Itoa(profile.Width))
	b.SetParameter("h", strconv.Itoa(profile.Height))
	for i, arg := range profile.Args {
		b.SetParameter("arg"+strconv.Itoa(i), arg)
	}
	if err := b.Start(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bridge) ID() string { return b.id }

// SetParameter records a launch parameter. Only path, work, w, h and argN
// are accepted, and only before Start.
func (b *Bridge) SetParameter(key, value string) {
	if !isLaunchParameter(key) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.closed {
		return
	}
	b.params[key] = value
}

func isLaunchParameter(key string) bool {
	switch key {
	case "path", "work", "w", "h":
		return true
	}
	n, ok := strings.CutPrefix(key, "arg")
	if !ok || n == "" {
		return false
	}
	_, err := strconv.ParseUint(n, 10, 32)
	return err == nil
}

// Start launches the process from the recorded parameters and starts the
// pump. A failed launch leaves the bridge terminated.
func (b *Bridge) Start() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.started {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.started = true
	req := launchRequest(b.params)
	req.Env = b.env
	b.mu.Unlock()

	proc := b.newProcess()
	if err := proc.Launch(req); err != nil {
		b.log.Warn("launch failed", "path", req.Path, "err", err)
		b.finish()
		close(b.done)
		return fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	b.buf.Resize(req.Width, req.Height)

	b.mu.Lock()
	b.proc = proc
	b.transitionLocked(domain.SessionStateRunning)
	b.mu.Unlock()

	pid, _ := proc.PID()
	b.log.Info("session started", "path", req.Path, "pid", pid, "cols", req.Width, "rows", req.Height)

	go b.pump(proc)
	return nil
}

func launchRequest(params map[string]string) pty.LaunchRequest {
	req := pty.LaunchRequest{
		Path:   params["path"],
		Dir:    params["work"],
		Width:  domain.DefaultWidth,
		Height: domain.DefaultHeight,
	}
	if v, ok := params["w"]; ok {
		req.Width = domain.ClampDimension(leadingInt(v))
	}
	if v, ok := params["h"]; ok {
		req.Height = domain.ClampDimension(leadingInt(v))
	}

	type indexed struct {
		n   uint64
		arg string
	}
	var args []indexed
	for key, value := range params {
		if n, ok := strings.CutPrefix(key, "arg"); ok {
			if i, err := strconv.ParseUint(n, 10, 32); err == nil {
				args = append(args, indexed{i, value})
			}
		}
	}
	sort.Slice(args, func(i, j int) bool { return args[i].n < args[j].n })
	for _, a := range args {
		req.Args = append(req.Args, a.arg)
	}
	return req
}

// leadingInt parses the decimal prefix of s; anything unparsable is 0.
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || end == 0 && s[end] == '-') {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// FeedInput queues keystrokes for the next tick. It never waits on the
// process.
func (b *Bridge) FeedInput(events ...terminal.KeyEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := b.input.Push(events...); err != nil {
		if errors.Is(err, buffer.ErrQueueClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Size returns the session's terminal geometry.
func (b *Bridge) Size() (int, int) {
	return b.buf.Size()
}

// Alive reports whether the session has not terminated yet.
func (b *Bridge) Alive() bool {
	return b.State() != domain.SessionStateTerminated
}

func (b *Bridge) State() domain.SessionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// PID returns the child's process id while it is known.
func (b *Bridge) PID() (int, bool) {
	b.mu.Lock()
	proc := b.proc
	b.mu.Unlock()
	if proc == nil {
		return 0, false
	}
	return proc.PID()
}

// RenderInto renders the screen into a width x height grid.
func (b *Bridge) RenderInto(width, height int) terminal.Grid {
	return b.buf.Snapshot(width, height)
}

// Transcript returns recent output text and whether older text was dropped.
func (b *Bridge) Transcript() (string, bool) {
	return b.transcript.Text()
}

// Subscribe registers v for output notifications until the returned function
// is called.
func (b *Bridge) Subscribe(v Viewer) func() {
	b.mu.Lock()
	b.nextViewer++
	id := b.nextViewer
	b.viewers[id] = v
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.viewers, id)
		b.mu.Unlock()
	}
}

// Updates subscribes to a channel of output and close notifications. The
// channel is closed after the final UpdateClosed.
func (b *Bridge) Updates(buffer int) (<-chan terminal.Update, func()) {
	return b.updates.Subscribe(buffer)
}

// Done is closed once the session has terminated and its process is reaped.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Close stops the pump, kills the process and waits for both. It is safe to
// call more than once and from any goroutine except a Viewer callback.
func (b *Bridge) Close() {
	b.stopOnce.Do(func() { close(b.stop) })

	b.mu.Lock()
	b.closed = true
	if !b.started {
		b.started = true
		b.mu.Unlock()
		b.finish()
		close(b.done)
		return
	}
	proc := b.proc
	b.mu.Unlock()

	grace := time.NewTimer(closeGrace)
	defer grace.Stop()
	select {
	case <-b.done:
		return
	case <-grace.C:
	}
	// The pump is stuck, most likely writing to a child that stopped
	// reading. Killing the child makes that write fail.
	b.log.Warn("pump did not stop, killing process")
	if proc != nil {
		proc.Terminate()
	}
	<-b.done
}

func (b *Bridge) pump(proc Process) {
	defer close(b.done)

	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()

	chunk := make([]byte, readChunk)
	for {
		b.flushInput(proc)
		if b.drainOutput(proc, chunk) {
			b.notify()
		}
		if !proc.Running() {
			b.drainRemaining(proc, chunk)
			break
		}
		select {
		case <-b.stop:
		case <-ticker.C:
			continue
		}
		break
	}

	proc.Terminate()
	b.finish()
	b.log.Info("session ended")
}

func (b *Bridge) flushInput(proc Process) {
	events := b.input.Drain()
	if len(events) == 0 {
		return
	}
	var out []byte
	for _, ev := range events {
		out = terminal.AppendKey(out, ev, b.codec)
	}
	if len(out) == 0 {
		return
	}
	if _, err := proc.Write(out); err != nil && !errors.Is(err, pty.ErrClosed) {
		b.log.Warn("write to process failed", "err", err)
	}
}

// drainRemaining reads what an exited child left in the pty, stopping once
// Poll reports anything but PollReady.
func (b *Bridge) drainRemaining(proc Process, chunk []byte) {
	for range maxFinalDrains {
		if b.drainOutput(proc, chunk) {
			b.notify()
		}
		if proc.Poll() != pty.PollReady {
			return
		}
	}
}

// drainOutput reads everything that is ready and feeds it to the buffer.
// It reports whether any text landed.
func (b *Bridge) drainOutput(proc Process, chunk []byte) bool {
	var raw []byte
	for len(raw) < maxDrainPerTick && proc.Poll() == pty.PollReady {
		n, err := proc.Read(chunk)
		raw = append(raw, chunk[:n]...)
		if err != nil {
			if !errors.Is(err, pty.ErrClosed) {
				b.log.Warn("read from process failed", "err", err)
			}
			break
		}
	}
	if len(raw) == 0 {
		return false
	}

	text, err := b.codec.Decode(raw)
	if err != nil {
		b.log.Warn("dropping undecodable output", "encoding", b.codec.Name(), "err", err)
		return false
	}
	if text == "" {
		return false
	}
	b.buf.Feed(text)
	b.transcript.WriteString(text)
	return true
}

func (b *Bridge) notify() {
	b.mu.Lock()
	viewers := make([]Viewer, 0, len(b.viewers))
	for _, v := range b.viewers {
		viewers = append(viewers, v)
	}
	b.mu.Unlock()

	for _, v := range viewers {
		v.OnSessionOutput(b)
	}
	b.updates.Broadcast(terminal.Update{Kind: terminal.UpdateOutput})
}

func (b *Bridge) finish() {
	b.mu.Lock()
	b.transitionLocked(domain.SessionStateTerminated)
	b.mu.Unlock()

	b.input.Close()
	b.updates.Broadcast(terminal.Update{Kind: terminal.UpdateClosed})
	b.updates.Close()
}

func (b *Bridge) transitionLocked(to domain.SessionState) {
	if !domain.CanTransition(b.state, to) {
		b.log.Warn("ignoring session state change", "err", domain.NewInvalidTransitionError(b.state, to))
		return
	}
	b.state = to
}
