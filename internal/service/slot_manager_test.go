package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricochet1k/termslots/internal/domain"
	"github.com/ricochet1k/termslots/internal/provider/pty"
	"github.com/ricochet1k/termslots/internal/session"
	"github.com/ricochet1k/termslots/internal/storage"
	"github.com/ricochet1k/termslots/internal/terminal"
)

type fakeGame struct {
	mu         sync.Mutex
	launchErr  error
	written    []byte
	exited     bool
	terminated bool
}

func (g *fakeGame) Launch(pty.LaunchRequest) error { return g.launchErr }

func (g *fakeGame) Poll() pty.PollResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.exited || g.terminated {
		return pty.PollClosed
	}
	return pty.PollIdle
}

func (g *fakeGame) Read([]byte) (int, error) { return 0, pty.ErrClosed }

func (g *fakeGame) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.written = append(g.written, p...)
	return len(p), nil
}

func (g *fakeGame) Terminate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.terminated = true
}

func (g *fakeGame) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.exited && !g.terminated
}

func (g *fakeGame) PID() (int, bool) { return 4242, true }

func (g *fakeGame) exit() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exited = true
}

func (g *fakeGame) Written() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return string(g.written)
}

type harness struct {
	t       *testing.T
	store   storage.Store
	manager *SlotManager

	mu        sync.Mutex
	games     []*fakeGame
	launchErr error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewJSONFileStore(t.TempDir())
	require.NoError(t, err)

	h := &harness{t: t, store: store}
	factory := func() session.Process {
		h.mu.Lock()
		defer h.mu.Unlock()
		g := &fakeGame{launchErr: h.launchErr}
		h.games = append(h.games, g)
		return g
	}
	h.manager = NewSlotManager(SlotManagerConfig{
		Profiles:      store,
		BridgeOptions: []session.Option{session.WithProcessFactory(factory), session.WithTick(time.Millisecond)},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, h.manager.Shutdown(ctx))
	})
	return h
}

func (h *harness) game(i int) *fakeGame {
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Less(h.t, i, len(h.games))
	return h.games[i]
}

func (h *harness) failLaunches(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.launchErr = err
}

func (h *harness) profile(name string, edit func(p *domain.SlotProfile)) domain.SlotProfile {
	h.t.Helper()
	p := domain.NewSlotProfile(name)
	p.Executable = "/usr/games/" + name
	if edit != nil {
		edit(&p)
	}
	require.NoError(h.t, h.store.SaveSlotProfile(context.Background(), p))
	return p
}

func newTestUser(t *testing.T, name string) domain.User {
	t.Helper()
	u, err := domain.NewUser(name)
	require.NoError(t, err)
	return u
}

func TestSlotManagerLaunchNamesSlots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newTestUser(t, "alice")
	nethack := h.profile("nethack", nil)
	crawl := h.profile("crawl", nil)

	s1, err := h.manager.Launch(ctx, alice, nethack.ID)
	require.NoError(t, err)
	s2, err := h.manager.Launch(ctx, alice, crawl.ID)
	require.NoError(t, err)

	assert.Equal(t, "nethack - alice:1", s1.Name)
	assert.Equal(t, "crawl - alice:2", s2.Name)
	assert.Equal(t, alice.ID, s1.Launcher)
	assert.Equal(t, 1, h.manager.Running(nethack.ID))

	got, err := h.manager.Get(s1.ID)
	require.NoError(t, err)
	assert.Same(t, s1, got)
	assert.Len(t, h.manager.List(ctx, alice), 2)
}

func TestSlotManagerLaunchUnknownProfile(t *testing.T) {
	h := newHarness(t)
	_, err := h.manager.Launch(context.Background(), newTestUser(t, "alice"), domain.NewIdentity())
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestSlotManagerLaunchDenied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newTestUser(t, "alice")
	bob := newTestUser(t, "bob")
	p := h.profile("rogue", func(p *domain.SlotProfile) {
		p.SetAllowed(domain.ActionLaunch, domain.ExplicitSet(alice.ID))
	})

	_, err := h.manager.Launch(ctx, bob, p.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	alice.Active = false
	_, err = h.manager.Launch(ctx, alice, p.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestSlotManagerCapacity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newTestUser(t, "alice")
	p := h.profile("angband", nil)

	slot, err := h.manager.Launch(ctx, alice, p.ID)
	require.NoError(t, err)
	_, err = h.manager.Launch(ctx, alice, p.ID)
	assert.ErrorIs(t, err, ErrCapacity)

	require.NoError(t, h.manager.CloseSlot(ctx, alice, slot.ID))
	_, err = h.manager.Launch(ctx, alice, p.ID)
	assert.NoError(t, err)
}

func TestSlotManagerZeroInstancesAllowsOne(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newTestUser(t, "alice")
	p := h.profile("moria", func(p *domain.SlotProfile) { p.MaxInstances = 0 })

	_, err := h.manager.Launch(ctx, alice, p.ID)
	require.NoError(t, err)
	_, err = h.manager.Launch(ctx, alice, p.ID)
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestSlotManagerServerSlotLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newTestUser(t, "alice")
	nethack := h.profile("nethack", func(p *domain.SlotProfile) { p.MaxInstances = 5 })
	crawl := h.profile("crawl", func(p *domain.SlotProfile) { p.MaxInstances = 5 })
	require.NoError(t, h.store.SaveMaxSlots(ctx, 2))

	first, err := h.manager.Launch(ctx, alice, nethack.ID)
	require.NoError(t, err)
	_, err = h.manager.Launch(ctx, alice, crawl.ID)
	require.NoError(t, err)

	_, err = h.manager.Launch(ctx, alice, crawl.ID)
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Contains(t, err.Error(), "server allows 2 slots")

	require.NoError(t, h.manager.CloseSlot(ctx, alice, first.ID))
	_, err = h.manager.Launch(ctx, alice, crawl.ID)
	require.NoError(t, err)

	require.NoError(t, h.store.SaveMaxSlots(ctx, 0))
	_, err = h.manager.Launch(ctx, alice, nethack.ID)
	assert.NoError(t, err, "0 lifts the limit")
}

func TestSlotManagerPlayLauncherOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newTestUser(t, "alice")
	bob := newTestUser(t, "bob")
	p := h.profile("brogue", func(p *domain.SlotProfile) {
		p.SetAllowed(domain.ActionPlay, domain.LauncherSet())
	})

	slot, err := h.manager.Launch(ctx, alice, p.ID)
	require.NoError(t, err)

	require.NoError(t, h.manager.Play(ctx, alice, slot.ID, terminal.KeyEvent{Code: 'x'}))
	assert.ErrorIs(t, h.manager.Play(ctx, bob, slot.ID, terminal.KeyEvent{Code: 'y'}), ErrPermissionDenied)

	g := h.game(0)
	require.Eventually(t, func() bool { return g.Written() == "x" }, time.Second, time.Millisecond)
}

func TestSlotManagerWatchAndList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newTestUser(t, "alice")
	bob := newTestUser(t, "bob")
	p := h.profile("larn", func(p *domain.SlotProfile) {
		p.SetForbidden(domain.ActionWatch, domain.ExplicitSet(bob.ID))
	})

	slot, err := h.manager.Launch(ctx, alice, p.ID)
	require.NoError(t, err)

	got, err := h.manager.Watch(ctx, alice, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.ID, got.ID)

	_, err = h.manager.Watch(ctx, bob, slot.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Empty(t, h.manager.List(ctx, bob))

	_, err = h.manager.Watch(ctx, alice, "nope")
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestSlotManagerPermissionEditsApplyToRunningSlots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newTestUser(t, "alice")
	p := h.profile("moria", nil)

	slot, err := h.manager.Launch(ctx, alice, p.ID)
	require.NoError(t, err)

	p.SetForbidden(domain.ActionWatch, domain.ExplicitSet(alice.ID))
	require.NoError(t, h.store.SaveSlotProfile(ctx, p))
	_, err = h.manager.Watch(ctx, alice, slot.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	require.NoError(t, h.store.DeleteSlotProfile(ctx, p.ID))
	assert.ErrorIs(t, h.manager.CloseSlot(ctx, alice, slot.ID), ErrPermissionDenied)
}

func TestSlotManagerCloseSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newTestUser(t, "alice")
	bob := newTestUser(t, "bob")
	p := h.profile("hack", func(p *domain.SlotProfile) {
		p.SetAllowed(domain.ActionClose, domain.LauncherSet())
	})

	slot, err := h.manager.Launch(ctx, alice, p.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, h.manager.CloseSlot(ctx, bob, slot.ID), ErrPermissionDenied)
	require.NoError(t, h.manager.CloseSlot(ctx, alice, slot.ID))

	assert.False(t, slot.Bridge.Alive())
	_, err = h.manager.Get(slot.ID)
	assert.ErrorIs(t, err, ErrSlotNotFound)
	assert.ErrorIs(t, h.manager.CloseSlot(ctx, alice, slot.ID), ErrSlotNotFound)
}

func TestSlotManagerReapsExitedSlots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newTestUser(t, "alice")
	p := h.profile("adom", nil)

	slot, err := h.manager.Launch(ctx, alice, p.ID)
	require.NoError(t, err)
	h.game(0).exit()

	require.Eventually(t, func() bool {
		_, err := h.manager.Get(slot.ID)
		return errors.Is(err, ErrSlotNotFound)
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, h.manager.Running(p.ID))
}

func TestSlotManagerLaunchCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newTestUser(t, "alice")
	p := h.profile("broken", nil)
	h.failLaunches(errors.New("exec format error"))

	for i := 0; i < DefaultLaunchFailureThreshold; i++ {
		_, err := h.manager.Launch(ctx, alice, p.ID)
		require.ErrorIs(t, err, session.ErrLaunchFailed)
	}
	_, err := h.manager.Launch(ctx, alice, p.ID)
	assert.ErrorIs(t, err, ErrLaunchCooldown)
	assert.Equal(t, 0, h.manager.Running(p.ID))

	other := h.profile("fine", nil)
	h.failLaunches(nil)
	_, err = h.manager.Launch(ctx, alice, other.ID)
	assert.NoError(t, err)
}

func TestSlotManagerProfiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newTestUser(t, "alice")
	bob := newTestUser(t, "bob")
	h.profile("open", nil)
	h.profile("private", func(p *domain.SlotProfile) {
		p.SetAllowed(domain.ActionLaunch, domain.ExplicitSet(alice.ID))
	})

	forAlice, err := h.manager.Profiles(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, forAlice, 2)

	forBob, err := h.manager.Profiles(ctx, bob)
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	assert.Equal(t, "open", forBob[0].Name)

	bob.Active = false
	none, err := h.manager.Profiles(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSlotManagerShutdown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newTestUser(t, "alice")
	p := h.profile("zork", func(p *domain.SlotProfile) { p.MaxInstances = 2 })

	s1, err := h.manager.Launch(ctx, alice, p.ID)
	require.NoError(t, err)
	s2, err := h.manager.Launch(ctx, alice, p.ID)
	require.NoError(t, err)

	require.NoError(t, h.manager.Shutdown(ctx))
	assert.False(t, s1.Bridge.Alive())
	assert.False(t, s2.Bridge.Alive())
	assert.Empty(t, h.manager.List(ctx, alice))

	_, err = h.manager.Launch(ctx, alice, p.ID)
	assert.ErrorIs(t, err, ErrManagerShutdown)
}
