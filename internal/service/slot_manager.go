package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ricochet1k/termslots/internal/domain"
	"github.com/ricochet1k/termslots/internal/provider/circuit"
	"github.com/ricochet1k/termslots/internal/session"
	"github.com/ricochet1k/termslots/internal/storage"
	"github.com/ricochet1k/termslots/internal/terminal"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrSlotNotFound     = errors.New("slot not found")
	ErrProfileNotFound  = errors.New("slot profile not found")
	ErrCapacity         = errors.New("slot profile has no free instances")
	ErrLaunchCooldown   = errors.New("slot profile launches are cooling down")
	ErrManagerShutdown  = errors.New("slot manager is shutting down")
)

const (
	DefaultLaunchFailureThreshold = 3
	DefaultLaunchCooldown         = 30 * time.Second
)

// ProfileSource is the part of the configuration store the manager reads.
type ProfileSource interface {
	LoadSlotProfile(ctx context.Context, id domain.Identity) (domain.SlotProfile, error)
	ListSlotProfiles(ctx context.Context) ([]domain.SlotProfile, error)
	LoadMaxSlots(ctx context.Context) (int, error)
}

// Slot is one running instance of a slot profile.
type Slot struct {
	ID           string
	Name         string
	ProfileID    domain.Identity
	ProfileName  string
	Launcher     domain.Identity
	LauncherName string
	Started      time.Time
	Bridge       *session.Bridge
}

type SlotManagerConfig struct {
	Profiles         ProfileSource
	Logger           *slog.Logger
	BridgeOptions    []session.Option
	FailureThreshold int
	Cooldown         time.Duration
}

// SlotManager owns the running slots and applies the permission gates of
// their profiles to every action.
type SlotManager struct {
	profiles   ProfileSource
	log        *slog.Logger
	bridgeOpts []session.Option
	breakers   *circuit.Set[domain.Identity]
	now        func() time.Time

	mu       sync.RWMutex
	slots    map[string]*Slot
	pending  map[domain.Identity]int
	launched uint64
	closed   bool
	wg       sync.WaitGroup
}

func NewSlotManager(cfg SlotManagerConfig) *SlotManager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultLaunchFailureThreshold
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultLaunchCooldown
	}
	return &SlotManager{
		profiles:   cfg.Profiles,
		log:        log,
		bridgeOpts: cfg.BridgeOptions,
		breakers:   circuit.NewSet[domain.Identity](threshold, cooldown),
		now:        time.Now,
		slots:      make(map[string]*Slot),
		pending:    make(map[domain.Identity]int),
	}
}

// Launch starts a new slot from the profile on behalf of user.
func (m *SlotManager) Launch(ctx context.Context, user domain.User, profileID domain.Identity) (*Slot, error) {
	profile, err := m.loadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if !user.Active || !profile.Permits(domain.ActionLaunch, user.ID, domain.Identity{}) {
		m.log.Info("launch denied", "profile", profile.Name, "user", user.Name)
		return nil, fmt.Errorf("%w: launch %s", ErrPermissionDenied, profile.Name)
	}

	maxSlots, err := m.profiles.LoadMaxSlots(ctx)
	if err != nil {
		return nil, err
	}

	breaker := m.breakers.Get(profile.ID)
	if err := breaker.Allow(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunchCooldown, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerShutdown
	}
	if maxSlots > 0 && m.totalLocked() >= maxSlots {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: server allows %d slots", ErrCapacity, maxSlots)
	}
	if m.runningLocked(profile.ID) >= profile.MaxInstances {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s allows %d", ErrCapacity, profile.Name, profile.MaxInstances)
	}
	m.pending[profile.ID]++
	m.launched++
	seq := m.launched
	m.mu.Unlock()

	opts := append([]session.Option{session.WithLogger(m.log.With("profile", profile.Name, "user", user.Name))}, m.bridgeOpts...)
	bridge, err := session.StartProfile(profile, opts...)

	m.mu.Lock()
	m.releasePendingLocked(profile.ID)
	if err != nil {
		m.mu.Unlock()
		if breaker.RecordFailure() {
			m.log.Warn("slot profile launches suspended", "profile", profile.Name, "cooldown", breaker.CooldownRemaining())
		}
		return nil, err
	}
	if m.closed {
		m.mu.Unlock()
		bridge.Close()
		return nil, ErrManagerShutdown
	}
	slot := &Slot{
		ID:           bridge.ID(),
		Name:         fmt.Sprintf("%s - %s:%d", profile.Name, user.Name, seq),
		ProfileID:    profile.ID,
		ProfileName:  profile.Name,
		Launcher:     user.ID,
		LauncherName: user.Name,
		Started:      m.now(),
		Bridge:       bridge,
	}
	m.slots[slot.ID] = slot
	m.wg.Add(1)
	m.mu.Unlock()

	breaker.RecordSuccess()
	m.log.Info("slot launched", "slot", slot.Name, "user", user.Name)
	go m.reap(slot)
	return slot, nil
}

func (m *SlotManager) reap(slot *Slot) {
	defer m.wg.Done()
	<-slot.Bridge.Done()
	m.mu.Lock()
	delete(m.slots, slot.ID)
	m.mu.Unlock()
	m.log.Info("slot ended", "slot", slot.Name)
}

func (m *SlotManager) runningLocked(profileID domain.Identity) int {
	n := m.pending[profileID]
	for _, s := range m.slots {
		if s.ProfileID == profileID {
			n++
		}
	}
	return n
}

// totalLocked counts every running or launching slot.
func (m *SlotManager) totalLocked() int {
	n := len(m.slots)
	for _, p := range m.pending {
		n += p
	}
	return n
}

func (m *SlotManager) releasePendingLocked(profileID domain.Identity) {
	if m.pending[profileID] <= 1 {
		delete(m.pending, profileID)
		return
	}
	m.pending[profileID]--
}

// Running reports how many slots of the profile are running or launching.
func (m *SlotManager) Running(profileID domain.Identity) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runningLocked(profileID)
}

// Watch checks that user may watch the slot and returns it.
func (m *SlotManager) Watch(ctx context.Context, user domain.User, slotID string) (*Slot, error) {
	slot, err := m.Get(slotID)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, user, slot, domain.ActionWatch); err != nil {
		return nil, err
	}
	return slot, nil
}

// Play feeds keystrokes from user into the slot.
func (m *SlotManager) Play(ctx context.Context, user domain.User, slotID string, events ...terminal.KeyEvent) error {
	slot, err := m.Get(slotID)
	if err != nil {
		return err
	}
	if err := m.authorize(ctx, user, slot, domain.ActionPlay); err != nil {
		return err
	}
	return slot.Bridge.FeedInput(events...)
}

// CloseSlot terminates the slot and waits for its process to go away.
func (m *SlotManager) CloseSlot(ctx context.Context, user domain.User, slotID string) error {
	slot, err := m.Get(slotID)
	if err != nil {
		return err
	}
	if err := m.authorize(ctx, user, slot, domain.ActionClose); err != nil {
		return err
	}
	slot.Bridge.Close()
	m.mu.Lock()
	delete(m.slots, slot.ID)
	m.mu.Unlock()
	m.log.Info("slot closed", "slot", slot.Name, "user", user.Name)
	return nil
}

// Get returns a slot without any permission check.
func (m *SlotManager) Get(slotID string) (*Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.slots[slotID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, slotID)
	}
	return slot, nil
}

// List returns the slots user may watch, oldest first.
func (m *SlotManager) List(ctx context.Context, user domain.User) []*Slot {
	m.mu.RLock()
	all := make([]*Slot, 0, len(m.slots))
	for _, s := range m.slots {
		all = append(all, s)
	}
	m.mu.RUnlock()

	visible := all[:0]
	for _, s := range all {
		if m.authorize(ctx, user, s, domain.ActionWatch) == nil {
			visible = append(visible, s)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		if !visible[i].Started.Equal(visible[j].Started) {
			return visible[i].Started.Before(visible[j].Started)
		}
		return visible[i].Name < visible[j].Name
	})
	return visible
}

// Profiles returns the profiles user may launch.
func (m *SlotManager) Profiles(ctx context.Context, user domain.User) ([]domain.SlotProfile, error) {
	if !user.Active {
		return nil, nil
	}
	all, err := m.profiles.ListSlotProfiles(ctx)
	if err != nil {
		var le *storage.ListError
		if !errors.As(err, &le) {
			return nil, err
		}
		m.log.Warn("skipping unreadable slot profiles", "err", err)
	}
	var out []domain.SlotProfile
	for _, p := range all {
		if p.Permits(domain.ActionLaunch, user.ID, domain.Identity{}) {
			out = append(out, p)
		}
	}
	return out, nil
}

// authorize evaluates the gate against the profile as currently stored, so
// permission edits apply to slots that are already running. A slot whose
// profile was deleted admits nobody.
func (m *SlotManager) authorize(ctx context.Context, user domain.User, slot *Slot, action domain.Action) error {
	if !user.Active {
		return fmt.Errorf("%w: %s is inactive", ErrPermissionDenied, user.Name)
	}
	profile, err := m.profiles.LoadSlotProfile(ctx, slot.ProfileID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.log.Warn("load slot profile", "slot", slot.Name, "err", err)
		}
		return fmt.Errorf("%w: %s %s", ErrPermissionDenied, action, slot.Name)
	}
	if !profile.Permits(action, user.ID, slot.Launcher) {
		return fmt.Errorf("%w: %s %s", ErrPermissionDenied, action, slot.Name)
	}
	return nil
}

func (m *SlotManager) loadProfile(ctx context.Context, id domain.Identity) (domain.SlotProfile, error) {
	p, err := m.profiles.LoadSlotProfile(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return p, fmt.Errorf("%w: %s", ErrProfileNotFound, id.Short())
	}
	return p, err
}

// Shutdown closes every slot and waits for their pumps to stop.
func (m *SlotManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	slots := make([]*Slot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	m.mu.Unlock()

	for _, s := range slots {
		s.Bridge.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
