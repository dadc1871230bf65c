package domain

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultWidth  = 80
	DefaultHeight = 25
	MaxDimension  = 500

	SlotTypeTerminal = "terminal"

	EncodingUTF8  = "utf-8"
	EncodingCP437 = "cp437"
)

var ErrInvalidProfile = errors.New("invalid slot profile")

// Action is one of the gated operations on a slot.
type Action int

const (
	ActionWatch Action = iota
	ActionLaunch
	ActionPlay
	ActionClose

	actionCount
)

// Actions lists every gated action in declaration order.
var Actions = [...]Action{ActionWatch, ActionLaunch, ActionPlay, ActionClose}

func (a Action) String() string {
	switch a {
	case ActionWatch:
		return "watch"
	case ActionLaunch:
		return "launch"
	case ActionPlay:
		return "play"
	case ActionClose:
		return "close"
	default:
		return "unknown"
	}
}

func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if strings.EqualFold(s, a.String()) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Permissions holds one allow-list and one forbid-list per action.
type Permissions struct {
	Allowed   [actionCount]PermissionSet
	Forbidden [actionCount]PermissionSet
}

// SlotProfile is the static description of a kind of slot an administrator
// has configured.
type SlotProfile struct {
	ID           Identity
	Name         string
	Width        int
	Height       int
	Executable   string
	Args         []string
	Env          []string
	WorkingDir   string
	SlotType     string
	Encoding     string
	MaxInstances int
	Permissions  Permissions
}

// NewSlotProfile returns a profile with a fresh ID that anybody may watch,
// launch, play and close, limited to one running instance.
func NewSlotProfile(name string) SlotProfile {
	p := SlotProfile{
		ID:           NewIdentity(),
		Name:         name,
		Width:        DefaultWidth,
		Height:       DefaultHeight,
		SlotType:     SlotTypeTerminal,
		Encoding:     EncodingUTF8,
		MaxInstances: 1,
	}
	for _, a := range Actions {
		p.Permissions.Allowed[a] = AnybodySet()
		p.Permissions.Forbidden[a] = NobodySet()
	}
	return p
}

// ClampDimension keeps a terminal dimension within 1..MaxDimension.
func ClampDimension(v int) int {
	return min(max(v, 1), MaxDimension)
}

func (p *SlotProfile) Allowed(a Action) PermissionSet   { return p.Permissions.Allowed[a] }
func (p *SlotProfile) Forbidden(a Action) PermissionSet { return p.Permissions.Forbidden[a] }

func (p *SlotProfile) SetAllowed(a Action, set PermissionSet)   { p.Permissions.Allowed[a] = set }
func (p *SlotProfile) SetForbidden(a Action, set PermissionSet) { p.Permissions.Forbidden[a] = set }

// Normalize fills defaults and clamps geometry in place.
func (p *SlotProfile) Normalize() {
	if p.Width == 0 {
		p.Width = DefaultWidth
	}
	if p.Height == 0 {
		p.Height = DefaultHeight
	}
	p.Width = ClampDimension(p.Width)
	p.Height = ClampDimension(p.Height)
	if p.SlotType == "" {
		p.SlotType = SlotTypeTerminal
	}
	if p.Encoding == "" {
		p.Encoding = EncodingUTF8
	}
	if p.MaxInstances < 1 {
		p.MaxInstances = 1
	}
}

func (p *SlotProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if p.Executable == "" {
		return fmt.Errorf("%w: executable is required", ErrInvalidProfile)
	}
	switch p.Encoding {
	case EncodingUTF8, EncodingCP437:
	default:
		return fmt.Errorf("%w: unknown encoding %q", ErrInvalidProfile, p.Encoding)
	}
	if p.SlotType != SlotTypeTerminal {
		return fmt.Errorf("%w: unsupported slot type %q", ErrInvalidProfile, p.SlotType)
	}
	return nil
}

// Permits evaluates the gate for action a. launcher is the identity that
// started the slot being acted on; it is ignored for ActionLaunch.
//
// For launch, a user is admitted when the allow-list contains them or carries
// the launcher flag, unless the forbid-list contains them.
//
// For the other actions, the slot's launcher is exempt from the allow-list
// while the allow-list carries the launcher flag. A forbid-list carrying the
// launcher flag shuts the launcher out entirely.
func (p *SlotProfile) Permits(a Action, user, launcher Identity) bool {
	allowed := p.Permissions.Allowed[a]
	forbidden := p.Permissions.Forbidden[a]

	if a == ActionLaunch {
		if forbidden.Contains(user) {
			return false
		}
		return allowed.Contains(user) || allowed.Launcher()
	}

	exempt := false
	if user == launcher {
		if forbidden.Launcher() {
			return false
		}
		exempt = allowed.Launcher()
	}
	if forbidden.Contains(user) {
		return false
	}
	return exempt || allowed.Contains(user)
}

// Clone returns a deep copy.
func (p SlotProfile) Clone() SlotProfile {
	p.Args = append([]string(nil), p.Args...)
	p.Env = append([]string(nil), p.Env...)
	return p
}
