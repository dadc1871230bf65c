package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// PermissionKind tags the shape of a PermissionSet.
type PermissionKind uint8

const (
	// PermitNobody admits no one. It is the zero value.
	PermitNobody PermissionKind = iota
	// PermitAnybody admits everyone and always carries the launcher flag.
	PermitAnybody
	// PermitExplicit admits a fixed set of identities.
	PermitExplicit
	// PermitExplicitLauncher admits a fixed set of identities and carries
	// the launcher flag. The set may be empty.
	PermitExplicitLauncher
)

func (k PermissionKind) String() string {
	switch k {
	case PermitNobody:
		return "nobody"
	case PermitAnybody:
		return "anybody"
	case PermitExplicit:
		return "explicit"
	case PermitExplicitLauncher:
		return "explicit+launcher"
	default:
		return "unknown"
	}
}

var ErrInvalidPermissionSet = errors.New("invalid permission set encoding")

// PermissionSet describes who may perform one gated action.
//
// Membership is decided only by the kind and the explicit members. The
// launcher flag grants nothing by itself; the slot gate consults it to decide
// whether the identity that launched a slot keeps access it would otherwise
// lack. Members are kept sorted and never mutated in place, so copies of a
// PermissionSet are independent.
type PermissionSet struct {
	kind    PermissionKind
	members []Identity
}

// NobodySet returns a set admitting no one.
func NobodySet() PermissionSet { return PermissionSet{} }

// AnybodySet returns a set admitting everyone.
func AnybodySet() PermissionSet { return PermissionSet{kind: PermitAnybody} }

// ExplicitSet returns a set admitting exactly ids. With no ids it is NobodySet.
func ExplicitSet(ids ...Identity) PermissionSet {
	members := normalizeMembers(ids)
	if len(members) == 0 {
		return PermissionSet{}
	}
	return PermissionSet{kind: PermitExplicit, members: members}
}

// LauncherSet returns a set carrying the launcher flag plus ids.
func LauncherSet(ids ...Identity) PermissionSet {
	return PermissionSet{kind: PermitExplicitLauncher, members: normalizeMembers(ids)}
}

func (p PermissionSet) Kind() PermissionKind { return p.kind }

// Nobody reports the nobody flag.
func (p PermissionSet) Nobody() bool { return p.kind == PermitNobody }

// Anybody reports the anybody flag.
func (p PermissionSet) Anybody() bool { return p.kind == PermitAnybody }

// Launcher reports the launcher flag. Anybody implies launcher.
func (p PermissionSet) Launcher() bool {
	return p.kind == PermitAnybody || p.kind == PermitExplicitLauncher
}

// Members returns a copy of the explicit identities, sorted.
func (p PermissionSet) Members() []Identity {
	return slices.Clone(p.members)
}

func (p PermissionSet) Contains(id Identity) bool {
	switch p.kind {
	case PermitAnybody:
		return true
	case PermitExplicit, PermitExplicitLauncher:
		_, found := slices.BinarySearchFunc(p.members, id, Identity.Compare)
		return found
	default:
		return false
	}
}

func (p PermissionSet) Equal(other PermissionSet) bool {
	return p.kind == other.kind && slices.Equal(p.members, other.members)
}

func (p *PermissionSet) SetNobody() {
	*p = PermissionSet{}
}

func (p *PermissionSet) SetAnybody() {
	*p = PermissionSet{kind: PermitAnybody}
}

// ToggleAnybody flips between anybody and nobody and returns the new
// anybody flag. Leaving anybody always lands on nobody.
func (p *PermissionSet) ToggleAnybody() bool {
	if p.kind == PermitAnybody {
		p.SetNobody()
	} else {
		p.SetAnybody()
	}
	return p.Anybody()
}

// SetLauncher raises the launcher flag, keeping explicit members.
func (p *PermissionSet) SetLauncher() {
	switch p.kind {
	case PermitNobody:
		*p = PermissionSet{kind: PermitExplicitLauncher}
	case PermitExplicit:
		p.kind = PermitExplicitLauncher
	}
}

// UnsetLauncher drops the launcher flag. It has no effect on anybody. With
// no explicit members left the set falls back to nobody.
func (p *PermissionSet) UnsetLauncher() {
	if p.kind != PermitExplicitLauncher {
		return
	}
	if len(p.members) == 0 {
		p.SetNobody()
		return
	}
	p.kind = PermitExplicit
}

// ToggleLauncher returns the new launcher flag.
func (p *PermissionSet) ToggleLauncher() bool {
	if p.Launcher() {
		p.UnsetLauncher()
	} else {
		p.SetLauncher()
	}
	return p.Launcher()
}

// ToggleUser adds id if absent and removes it if present, returning whether
// it is now a member. Removing the last member resets the set to nobody,
// launcher flag included. Under anybody the set is left as is: every way out
// of anybody clears the explicit members, so an id toggled in there could
// never be observed.
func (p *PermissionSet) ToggleUser(id Identity) bool {
	switch p.kind {
	case PermitAnybody:
		return true
	case PermitNobody:
		*p = PermissionSet{kind: PermitExplicit, members: []Identity{id}}
		return true
	}

	i, found := slices.BinarySearchFunc(p.members, id, Identity.Compare)
	if !found {
		p.members = slices.Insert(slices.Clone(p.members), i, id)
		return true
	}
	if len(p.members) == 1 {
		p.SetNobody()
		return false
	}
	p.members = slices.Delete(slices.Clone(p.members), i, i+1)
	return false
}

func (p PermissionSet) String() string {
	if len(p.members) == 0 {
		return p.kind.String()
	}
	short := make([]string, len(p.members))
	for i, id := range p.members {
		short[i] = id.Short()
	}
	return fmt.Sprintf("%s[%s]", p.kind, strings.Join(short, ","))
}

func flagLetter(b bool) byte {
	if b {
		return 'Y'
	}
	return 'N'
}

// MarshalText encodes the nobody, anybody and launcher flags as Y/N letters
// followed by the hex members, each terminated by ';'.
func (p PermissionSet) MarshalText() ([]byte, error) {
	var b strings.Builder
	b.Grow(3 + len(p.members)*(2*IdentitySize+1))
	b.WriteByte(flagLetter(p.Nobody()))
	b.WriteByte(flagLetter(p.Anybody()))
	b.WriteByte(flagLetter(p.Launcher()))
	for _, id := range p.members {
		b.WriteString(id.String())
		b.WriteByte(';')
	}
	return []byte(b.String()), nil
}

func (p *PermissionSet) UnmarshalText(text []byte) error {
	s := string(text)
	if len(s) < 3 {
		return fmt.Errorf("%w: %q", ErrInvalidPermissionSet, s)
	}
	var flags [3]bool
	for i := range flags {
		switch s[i] {
		case 'Y':
			flags[i] = true
		case 'N':
		default:
			return fmt.Errorf("%w: bad flag %q", ErrInvalidPermissionSet, s[i])
		}
	}

	var ids []Identity
	for _, part := range strings.Split(s[3:], ";") {
		if part == "" {
			continue
		}
		if len(part) != 2*IdentitySize {
			return fmt.Errorf("%w: bad member %q", ErrInvalidPermissionSet, part)
		}
		var id Identity
		if _, err := hex.Decode(id[:], []byte(part)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPermissionSet, err)
		}
		ids = append(ids, id)
	}

	*p = fromFlags(flags[0], flags[1], flags[2], ids)
	return nil
}

// fromFlags maps the four-flag form onto a kind. Anybody dominates, then
// nobody; otherwise the launcher flag and members decide.
func fromFlags(nobody, anybody, launcher bool, ids []Identity) PermissionSet {
	switch {
	case anybody:
		return AnybodySet()
	case nobody:
		return NobodySet()
	case launcher:
		return LauncherSet(ids...)
	default:
		return ExplicitSet(ids...)
	}
}

type permissionWire struct {
	Kind    PermissionKind `cbor:"1,keyasint"`
	Members [][]byte       `cbor:"2,keyasint,omitempty"`
}

var permissionEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// MarshalBinary encodes the set as deterministic CBOR. Equal sets always
// produce identical bytes.
func (p PermissionSet) MarshalBinary() ([]byte, error) {
	w := permissionWire{Kind: p.kind}
	for _, id := range p.members {
		w.Members = append(w.Members, id[:])
	}
	return permissionEncMode.Marshal(w)
}

func (p *PermissionSet) UnmarshalBinary(data []byte) error {
	var w permissionWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPermissionSet, err)
	}
	ids := make([]Identity, 0, len(w.Members))
	for _, raw := range w.Members {
		if len(raw) != IdentitySize {
			return fmt.Errorf("%w: member is %d bytes", ErrInvalidPermissionSet, len(raw))
		}
		ids = append(ids, Identity(raw))
	}
	switch w.Kind {
	case PermitNobody:
		*p = NobodySet()
	case PermitAnybody:
		*p = AnybodySet()
	case PermitExplicit:
		*p = ExplicitSet(ids...)
	case PermitExplicitLauncher:
		*p = LauncherSet(ids...)
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidPermissionSet, w.Kind)
	}
	return nil
}

func normalizeMembers(ids []Identity) []Identity {
	if len(ids) == 0 {
		return nil
	}
	members := slices.Clone(ids)
	slices.SortFunc(members, Identity.Compare)
	return slices.Compact(members)
}
