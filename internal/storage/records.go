package storage

import (
	"fmt"
	"net/netip"

	"github.com/ricochet1k/termslots/internal/domain"
)

type profileRecord struct {
	ID           domain.Identity                 `json:"id"`
	Name         string                          `json:"name"`
	Width        int                             `json:"width"`
	Height       int                             `json:"height"`
	Executable   string                          `json:"executable"`
	Args         []string                        `json:"args,omitempty"`
	Env          []string                        `json:"env,omitempty"`
	WorkingDir   string                          `json:"working_dir,omitempty"`
	SlotType     string                          `json:"slot_type"`
	Encoding     string                          `json:"encoding"`
	MaxInstances int                             `json:"max_instances"`
	Allowed      map[string]domain.PermissionSet `json:"allowed"`
	Forbidden    map[string]domain.PermissionSet `json:"forbidden"`
}

func profileToRecord(p domain.SlotProfile) profileRecord {
	rec := profileRecord{
		ID:           p.ID,
		Name:         p.Name,
		Width:        p.Width,
		Height:       p.Height,
		Executable:   p.Executable,
		Args:         p.Args,
		Env:          p.Env,
		WorkingDir:   p.WorkingDir,
		SlotType:     p.SlotType,
		Encoding:     p.Encoding,
		MaxInstances: p.MaxInstances,
		Allowed:      make(map[string]domain.PermissionSet, len(domain.Actions)),
		Forbidden:    make(map[string]domain.PermissionSet, len(domain.Actions)),
	}
	for _, a := range domain.Actions {
		rec.Allowed[a.String()] = p.Allowed(a)
		rec.Forbidden[a.String()] = p.Forbidden(a)
	}
	return rec
}

// recordToProfile fills permissions missing from rec with the defaults of a
// new profile.
func recordToProfile(rec profileRecord) domain.SlotProfile {
	p := domain.NewSlotProfile(rec.Name)
	p.ID = rec.ID
	p.Width = rec.Width
	p.Height = rec.Height
	p.Executable = rec.Executable
	p.Args = rec.Args
	p.Env = rec.Env
	p.WorkingDir = rec.WorkingDir
	p.SlotType = rec.SlotType
	p.Encoding = rec.Encoding
	p.MaxInstances = rec.MaxInstances
	for _, a := range domain.Actions {
		if set, ok := rec.Allowed[a.String()]; ok {
			p.SetAllowed(a, set)
		}
		if set, ok := rec.Forbidden[a.String()]; ok {
			p.SetForbidden(a, set)
		}
	}
	p.Normalize()
	return p
}

type userRecord struct {
	ID     domain.Identity `json:"id"`
	Name   string          `json:"name"`
	Admin  bool            `json:"admin,omitempty"`
	Active bool            `json:"active"`
}

type addressRecord struct {
	DefaultAllow bool           `json:"default_allow"`
	Allowed      []netip.Prefix `json:"allowed,omitempty"`
	Forbidden    []netip.Prefix `json:"forbidden,omitempty"`
}

type motdRecord struct {
	Text string `json:"text"`
}

type maxSlotsRecord struct {
	MaxSlots int `json:"max_slots"`
}

func invalidRecord(kind, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrInvalidRecord, kind, key, err)
}
