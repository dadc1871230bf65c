package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ricochet1k/termslots/internal/domain"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidRecord = errors.New("invalid stored record")
	ErrDuplicateName = errors.New("name already in use")
	ErrStorageWrite  = errors.New("failed to write record")
	ErrUnknownDriver = errors.New("unknown store driver")
)

const (
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
)

// Store is the persistent configuration of a server: users, slot profiles,
// the message of the day and the client address rules.
type Store interface {
	LoadSlotProfile(ctx context.Context, id domain.Identity) (domain.SlotProfile, error)
	SaveSlotProfile(ctx context.Context, p domain.SlotProfile) error
	ListSlotProfiles(ctx context.Context) ([]domain.SlotProfile, error)
	DeleteSlotProfile(ctx context.Context, id domain.Identity) error

	// LoadIdentity finds a user by the hex form of their identity or by
	// name.
	LoadIdentity(ctx context.Context, idOrName string) (domain.User, error)
	SaveUser(ctx context.Context, u domain.User) error
	ListUsers(ctx context.Context) ([]domain.User, error)

	// LoadMOTD returns "" when none was saved.
	LoadMOTD(ctx context.Context) (string, error)
	SaveMOTD(ctx context.Context, motd string) error

	// LoadMaxSlots returns the server-wide slot limit, 0 meaning unlimited.
	LoadMaxSlots(ctx context.Context) (int, error)
	SaveMaxSlots(ctx context.Context, n int) error

	// LoadAddressRules returns domain.DefaultAddressRules when none were
	// saved.
	LoadAddressRules(ctx context.Context) (domain.AddressRules, error)
	SaveAddressRules(ctx context.Context, rules domain.AddressRules) error

	Close() error
}

// Open opens the store for driver. An empty path puts the store under the
// default name inside dataDir.
func Open(ctx context.Context, driver, dataDir, path string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		if path == "" {
			path = filepath.Join(dataDir, "termslots.db")
		}
		return OpenSQLite(ctx, path)
	case DriverJSON:
		if path == "" {
			path = filepath.Join(dataDir, "config")
		}
		return NewJSONFileStore(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".termslots"
	}
	return filepath.Join(home, ".termslots")
}

// FindSlotProfile resolves a profile by hex identity or, failing that, by
// case-insensitive name.
func FindSlotProfile(ctx context.Context, s Store, idOrName string) (domain.SlotProfile, error) {
	if id, ok := domain.IdentityFromHex(idOrName); ok {
		p, err := s.LoadSlotProfile(ctx, id)
		if !errors.Is(err, ErrNotFound) {
			return p, err
		}
	}
	profiles, err := s.ListSlotProfiles(ctx)
	if err != nil && !isListError(err) {
		return domain.SlotProfile{}, err
	}
	for _, p := range profiles {
		if strings.EqualFold(p.Name, idOrName) {
			return p, nil
		}
	}
	return domain.SlotProfile{}, fmt.Errorf("%w: slot profile %q", ErrNotFound, idOrName)
}

func prepareProfile(p domain.SlotProfile) (domain.SlotProfile, error) {
	p = p.Clone()
	p.Normalize()
	if err := p.Validate(); err != nil {
		return p, err
	}
	if p.ID.IsZero() {
		return p, fmt.Errorf("%w: slot profile has no id", domain.ErrInvalidProfile)
	}
	return p, nil
}

func prepareUser(u domain.User) error {
	if err := domain.ValidateUserName(u.Name); err != nil {
		return err
	}
	if u.ID.IsZero() {
		return fmt.Errorf("%w: user has no id", ErrInvalidRecord)
	}
	return nil
}
