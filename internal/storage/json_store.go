package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ricochet1k/termslots/internal/domain"
)

var (
	ErrRecordFileTooLarge = errors.New("record file too large")
	ErrSymlinkNotAllowed  = errors.New("symlinks not allowed for record files")
)

const maxRecordFileSize = 1024 * 1024 // 1MB

const (
	profilesDir  = "profiles"
	usersDir     = "users"
	motdFile     = "motd.json"
	addressFile  = "address_rules.json"
	maxSlotsFile = "max_slots.json"
	recordSuffix = ".json"
)

// JSONFileStore keeps one JSON file per record under a base directory.
// Writes go through a temp file and a rename so a crash never leaves a torn
// record.
type JSONFileStore struct {
	baseDir string
	mu      sync.RWMutex
}

func NewJSONFileStore(baseDir string) (*JSONFileStore, error) {
	for _, dir := range []string{baseDir, filepath.Join(baseDir, profilesDir), filepath.Join(baseDir, usersDir)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		if info, err := os.Stat(dir); err == nil && info.Mode().Perm()&0o077 != 0 {
			// Directory is too permissive, try to fix it
			_ = os.Chmod(dir, 0o700)
		}
	}
	return &JSONFileStore{baseDir: baseDir}, nil
}

func (s *JSONFileStore) Close() error { return nil }

func (s *JSONFileStore) recordPath(dir string, id domain.Identity) string {
	return filepath.Join(s.baseDir, dir, id.String()+recordSuffix)
}

func (s *JSONFileStore) LoadSlotProfile(ctx context.Context, id domain.Identity) (domain.SlotProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec profileRecord
	if err := readRecord(s.recordPath(profilesDir, id), &rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.SlotProfile{}, fmt.Errorf("%w: slot profile %s", ErrNotFound, id.Short())
		}
		return domain.SlotProfile{}, invalidRecord("slot profile", id.Short(), err)
	}
	return recordToProfile(rec), nil
}

func (s *JSONFileStore) SaveSlotProfile(ctx context.Context, p domain.SlotProfile) error {
	p, err := prepareProfile(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.listProfilesUnlocked()
	if err != nil && !isListError(err) {
		return err
	}
	for _, other := range existing {
		if other.ID != p.ID && strings.EqualFold(other.Name, p.Name) {
			return fmt.Errorf("%w: slot profile %q", ErrDuplicateName, p.Name)
		}
	}
	return writeRecord(filepath.Join(s.baseDir, profilesDir), p.ID.String()+recordSuffix, profileToRecord(p))
}

func (s *JSONFileStore) ListSlotProfiles(ctx context.Context) ([]domain.SlotProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listProfilesUnlocked()
}

func (s *JSONFileStore) listProfilesUnlocked() ([]domain.SlotProfile, error) {
	var profiles []domain.SlotProfile
	err := s.eachRecord(profilesDir, func(name string, data []byte) error {
		var rec profileRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return invalidRecord("slot profile", name, err)
		}
		profiles = append(profiles, recordToProfile(rec))
		return nil
	})
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, err
}

func (s *JSONFileStore) DeleteSlotProfile(ctx context.Context, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.recordPath(profilesDir, id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: slot profile %s", ErrNotFound, id.Short())
		}
		return fmt.Errorf("failed to delete slot profile: %w", err)
	}
	return nil
}

func (s *JSONFileStore) LoadIdentity(ctx context.Context, idOrName string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := domain.IdentityFromHex(idOrName); ok {
		var rec userRecord
		err := readRecord(s.recordPath(usersDir, id), &rec)
		if err == nil {
			return domain.User(rec), nil
		}
		if !errors.Is(err, ErrNotFound) {
			return domain.User{}, invalidRecord("user", id.Short(), err)
		}
	}

	users, err := s.listUsersUnlocked()
	if err != nil && !isListError(err) {
		return domain.User{}, err
	}
	for _, u := range users {
		if u.Name == idOrName {
			return u, nil
		}
	}
	return domain.User{}, fmt.Errorf("%w: user %q", ErrNotFound, idOrName)
}

func (s *JSONFileStore) SaveUser(ctx context.Context, u domain.User) error {
	if err := prepareUser(u); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.listUsersUnlocked()
	if err != nil && !isListError(err) {
		return err
	}
	for _, other := range existing {
		if other.ID != u.ID && other.Name == u.Name {
			return fmt.Errorf("%w: user %q", ErrDuplicateName, u.Name)
		}
	}
	return writeRecord(filepath.Join(s.baseDir, usersDir), u.ID.String()+recordSuffix, userRecord(u))
}

func (s *JSONFileStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listUsersUnlocked()
}

func (s *JSONFileStore) listUsersUnlocked() ([]domain.User, error) {
	var users []domain.User
	err := s.eachRecord(usersDir, func(name string, data []byte) error {
		var rec userRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return invalidRecord("user", name, err)
		}
		users = append(users, domain.User(rec))
		return nil
	})
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, err
}

func (s *JSONFileStore) LoadMOTD(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec motdRecord
	if err := readRecord(filepath.Join(s.baseDir, motdFile), &rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", invalidRecord("motd", motdFile, err)
	}
	return rec.Text, nil
}

func (s *JSONFileStore) SaveMOTD(ctx context.Context, motd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeRecord(s.baseDir, motdFile, motdRecord{Text: motd})
}

func (s *JSONFileStore) LoadMaxSlots(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec maxSlotsRecord
	if err := readRecord(filepath.Join(s.baseDir, maxSlotsFile), &rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, invalidRecord("max slots", maxSlotsFile, err)
	}
	return max(rec.MaxSlots, 0), nil
}

func (s *JSONFileStore) SaveMaxSlots(ctx context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeRecord(s.baseDir, maxSlotsFile, maxSlotsRecord{MaxSlots: max(n, 0)})
}

func (s *JSONFileStore) LoadAddressRules(ctx context.Context) (domain.AddressRules, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec addressRecord
	if err := readRecord(filepath.Join(s.baseDir, addressFile), &rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.DefaultAddressRules(), nil
		}
		return domain.AddressRules{}, invalidRecord("address rules", addressFile, err)
	}
	return domain.AddressRules(rec), nil
}

func (s *JSONFileStore) SaveAddressRules(ctx context.Context, rules domain.AddressRules) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeRecord(s.baseDir, addressFile, addressRecord(rules))
}

// ListError collects per-file failures from a directory scan.
type ListError struct {
	Errors []error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("failed to load %d records", len(e.Errors))
}

func (e *ListError) Unwrap() []error { return e.Errors }

func isListError(err error) bool {
	var le *ListError
	return errors.As(err, &le)
}

// eachRecord calls fn for every record file in dir. Unreadable files are
// collected into a *ListError while the scan goes on.
func (s *JSONFileStore) eachRecord(dir string, fn func(name string, data []byte) error) error {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s directory: %w", dir, err)
	}

	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordSuffix) {
			continue
		}
		if _, ok := domain.IdentityFromHex(strings.TrimSuffix(name, recordSuffix)); !ok {
			// Skip files with invalid names
			continue
		}
		data, err := readFile(filepath.Join(s.baseDir, dir, name))
		if err == nil {
			err = fn(name, data)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &ListError{Errors: errs}
	}
	return nil
}

func readRecord(path string, v any) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func readFile(path string) ([]byte, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymlinkNotAllowed, filepath.Base(path))
	}
	if info.Size() > maxRecordFileSize {
		return nil, fmt.Errorf("%w: %s (%d bytes)", ErrRecordFileTooLarge, filepath.Base(path), info.Size())
	}
	return os.ReadFile(path)
}

func writeRecord(dir, name string, v any) error {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	f, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	tmpName := f.Name()
	_ = os.Chmod(tmpName, 0o600)

	defer func() {
		if f != nil {
			f.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := f.Write(jsonData); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if err := f.Close(); err != nil {
		f = nil
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	f = nil

	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	// Sync the directory to ensure the rename is durable
	df, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	defer df.Close()
	if err := df.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	return nil
}
