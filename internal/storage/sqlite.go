package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ricochet1k/termslots/internal/domain"
)

type migration struct {
	Version int
	UpSQL   string
}

var migrations = []migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	admin INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS slot_profiles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE COLLATE NOCASE,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	executable TEXT NOT NULL,
	args TEXT NOT NULL DEFAULT '[]',
	env TEXT NOT NULL DEFAULT '[]',
	working_dir TEXT NOT NULL DEFAULT '',
	slot_type TEXT NOT NULL,
	encoding TEXT NOT NULL,
	max_instances INTEGER NOT NULL,
	allowed_watch BLOB NOT NULL,
	allowed_launch BLOB NOT NULL,
	allowed_play BLOB NOT NULL,
	allowed_close BLOB NOT NULL,
	forbidden_watch BLOB NOT NULL,
	forbidden_launch BLOB NOT NULL,
	forbidden_play BLOB NOT NULL,
	forbidden_close BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS address_ranges (
	prefix TEXT NOT NULL,
	list TEXT NOT NULL CHECK(list IN ('allowed','forbidden')),
	PRIMARY KEY(prefix, list)
);
`,
	},
}

const (
	settingMOTD         = "motd"
	settingDefaultAllow = "address_default_allow"
	settingMaxSlots     = "max_slots"
)

// SQLiteStore is the primary Store, one database file per server. Slot
// profile permission sets are stored in their CBOR form.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// permissionColumns lists the allowed columns then the forbidden columns,
// each in domain.Actions order.
func permissionColumns() []string {
	cols := make([]string, 0, 2*len(domain.Actions))
	for _, prefix := range []string{"allowed_", "forbidden_"} {
		for _, a := range domain.Actions {
			cols = append(cols, prefix+a.String())
		}
	}
	return cols
}

var profileColumns = append([]string{
	"id", "name", "width", "height", "executable", "args", "env",
	"working_dir", "slot_type", "encoding", "max_instances",
}, permissionColumns()...)

func (s *SQLiteStore) LoadSlotProfile(ctx context.Context, id domain.Identity) (domain.SlotProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+strings.Join(profileColumns, ", ")+` FROM slot_profiles WHERE id = ?`, id.String())
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SlotProfile{}, fmt.Errorf("%w: slot profile %s", ErrNotFound, id.Short())
	}
	return p, err
}

func (s *SQLiteStore) SaveSlotProfile(ctx context.Context, p domain.SlotProfile) error {
	p, err := prepareProfile(p)
	if err != nil {
		return err
	}
	args, err := json.Marshal(nonNil(p.Args))
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	env, err := json.Marshal(nonNil(p.Env))
	if err != nil {
		return fmt.Errorf("encode env: %w", err)
	}

	values := []any{
		p.ID.String(), p.Name, p.Width, p.Height, p.Executable, string(args), string(env),
		p.WorkingDir, p.SlotType, p.Encoding, p.MaxInstances,
	}
	sets := make([]domain.PermissionSet, 0, 2*len(domain.Actions))
	for _, a := range domain.Actions {
		sets = append(sets, p.Allowed(a))
	}
	for _, a := range domain.Actions {
		sets = append(sets, p.Forbidden(a))
	}
	for _, set := range sets {
		blob, err := set.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode permissions: %w", err)
		}
		values = append(values, blob)
	}

	updates := make([]string, 0, len(profileColumns)-1)
	for _, col := range profileColumns[1:] {
		updates = append(updates, col+"=excluded."+col)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(profileColumns)), ", ")
	_, err = s.db.ExecContext(ctx, `
INSERT INTO slot_profiles(`+strings.Join(profileColumns, ", ")+`)
VALUES (`+placeholders+`)
ON CONFLICT(id) DO UPDATE SET `+strings.Join(updates, ", "), values...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: slot profile %q", ErrDuplicateName, p.Name)
		}
		return fmt.Errorf("save slot profile: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSlotProfiles(ctx context.Context) ([]domain.SlotProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+strings.Join(profileColumns, ", ")+` FROM slot_profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list slot profiles: %w", err)
	}
	defer rows.Close()

	var profiles []domain.SlotProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *SQLiteStore) DeleteSlotProfile(ctx context.Context, id domain.Identity) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM slot_profiles WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete slot profile: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: slot profile %s", ErrNotFound, id.Short())
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (domain.SlotProfile, error) {
	var (
		idText, argsJSON, envJSON string
		rec                       profileRecord
		blobs                     = make([][]byte, 2*len(domain.Actions))
	)
	dest := []any{
		&idText, &rec.Name, &rec.Width, &rec.Height, &rec.Executable, &argsJSON, &envJSON,
		&rec.WorkingDir, &rec.SlotType, &rec.Encoding, &rec.MaxInstances,
	}
	for i := range blobs {
		dest = append(dest, &blobs[i])
	}
	if err := row.Scan(dest...); err != nil {
		return domain.SlotProfile{}, err
	}

	id, ok := domain.IdentityFromHex(idText)
	if !ok {
		return domain.SlotProfile{}, invalidRecord("slot profile", idText, errors.New("malformed id"))
	}
	rec.ID = id
	if err := json.Unmarshal([]byte(argsJSON), &rec.Args); err != nil {
		return domain.SlotProfile{}, invalidRecord("slot profile", id.Short(), err)
	}
	if err := json.Unmarshal([]byte(envJSON), &rec.Env); err != nil {
		return domain.SlotProfile{}, invalidRecord("slot profile", id.Short(), err)
	}

	rec.Allowed = make(map[string]domain.PermissionSet, len(domain.Actions))
	rec.Forbidden = make(map[string]domain.PermissionSet, len(domain.Actions))
	for i, blob := range blobs {
		var set domain.PermissionSet
		if err := set.UnmarshalBinary(blob); err != nil {
			return domain.SlotProfile{}, invalidRecord("slot profile", id.Short(), err)
		}
		a := domain.Actions[i%len(domain.Actions)]
		if i < len(domain.Actions) {
			rec.Allowed[a.String()] = set
		} else {
			rec.Forbidden[a.String()] = set
		}
	}
	p := recordToProfile(rec)
	if len(p.Args) == 0 {
		p.Args = nil
	}
	if len(p.Env) == 0 {
		p.Env = nil
	}
	return p, nil
}

func (s *SQLiteStore) LoadIdentity(ctx context.Context, idOrName string) (domain.User, error) {
	if id, ok := domain.IdentityFromHex(idOrName); ok {
		u, err := s.queryUser(ctx, `SELECT id, name, admin, active FROM users WHERE id = ?`, id.String())
		if !errors.Is(err, ErrNotFound) {
			return u, err
		}
	}
	return s.queryUser(ctx, `SELECT id, name, admin, active FROM users WHERE name = ?`, idOrName)
}

func (s *SQLiteStore) queryUser(ctx context.Context, query string, arg string) (domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, fmt.Errorf("%w: user %q", ErrNotFound, arg)
	}
	return u, err
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		idText        string
		admin, active int
		u             domain.User
	)
	if err := row.Scan(&idText, &u.Name, &admin, &active); err != nil {
		return domain.User{}, err
	}
	id, ok := domain.IdentityFromHex(idText)
	if !ok {
		return domain.User{}, invalidRecord("user", u.Name, errors.New("malformed id"))
	}
	u.ID = id
	u.Admin = admin != 0
	u.Active = active != 0
	return u, nil
}

func (s *SQLiteStore) SaveUser(ctx context.Context, u domain.User) error {
	if err := prepareUser(u); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users(id, name, admin, active)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name=excluded.name,
	admin=excluded.admin,
	active=excluded.active
`, u.ID.String(), u.Name, boolToInt(u.Admin), boolToInt(u.Active))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %q", ErrDuplicateName, u.Name)
		}
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, admin, active FROM users ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) LoadMOTD(ctx context.Context) (string, error) {
	motd, _, err := s.setting(ctx, settingMOTD)
	return motd, err
}

func (s *SQLiteStore) SaveMOTD(ctx context.Context, motd string) error {
	return s.putSetting(ctx, s.db, settingMOTD, motd)
}

func (s *SQLiteStore) LoadMaxSlots(ctx context.Context) (int, error) {
	v, ok, err := s.setting(ctx, settingMaxSlots)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, invalidRecord("setting", settingMaxSlots, err)
	}
	return max(n, 0), nil
}

func (s *SQLiteStore) SaveMaxSlots(ctx context.Context, n int) error {
	return s.putSetting(ctx, s.db, settingMaxSlots, strconv.Itoa(max(n, 0)))
}

func (s *SQLiteStore) LoadAddressRules(ctx context.Context) (domain.AddressRules, error) {
	rules := domain.DefaultAddressRules()
	if v, ok, err := s.setting(ctx, settingDefaultAllow); err != nil {
		return rules, err
	} else if ok {
		rules.DefaultAllow = v == "1"
	}

	rows, err := s.db.QueryContext(ctx, `SELECT prefix, list FROM address_ranges ORDER BY list, prefix`)
	if err != nil {
		return rules, fmt.Errorf("load address ranges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var text, list string
		if err := rows.Scan(&text, &list); err != nil {
			return rules, err
		}
		prefix, err := netip.ParsePrefix(text)
		if err != nil {
			return rules, invalidRecord("address range", text, err)
		}
		if list == "allowed" {
			rules.Allowed = append(rules.Allowed, prefix)
		} else {
			rules.Forbidden = append(rules.Forbidden, prefix)
		}
	}
	return rules, rows.Err()
}

func (s *SQLiteStore) SaveAddressRules(ctx context.Context, rules domain.AddressRules) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin address rules tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	allow := "0"
	if rules.DefaultAllow {
		allow = "1"
	}
	if err := s.putSetting(ctx, tx, settingDefaultAllow, allow); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM address_ranges`); err != nil {
		return fmt.Errorf("clear address ranges: %w", err)
	}
	for list, prefixes := range map[string][]netip.Prefix{"allowed": rules.Allowed, "forbidden": rules.Forbidden} {
		for _, p := range prefixes {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO address_ranges(prefix, list) VALUES (?, ?)`, p.String(), list); err != nil {
				return fmt.Errorf("save address range: %w", err)
			}
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) setting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load setting %s: %w", key, err)
	}
	return v, true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) putSetting(ctx context.Context, db execer, key, value string) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO settings(key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value
`, key, value)
	if err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
