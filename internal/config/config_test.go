package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricochet1k/termslots/internal/storage"
)

func TestLoadFromBytesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, storage.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, DefaultIdentityHeader, cfg.IdentityHeader)
	assert.Equal(t, 60, cfg.TickRate)
	assert.Equal(t, time.Second/60, cfg.Tick())
	assert.Equal(t, 10*time.Second, cfg.ShutdownGrace())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.True(t, filepath.IsAbs(cfg.DataDir) || cfg.DataDir == ".termslots")
}

func TestLoadFromBytesOverrides(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
listen: "0.0.0.0:9000"
data_dir: /srv/termslots
store:
  driver: json
  path: /srv/termslots/profiles
identity_header: X-Forwarded-User
tick_rate: 30
shutdown_timeout: 2s
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "/srv/termslots", cfg.DataDir)
	assert.Equal(t, storage.DriverJSON, cfg.Store.Driver)
	assert.Equal(t, "/srv/termslots/profiles", cfg.Store.Path)
	assert.Equal(t, "X-Forwarded-User", cfg.IdentityHeader)
	assert.Equal(t, time.Second/30, cfg.Tick())
	assert.Equal(t, 2*time.Second, cfg.ShutdownGrace())
}

func TestLoadFromBytesExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	cfg, err := LoadFromBytes([]byte("data_dir: ~/games\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "games"), cfg.DataDir)
}

func TestLoadFromBytesRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"listen":     `listen: "nope"`,
		"driver":     "store: {driver: postgres}",
		"tick":       "tick_rate: -1",
		"shutdown":   "shutdown_timeout: soon",
		"level":      "log: {level: loud}",
		"format":     "log: {format: xml}",
		"transcript": "transcript_size: -5",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadFromBytesParseError(t *testing.T) {
	_, err := LoadFromBytes([]byte("listen: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termslots.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: 127.0.0.1:7000\n"), 0o600))
	t.Setenv("TERMSLOTS_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, "warn", cfg.Log.Level)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadWithoutPathUsesEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TERMSLOTS_DATA_DIR", dir)
	t.Setenv("TERMSLOTS_LISTEN", "127.0.0.1:9999")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", "slot", "nethack - alice:1")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"slot":"nethack - alice:1"`)

	_, err = LogConfig{Level: "nope"}.NewLogger(&buf)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
