package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ricochet1k/termslots/internal/session"
	"github.com/ricochet1k/termslots/internal/storage"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	DefaultListen          = "127.0.0.1:8480"
	DefaultIdentityHeader  = "X-Remote-User"
	DefaultShutdownTimeout = "10s"
	DefaultTranscriptSize  = 64 * 1024
)

type Config struct {
	Listen          string      `yaml:"listen"`
	DataDir         string      `yaml:"data_dir"`
	Store           StoreConfig `yaml:"store"`
	IdentityHeader  string      `yaml:"identity_header"`
	TickRate        int         `yaml:"tick_rate"`
	TranscriptSize  int         `yaml:"transcript_size"`
	ShutdownTimeout string      `yaml:"shutdown_timeout"`
	Log             LogConfig   `yaml:"log"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads the YAML file at path. An empty path yields the defaults with
// environment overrides applied.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		applyEnvOverrides(cfg)
		if err := validateConfig(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes parses data without environment overrides.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.DataDir == "" {
		cfg.DataDir = storage.DefaultBaseDir()
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = storage.DriverSQLite
	}
	if cfg.Store.Path != "" {
		cfg.Store.Path = expandHome(cfg.Store.Path)
	}
	if cfg.IdentityHeader == "" {
		cfg.IdentityHeader = DefaultIdentityHeader
	}
	if cfg.TickRate == 0 {
		cfg.TickRate = session.DefaultTickRate
	}
	if cfg.TranscriptSize == 0 {
		cfg.TranscriptSize = DefaultTranscriptSize
	}
	if cfg.ShutdownTimeout == "" {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TERMSLOTS_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("TERMSLOTS_DATA_DIR"); v != "" {
		cfg.DataDir = expandHome(v)
	}
	if v := os.Getenv("TERMSLOTS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func validateConfig(cfg *Config) error {
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("%w: listen %q: %v", ErrInvalidConfig, cfg.Listen, err)
	}
	switch cfg.Store.Driver {
	case storage.DriverSQLite, storage.DriverJSON:
	default:
		return fmt.Errorf("%w: store.driver %q (want %s or %s)", ErrInvalidConfig, cfg.Store.Driver, storage.DriverSQLite, storage.DriverJSON)
	}
	if cfg.TickRate < 1 || cfg.TickRate > 1000 {
		return fmt.Errorf("%w: tick_rate must be between 1 and 1000, got %d", ErrInvalidConfig, cfg.TickRate)
	}
	if cfg.TranscriptSize < 0 {
		return fmt.Errorf("%w: transcript_size must not be negative", ErrInvalidConfig)
	}
	if d, err := time.ParseDuration(cfg.ShutdownTimeout); err != nil || d <= 0 {
		return fmt.Errorf("%w: shutdown_timeout %q", ErrInvalidConfig, cfg.ShutdownTimeout)
	}
	if strings.TrimSpace(cfg.IdentityHeader) == "" {
		return fmt.Errorf("%w: identity_header is empty", ErrInvalidConfig)
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		return err
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q (want text or json)", ErrInvalidConfig, cfg.Log.Format)
	}
	return nil
}

// Tick is the pump interval implied by TickRate.
func (c *Config) Tick() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

func (c *Config) ShutdownGrace() time.Duration {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("%w: log.level %q", ErrInvalidConfig, s)
	}
	return level, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
