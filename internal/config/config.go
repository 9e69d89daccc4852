package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/holyx-app/holyx-sync/internal/ble"
	"github.com/holyx-app/holyx-sync/internal/directory"
	"github.com/holyx-app/holyx-sync/internal/syncer"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	LogFile   string          `yaml:"log_file"` // empty logs to stderr
	Store     StoreConfig     `yaml:"store"`
	Directory DirectoryConfig `yaml:"directory"`
	BLE       BLEConfig       `yaml:"ble"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// StoreConfig holds the local state database settings.
type StoreConfig struct {
	Path string `yaml:"path"` // key file lives at Path + ".key"
}

// DirectoryConfig holds device directory settings.
type DirectoryConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"` // 0 refreshes only at startup
}

// BLEConfig holds peripheral discovery and write settings.
type BLEConfig struct {
	ServiceUUID           string        `yaml:"service_uuid"`
	CharUUID              string        `yaml:"char_uuid"`
	NamePattern           string        `yaml:"name_pattern"`
	ScanTimeout           time.Duration `yaml:"scan_timeout"`
	BackgroundChunkDelay  time.Duration `yaml:"background_chunk_delay"`
	InteractiveChunkDelay time.Duration `yaml:"interactive_chunk_delay"`
}

// SchedulerConfig holds the unattended sync timing.
type SchedulerConfig struct {
	Lookahead    time.Duration `yaml:"lookahead"`
	SafetyMargin time.Duration `yaml:"safety_margin"`
	Period       time.Duration `yaml:"period"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "holyx-sync")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultDataDir returns the directory holding the state database.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "holyx-sync")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	sched := syncer.DefaultConfig()
	return &Config{
		LogLevel: "info",
		Store: StoreConfig{
			Path: filepath.Join(DefaultDataDir(), "state.db"),
		},
		Directory: DirectoryConfig{
			BaseURL:         directory.DefaultBaseURL,
			Timeout:         30 * time.Second,
			RefreshInterval: 6 * time.Hour,
		},
		BLE: BLEConfig{
			ServiceUUID:           ble.ServiceUUID,
			CharUUID:              ble.ImageCharUUID,
			NamePattern:           ble.NamePattern,
			ScanTimeout:           30 * time.Second,
			BackgroundChunkDelay:  0,
			InteractiveChunkDelay: 20 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			Lookahead:    sched.Lookahead,
			SafetyMargin: sched.SafetyMargin,
			Period:       sched.Period,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in store.path and log_file is expanded to the
// user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Store.Path = expandTilde(cfg.Store.Path)
	cfg.LogFile = expandTilde(cfg.LogFile)

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}

	if !strings.HasPrefix(c.Directory.BaseURL, "http://") && !strings.HasPrefix(c.Directory.BaseURL, "https://") {
		return fmt.Errorf("directory.base_url must be an http(s) URL, got %q", c.Directory.BaseURL)
	}
	if c.Directory.Timeout < 0 {
		return fmt.Errorf("directory.timeout must be >= 0")
	}
	if c.Directory.RefreshInterval < 0 {
		return fmt.Errorf("directory.refresh_interval must be >= 0")
	}

	if c.BLE.ServiceUUID == "" || c.BLE.CharUUID == "" {
		return fmt.Errorf("ble.service_uuid and ble.char_uuid must not be empty")
	}
	if _, err := regexp.Compile(c.BLE.NamePattern); err != nil || c.BLE.NamePattern == "" {
		return fmt.Errorf("ble.name_pattern must be a valid regular expression, got %q", c.BLE.NamePattern)
	}
	if c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0")
	}
	if c.BLE.BackgroundChunkDelay < 0 || c.BLE.InteractiveChunkDelay < 0 {
		return fmt.Errorf("ble chunk delays must be >= 0")
	}

	if c.Scheduler.Lookahead <= 0 {
		return fmt.Errorf("scheduler.lookahead must be > 0")
	}
	if c.Scheduler.SafetyMargin < 0 {
		return fmt.Errorf("scheduler.safety_margin must be >= 0")
	}
	if c.Scheduler.Period <= 0 {
		return fmt.Errorf("scheduler.period must be > 0")
	}

	return nil
}

// SyncerConfig returns the Orchestrator timing.
func (c *Config) SyncerConfig() syncer.Config {
	return syncer.Config{
		Lookahead:    c.Scheduler.Lookahead,
		SafetyMargin: c.Scheduler.SafetyMargin,
		Period:       c.Scheduler.Period,
	}
}

// TransportOptions returns BLE transport options for the background path
// (interactive=false) or the interactive path.
func (c *Config) TransportOptions(interactive bool) ble.TransportOptions {
	opts := ble.TransportOptions{
		ServiceUUID:     c.BLE.ServiceUUID,
		CharUUID:        c.BLE.CharUUID,
		NamePattern:     c.BLE.NamePattern,
		ScanTimeout:     c.BLE.ScanTimeout,
		InterChunkDelay: c.BLE.BackgroundChunkDelay,
		RequireService:  !interactive,
	}
	if interactive {
		opts.InterChunkDelay = c.BLE.InteractiveChunkDelay
	}
	return opts
}

// ParseLogLevel maps a log_level value to a slog.Level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# holyx-sync configuration
# Durations use Go syntax: 20ms, 30s, 6h.
# Delete a key to fall back to its default.

`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there. It returns the written path, or "" when a file was already
// present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
