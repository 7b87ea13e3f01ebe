// Package config handles configuration loading, validation, and hot-reload
// for wlime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version"`

	Keybinds   KeybindsConfig   `toml:"keybinds" json:"keybinds"`
	Completion CompletionConfig `toml:"completion" json:"completion"`
	Behavior   BehaviorConfig   `toml:"behavior" json:"behavior"`
	Font       FontConfig       `toml:"font" json:"font"`
	Logging    LoggingConfig    `toml:"logging" json:"logging"`
	Candidates CandidatesConfig `toml:"candidates" json:"candidates"`
	StatusBus  StatusBusConfig  `toml:"status_bus" json:"status_bus"`

	// mu protects concurrent access to the config during hot-reload.
	mu sync.RWMutex `toml:"-" json:"-"`
}

// KeybindsConfig holds keybinding overrides passed to the engine.
type KeybindsConfig struct {
	// Commit is the key notation sent to trigger insertion of the preedit
	// buffer into the surrounding text. Defaults to "<C-CR>".
	Commit string `toml:"commit" json:"commit"`
}

// CompletionConfig selects the candidate-completion source.
type CompletionConfig struct {
	// Adapter names the engine-side completion source: "native" (the
	// engine's own omnifunc) or "cmp" (nvim-cmp's completion menu, read
	// via the engine glue script). Changing this requires a --clean
	// restart; it is not applied by the hot-reload watcher.
	Adapter string `toml:"adapter" json:"adapter"`
}

// BehaviorConfig holds coordination-layer behavioral toggles.
type BehaviorConfig struct {
	// StartInsert determines whether activation begins in insert mode
	// (true) or normal mode (false).
	StartInsert bool `toml:"start_insert" json:"start_insert"`

	// WriteToCommit is loaded from the config file (off by default) but
	// no other package reads it: setting it has no effect, and the
	// engine's write command is not turned into a commit.
	WriteToCommit bool `toml:"write_to_commit" json:"write_to_commit"`

	// ShowKeypresses toggles the keypress-trail HUD in the popup.
	ShowKeypresses bool `toml:"show_keypresses" json:"show_keypresses"`
}

// FontConfig holds popup rendering font selection.
type FontConfig struct {
	Family     string  `toml:"family" json:"family"`
	MonoFamily string  `toml:"mono_family" json:"mono_family"`
	Size       float64 `toml:"size" json:"size"`
}

// LoggingConfig holds structured-logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error". Overridden
	// at runtime by the WLIME_LOG environment variable when set.
	Level string `toml:"level" json:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format"`

	// Output is the log output: "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output"`

	// FilePath is the path to the log file when Output is "file".
	FilePath string `toml:"file_path" json:"file_path"`

	MaxSizeMB  int  `toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" json:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" json:"max_age_days"`
	Compress   bool `toml:"compress" json:"compress"`
}

// CandidatesConfig controls the frequency-ranking side table.
type CandidatesConfig struct {
	Enabled  bool   `toml:"enabled" json:"enabled"`
	DBPath   string `toml:"db_path" json:"db_path"`
}

// StatusBusConfig controls the optional D-Bus status indicator.
type StatusBusConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
}

// DefaultConfig returns a configuration with sensible defaults: commit on
// "<C-CR>", the native completion adapter, and insert mode entered
// automatically on activation.
func DefaultConfig() *Config {
	dir := WlimeDir()

	return &Config{
		Version: Version,
		Keybinds: KeybindsConfig{
			Commit: "<C-CR>",
		},
		Completion: CompletionConfig{
			Adapter: "native",
		},
		Behavior: BehaviorConfig{
			StartInsert:    true,
			WriteToCommit:  false,
			ShowKeypresses: false,
		},
		Font: FontConfig{
			Family:     "sans-serif",
			MonoFamily: "monospace",
			Size:       14,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "wlime.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Candidates: CandidatesConfig{
			Enabled: true,
			DBPath:  filepath.Join(dir, "candidates.db"),
		},
		StatusBus: StatusBusConfig{
			Enabled: false,
		},
	}
}

// ConfigPath returns the default configuration file path,
// $XDG_CONFIG_HOME/wlime/config.toml or ~/.config/wlime/config.toml.
func ConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wlime", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "wlime", "config.toml")
}

// WlimeDir returns the base state directory for wlime's own data
// (candidate store, logs), following XDG_STATE_HOME.
func WlimeDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "wlime")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "wlime")
}

// Load reads configuration from the specified path. A missing file yields
// the default configuration and a nil error. A file that can't be read or
// fails to parse yields the default configuration with the error reported
// to the caller for warn-level logging rather than a fatal abort.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("decode TOML: %w", err)
	}

	cfg.ApplyEnvOverrides()

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all necessary directories for the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Logging.FilePath),
		filepath.Dir(c.Candidates.DBPath),
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the
// configuration. WLIME_LOG (handled directly by the logging package) takes
// precedence over Logging.Level at the point the logger is constructed.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("WLIME_LOG"); v != "" {
		c.Logging.Level = v
	}
}

// Clone returns a deep copy of the configuration. Config has no slice or
// map fields, so a value copy already suffices; Clone exists so callers
// don't need to reason about which fields are safe to alias.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := *c
	return &clone
}
