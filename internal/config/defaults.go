// Package config handles configuration loading and validation for wlime.
package config

import (
	"os"
	"path/filepath"
)

// PlatformConfigDir returns the XDG config directory for wlime,
// $XDG_CONFIG_HOME/wlime or ~/.config/wlime.
func PlatformConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wlime")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "wlime")
}

// PlatformStateDir returns the XDG state directory for wlime's runtime
// data (logs, candidate store), $XDG_STATE_HOME/wlime or
// ~/.local/state/wlime.
func PlatformStateDir() string {
	return WlimeDir()
}

// DefaultPaths bundles the resolved paths a fresh daemon instance needs.
type DefaultPaths struct {
	ConfigDir string
	StateDir  string

	ConfigFile    string
	LogFile       string
	CandidatesDB  string
}

// GetDefaultPaths returns all default paths for the current environment.
func GetDefaultPaths() *DefaultPaths {
	configDir := PlatformConfigDir()
	stateDir := PlatformStateDir()

	return &DefaultPaths{
		ConfigDir: configDir,
		StateDir:  stateDir,

		ConfigFile:   filepath.Join(configDir, "config.toml"),
		LogFile:      filepath.Join(stateDir, "wlime.log"),
		CandidatesDB: filepath.Join(stateDir, "candidates.db"),
	}
}

// FindConfigFile searches for a config file in standard locations, current
// directory first.
func FindConfigFile() string {
	paths := GetDefaultPaths()

	searchDirs := []string{".", paths.ConfigDir}
	for _, dir := range searchDirs {
		path := filepath.Join(dir, "config.toml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
