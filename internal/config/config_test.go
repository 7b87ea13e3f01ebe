package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Keybinds.Commit != "<C-CR>" {
		t.Errorf("expected default commit key <C-CR>, got %s", cfg.Keybinds.Commit)
	}
	if cfg.Completion.Adapter != "native" {
		t.Errorf("expected default adapter native, got %s", cfg.Completion.Adapter)
	}
	if !cfg.Behavior.StartInsert {
		t.Error("expected StartInsert true by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadNonexistentUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load should not error on missing file: %v", err)
	}
	if cfg.Keybinds.Commit != "<C-CR>" {
		t.Errorf("expected default commit key, got %s", cfg.Keybinds.Commit)
	}
}

func TestPartialTOMLKeybindsOnly(t *testing.T) {
	path := writeTemp(t, `[keybinds]
commit = "<C-space>"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Keybinds.Commit != "<C-space>" {
		t.Errorf("expected overridden commit key, got %s", cfg.Keybinds.Commit)
	}
	if cfg.Completion.Adapter != "native" {
		t.Errorf("expected default adapter to survive partial config, got %s", cfg.Completion.Adapter)
	}
}

func TestUnknownKeysIgnored(t *testing.T) {
	path := writeTemp(t, `[keybinds]
commit = "<C-CR>"
bogus_field = "ignored"

[nonexistent_section]
x = 1
`)
	if _, err := Load(path); err != nil {
		t.Errorf("unknown keys should not cause a load error: %v", err)
	}
}

func TestInvalidTOMLReturnsError(t *testing.T) {
	path := writeTemp(t, `this is not valid toml [[[`)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error decoding invalid TOML")
	}
}

func TestValidateRejectsUnknownAdapter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Completion.Adapter = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown completion adapter")
	}
}

func TestValidateRejectsEmptyCommit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keybinds.Commit = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty commit keybind")
	}
}

func TestConfigPathUnderXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdgconf")
	path := ConfigPath()
	if path != filepath.Join("/tmp/xdgconf", "wlime", "config.toml") {
		t.Errorf("unexpected config path: %s", path)
	}
}

func TestApplyEnvOverridesLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("WLIME_LOG", "debug")
	cfg.ApplyEnvOverrides()
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env override to set debug level, got %s", cfg.Logging.Level)
	}
}

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
