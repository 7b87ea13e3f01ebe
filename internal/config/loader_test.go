package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[keybinds]\ncommit = \"<C-CR>\"\n"), 0600))

	loader, err := NewLoader(path)
	require.NoError(t, err)
	defer loader.Close()

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) { changed <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, loader.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("[keybinds]\ncommit = \"<C-space>\"\n"), 0600))

	select {
	case cfg := <-changed:
		assert.Equal(t, "<C-space>", cfg.Keybinds.Commit)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hot-reload callback")
	}
}

func TestLoaderKeepsLastGoodOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[keybinds]\ncommit = \"<C-CR>\"\n"), 0600))

	loader, err := NewLoader(path)
	require.NoError(t, err)
	defer loader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, loader.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("not valid toml [[["), 0600))

	select {
	case err := <-loader.Errors():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}

	assert.Equal(t, "<C-CR>", loader.Config().Keybinds.Commit, "bad reload should not replace last-good configuration")
}
