// Package config handles configuration loading and validation for wlime.
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// debounceWindow coalesces the burst of fsnotify events a single editor
// save typically produces (write + rename + create).
const debounceWindow = 100 * time.Millisecond

// ChangeFunc is called with the newly loaded configuration after a
// successful hot-reload.
type ChangeFunc func(*Config)

// Loader owns the on-disk configuration and, optionally, a watcher that
// reloads it on save.
type Loader struct {
	path string

	mu     sync.RWMutex
	config *Config

	watcher  *fsnotify.Watcher
	onChange []ChangeFunc

	ctx    context.Context
	cancel context.CancelFunc
	errCh  chan error
}

// NewLoader creates a Loader for the given path, loading it immediately.
// An empty path resolves to ConfigPath().
func NewLoader(path string) (*Loader, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &Loader{
		path:   path,
		config: cfg,
		errCh:  make(chan error, 8),
	}, nil
}

// Config returns the current configuration. Safe for concurrent use with
// Watch's reload goroutine.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Clone()
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(fn ChangeFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Errors returns the channel of reload errors (parse failures, missing
// file races). Reload errors never replace the last-good configuration.
func (l *Loader) Errors() <-chan error {
	return l.errCh
}

// Watch starts an fsnotify watch on the config file's directory and
// reloads on write. A bad edit never takes the daemon down: it logs a
// warning (delivered via Errors()) and the previous configuration keeps
// running.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	l.ctx, l.cancel = context.WithCancel(ctx)
	l.watcher = watcher

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	var debounce *time.Timer
	for {
		select {
		case <-l.ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, l.reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			select {
			case l.errCh <- err:
			default:
			}
		}
	}
}

func (l *Loader) reload() {
	cfg, err := Load(l.path)
	if err != nil {
		select {
		case l.errCh <- fmt.Errorf("reload config: %w", err):
		default:
		}
		return
	}
	if err := cfg.Validate(); err != nil {
		select {
		case l.errCh <- fmt.Errorf("reload config: %w", err):
		default:
		}
		return
	}

	l.mu.Lock()
	l.config = cfg
	callbacks := append([]ChangeFunc{}, l.onChange...)
	l.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg.Clone())
	}
}

// Close stops the watcher, if running.
func (l *Loader) Close() error {
	if l.cancel != nil {
		l.cancel()
	}
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// DumpYAML renders the configuration as YAML, used by the --dump-config
// debug flag. TOML remains the on-disk format; this is read-only tooling.
func DumpYAML(c *Config) ([]byte, error) {
	return yaml.Marshal(c)
}
