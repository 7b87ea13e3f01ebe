//go:build linux

// wlime is a Wayland input-method daemon that drives a headless Neovim
// instance as a modal composition engine: text typed into a focused
// application is routed through Vim motions and operators before being
// committed, with a small HUD popup showing the live preedit buffer, mode,
// and keypress trail.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"wlime/internal/candidatestore"
	"wlime/internal/compositor"
	"wlime/internal/config"
	"wlime/internal/coordinator"
	"wlime/internal/engine"
	"wlime/internal/enginescript"
	"wlime/internal/imestate"
	"wlime/internal/keynotation"
	"wlime/internal/keypress"
	"wlime/internal/lifecycle"
	"wlime/internal/logging"
	"wlime/internal/pending"
	"wlime/internal/popup"
	"wlime/internal/reconciler"
	"wlime/internal/statusbus"
	"wlime/internal/xkbkeymap"
)

func main() {
	os.Exit(run())
}

func run() int {
	cleanFlag := flag.Bool("clean", false, "ignore the saved config file and use defaults")
	logLevelFlag := flag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	logFormatFlag := flag.String("log-format", "", "override the configured log format (text, json)")
	dumpConfigFlag := flag.Bool("dump-config", false, "print the resolved configuration and exit")
	dumpFormatFlag := flag.String("dump-format", "json", "format for --dump-config output (json, yaml)")
	flag.Parse()

	cfgPath := config.ConfigPath()

	var (
		cfg        *config.Config
		loader     *config.Loader
		cfgLoadErr error
	)
	if *cleanFlag {
		cfg = config.DefaultConfig()
	} else {
		var err error
		loader, err = config.NewLoader(cfgPath)
		if err != nil {
			cfgLoadErr = err
			cfg = config.DefaultConfig()
		} else {
			cfg = loader.Config()
		}
	}
	if *logLevelFlag != "" {
		cfg.Logging.Level = *logLevelFlag
	}
	if *logFormatFlag != "" {
		cfg.Logging.Format = *logFormatFlag
	}

	if *dumpConfigFlag {
		var data []byte
		var err error
		if strings.EqualFold(*dumpFormatFlag, "yaml") {
			data, err = config.DumpYAML(cfg)
		} else {
			data, err = json.MarshalIndent(cfg, "", "  ")
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "wlime: marshal config:", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	logCfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		logCfg.Level = level
	}
	if strings.EqualFold(cfg.Logging.Format, "json") {
		logCfg.Format = logging.FormatJSON
	}
	logCfg.Output = cfg.Logging.Output
	logCfg.FilePath = cfg.Logging.FilePath
	logCfg.MaxSize = int64(cfg.Logging.MaxSizeMB)
	logCfg.MaxBackups = cfg.Logging.MaxBackups
	logCfg.MaxAge = cfg.Logging.MaxAgeDays
	logCfg.Compress = cfg.Logging.Compress
	if os.Getenv("WLIME_LOG") != "" {
		logCfg.Level = logging.LevelFromEnv()
	}

	log, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wlime: init logging:", err)
		return 1
	}
	logging.SetDefault(log)

	if cfgLoadErr != nil {
		log.Warn("config: falling back to defaults", "error", cfgLoadErr)
	}
	if err := cfg.Validate(); err != nil {
		log.Warn("config: invalid, using defaults for affected fields", "error", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Warn("config: could not create state directories", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if loader != nil {
		if err := loader.Watch(ctx); err != nil {
			log.Warn("config: hot-reload watch failed", "error", err)
		}
		defer loader.Close()
	}

	conn, err := connectWayland()
	if err != nil {
		log.Error("wayland: connect failed", "error", err)
		return 1
	}
	defer conn.close()

	im := conn.getInputMethod()
	vk := conn.createVirtualKeyboard()
	surface := conn.createSurface()

	comp := compositor.NewWaylandCompositor(conn.displayPointer(), im, vk, log)
	defer comp.Close()

	renderer := popup.NewWaylandRenderer(conn.shmPointer(), im, surface, log)
	defer renderer.Close()

	var candStore *candidatestore.Store
	if cfg.Candidates.Enabled {
		candStore, err = candidatestore.Open(cfg.Candidates.DBPath)
		if err != nil {
			log.Warn("candidatestore: disabled", "error", err)
			candStore = nil
		} else {
			defer candStore.Close()
		}
	}

	var bus *statusbus.Service
	if cfg.StatusBus.Enabled {
		bus, err = statusbus.Start(log)
		if err != nil {
			log.Warn("statusbus: disabled", "error", err)
			bus = nil
		} else {
			defer bus.Close()
		}
	}

	scriptPath, err := writeInitScript()
	if err != nil {
		log.Error("enginescript: write init.lua", "error", err)
		return 1
	}
	defer os.Remove(scriptPath)

	engineCfg := engine.DefaultConfig(enginescript.Command(scriptPath))
	client, err := engine.New(ctx, engineCfg, log)
	if err != nil {
		log.Error("engine: spawn failed", "error", err)
		return 1
	}
	defer client.Shutdown()

	ime := imestate.New()
	trail := keypress.New()
	pend := &pending.Register{}

	engineExited := make(chan struct{}, 1)
	recon := reconciler.New(comp, renderer, ime, trail, log, func() {
		select {
		case engineExited <- struct{}{}:
		default:
		}
	})
	recon.SetCandidateStore(candStore)
	recon.SetStatusBus(bus)
	recon.SetShowKeypresses(cfg.Behavior.ShowKeypresses)
	recon.SetPendingRegister(pend)

	coord := coordinator.New(client, ime, pend, trail, recon, log)
	coord.SetCommitKey(cfg.Keybinds.Commit)
	lm := lifecycle.New(comp, client, ime, recon, log, lifecycle.Config{StartInsert: cfg.Behavior.StartInsert})

	var loaderErrs <-chan error
	var cfgChanges chan *config.Config
	if loader != nil {
		loaderErrs = loader.Errors()
		cfgChanges = make(chan *config.Config, 1)
		loader.OnChange(func(newCfg *config.Config) {
			// Keep only the newest reload; the reactor applies it.
			select {
			case <-cfgChanges:
			default:
			}
			cfgChanges <- newCfg
		})
	}

	events := make(chan wlEvent, 256)
	comp.SetCallbacks(
		func() { pushWLEvent(events, log, wlEvent{kind: wlActivate}) },
		func() { pushWLEvent(events, log, wlEvent{kind: wlDeactivate}) },
		func() { pushWLEvent(events, log, wlEvent{kind: wlDone}) },
		func() { pushWLEvent(events, log, wlEvent{kind: wlUnavailable}) },
		func(format uint32, fd int, size uint32) {
			pushWLEvent(events, log, wlEvent{kind: wlKeymap, keymapFormat: format, keymapFD: fd, keymapSize: size})
		},
	)
	comp.SetKeyCallbacks(
		func(evdevCode uint32, pressed bool) {
			pushWLEvent(events, log, wlEvent{kind: wlKey, keycode: evdevCode, pressed: pressed})
		},
		func(depressed, latched, locked, group uint32) {
			pushWLEvent(events, log, wlEvent{kind: wlModifiers, modsDepressed: depressed, modsLatched: latched, modsLocked: locked, modsGroup: group})
		},
	)
	comp.SetRepeatInfoCallback(func(rate, delay int32) {
		pushWLEvent(events, log, wlEvent{kind: wlRepeatInfo, repeatRate: rate, repeatDelay: delay})
	})

	go func() {
		for {
			if err := conn.dispatch(); err != nil {
				log.Error("wayland: dispatch failed", "error", err)
				select {
				case events <- wlEvent{kind: wlDispatchError}:
				default:
				}
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	blink := time.NewTicker(500 * time.Millisecond)
	defer blink.Stop()
	idleDrain := time.NewTicker(50 * time.Millisecond)
	defer idleDrain.Stop()

	var xkb *xkbkeymap.State
	defer func() {
		if xkb != nil {
			xkb.Close()
		}
	}()
	recBlink := false

	repeat := newRepeatState()
	defer repeat.stop()

	log.Info("wlime: ready")

	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGUSR1:
				lm.Toggle()
			default:
				log.Info("wlime: shutting down", "signal", sig.String())
				return 0
			}

		case <-engineExited:
			log.Error("engine: process exited unexpectedly, shutting down")
			return 1

		case err := <-loaderErrs:
			log.Warn("config: reload failed, keeping previous configuration", "error", err)

		case newCfg := <-cfgChanges:
			recon.SetShowKeypresses(newCfg.Behavior.ShowKeypresses)
			coord.SetCommitKey(newCfg.Keybinds.Commit)
			log.Info("config: reloaded")

		case <-blink.C:
			recBlink = !recBlink
			recon.SetRecBlink(recBlink)
			recon.RefreshPopup()

		case <-idleDrain.C:
			coord.DrainIdle()

		case <-repeat.fireC():
			coord.HandleKey(repeat.keycode, repeat.ctrl, repeat.alt, repeat.keysym, repeat.utf8)
			repeat.rearm()

		case ev := <-events:
			switch ev.kind {
			case wlActivate:
				lm.OnActivate()
			case wlDeactivate:
				repeat.stop()
				lm.OnDeactivate()
			case wlDone:
				lm.OnDone()
			case wlUnavailable:
				if lm.OnUnavailable() {
					return 1
				}
			case wlKeymap:
				raw, state, err := loadKeymap(ev.keymapFormat, ev.keymapFD, int(ev.keymapSize))
				if err != nil {
					log.Warn("xkbkeymap: load failed", "error", err)
					continue
				}
				if xkb != nil {
					xkb.Close()
				}
				xkb = state
				comp.SetVirtualKeymap(raw)
				lm.OnKeymap(raw)
			case wlModifiers:
				if xkb != nil {
					xkb.UpdateMask(ev.modsDepressed, ev.modsLatched, ev.modsLocked, ev.modsGroup)
				}
			case wlKey:
				handleKey(ev, xkb, lm, coord, repeat)
			case wlRepeatInfo:
				repeat.setInfo(ev.repeatRate, ev.repeatDelay)
			case wlDispatchError:
				return 1
			}
		}
	}
}

// wlEventKind classifies a single queued Wayland callback invocation.
type wlEventKind int

const (
	wlActivate wlEventKind = iota
	wlDeactivate
	wlDone
	wlUnavailable
	wlKeymap
	wlKey
	wlModifiers
	wlRepeatInfo
	wlDispatchError
)

// wlEvent carries whichever fields its kind needs; the dispatch goroutine
// (internal/compositor's cgo callbacks, invoked synchronously from
// wl_display_dispatch) only ever constructs and enqueues these, never
// touches coordination-layer state directly.
type wlEvent struct {
	kind wlEventKind

	keymapFormat uint32
	keymapFD     int
	keymapSize   uint32

	keycode uint32
	pressed bool

	modsDepressed, modsLatched, modsLocked, modsGroup uint32

	repeatRate, repeatDelay int32
}

func pushWLEvent(ch chan<- wlEvent, log *logging.Logger, ev wlEvent) {
	select {
	case ch <- ev:
	default:
		if log != nil {
			log.Warn("wlime: wayland event queue full, dropping event", "kind", ev.kind)
		}
	}
}

// handleKey resolves a raw evdev key event into a vim keystroke and, if
// the lifecycle manager doesn't want it dropped, hands it to the
// coordinator. Key releases only clear internal/lifecycle's ignore-until-
// release bookkeeping and stop any repeat still running for that key; the
// engine only ever sees presses.
func handleKey(ev wlEvent, xkb *xkbkeymap.State, lm *lifecycle.Manager, coord *coordinator.Coordinator, repeat *repeatState) {
	if !ev.pressed {
		lm.OnKeyRelease(ev.keycode)
		repeat.stopIfKey(ev.keycode)
		return
	}
	if xkb == nil {
		return
	}
	if lm.ShouldIgnoreKey(ev.keycode) {
		return
	}

	keysym, utf8 := xkb.KeyEvent(ev.keycode)
	ctrl, alt := xkb.Modifiers()
	coord.HandleKey(ev.keycode, ctrl, alt, keysym, utf8)

	if xkb.KeyRepeats(ev.keycode) {
		repeat.start(ev.keycode, ctrl, alt, keysym, utf8)
	} else {
		repeat.stopIfKey(ev.keycode)
	}
}

// repeatState synthesizes key-repeat for the exclusively grabbed keyboard:
// once this daemon holds the keyboard grab, the compositor can no longer
// repeat keys into the focused application itself, so wlime has to
// reproduce that behavior itself, at the rate/delay the compositor's own
// keyboard-grab repeat_info event configures. Modifier keys never repeat
// because internal/xkbkeymap.State.KeyRepeats reports XKB's own per-key
// repeat flag, which already excludes them.
type repeatState struct {
	timer *time.Timer

	keycode   uint32
	ctrl, alt bool
	keysym    keynotation.Keysym
	utf8      string

	rateHz  int32
	delayMs int32
}

// defaultRepeatRateHz and defaultRepeatDelayMs match sway's own defaults,
// used until the compositor's keyboard grab reports its actual repeat_info.
const (
	defaultRepeatRateHz  = 25
	defaultRepeatDelayMs = 600
)

func newRepeatState() *repeatState {
	return &repeatState{rateHz: defaultRepeatRateHz, delayMs: defaultRepeatDelayMs}
}

// setInfo applies the compositor's configured rate (keys/second) and delay
// (ms before the first repeat) from the keyboard grab's repeat_info event.
func (r *repeatState) setInfo(rate, delay int32) {
	r.rateHz = rate
	r.delayMs = delay
}

func (r *repeatState) interval(first bool) time.Duration {
	if first {
		return time.Duration(r.delayMs) * time.Millisecond
	}
	if r.rateHz <= 0 {
		return 0
	}
	return time.Second / time.Duration(r.rateHz)
}

// start begins repeating keycode, replacing whatever was previously
// repeating. A non-positive configured rate means the compositor disabled
// repeat entirely.
func (r *repeatState) start(keycode uint32, ctrl, alt bool, keysym keynotation.Keysym, utf8 string) {
	if r.rateHz <= 0 {
		return
	}
	r.stop()
	r.keycode, r.ctrl, r.alt, r.keysym, r.utf8 = keycode, ctrl, alt, keysym, utf8
	r.timer = time.NewTimer(r.interval(true))
}

// stop cancels any in-flight repeat.
func (r *repeatState) stop() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// stopIfKey cancels the in-flight repeat only if it belongs to keycode, so
// releasing an unrelated key can't cancel one already repeating.
func (r *repeatState) stopIfKey(keycode uint32) {
	if r.timer != nil && r.keycode == keycode {
		r.stop()
	}
}

// fireC returns the running timer's fire channel, or nil (which blocks
// forever in a select) when nothing is repeating.
func (r *repeatState) fireC() <-chan time.Time {
	if r.timer == nil {
		return nil
	}
	return r.timer.C
}

// rearm resets the timer for the next steady-state repeat fire; called by
// the reactor loop immediately after each fire.
func (r *repeatState) rearm() {
	if r.timer == nil {
		return
	}
	r.timer.Reset(r.interval(false))
}

func loadKeymap(format uint32, fd int, size int) (string, *xkbkeymap.State, error) {
	defer unix.Close(fd)

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return "", nil, fmt.Errorf("mmap keymap: %w", err)
	}
	raw := string(data)
	unix.Munmap(data)

	state, err := xkbkeymap.Load(format, fd, size)
	if err != nil {
		return "", nil, err
	}
	return raw, state, nil
}

// writeInitScript writes the embedded Lua glue to a temp file, since nvim
// sources scripts by path and go:embed only gives us the bytes.
func writeInitScript() (string, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("wlime-init-%d.lua", os.Getpid()))
	if err := os.WriteFile(path, enginescript.InitScript(), 0600); err != nil {
		return "", err
	}
	return path, nil
}
