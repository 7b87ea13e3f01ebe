// Package lifecycle drives IME activation: the zwp_input_method_v2
// Activate/Deactivate/Done/Unavailable sequence, keyboard grab
// acquisition, keymap loading, and the external toggle signal that turns
// the IME on or off independent of focus changes.
package lifecycle

import (
	"time"

	"wlime/internal/compositor"
	"wlime/internal/engine"
	"wlime/internal/imestate"
	"wlime/internal/logging"
)

// keyDebounceWindow suppresses keys arriving in the first stretch after a
// grab, absorbing stray key repeats from before the grab settled.
const keyDebounceWindow = 200 * time.Millisecond

// Resetter clears everything reconciled application-visible state depends
// on (preedit, candidates, keypress trail, popup) when the IME goes
// inactive or is toggled off. internal/reconciler implements this.
type Resetter interface {
	Reset()
}

// Manager owns Wayland input-method activation bookkeeping: whether
// pending Activate/Deactivate flags are waiting on the next Done event, and
// the keyboard-grab debounce window used to swallow stray key-repeat events
// right after a grab. Whether a text field is focused is read from
// compositor.Compositor.Active.
type Manager struct {
	comp     compositor.Compositor
	client   *engine.Client
	ime      *imestate.State
	resetter Resetter
	log      *logging.Logger
	config   Config

	pendingActivate   bool
	pendingDeactivate bool

	readyAt        time.Time
	haveReadyAt    bool
	ignoredKeys    map[uint32]struct{}
	pendingKeymap  bool
	isReactivation bool
}

// Config carries the startup-mode choice imestate.CompleteEnabling needs,
// set from config.BehaviorConfig.StartInsert.
type Config struct {
	StartInsert bool
}

// New builds a Manager for one engine session.
func New(comp compositor.Compositor, client *engine.Client, ime *imestate.State, resetter Resetter, log *logging.Logger, cfg Config) *Manager {
	return &Manager{
		comp:        comp,
		client:      client,
		ime:         ime,
		resetter:    resetter,
		log:         log,
		config:      cfg,
		ignoredKeys: make(map[uint32]struct{}),
	}
}

// OnActivate handles zwp_input_method_v2's Activate event: focus moved to
// a text field. The transition is not applied until the paired Done. If
// the IME is already Enabled this is a reactivation; consecutive
// reactivations beyond imestate.ReactivationCap force a hard disable to
// break a compositor-side activate/deactivate loop.
func (m *Manager) OnActivate() {
	if m.ime.IsFullyEnabled() {
		if m.ime.IncrementReactivation() {
			if m.log != nil {
				m.log.Warn("lifecycle: reactivation cap exceeded, forcing disable")
			}
			m.resetter.Reset()
			m.ime.Disable()
			m.pendingActivate = false
			m.pendingDeactivate = false
			return
		}
	}
	m.pendingActivate = true
}

// OnDeactivate handles Deactivate: focus left the text field.
func (m *Manager) OnDeactivate() {
	m.pendingDeactivate = true
}

// OnUnavailable handles Unavailable: another IME already holds the
// input-method manager global. Returns true if the caller should stop the
// reactor loop and exit.
func (m *Manager) OnUnavailable() bool {
	if m.log != nil {
		m.log.Warn("lifecycle: input method unavailable, another IME may be running")
	}
	return true
}

// OnDone applies whichever of pendingActivate/pendingDeactivate is set,
// deactivate first, matching fcitx5's ordering. Reactivation while the IME
// was already enabled re-grabs the keyboard, since the compositor drops
// grabs across a Deactivate/Activate pair.
func (m *Manager) OnDone() {
	deactivate := m.pendingDeactivate
	activate := m.pendingActivate
	m.pendingDeactivate = false
	m.pendingActivate = false

	if deactivate {
		if m.ime.IsEnabled() {
			if preedit, _, _ := m.ime.Preedit(); preedit != "" {
				m.comp.CommitString(preedit)
			}
			m.resetter.Reset()
			m.sendBufferClear()
		}
	}

	if activate {
		if m.ime.IsEnabled() && !m.comp.HasKeyboardGrab() {
			if m.log != nil {
				m.log.Debug("lifecycle: re-grabbing keyboard after activation")
			}
			m.comp.GrabKeyboard()
			m.pendingKeymap = true
			m.isReactivation = true
			m.ime.StartEnabling()
		}
	}
}

// Toggle handles the external toggle signal (SIGUSR1), flipping the IME
// on or off independent of focus changes.
func (m *Manager) Toggle() {
	wasEnabled := m.ime.IsEnabled()
	if m.log != nil {
		m.log.Info("lifecycle: toggle", "was_enabled", wasEnabled)
	}

	if !wasEnabled {
		if m.comp.Active() && !m.comp.HasKeyboardGrab() {
			m.comp.GrabKeyboard()
			m.pendingKeymap = true
			m.ime.StartEnabling()
		}
		return
	}

	if preedit, _, _ := m.ime.Preedit(); preedit != "" {
		m.comp.CommitString(preedit)
	}
	m.resetter.Reset()
	m.sendBufferClear()
	m.ime.Disable()
}

// sendBufferClear resets the engine's buffer to a blank slate so the next
// activation starts clean; fire-and-forget.
func (m *Manager) sendBufferClear() {
	if m.client == nil {
		return
	}
	_ = m.client.SendKey("<Esc>ggdG")
}

// OnKeymap handles the keyboard grab's Keymap event, whose XKB state the
// caller has already loaded: mirrors it onto the virtual keyboard for modifier clearing,
// clears any modifiers stuck from the toggle keybind, and — if this
// completes an enabling transition — restores the configured start mode.
func (m *Manager) OnKeymap(keymapData string) {
	m.comp.SetVirtualKeymap(keymapData)
	m.comp.ClearModifiers()

	initial := imestate.Normal
	if m.config.StartInsert {
		initial = imestate.Insert
	}

	completed := m.ime.CompleteEnabling(initial)
	if !completed && !m.ime.IsFullyEnabled() {
		return
	}

	m.markReady()
	if m.client != nil {
		if m.config.StartInsert {
			_ = m.client.SendKey("<Esc>i")
		} else {
			_ = m.client.SendKey("<Esc>")
		}
	}
}

// markReady opens the post-grab debounce window: keys arriving within
// keyDebounceWindow of a completed grab are ignored, absorbing stray key
// repeats that started before the grab settled.
func (m *Manager) markReady() {
	m.readyAt = time.Now()
	m.haveReadyAt = true
	m.pendingKeymap = false
}

// ShouldIgnoreKey reports whether key should be dropped before it ever
// reaches internal/coordinator: keys pressed while waiting for a keymap,
// keys already marked ignored pending their matching release, or keys
// inside the post-ready debounce window.
func (m *Manager) ShouldIgnoreKey(key uint32) bool {
	if m.pendingKeymap {
		m.ignoredKeys[key] = struct{}{}
		return true
	}
	if _, ok := m.ignoredKeys[key]; ok {
		return true
	}
	if m.haveReadyAt {
		if time.Since(m.readyAt) < keyDebounceWindow {
			m.ignoredKeys[key] = struct{}{}
			return true
		}
		m.haveReadyAt = false
	}
	return false
}

// OnKeyRelease clears a key from the ignored set once released, so a held
// key doesn't stay ignored forever after the debounce window passes.
func (m *Manager) OnKeyRelease(key uint32) {
	delete(m.ignoredKeys, key)
}
