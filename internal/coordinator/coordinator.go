// Package coordinator turns a single resolved keystroke into an engine
// round-trip: translate to Vim notation, then dispatch it according to the
// current Vim mode and pending-register state. A key completing a blocking
// getchar-style read (f, t, r, m, macro-register q) is recognized and sent
// verbatim before anything else runs; otherwise the key is classified
// against internal/pending's register (register-name prefixes, pending
// operators, text-object prefixes) and then dispatched. Insert-mode typing
// is fire-and-forget, since it must never block the compositor's key-press
// handling; Normal-mode (and any other non-insert) keys are followed by an
// explicit synchronous snapshot pull, since most of them never touch the
// buffer and so never trigger an async push at all. Either way, the
// coordinator then decides whether the keystroke should join the
// keypress-trail HUD.
package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"wlime/internal/engine"
	"wlime/internal/imestate"
	"wlime/internal/keynotation"
	"wlime/internal/keypress"
	"wlime/internal/logging"
	"wlime/internal/pending"
)

// EventHandler applies a single engine event to whatever owns
// application-visible state (compositor commits, popup content, imestate
// transitions). internal/reconciler implements this; Coordinator only
// needs the interface so it can hand off every event it drains while
// waiting for a key to finish processing.
type EventHandler interface {
	ApplyEvent(engine.Event)
}

// responseWait bounds how long HandleKey waits for the engine to report
// MsgEventKeyProcessed before giving up and returning control to the
// caller.
const responseWait = 200 * time.Millisecond

// Coordinator drives the per-keystroke request/response cycle. Not safe
// for concurrent use: it must be driven from the single reactor goroutine
// that also owns engine.Client.Events(), matching the single-threaded
// dispatch loop this package's behavior is grounded on.
type Coordinator struct {
	client  *engine.Client
	ime     *imestate.State
	pending *pending.Register
	trail   *keypress.State
	handler EventHandler
	log     *logging.Logger

	commitKey string

	currentKeycode uint32
	haveKeycode    bool
}

// New builds a Coordinator wired to the engine client and the state
// registers it orchestrates. handler receives every event drained during
// key processing, in emission order.
func New(client *engine.Client, ime *imestate.State, pend *pending.Register, trail *keypress.State, handler EventHandler, log *logging.Logger) *Coordinator {
	return &Coordinator{
		client:  client,
		ime:     ime,
		pending: pend,
		trail:   trail,
		handler: handler,
		log:     log,
	}
}

// SetCommitKey sets the Vim notation (e.g. "<C-CR>") that HandleKey routes
// through a synchronous handle_commit call instead of a normal key send,
// per config.KeybindsConfig.Commit. Left unset, no key triggers it.
func (c *Coordinator) SetCommitKey(notation string) {
	c.commitKey = notation
}

// HandleKey processes one key press already resolved to an XKB keysym and
// UTF-8 string, plus the ctrl/alt modifier state at the time of the press.
// Key releases are not passed here; callers track ignore-on-release state
// themselves (internal/lifecycle owns keymap/debounce bookkeeping).
func (c *Coordinator) HandleKey(keycode uint32, ctrl, alt bool, keysym keynotation.Keysym, utf8 string) {
	vimKey, ok := keynotation.ToVim(ctrl, alt, keysym, utf8)
	if !ok {
		if c.log != nil {
			c.log.Debug("coordinator: no vim notation for key", "keycode", keycode)
		}
		return
	}

	// Real keystroke activity resets the reactivation-loop counter so
	// brief compositor churn doesn't accumulate toward the cap.
	c.ime.ResetReactivation()

	// Drain anything the engine already queued before this key, so a
	// stale event can't be mistaken for this key's own response.
	c.drainStaleEvents()

	c.currentKeycode = keycode
	c.haveKeycode = true
	defer func() { c.haveKeycode = false }()

	preedit, _, _ := c.ime.Preedit()
	switch {
	case c.pending.Is(pending.Getchar):
		// The engine's Lua coroutine is blocked inside a synchronous
		// character read (f, t, r, m, macro-register q); this key
		// completes it and must reach nvim verbatim, bypassing backspace/
		// commit special-casing and prefix classification entirely.
		c.sendKeyAndPullSnapshot(vimKey)
	case vimKey == "<BS>" && preedit == "":
		c.callBackspace()
	case c.commitKey != "" && vimKey == c.commitKey:
		c.callCommit()
	default:
		c.classifyPending(vimKey)
		if c.trail.VimMode() == "i" {
			c.sendKeyAsync(vimKey)
		} else {
			c.sendKeyAndPullSnapshot(vimKey)
		}
	}

	if c.pending.Is(pending.CommandLine) {
		// Command-line display updates arrive as CommandLineEvent pushes;
		// the keypress trail stays untouched while a command is live.
		return
	}

	insertPrintableTyping := !ctrl && !alt &&
		c.trail.VimMode() == "i" &&
		keynotation.IsPrintable(utf8)
	if !insertPrintableTyping {
		c.trail.PushKey(vimKey)
	}
}

// classifyPending recognizes the register/operator/text-object prefixes
// that name what the *next* keystroke means, ahead of any engine
// round-trip: a bare `"` in Normal mode names an upcoming register, <C-r>
// in Insert mode does the same for register-insertion, d/c/y/>/< open an
// operator waiting for its motion, and an i/a immediately after an
// operator promotes that wait to a text-object character. Any other key
// arriving while one of those is pending is what completes it.
func (c *Coordinator) classifyPending(vimKey string) {
	mode := c.trail.VimMode()
	cur := c.pending.Load()

	switch {
	case cur == pending.None && mode == "n" && vimKey == `"`:
		c.pending.Store(pending.NormalRegister)
	case cur == pending.None && mode == "i" && vimKey == "<C-r>":
		c.pending.Store(pending.InsertRegister)
	case cur == pending.Motion && (vimKey == "i" || vimKey == "a"):
		c.pending.Store(pending.TextObject)
	case cur == pending.Motion || cur == pending.TextObject || cur == pending.NormalRegister || cur == pending.InsertRegister:
		c.pending.Clear()
	case cur == pending.None && mode == "n" && isPendingOperator(vimKey):
		c.pending.Store(pending.Motion)
	}
}

// isPendingOperator reports whether vimKey opens an operator-pending
// sequence in Normal mode.
func isPendingOperator(vimKey string) bool {
	switch vimKey {
	case "d", "c", "y", ">", "<":
		return true
	default:
		return false
	}
}

// callBackspace runs the engine's handle_bs entry point instead of sending
// a bare <BS>: an empty preedit line means there's nothing left in the
// engine buffer to delete, so the engine asks the compositor to remove a
// character of the focused application's own surrounding text instead.
func (c *Coordinator) callBackspace() {
	resp, err := c.client.Call(context.Background(), "handle_bs")
	if err != nil {
		if c.log != nil {
			c.log.Warn("coordinator: handle_bs call failed", "error", err)
		}
		return
	}
	var result struct {
		Action string `json:"action"`
		Before uint32 `json:"before"`
		After  uint32 `json:"after"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		if c.log != nil {
			c.log.Warn("coordinator: handle_bs decode failed", "error", err)
		}
		return
	}
	if result.Action == "delete_surrounding" {
		c.handler.ApplyEvent(engine.Event{
			Type:              engine.MsgEventDeleteAround,
			DeleteSurrounding: &engine.DeleteSurroundingEvent{Before: result.Before, After: result.After},
		})
		return
	}
	// Engine fed <BS> into its own buffer; wait for the resulting snapshot
	// push the same way a normal SendKey round-trip would.
	c.waitForResponse()
}

// callCommit runs the configured commit keybind through the engine's
// handle_commit entry point, which flushes the buffer line and resets for
// the next composition.
func (c *Coordinator) callCommit() {
	resp, err := c.client.Call(context.Background(), "handle_commit")
	if err != nil {
		if c.log != nil {
			c.log.Warn("coordinator: handle_commit call failed", "error", err)
		}
		return
	}
	var result struct {
		Action string `json:"action"`
		Text   string `json:"text"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		if c.log != nil {
			c.log.Warn("coordinator: handle_commit decode failed", "error", err)
		}
		return
	}
	if result.Action == "commit" {
		c.handler.ApplyEvent(engine.Event{Type: engine.MsgEventCommit, Commit: &engine.CommitEvent{Text: result.Text}})
	}
}

// sendKeyAsync fires vimKey at the engine without waiting for a response:
// insert-mode typing must never block on a round-trip, and the resulting
// TextChangedI/CursorMovedI push arrives on its own, applied whenever it's
// next drained (drainStaleEvents on the following key, or the reactor's
// idle timer).
func (c *Coordinator) sendKeyAsync(vimKey string) {
	if err := c.client.SendKey(vimKey); err != nil {
		if c.log != nil {
			c.log.Warn("coordinator: send key failed", "error", err)
		}
	}
}

// sendKeyAndPullSnapshot sends vimKey, then explicitly pulls a synchronous
// snapshot instead of waiting on an async push: most Normal-mode commands
// never touch the buffer at all, so TextChangedI/CursorMovedI would simply
// never fire and a push-only wait would just burn the full responseWait
// deadline on every motion key.
func (c *Coordinator) sendKeyAndPullSnapshot(vimKey string) {
	if err := c.client.SendKey(vimKey); err != nil {
		if c.log != nil {
			c.log.Warn("coordinator: send key failed", "error", err)
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), responseWait)
	defer cancel()
	snap, err := c.client.Snapshot(ctx)
	if err != nil {
		if c.log != nil {
			c.log.Warn("coordinator: snapshot pull failed", "error", err)
		}
		return
	}
	c.handler.ApplyEvent(engine.Event{Type: engine.MsgEventSnapshot, Snapshot: &snap})
}

// waitForResponse drains engine events, applying each via handler, until
// it sees MsgEventKeyProcessed or a snapshot push, or responseWait elapses.
// Used by the synchronous Call-based special keys (backspace-on-empty-preedit),
// which still need to wait for the resulting push after feeding a key into
// the engine's own buffer; handle_bs sends no KeyProcessed, so the snapshot
// its TextChangedI autocommand pushes is what ends the wait.
func (c *Coordinator) waitForResponse() {
	deadline := time.Now().Add(responseWait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if c.log != nil {
				c.log.Debug("coordinator: response wait deadline reached")
			}
			return
		}
		select {
		case ev, ok := <-c.client.Events():
			if !ok {
				return
			}
			c.handler.ApplyEvent(ev)
			if ev.Type == engine.MsgEventKeyProcessed || ev.Type == engine.MsgEventSnapshot {
				return
			}
		case <-time.After(remaining):
			return
		}
	}
}

// drainStaleEvents applies any events already queued on the channel
// without blocking, so a fresh SendKey never races an old key's tail.
func (c *Coordinator) drainStaleEvents() {
	for {
		select {
		case ev, ok := <-c.client.Events():
			if !ok {
				return
			}
			if c.log != nil {
				c.log.Debug("coordinator: draining stale event", "type", ev.Type)
			}
			c.handler.ApplyEvent(ev)
		default:
			return
		}
	}
}

// DrainIdle applies any events queued between keystrokes without blocking.
// The main reactor calls this on its own idle timer so a push notification
// that isn't tied to any keypress (a mode change from a timer-driven
// autocommand, say) doesn't sit unapplied until the next key arrives.
func (c *Coordinator) DrainIdle() {
	c.drainStaleEvents()
}

// CurrentKeycode returns the raw keycode being processed and whether one
// is in flight, used by passthrough handling that needs the original
// keycode to synthesize a virtual key press.
func (c *Coordinator) CurrentKeycode() (uint32, bool) {
	return c.currentKeycode, c.haveKeycode
}
