// Package reconciler folds engine events into imestate/keypress state and
// pushes the result out to the compositor (commits, preedit, surrounding
// deletes) and the popup HUD. It is the sole implementer of
// coordinator.EventHandler and lifecycle.Resetter: every asynchronous
// notification from the engine, and every reset triggered by activation
// lifecycle changes, funnels through this package.
package reconciler

import (
	"time"

	"wlime/internal/candidatestore"
	"wlime/internal/compositor"
	"wlime/internal/engine"
	"wlime/internal/imestate"
	"wlime/internal/keypress"
	"wlime/internal/logging"
	"wlime/internal/pending"
	"wlime/internal/popup"
	"wlime/internal/statusbus"
)

// Reconciler owns no state of its own beyond references: imestate.State,
// keypress.State, and the visual-selection display are the actual state;
// this type is the glue that keeps them and the outward-facing surfaces
// (compositor, popup) consistent as engine events arrive.
type Reconciler struct {
	comp    compositor.Compositor
	popup   popup.Renderer
	ime     *imestate.State
	trail   *keypress.State
	pending *pending.Register
	log     *logging.Logger

	candidates *candidatestore.Store
	status     *statusbus.Service

	visual           *popup.VisualSelection
	recBlinkOn       bool
	showKeypresses   bool
	lastSelectedWord string
	nvimExitedFn     func()
}

// New builds a Reconciler. nvimExited, if non-nil, is invoked when the
// engine process exits unexpectedly, so the caller can clear its client
// reference and allow lifecycle.Manager.Toggle to respawn it.
func New(comp compositor.Compositor, renderer popup.Renderer, ime *imestate.State, trail *keypress.State, log *logging.Logger, nvimExited func()) *Reconciler {
	return &Reconciler{
		comp:         comp,
		popup:        renderer,
		ime:          ime,
		trail:        trail,
		log:          log,
		nvimExitedFn: nvimExited,
	}
}

// SetCandidateStore attaches the frequency-ranking side table. Left nil,
// candidates pass through in engine order untouched.
func (r *Reconciler) SetCandidateStore(store *candidatestore.Store) {
	r.candidates = store
}

// SetStatusBus attaches the optional D-Bus status indicator. Left nil,
// status updates are simply skipped.
func (r *Reconciler) SetStatusBus(bus *statusbus.Service) {
	r.status = bus
}

// SetPendingRegister attaches the pending-state register internal/coordinator
// also holds, so engine pushes can set/clear the states coordinator can't
// see coming (a getchar prompt, command-line mode) rather than only the
// ones coordinator classifies from the keystroke itself. Left nil, snapshot
// and command-line events skip pending-register bookkeeping.
func (r *Reconciler) SetPendingRegister(pend *pending.Register) {
	r.pending = pend
}

// SetShowKeypresses controls whether updatePopup populates the keypress
// trail HUD entries, per config.BehaviorConfig.ShowKeypresses. Left false
// (the zero value), the trail is tracked as always but never surfaced.
func (r *Reconciler) SetShowKeypresses(show bool) {
	r.showKeypresses = show
}

// SetRecBlink drives the popup's recording-indicator blink phase; called
// by the caller's own timer, not derived from engine events.
func (r *Reconciler) SetRecBlink(on bool) {
	r.recBlinkOn = on
}

// RefreshPopup repushes the current state to the popup and status bus
// without any state change of its own, used by the caller's blink timer
// to redraw the recording indicator on its own cadence.
func (r *Reconciler) RefreshPopup() {
	r.updatePopup()
}

// ApplyEvent implements coordinator.EventHandler.
func (r *Reconciler) ApplyEvent(ev engine.Event) {
	switch ev.Type {
	case engine.MsgEventSnapshot:
		if ev.Snapshot != nil {
			r.onSnapshot(*ev.Snapshot)
		}
	case engine.MsgEventCommit:
		if ev.Commit != nil {
			r.onCommit(ev.Commit.Text)
		}
	case engine.MsgEventDeleteAround:
		if ev.DeleteSurrounding != nil {
			r.onDeleteSurrounding(ev.DeleteSurrounding.Before, ev.DeleteSurrounding.After)
		}
	case engine.MsgEventCandidates:
		if ev.Candidates != nil {
			r.onCandidates(ev.Candidates.Candidates, ev.Candidates.Selected)
		}
	case engine.MsgEventCommandLine:
		if ev.CommandLine != nil {
			r.onCommandLine(*ev.CommandLine)
		}
	case engine.MsgEventModeChanged:
		if ev.ModeChanged != nil {
			r.trail.SetVimMode(ev.ModeChanged.Mode)
			r.ime.UpdateVimModeFromString(ev.ModeChanged.Mode)
			r.updatePopup()
		}
	case engine.MsgError:
		if ev.Error != nil && r.log != nil {
			r.log.Error("reconciler: engine error", "message", ev.Error.Message)
		}
	case engine.MsgEventKeyProcessed:
		// Acknowledgment only; unblocks coordinator's wait loop.
	}
}

// onSnapshot applies a synchronous snapshot pull (internal/engine's
// Snapshot RPC), used when a push notification's ordering can't be
// trusted (e.g. right after a timeout).
func (r *Reconciler) onSnapshot(snap engine.Snapshot) {
	if !r.ime.IsFullyEnabled() {
		return
	}
	if r.pending != nil {
		if snap.Blocking {
			r.pending.Store(pending.Getchar)
		} else if r.pending.Is(pending.Getchar) {
			// The blocking read this snapshot reports on just completed;
			// only clear if nothing else has since claimed the register (a
			// classifier prefix set while this pull was in flight wins).
			r.pending.CompareAndSwap(pending.Getchar, pending.None)
		}
	}
	begin := snap.CursorByte - 1
	if begin < 0 {
		begin = 0
	}
	r.ime.SetPreedit(snap.PreeditText, begin, begin+snap.CharWidthUnderCursor)
	r.trail.SetVimMode(snap.ModeTag)
	r.ime.UpdateVimModeFromString(snap.ModeTag)
	r.trail.SetRecording(snap.RecordingRegister)
	if snap.VisualRange != nil {
		r.visual = &popup.VisualSelection{AnchorByte: snap.VisualRange.AnchorByte, CursorByte: snap.VisualRange.CursorByte}
	} else {
		r.visual = nil
	}
	r.updatePreedit()
}

func (r *Reconciler) onCommit(text string) {
	if r.candidates != nil && r.lastSelectedWord != "" && text == r.lastSelectedWord {
		if err := r.candidates.Record(text, time.Now()); err != nil && r.log != nil {
			r.log.Warn("reconciler: candidate usage record failed", "error", err)
		}
	}
	r.lastSelectedWord = ""
	r.ime.ClearPreedit()
	r.ime.ClearCandidates()
	r.comp.CommitString(text)
	r.trail.Clear()
	r.updatePopup()
}

func (r *Reconciler) onDeleteSurrounding(before, after uint32) {
	r.comp.DeleteSurrounding(before, after)
}

func (r *Reconciler) onCandidates(candidates []string, selected int) {
	if !r.ime.IsFullyEnabled() {
		return
	}
	if len(candidates) == 0 {
		r.ime.ClearCandidates()
		r.lastSelectedWord = ""
	} else {
		ranked := r.candidates.Rank(candidates)
		r.ime.SetCandidates(ranked, selected)
		if selected >= 0 && selected < len(ranked) {
			r.lastSelectedWord = ranked[selected]
		} else {
			r.lastSelectedWord = ""
		}
	}
	r.updatePopup()
}

func (r *Reconciler) onCommandLine(ev engine.CommandLineEvent) {
	if !r.ime.IsFullyEnabled() {
		return
	}
	switch ev.Op {
	case engine.CommandLineEnter, engine.CommandLineUpdate:
		if r.pending != nil {
			r.pending.Store(pending.CommandLine)
		}
		r.trail.SetCmdlineText(ev.Text, ev.CursorByte, ev.PrefixLen, ev.Level)
		r.updatePopup()
	case engine.CommandLineExecute:
		if r.trail.ClearCmdlineIfLevel(ev.Level) {
			if r.pending != nil {
				r.pending.CompareAndSwap(pending.CommandLine, pending.None)
			}
			r.updatePopup()
		}
	case engine.CommandLineCancel:
		if r.pending != nil {
			r.pending.CompareAndSwap(pending.CommandLine, pending.None)
		}
		r.trail.Clear()
		r.updatePopup()
	case engine.CommandLineMessage:
		r.ime.SetTransientMessage(ev.Message)
		r.updatePopup()
	}
}

// OnPassthroughKey synthesizes the current keystroke through the virtual
// keyboard, used when the engine declines to consume a key (e.g. a
// window-management chord it never intended to intercept).
func (r *Reconciler) OnPassthroughKey(keycode uint32, modsDepressed, modsLatched, modsLocked, group uint32) {
	r.comp.SendVirtualKey(keycode, modsDepressed, modsLatched, modsLocked, group)
}

// OnVisualRange applies a Visual-mode selection push independent of a
// full snapshot.
func (r *Reconciler) OnVisualRange(sel *popup.VisualSelection) {
	if !r.ime.IsFullyEnabled() {
		return
	}
	r.visual = sel
	r.updatePopup()
}

// OnEngineExited handles the engine child process exiting unexpectedly:
// clears the compositor-visible preedit (the compositor won't clear it on
// its own once deactivated), resets all reconciled state, and disables
// the IME so the next toggle respawns the engine.
func (r *Reconciler) OnEngineExited() {
	if r.log != nil {
		r.log.Info("reconciler: engine exited, disabling IME")
	}
	r.comp.SetPreedit("", 0, 0)
	r.Reset()
	r.ime.Disable()
	if r.nvimExitedFn != nil {
		r.nvimExitedFn()
	}
}

// Reset implements lifecycle.Resetter: clears all reconciled display
// state and hides the popup, without touching imestate.Mode itself — the
// caller decides separately whether to disable the IME.
func (r *Reconciler) Reset() {
	r.ime.ClearPreedit()
	r.ime.ClearCandidates()
	r.trail.Clear()
	r.visual = nil
	r.popup.Hide()
	r.comp.ReleaseKeyboard()
	if r.pending != nil {
		r.pending.Clear()
	}
}

func (r *Reconciler) updatePreedit() {
	text, begin, end := r.ime.Preedit()
	if r.comp.Active() && r.ime.IsEnabled() {
		r.comp.SetPreedit(text, int32(begin), int32(end))
	}
	r.updatePopup()
}

// updatePopup rebuilds popup.Content from current state and pushes it to
// the renderer, or hides the popup outright while the IME is disabled —
// this guard matters because a toggle-off triggers a burst of engine
// notifications that would otherwise thrash the popup surface.
func (r *Reconciler) updatePopup() {
	if !r.ime.IsEnabled() {
		r.popup.Hide()
		r.status.Update(statusbus.Status{Mode: "disabled"})
		return
	}

	text, begin, end := r.ime.Preedit()
	candidates, selected := r.ime.Candidates()

	var entries []string
	if r.showKeypresses && r.trail.ShouldShow() {
		for _, e := range r.trail.Entries() {
			entries = append(entries, e.Text)
		}
	}

	transient := ""
	if len(candidates) == 0 {
		transient = r.ime.TransientMessage()
	}

	cursorPos, hasCmdline := r.trail.CmdlineCursorByte()
	cmdlineText := ""
	if hasCmdline && len(r.trail.Entries()) > 0 {
		cmdlineText = r.trail.Entries()[0].Text
	}

	content := popup.Content{
		IMEEnabled:        r.ime.IsEnabled(),
		Preedit:           text,
		CursorBegin:       begin,
		CursorEnd:         end,
		VimMode:           r.trail.VimMode(),
		Visual:            r.visual,
		Candidates:        candidates,
		SelectedCandidate: selected,
		KeypressEntries:   entries,
		Recording:         r.trail.Recording(),
		RecBlinkOn:        r.recBlinkOn,
		CmdlineText:       cmdlineText,
		CmdlineCursorPos:  cursorPos,
		HasCmdline:        hasCmdline,
		TransientMessage:  transient,
	}
	r.popup.Update(content)
	r.status.Update(statusbus.Status{
		Mode:              r.trail.VimMode(),
		Preedit:           text,
		RecordingRegister: r.trail.Recording(),
	})
}
