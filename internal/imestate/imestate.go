// Package imestate implements the IME mode state machine: the explicit
// transitions between disabled/enabling/enabled/disabling, the Vim editing
// mode nested inside "enabled", and the preedit/candidate data that rides
// alongside it. Replacing scattered booleans with one machine keeps
// internal/coordinator's dispatch logic exhaustive and hard to desync.
package imestate

import "strings"

// Mode is the top-level IME lifecycle state.
type Mode int

const (
	// Disabled means the IME is not grabbing the keyboard; keys pass
	// straight through to the compositor.
	Disabled Mode = iota
	// Enabling means a toggle was requested and the daemon is waiting on
	// the compositor's keyboard grab to deliver its keymap.
	Enabling
	// Enabled means the IME is grabbing the keyboard and processing input.
	Enabled
	// Disabling means a toggle-off was requested and teardown is in
	// flight (e.g. flushing a pending commit).
	Disabling
)

func (m Mode) String() string {
	switch m {
	case Disabled:
		return "disabled"
	case Enabling:
		return "enabling"
	case Enabled:
		return "enabled"
	case Disabling:
		return "disabling"
	default:
		return "unknown"
	}
}

// VimMode is the editing mode active while Mode == Enabled.
type VimMode int

const (
	// Insert is the default editing mode: characters land at the cursor.
	Insert VimMode = iota
	// Normal is command/motion mode.
	Normal
	// Visual is selection mode.
	Visual
	// OperatorPending means an operator (d, c, y, ...) was pressed and a
	// motion or text object is awaited.
	OperatorPending
)

func (v VimMode) String() string {
	switch v {
	case Insert:
		return "insert"
	case Normal:
		return "normal"
	case Visual:
		return "visual"
	case OperatorPending:
		return "operator-pending"
	default:
		return "unknown"
	}
}

// State holds the full IME state: lifecycle mode, nested Vim mode, preedit
// text and cursor, and completion candidates. What an OperatorPending state
// is specifically waiting on (which operator, whether a text-object prefix
// has been seen) is internal/pending.Register's job, not this type's — it
// tracks only the Vim mode nvim itself reports. It is not safe for
// concurrent use; callers serialize access (cmd/wlime creates one State for
// the process and shares it among the coordinator, reconciler and
// lifecycle manager, all driven from the reactor goroutine).
type State struct {
	mode Mode

	vimMode VimMode

	preedit      string
	cursorBegin  int
	cursorEnd    int

	candidates        []string
	selectedCandidate int

	transientMessage string

	reactivationCount int
}

// New returns a fresh, disabled State.
func New() *State {
	return &State{mode: Disabled}
}

// Mode returns the current lifecycle mode.
func (s *State) Mode() Mode { return s.mode }

// IsEnabled reports whether the IME is enabled or in the process of
// becoming enabled.
func (s *State) IsEnabled() bool {
	return s.mode == Enabled || s.mode == Enabling
}

// IsFullyEnabled reports whether the IME is enabled and not transitioning.
func (s *State) IsFullyEnabled() bool {
	return s.mode == Enabled
}

// VimMode returns the current Vim mode and true, or Insert and false if the
// IME is not fully enabled.
func (s *State) VimMode() (VimMode, bool) {
	if s.mode != Enabled {
		return Insert, false
	}
	return s.vimMode, true
}

// StartEnabling transitions to Enabling.
func (s *State) StartEnabling() {
	s.mode = Enabling
}

// CompleteEnabling transitions Enabling -> Enabled with the given initial
// Vim mode. Returns false (no-op) if not currently Enabling.
func (s *State) CompleteEnabling(initial VimMode) bool {
	if s.mode != Enabling {
		return false
	}
	s.mode = Enabled
	s.vimMode = initial
	return true
}

// StartDisabling transitions to Disabling and clears the preedit.
func (s *State) StartDisabling() {
	s.mode = Disabling
	s.ClearPreedit()
}

// CompleteDisabling transitions to Disabled.
func (s *State) CompleteDisabling() {
	s.mode = Disabled
}

// Disable immediately forces Disabled, for the hard-toggle-off path.
func (s *State) Disable() {
	s.mode = Disabled
	s.ClearPreedit()
	s.reactivationCount = 0
}

// SetVimMode sets the Vim mode. No-op unless the IME is fully enabled.
func (s *State) SetVimMode(vm VimMode) {
	if s.mode != Enabled {
		return
	}
	s.vimMode = vm
}

// UpdateVimModeFromString maps a Neovim mode() string onto VimMode and
// applies it. Unknown strings leave the mode unchanged, mirroring Neovim's
// own tolerance for modes this daemon doesn't specially track (e.g.
// terminal, command-line window).
func (s *State) UpdateVimModeFromString(modeStr string) {
	switch {
	case modeStr == "i":
		s.SetVimMode(Insert)
	case modeStr == "n":
		s.SetVimMode(Normal)
	case strings.HasPrefix(modeStr, "no"):
		// Operator-pending; which operator and whether a text-object
		// prefix has been seen is internal/pending.Register's concern, set
		// directly from the keystroke that caused this by
		// internal/coordinator's own classification.
		if s.mode == Enabled {
			s.vimMode = OperatorPending
		}
	case strings.HasPrefix(modeStr, "v") || strings.HasPrefix(modeStr, "V") || modeStr == "\x16":
		s.SetVimMode(Visual)
	default:
		// unrecognized mode string; leave state unchanged
	}
}

// IsOperatorPending reports whether the IME is fully enabled and currently
// in OperatorPending mode.
func (s *State) IsOperatorPending() bool {
	return s.mode == Enabled && s.vimMode == OperatorPending
}

// SetPreedit replaces the preedit text and cursor range (byte offsets into
// the text, matching the zwp_input_method_v2 preedit_string wire shape).
func (s *State) SetPreedit(text string, cursorBegin, cursorEnd int) {
	s.preedit = text
	s.cursorBegin = cursorBegin
	s.cursorEnd = cursorEnd
}

// Preedit returns the current preedit text and cursor range.
func (s *State) Preedit() (text string, cursorBegin, cursorEnd int) {
	return s.preedit, s.cursorBegin, s.cursorEnd
}

// ClearPreedit empties the preedit text and resets the cursor range.
func (s *State) ClearPreedit() {
	s.preedit = ""
	s.cursorBegin = 0
	s.cursorEnd = 0
}

// SetCandidates replaces the completion candidate list and selection index.
func (s *State) SetCandidates(candidates []string, selected int) {
	s.candidates = candidates
	s.selectedCandidate = selected
}

// Candidates returns the current candidate list and selected index.
func (s *State) Candidates() ([]string, int) {
	return s.candidates, s.selectedCandidate
}

// ClearCandidates empties the candidate list.
func (s *State) ClearCandidates() {
	s.candidates = nil
	s.selectedCandidate = 0
}

// HasCandidates reports whether any candidates are currently set.
func (s *State) HasCandidates() bool {
	return len(s.candidates) > 0
}

// SetTransientMessage sets a short-lived status message (e.g. "-- INSERT
// --", a recording indicator) surfaced by internal/popup and cleared on the
// next preedit or mode change that doesn't explicitly preserve it.
func (s *State) SetTransientMessage(msg string) {
	s.transientMessage = msg
}

// TransientMessage returns the current transient status message.
func (s *State) TransientMessage() string {
	return s.transientMessage
}

// ClearTransientMessage clears the transient status message.
func (s *State) ClearTransientMessage() {
	s.transientMessage = ""
}

// ReactivationCap bounds consecutive deactivate/activate cycles
// (spec's cap of 2) so a misbehaving compositor can't loop the grab
// forever; internal/lifecycle increments the counter on each reactivation
// and internal/coordinator resets it on real keystroke activity.
const ReactivationCap = 2

// IncrementReactivation records a deactivate/activate cycle while already
// Enabled, and reports whether the cap has now been exceeded.
func (s *State) IncrementReactivation() bool {
	s.reactivationCount++
	return s.reactivationCount > ReactivationCap
}

// ResetReactivation clears the reactivation counter, called on genuine
// keystroke activity so brief compositor churn doesn't accumulate toward
// the cap indefinitely.
func (s *State) ResetReactivation() {
	s.reactivationCount = 0
}

// ReactivationCount returns the current consecutive-reactivation count.
func (s *State) ReactivationCount() int {
	return s.reactivationCount
}
