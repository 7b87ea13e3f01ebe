// Package keypress tracks the accumulated key-notation trail shown in the
// popup HUD (behavior.show_keypresses) and the command-line echo used while
// the engine is in command-line mode. It is display-only bookkeeping: it
// never feeds back into engine state.
package keypress

import "time"

// DisplayDuration is how long an inactive keypress trail stays visible
// before Cleanup clears it.
const DisplayDuration = 1500 * time.Millisecond

// maxEntries bounds the trail so a long macro doesn't grow the HUD forever.
const maxEntries = 20

// Entry is a single resolved key notation in the trail.
type Entry struct {
	Text string
}

// State is the keypress-trail and command-line echo state. Not safe for
// concurrent use; owned by the single-threaded coordinator.
type State struct {
	entries     []Entry
	lastAddedAt time.Time

	vimMode   string
	recording string

	cmdlineCursorByte int
	haveCmdlineCursor bool
	cmdlinePrefixLen  int
	cmdlineLevel      uint64
	haveCmdlineLevel  bool
}

// New returns an empty, hidden trail.
func New() *State {
	return &State{}
}

// PushKey appends a resolved key notation to the trail, trimming the oldest
// entries past maxEntries.
func (s *State) PushKey(key string) {
	s.entries = append(s.entries, Entry{Text: key})
	s.lastAddedAt = time.Now()
	if len(s.entries) > maxEntries {
		excess := len(s.entries) - maxEntries
		s.entries = s.entries[excess:]
	}
}

// Clear resets the trail and command-line echo, but preserves Recording —
// that field tracks the engine's macro-recording register and is driven by
// engine snapshots, not trail display lifecycle.
func (s *State) Clear() {
	s.entries = nil
	s.lastAddedAt = time.Time{}
	s.haveCmdlineCursor = false
	s.cmdlinePrefixLen = 0
	s.haveCmdlineLevel = false
}

// SetVimMode records the current Vim mode string for classification and
// display (e.g. suppressing the trail during plain insert-mode typing).
func (s *State) SetVimMode(mode string) { s.vimMode = mode }

// VimMode returns the last-set Vim mode string.
func (s *State) VimMode() string { return s.vimMode }

// SetRecording sets the currently recording macro register, or "" if none.
func (s *State) SetRecording(reg string) { s.recording = reg }

// Recording returns the currently recording macro register.
func (s *State) Recording() string { return s.recording }

// CleanupInactive clears the trail if no key has been added within
// DisplayDuration. Command-line mode is exempt: its display is cleared on
// the engine's command-line Execute/Cancel events, not by inactivity.
// Returns whether it cleared.
func (s *State) CleanupInactive(now time.Time) bool {
	if len(s.vimMode) > 0 && s.vimMode[0] == 'c' {
		return false
	}
	if s.lastAddedAt.IsZero() {
		return false
	}
	if now.Sub(s.lastAddedAt) >= DisplayDuration && len(s.entries) > 0 {
		s.entries = nil
		s.lastAddedAt = time.Time{}
		return true
	}
	return false
}

// ShouldShow reports whether the trail has anything to render.
func (s *State) ShouldShow() bool {
	return len(s.entries) > 0
}

// Entries returns the current trail entries.
func (s *State) Entries() []Entry {
	return s.entries
}

// SetCmdlineText replaces the display text with a command-line echo:
// prefix (":" or a custom input() prompt) concatenated with content, plus
// cursor position and a level used to guard against stale hide/update
// events from a different command-line invocation.
func (s *State) SetCmdlineText(text string, cursorByte, prefixLen int, level uint64) {
	if cursorByte > len(text) {
		cursorByte = len(text)
	}
	s.entries = []Entry{{Text: text}}
	s.lastAddedAt = time.Now()
	s.cmdlineCursorByte = cursorByte
	s.haveCmdlineCursor = true
	s.cmdlinePrefixLen = prefixLen
	s.cmdlineLevel = level
	s.haveCmdlineLevel = true
}

// UpdateCmdlineCursor moves the command-line cursor to prefixLen+pos,
// clamped to the display text length. Returns false (no-op) if level
// doesn't match the active command-line invocation.
func (s *State) UpdateCmdlineCursor(pos int, level uint64) bool {
	if !s.haveCmdlineLevel || s.cmdlineLevel != level {
		return false
	}
	displayLen := 0
	if len(s.entries) > 0 {
		displayLen = len(s.entries[0].Text)
	}
	cursor := s.cmdlinePrefixLen + pos
	if cursor > displayLen {
		cursor = displayLen
	}
	s.cmdlineCursorByte = cursor
	s.haveCmdlineCursor = true
	return true
}

// ClearCmdlineIfLevel clears the trail only if level matches the active
// command-line invocation, guarding against a stale hide event racing a
// newer command-line entry. Returns whether it cleared.
func (s *State) ClearCmdlineIfLevel(level uint64) bool {
	if !s.haveCmdlineLevel || s.cmdlineLevel != level {
		return false
	}
	s.Clear()
	return true
}

// CmdlineCursorByte returns the command-line cursor's byte offset into the
// display text, and whether a command-line cursor is currently set.
func (s *State) CmdlineCursorByte() (int, bool) {
	return s.cmdlineCursorByte, s.haveCmdlineCursor
}
