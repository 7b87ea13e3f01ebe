package keypress

import (
	"testing"
	"time"
)

func TestNewIsEmptyAndHidden(t *testing.T) {
	s := New()
	if s.ShouldShow() {
		t.Error("fresh state should not show")
	}
	if len(s.Entries()) != 0 {
		t.Error("fresh state should have no entries")
	}
}

func TestPushKeyAccumulates(t *testing.T) {
	s := New()
	s.PushKey("d")
	s.PushKey("i")
	s.PushKey("w")

	entries := s.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	got := ""
	for _, e := range entries {
		got += e.Text
	}
	if got != "diw" {
		t.Errorf("got %q, want diw", got)
	}
	if !s.ShouldShow() {
		t.Error("expected ShouldShow true")
	}
}

func TestClearKeepsRecording(t *testing.T) {
	s := New()
	s.PushKey("a")
	s.SetRecording("q")

	s.Clear()

	if s.ShouldShow() {
		t.Error("expected hidden after Clear")
	}
	if s.Recording() != "q" {
		t.Error("Clear should not reset Recording")
	}
}

func TestCleanupInactiveClearsAfterTimeout(t *testing.T) {
	s := New()
	s.PushKey("old")
	s.lastAddedAt = time.Now().Add(-DisplayDuration - time.Millisecond)

	if !s.ShouldShow() {
		t.Fatal("expected visible before cleanup")
	}
	if !s.CleanupInactive(time.Now()) {
		t.Error("expected cleanup to report a change")
	}
	if s.ShouldShow() {
		t.Error("expected hidden after cleanup")
	}
}

func TestCleanupInactiveKeepsRecent(t *testing.T) {
	s := New()
	s.PushKey("new")
	if s.CleanupInactive(time.Now()) {
		t.Error("expected no change for recent entry")
	}
	if !s.ShouldShow() {
		t.Error("expected still visible")
	}
}

func TestCleanupInactiveSkipsCommandLineMode(t *testing.T) {
	s := New()
	s.SetCmdlineText(":hello", 3, 1, 1)
	s.SetVimMode("c")
	s.lastAddedAt = time.Now().Add(-DisplayDuration - time.Millisecond)

	if s.CleanupInactive(time.Now()) {
		t.Error("command-line mode should be exempt from inactivity cleanup")
	}
}

func TestMaxEntriesTrimsOldest(t *testing.T) {
	s := New()
	for i := 0; i < 25; i++ {
		s.PushKey(string(rune('0' + i%10)))
	}
	entries := s.Entries()
	if len(entries) != maxEntries {
		t.Fatalf("expected %d entries, got %d", maxEntries, len(entries))
	}
	if entries[0].Text != "5" {
		t.Errorf("expected oldest surviving entry '5', got %q", entries[0].Text)
	}
}

func TestSetCmdlineTextStoresCursorAndLevel(t *testing.T) {
	s := New()
	s.SetCmdlineText(":hello", 3, 1, 1)

	cursor, ok := s.CmdlineCursorByte()
	if !ok || cursor != 3 {
		t.Errorf("got cursor %d, %v", cursor, ok)
	}
}

func TestSetCmdlineTextClampsCursor(t *testing.T) {
	s := New()
	s.SetCmdlineText(":ab", 100, 1, 1)
	cursor, ok := s.CmdlineCursorByte()
	if !ok || cursor != 3 {
		t.Errorf("expected clamp to 3, got %d, %v", cursor, ok)
	}
}

func TestUpdateCmdlineCursorMatchingLevel(t *testing.T) {
	s := New()
	s.SetCmdlineText(":hello", 1, 1, 1)

	if !s.UpdateCmdlineCursor(3, 1) {
		t.Fatal("expected update to succeed")
	}
	cursor, _ := s.CmdlineCursorByte()
	if cursor != 4 {
		t.Errorf("expected cursor 4 (prefix 1 + pos 3), got %d", cursor)
	}
}

func TestUpdateCmdlineCursorIgnoresLevelMismatch(t *testing.T) {
	s := New()
	s.SetCmdlineText(":hello", 1, 1, 1)

	if s.UpdateCmdlineCursor(3, 2) {
		t.Error("expected update to fail on level mismatch")
	}
	cursor, _ := s.CmdlineCursorByte()
	if cursor != 1 {
		t.Errorf("expected unchanged cursor 1, got %d", cursor)
	}
}

func TestClearCmdlineIfLevel(t *testing.T) {
	s := New()
	s.SetCmdlineText(":hello", 3, 1, 1)

	if s.ClearCmdlineIfLevel(2) {
		t.Error("expected no clear on mismatched level")
	}
	if !s.ClearCmdlineIfLevel(1) {
		t.Error("expected clear on matching level")
	}
	if _, ok := s.CmdlineCursorByte(); ok {
		t.Error("expected no cmdline cursor after clear")
	}
}

func TestCmdlineCursorWithMultibytePrefix(t *testing.T) {
	s := New()
	prompt := "辞書登録: "
	if len(prompt) != 14 {
		t.Fatalf("expected prompt to be 14 bytes, got %d", len(prompt))
	}
	content := "test"
	display := prompt + content
	prefixLen := len(prompt)
	pos := 2
	s.SetCmdlineText(display, prefixLen+pos, prefixLen, 1)

	cursor, ok := s.CmdlineCursorByte()
	if !ok || cursor != 16 {
		t.Errorf("got cursor %d, %v, want 16", cursor, ok)
	}
}
