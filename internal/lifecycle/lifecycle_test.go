package lifecycle

import (
	"testing"
	"time"

	"wlime/internal/imestate"
)

type fakeCompositor struct {
	active        bool
	grabbed       bool
	keymapSet     string
	modsCleared   bool
	committed     string
	grabCalls     int
	releaseCalls  int
}

func (f *fakeCompositor) Active() bool          { return f.active }
func (f *fakeCompositor) HasKeyboardGrab() bool { return f.grabbed }
func (f *fakeCompositor) GrabKeyboard() bool {
	f.grabCalls++
	f.grabbed = true
	return true
}
func (f *fakeCompositor) ReleaseKeyboard() bool {
	f.releaseCalls++
	f.grabbed = false
	return true
}
func (f *fakeCompositor) SetVirtualKeymap(data string)                       { f.keymapSet = data }
func (f *fakeCompositor) ClearModifiers()                                    { f.modsCleared = true }
func (f *fakeCompositor) SendVirtualKey(uint32, uint32, uint32, uint32, uint32) {}
func (f *fakeCompositor) SetPreedit(text string, begin, end int32)           {}
func (f *fakeCompositor) CommitString(text string)                          { f.committed = text }
func (f *fakeCompositor) DeleteSurrounding(before, after uint32)            {}

type fakeResetter struct{ calls int }

func (f *fakeResetter) Reset() { f.calls++ }

func TestToggleEnablesWhenActiveAndNotGrabbed(t *testing.T) {
	comp := &fakeCompositor{active: true}
	resetter := &fakeResetter{}
	ime := imestate.New()
	m := New(comp, nil, ime, resetter, nil, Config{})

	m.Toggle()

	if !comp.grabbed {
		t.Error("expected keyboard to be grabbed")
	}
	if ime.Mode() != imestate.Enabling {
		t.Errorf("expected Enabling, got %v", ime.Mode())
	}
}

func TestToggleDisablesAndCommitsPendingPreedit(t *testing.T) {
	comp := &fakeCompositor{active: true, grabbed: true}
	resetter := &fakeResetter{}
	ime := imestate.New()
	ime.StartEnabling()
	ime.CompleteEnabling(imestate.Insert)
	ime.SetPreedit("hello", 0, 5)

	m := New(comp, nil, ime, resetter, nil, Config{})
	m.Toggle()

	if comp.committed != "hello" {
		t.Errorf("expected pending preedit committed, got %q", comp.committed)
	}
	if resetter.calls != 1 {
		t.Errorf("expected reset called once, got %d", resetter.calls)
	}
	if ime.Mode() != imestate.Disabled {
		t.Errorf("expected Disabled, got %v", ime.Mode())
	}
}

func TestOnDoneDeactivateResetsWhileEnabled(t *testing.T) {
	comp := &fakeCompositor{}
	resetter := &fakeResetter{}
	ime := imestate.New()
	ime.StartEnabling()
	ime.CompleteEnabling(imestate.Insert)

	m := New(comp, nil, ime, resetter, nil, Config{})
	m.OnDeactivate()
	m.OnDone()

	if resetter.calls != 1 {
		t.Errorf("expected reset on deactivate while enabled, got %d calls", resetter.calls)
	}
}

func TestOnDoneDeactivateCommitsPendingPreedit(t *testing.T) {
	comp := &fakeCompositor{}
	resetter := &fakeResetter{}
	ime := imestate.New()
	ime.StartEnabling()
	ime.CompleteEnabling(imestate.Insert)
	ime.SetPreedit("hello", 0, 5)

	m := New(comp, nil, ime, resetter, nil, Config{})
	m.OnDeactivate()
	m.OnDone()

	if comp.committed != "hello" {
		t.Errorf("expected pending preedit committed on deactivate, got %q", comp.committed)
	}
	if resetter.calls != 1 {
		t.Errorf("expected reset on deactivate while enabled, got %d calls", resetter.calls)
	}
}

func TestOnDoneRegrabsOnReactivationWhileEnabled(t *testing.T) {
	comp := &fakeCompositor{}
	resetter := &fakeResetter{}
	ime := imestate.New()
	ime.StartEnabling()
	ime.CompleteEnabling(imestate.Insert)

	m := New(comp, nil, ime, resetter, nil, Config{})
	m.OnActivate()
	m.OnDone()

	if !comp.grabbed {
		t.Error("expected keyboard re-grabbed on reactivation while enabled")
	}
	if ime.Mode() != imestate.Enabling {
		t.Errorf("expected re-enabling, got %v", ime.Mode())
	}
}

func TestOnDoneNoopWhenNoPendingFlags(t *testing.T) {
	comp := &fakeCompositor{}
	resetter := &fakeResetter{}
	ime := imestate.New()

	m := New(comp, nil, ime, resetter, nil, Config{})
	m.OnDone()

	if resetter.calls != 0 || comp.grabCalls != 0 {
		t.Error("expected no side effects with no pending activate/deactivate")
	}
}

func TestOnKeymapCompletesEnablingAndMarksReady(t *testing.T) {
	comp := &fakeCompositor{}
	resetter := &fakeResetter{}
	ime := imestate.New()
	ime.StartEnabling()

	m := New(comp, nil, ime, resetter, nil, Config{StartInsert: true})
	m.pendingKeymap = true
	m.OnKeymap("keymap-blob")

	if comp.keymapSet != "keymap-blob" {
		t.Error("expected keymap forwarded to compositor")
	}
	if !comp.modsCleared {
		t.Error("expected modifiers cleared")
	}
	if ime.Mode() != imestate.Enabled {
		t.Errorf("expected Enabled, got %v", ime.Mode())
	}
	if m.pendingKeymap {
		t.Error("expected pendingKeymap cleared")
	}
}

func TestShouldIgnoreKeyWhilePendingKeymap(t *testing.T) {
	m := New(&fakeCompositor{}, nil, imestate.New(), &fakeResetter{}, nil, Config{})
	m.pendingKeymap = true

	if !m.ShouldIgnoreKey(30) {
		t.Error("expected key ignored while pending keymap")
	}
	m.pendingKeymap = false
	if !m.ShouldIgnoreKey(30) {
		t.Error("expected key still ignored: it was added to the ignored set")
	}
	m.OnKeyRelease(30)
	if m.ShouldIgnoreKey(30) {
		t.Error("expected key no longer ignored after release")
	}
}

func TestOnActivateForcesDisableAfterReactivationCap(t *testing.T) {
	comp := &fakeCompositor{grabbed: true}
	resetter := &fakeResetter{}
	ime := imestate.New()
	ime.StartEnabling()
	ime.CompleteEnabling(imestate.Insert)

	m := New(comp, nil, ime, resetter, nil, Config{})

	// Two reactivations stay under the cap.
	m.OnActivate()
	if ime.Mode() != imestate.Enabled {
		t.Fatalf("expected still Enabled after first reactivation, got %v", ime.Mode())
	}
	m.OnActivate()
	if ime.Mode() != imestate.Enabled {
		t.Fatalf("expected still Enabled after second reactivation, got %v", ime.Mode())
	}

	// Third exceeds the cap and forces a hard disable.
	m.OnActivate()
	if ime.Mode() != imestate.Disabled {
		t.Errorf("expected Disabled after exceeding reactivation cap, got %v", ime.Mode())
	}
	if resetter.calls == 0 {
		t.Error("expected reset called when forcing disable")
	}
}

func TestShouldIgnoreKeyDuringDebounceWindow(t *testing.T) {
	m := New(&fakeCompositor{}, nil, imestate.New(), &fakeResetter{}, nil, Config{})
	m.markReady()

	if !m.ShouldIgnoreKey(1) {
		t.Error("expected key ignored inside debounce window")
	}

	m.readyAt = time.Now().Add(-keyDebounceWindow - time.Millisecond)
	if m.ShouldIgnoreKey(2) {
		t.Error("expected key allowed after debounce window elapses")
	}
}
