package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"wlime/internal/engine"
	"wlime/internal/imestate"
	"wlime/internal/keynotation"
	"wlime/internal/keypress"
	"wlime/internal/pending"
)

// fakeEngine is a pipe pair standing in for the engine child process:
// writes to clientStdin arrive on engineReads, and frames written to
// engineWrites arrive on the Client's stdout.
type fakeEngine struct {
	client       *engine.Client
	engineReads  io.ReadCloser
	engineWrites io.WriteCloser
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	clientStdinR, clientStdinW := io.Pipe()
	engineStdoutR, engineStdoutW := io.Pipe()

	client := engine.NewFromPipes(context.Background(), engine.DefaultConfig(nil), nil, clientStdinW, engineStdoutR)
	fe := &fakeEngine{client: client, engineReads: clientStdinR, engineWrites: engineStdoutW}
	t.Cleanup(func() {
		clientStdinR.Close()
		engineStdoutW.Close()
	})
	return fe
}

// sendKeyProcessed writes a bare MsgEventKeyProcessed frame to the
// client's stdout, simulating the engine finishing a key.
func (fe *fakeEngine) sendKeyProcessed(t *testing.T) {
	t.Helper()
	msg := engine.NewMessage(engine.MsgEventKeyProcessed, 0, nil)
	go func() {
		_ = msg.Write(fe.engineWrites)
	}()
}

// respondToCall reads one MsgCall frame off the engine's simulated stdin
// and answers it with result as the raw JSON result payload.
func (fe *fakeEngine) respondToCall(result string) {
	msg, err := engine.ReadMessage(fe.engineReads)
	if err != nil {
		return
	}
	respPayload, err := json.Marshal(engine.CallResponse{Result: json.RawMessage(result)})
	if err != nil {
		return
	}
	respMsg := engine.NewMessage(engine.MsgCallResp, msg.Header.RequestID, respPayload)
	_ = respMsg.Write(fe.engineWrites)
}

// respondToSnapshot reads one MsgSnapshotReq frame off the engine's
// simulated stdin and answers it with payload as the raw JSON snapshot.
func (fe *fakeEngine) respondToSnapshot(payload string) {
	msg, err := engine.ReadMessage(fe.engineReads)
	if err != nil {
		return
	}
	respMsg := engine.NewMessage(engine.MsgSnapshotResp, msg.Header.RequestID, []byte(payload))
	_ = respMsg.Write(fe.engineWrites)
}

// respondToSendThenSnapshot drains the MsgSendKey frame HandleKey's
// non-insert-mode path writes first, then answers the synchronous
// snapshot pull that follows it.
func (fe *fakeEngine) respondToSendThenSnapshot(payload string) {
	if _, err := engine.ReadMessage(fe.engineReads); err != nil {
		return
	}
	fe.respondToSnapshot(payload)
}

type recordingHandler struct {
	events []engine.Event
}

func (h *recordingHandler) ApplyEvent(ev engine.Event) {
	h.events = append(h.events, ev)
}

func TestHandleKeyNormalModePullsSnapshotSynchronously(t *testing.T) {
	fe := newFakeEngine(t)
	handler := &recordingHandler{}
	ime := imestate.New()
	pend := &pending.Register{}
	trail := keypress.New()
	trail.SetVimMode("n")

	c := New(fe.client, ime, pend, trail, handler, nil)

	go fe.respondToSendThenSnapshot(`{"preedit_text":"a","cursor_byte":1,"mode_tag":"n","char_width_under_cursor":0}`)

	c.HandleKey(30, false, false, keynotation.KeysymLowerA, "a")

	deadline := time.After(2 * time.Second)
	for len(handler.events) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a snapshot event applied")
		case <-time.After(time.Millisecond):
		}
	}
	ev := handler.events[0]
	if ev.Type != engine.MsgEventSnapshot {
		t.Fatalf("got event type %v, want MsgEventSnapshot", ev.Type)
	}
	if ev.Snapshot.PreeditText != "a" || ev.Snapshot.CursorByte != 1 {
		t.Errorf("got snapshot %+v, want preedit_text=a cursor_byte=1", ev.Snapshot)
	}
}

func TestHandleKeyNoVimNotationSkipsSend(t *testing.T) {
	fe := newFakeEngine(t)
	handler := &recordingHandler{}
	ime := imestate.New()
	pend := &pending.Register{}
	trail := keypress.New()

	c := New(fe.client, ime, pend, trail, handler, nil)

	// A bare Ctrl press with no printable output and no special-key
	// mapping has no Vim notation; HandleKey must not touch the trail.
	c.HandleKey(1, true, false, keynotation.Keysym(0), "")

	if len(handler.events) != 0 {
		t.Error("expected no events applied when key has no vim notation")
	}
	if trail.ShouldShow() {
		t.Error("expected trail untouched")
	}
}

func TestHandleKeySkipsTrailForInsertPrintableTyping(t *testing.T) {
	fe := newFakeEngine(t)
	handler := &recordingHandler{}
	ime := imestate.New()
	pend := &pending.Register{}
	trail := keypress.New()
	trail.SetVimMode("i")

	c := New(fe.client, ime, pend, trail, handler, nil)
	go io.Copy(io.Discard, fe.engineReads)
	fe.sendKeyProcessed(t)

	c.HandleKey(30, false, false, keynotation.KeysymLowerA, "a")

	// Give the goroutine feeding the pipe a moment to land.
	time.Sleep(20 * time.Millisecond)

	if trail.ShouldShow() {
		t.Error("expected plain insert-mode printable typing to skip the trail")
	}
}

func TestHandleKeyInsertModeSendIsNonBlocking(t *testing.T) {
	fe := newFakeEngine(t)
	handler := &recordingHandler{}
	ime := imestate.New()
	pend := &pending.Register{}
	trail := keypress.New()
	trail.SetVimMode("i")

	c := New(fe.client, ime, pend, trail, handler, nil)

	// Nothing ever reads the SendKey frame or answers with a snapshot;
	// if the insert-mode path waited on anything, HandleKey would block
	// until responseWait elapses.
	drained := make(chan struct{})
	go func() { io.Copy(io.Discard, fe.engineReads); close(drained) }()

	done := make(chan struct{})
	go func() {
		c.HandleKey(30, false, false, keynotation.KeysymLowerA, "a")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("expected insert-mode HandleKey to return without waiting on a response")
	}
}

func TestHandleKeyShowsTrailInNormalMode(t *testing.T) {
	fe := newFakeEngine(t)
	handler := &recordingHandler{}
	ime := imestate.New()
	pend := &pending.Register{}
	trail := keypress.New()
	trail.SetVimMode("n")

	c := New(fe.client, ime, pend, trail, handler, nil)
	go fe.respondToSendThenSnapshot(`{"preedit_text":"","cursor_byte":0,"mode_tag":"n","char_width_under_cursor":0}`)

	c.HandleKey(30, false, false, keynotation.KeysymLowerA, "a")

	time.Sleep(20 * time.Millisecond)

	if !trail.ShouldShow() {
		t.Error("expected normal-mode keystrokes to appear in the trail")
	}
}

func TestHandleKeyBackspaceOnEmptyPreeditDeletesSurrounding(t *testing.T) {
	fe := newFakeEngine(t)
	handler := &recordingHandler{}
	ime := imestate.New()
	pend := &pending.Register{}
	trail := keypress.New()

	c := New(fe.client, ime, pend, trail, handler, nil)

	go fe.respondToCall(`{"action":"delete_surrounding","before":1,"after":0}`)

	c.HandleKey(14, false, false, keynotation.KeysymBackSpace, "")

	deadline := time.After(2 * time.Second)
	for len(handler.events) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a delete-surrounding event applied")
		case <-time.After(time.Millisecond):
		}
	}
	ev := handler.events[0]
	if ev.Type != engine.MsgEventDeleteAround {
		t.Fatalf("got event type %v, want MsgEventDeleteAround", ev.Type)
	}
	if ev.DeleteSurrounding.Before != 1 || ev.DeleteSurrounding.After != 0 {
		t.Errorf("got before=%d after=%d, want before=1 after=0", ev.DeleteSurrounding.Before, ev.DeleteSurrounding.After)
	}
}

func TestHandleKeyCommitKeyAppliesCommitEvent(t *testing.T) {
	fe := newFakeEngine(t)
	handler := &recordingHandler{}
	ime := imestate.New()
	pend := &pending.Register{}
	trail := keypress.New()

	c := New(fe.client, ime, pend, trail, handler, nil)
	c.SetCommitKey("<C-CR>")

	go fe.respondToCall(`{"action":"commit","text":"hello"}`)

	c.HandleKey(28, true, false, keynotation.KeysymReturn, "")

	deadline := time.After(2 * time.Second)
	for len(handler.events) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a commit event applied")
		case <-time.After(time.Millisecond):
		}
	}
	ev := handler.events[0]
	if ev.Type != engine.MsgEventCommit {
		t.Fatalf("got event type %v, want MsgEventCommit", ev.Type)
	}
	if ev.Commit.Text != "hello" {
		t.Errorf("got commit text %q, want %q", ev.Commit.Text, "hello")
	}
}

func TestHandleKeyCommitKeyEmptyLeavesRegularKeysAlone(t *testing.T) {
	fe := newFakeEngine(t)
	handler := &recordingHandler{}
	ime := imestate.New()
	pend := &pending.Register{}
	trail := keypress.New()

	// No SetCommitKey call: commitKey stays "", so Ctrl+Return goes
	// through the normal (non-insert-mode) SendKey+Snapshot path rather
	// than a Call.
	c := New(fe.client, ime, pend, trail, handler, nil)
	go fe.respondToSendThenSnapshot(`{"preedit_text":"","cursor_byte":0,"mode_tag":"n","char_width_under_cursor":0}`)

	c.HandleKey(28, true, false, keynotation.KeysymReturn, "")

	deadline := time.After(2 * time.Second)
	for len(handler.events) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected at least one event applied")
		case <-time.After(time.Millisecond):
		}
	}
	if handler.events[0].Type != engine.MsgEventSnapshot {
		t.Errorf("got event type %v, want MsgEventSnapshot", handler.events[0].Type)
	}
}

func TestHandleKeyGetcharBypassesBackspaceSpecialCasing(t *testing.T) {
	fe := newFakeEngine(t)
	handler := &recordingHandler{}
	ime := imestate.New()
	pend := &pending.Register{}
	pend.Store(pending.Getchar)
	trail := keypress.New()
	trail.SetVimMode("n")

	// <BS> would normally route through the synchronous handle_bs Call;
	// with Getchar pending it must instead go through the plain
	// SendKey+Snapshot path so a blocked engine getchar() read completes
	// rather than timing out on a Call it never answers.
	c := New(fe.client, ime, pend, trail, handler, nil)
	go fe.respondToSendThenSnapshot(`{"preedit_text":"","cursor_byte":0,"mode_tag":"n","char_width_under_cursor":0}`)

	c.HandleKey(14, false, false, keynotation.KeysymBackSpace, "")

	deadline := time.After(2 * time.Second)
	for len(handler.events) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a snapshot event applied")
		case <-time.After(time.Millisecond):
		}
	}
	if handler.events[0].Type != engine.MsgEventSnapshot {
		t.Fatalf("got event type %v, want MsgEventSnapshot", handler.events[0].Type)
	}
}

func TestHandleKeyGetcharBypassesCommitKey(t *testing.T) {
	fe := newFakeEngine(t)
	handler := &recordingHandler{}
	ime := imestate.New()
	pend := &pending.Register{}
	pend.Store(pending.Getchar)
	trail := keypress.New()
	trail.SetVimMode("n")

	c := New(fe.client, ime, pend, trail, handler, nil)
	c.SetCommitKey("<C-CR>")
	go fe.respondToSendThenSnapshot(`{"preedit_text":"","cursor_byte":0,"mode_tag":"n","char_width_under_cursor":0}`)

	// This is the configured commit key, but a pending Getchar read must
	// win: the key completing f/t/r/m/q has to reach nvim verbatim, not
	// through handle_commit's synchronous Call.
	c.HandleKey(28, true, false, keynotation.KeysymReturn, "")

	deadline := time.After(2 * time.Second)
	for len(handler.events) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a snapshot event applied")
		case <-time.After(time.Millisecond):
		}
	}
	if handler.events[0].Type != engine.MsgEventSnapshot {
		t.Fatalf("got event type %v, want MsgEventSnapshot", handler.events[0].Type)
	}
}

func TestClassifyPendingOperatorMotionCycle(t *testing.T) {
	fe := newFakeEngine(t)
	handler := &recordingHandler{}
	ime := imestate.New()
	pend := &pending.Register{}
	trail := keypress.New()
	trail.SetVimMode("n")

	c := New(fe.client, ime, pend, trail, handler, nil)

	go fe.respondToSendThenSnapshot(`{"preedit_text":"","cursor_byte":0,"mode_tag":"n","char_width_under_cursor":0}`)
	c.HandleKey(32, false, false, keynotation.Keysym(0), "d")
	if got := pend.Load(); got != pending.Motion {
		t.Fatalf("after 'd' expected Motion, got %v", got)
	}

	go fe.respondToSendThenSnapshot(`{"preedit_text":"","cursor_byte":0,"mode_tag":"n","char_width_under_cursor":0}`)
	c.HandleKey(17, false, false, keynotation.Keysym(0), "w")
	if got := pend.Load(); got != pending.None {
		t.Fatalf("after 'w' completes the motion expected None, got %v", got)
	}
}

func TestClassifyPendingMotionPromotesToTextObject(t *testing.T) {
	fe := newFakeEngine(t)
	handler := &recordingHandler{}
	ime := imestate.New()
	pend := &pending.Register{}
	trail := keypress.New()
	trail.SetVimMode("n")

	c := New(fe.client, ime, pend, trail, handler, nil)

	go fe.respondToSendThenSnapshot(`{"preedit_text":"","cursor_byte":0,"mode_tag":"n","char_width_under_cursor":0}`)
	c.HandleKey(46, false, false, keynotation.Keysym(0), "c")
	if got := pend.Load(); got != pending.Motion {
		t.Fatalf("after 'c' expected Motion, got %v", got)
	}

	go fe.respondToSendThenSnapshot(`{"preedit_text":"","cursor_byte":0,"mode_tag":"n","char_width_under_cursor":0}`)
	c.HandleKey(23, false, false, keynotation.Keysym(0), "i")
	if got := pend.Load(); got != pending.TextObject {
		t.Fatalf("after 'ci' expected TextObject, got %v", got)
	}

	go fe.respondToSendThenSnapshot(`{"preedit_text":"","cursor_byte":0,"mode_tag":"n","char_width_under_cursor":0}`)
	c.HandleKey(48, false, false, keynotation.Keysym(0), "w")
	if got := pend.Load(); got != pending.None {
		t.Fatalf("after 'ciw' completes expected None, got %v", got)
	}
}

func TestClassifyPendingNormalRegisterSetAndClear(t *testing.T) {
	fe := newFakeEngine(t)
	handler := &recordingHandler{}
	ime := imestate.New()
	pend := &pending.Register{}
	trail := keypress.New()
	trail.SetVimMode("n")

	c := New(fe.client, ime, pend, trail, handler, nil)

	go fe.respondToSendThenSnapshot(`{"preedit_text":"","cursor_byte":0,"mode_tag":"n","char_width_under_cursor":0}`)
	c.HandleKey(40, false, false, keynotation.Keysym(0), `"`)
	if got := pend.Load(); got != pending.NormalRegister {
		t.Fatalf(`after '"' expected NormalRegister, got %v`, got)
	}

	go fe.respondToSendThenSnapshot(`{"preedit_text":"","cursor_byte":0,"mode_tag":"n","char_width_under_cursor":0}`)
	c.HandleKey(30, false, false, keynotation.KeysymLowerA, "a")
	if got := pend.Load(); got != pending.None {
		t.Fatalf(`after '"a' names the register expected None, got %v`, got)
	}
}

func TestClassifyPendingInsertRegisterSetAndClear(t *testing.T) {
	fe := newFakeEngine(t)
	handler := &recordingHandler{}
	ime := imestate.New()
	pend := &pending.Register{}
	trail := keypress.New()
	trail.SetVimMode("i")

	c := New(fe.client, ime, pend, trail, handler, nil)
	go io.Copy(io.Discard, fe.engineReads)

	// keynotation only exports KeysymLowerA/Z as anchors; 'r' is 17 past 'a'.
	keysymLowerR := keynotation.KeysymLowerA + 17
	c.HandleKey(19, true, false, keysymLowerR, "")
	if got := pend.Load(); got != pending.InsertRegister {
		t.Fatalf("after <C-r> expected InsertRegister, got %v", got)
	}

	c.HandleKey(30, false, false, keynotation.KeysymLowerA, "a")
	if got := pend.Load(); got != pending.None {
		t.Fatalf(`after <C-r>a names the register expected None, got %v`, got)
	}
}

func TestHandleKeySkipsTrailDuringCommandLine(t *testing.T) {
	fe := newFakeEngine(t)
	handler := &recordingHandler{}
	ime := imestate.New()
	pend := &pending.Register{}
	pend.Store(pending.CommandLine)
	trail := keypress.New()
	trail.SetVimMode("c")

	c := New(fe.client, ime, pend, trail, handler, nil)
	go fe.respondToSendThenSnapshot(`{"preedit_text":"","cursor_byte":0,"mode_tag":"c","char_width_under_cursor":0}`)

	c.HandleKey(30, false, false, keynotation.KeysymLowerA, "a")

	time.Sleep(20 * time.Millisecond)

	if trail.ShouldShow() {
		t.Error("expected command-line mode to skip trail push")
	}
}
