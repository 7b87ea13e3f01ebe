package engine

import (
	"context"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig([]string{"true"})
	if cfg.RequestCapacity != 64 || cfg.EventCapacity != 64 {
		t.Errorf("expected spec-mandated capacity 64/64, got %d/%d", cfg.RequestCapacity, cfg.EventCapacity)
	}
	if cfg.CallTimeout != 200*time.Millisecond {
		t.Errorf("expected 200ms call timeout, got %v", cfg.CallTimeout)
	}
}

func TestDispatchReadySetsFlagAndEmitsEvent(t *testing.T) {
	c := &Client{
		pending: make(map[uint32]chan *Message),
		events:  make(chan Event, 1),
	}
	c.dispatch(NewMessage(MsgReady, 0, nil))

	if !c.Ready() {
		t.Error("expected Ready() true after MsgReady")
	}
	select {
	case ev := <-c.events:
		if ev.Type != MsgReady {
			t.Errorf("expected MsgReady event, got %v", ev.Type)
		}
	default:
		t.Fatal("expected an event to be pushed")
	}
}

func TestDispatchRoutesCallResponseToPendingCaller(t *testing.T) {
	c := &Client{
		pending: make(map[uint32]chan *Message),
		events:  make(chan Event, 1),
	}
	respCh := c.registerPending(7)

	payload, _ := encode(CallResponse{Result: []byte(`"ok"`)})
	c.dispatch(NewMessage(MsgCallResp, 7, payload))

	select {
	case msg := <-respCh:
		var resp CallResponse
		if err := decode(msg.Payload, &resp); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if string(resp.Result) != `"ok"` {
			t.Errorf("got result %s", resp.Result)
		}
	default:
		t.Fatal("expected response delivered to pending channel")
	}
}

func TestDispatchUnknownRequestIDIsDropped(t *testing.T) {
	c := &Client{
		pending: make(map[uint32]chan *Message),
		events:  make(chan Event, 1),
	}
	// No panic, no delivery: nothing registered for request ID 99.
	c.dispatch(NewMessage(MsgCallResp, 99, nil))
}

func TestDispatchEventsCoverAllTypes(t *testing.T) {
	c := &Client{
		pending: make(map[uint32]chan *Message),
		events:  make(chan Event, 8),
	}

	snapPayload, _ := encode(Snapshot{PreeditText: "x"})
	c.dispatch(NewMessage(MsgEventSnapshot, 0, snapPayload))

	commitPayload, _ := encode(CommitEvent{Text: "committed"})
	c.dispatch(NewMessage(MsgEventCommit, 0, commitPayload))

	delPayload, _ := encode(DeleteSurroundingEvent{Before: 1, After: 2})
	c.dispatch(NewMessage(MsgEventDeleteAround, 0, delPayload))

	candPayload, _ := encode(CandidatesEvent{Candidates: []string{"a", "b"}, Selected: 1})
	c.dispatch(NewMessage(MsgEventCandidates, 0, candPayload))

	cmdlinePayload, _ := encode(CommandLineEvent{Op: CommandLineEnter, Text: ":"})
	c.dispatch(NewMessage(MsgEventCommandLine, 0, cmdlinePayload))

	modePayload, _ := encode(ModeChangedEvent{Mode: "n"})
	c.dispatch(NewMessage(MsgEventModeChanged, 0, modePayload))

	want := []MessageType{
		MsgEventSnapshot, MsgEventCommit, MsgEventDeleteAround,
		MsgEventCandidates, MsgEventCommandLine, MsgEventModeChanged,
	}
	for _, w := range want {
		select {
		case ev := <-c.events:
			if ev.Type != w {
				t.Errorf("got event %v, want %v", ev.Type, w)
			}
		default:
			t.Fatalf("expected event %v, channel empty", w)
		}
	}
}

func TestPushEventDropsWhenChannelFull(t *testing.T) {
	c := &Client{events: make(chan Event, 1)}
	c.pushEvent(Event{Type: MsgReady})
	// Second push must not block even though the channel is full.
	done := make(chan struct{})
	go func() {
		c.pushEvent(Event{Type: MsgReady})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pushEvent blocked on a full channel")
	}
}

func TestClientLifecycleWithRealProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := New(ctx, DefaultConfig([]string{"cat"}), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.Ready() {
		t.Error("Ready() should be false before any Ready notification")
	}
	if err := c.SendKey("a"); err != nil {
		t.Errorf("SendKey failed: %v", err)
	}
	if err := c.Shutdown(); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
