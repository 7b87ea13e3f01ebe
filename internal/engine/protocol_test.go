package engine

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Magic:     ProtocolMagic,
		Version:   ProtocolVersion,
		Type:      MsgSendKey,
		RequestID: 42,
		Length:    7,
	}
	var buf bytes.Buffer
	if err := h.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if *got != h {
		t.Errorf("got %+v, want %+v", *got, h)
	}
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Magic: 0xdeadbeef, Version: ProtocolVersion}
	h.Write(&buf)
	if _, err := ReadHeader(&buf); err == nil {
		t.Error("expected error for bad magic")
	}
}

func TestReadHeaderRejectsFutureVersion(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Magic: ProtocolMagic, Version: ProtocolVersion + 1}
	h.Write(&buf)
	if _, err := ReadHeader(&buf); err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	payload := []byte(`{"hello":"world"}`)
	msg := NewMessage(MsgCall, 5, payload)

	var buf bytes.Buffer
	if err := msg.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if got.Header.Type != MsgCall || got.Header.RequestID != 5 {
		t.Errorf("unexpected header: %+v", got.Header)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Errorf("got payload %q, want %q", got.Payload, payload)
	}
}

func TestReadMessageRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Magic: ProtocolMagic, Version: ProtocolVersion, Length: maxPayload + 1}
	h.Write(&buf)
	if _, err := ReadMessage(&buf); err == nil {
		t.Error("expected error for oversized payload")
	}
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	snap := Snapshot{
		PreeditText:          "hello",
		CursorByte:           5,
		ModeTag:              "i",
		Blocking:             false,
		CharWidthUnderCursor: 1,
		VisualRange:          &VisualRange{AnchorByte: 0, CursorByte: 5},
	}
	data, err := encode(snap)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var got Snapshot
	if err := decode(data, &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.PreeditText != snap.PreeditText || got.VisualRange.CursorByte != 5 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}
