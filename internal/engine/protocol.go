// Package engine owns the out-of-process composition engine: a headless
// text editor whose stdio is claimed entirely by this package's own
// length-prefixed, JSON-payload wire protocol rather than the editor's
// native RPC channel (see internal/enginescript, which starts it without
// --embed for exactly this reason). It exposes typed request/response and
// asynchronous-notification channels backed by a dedicated worker
// goroutine, so nothing outside this package ever touches the child
// process's file descriptors directly.
package engine

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Protocol constants for the framing layer between wlime and the engine
// child process. Distinct from the wire format the engine itself speaks to
// its own plugins; this is purely the pipe between wlime and the child.
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x574c494d // "WLIM"
)

// MessageType identifies the kind of framed message on the wire.
type MessageType uint16

const (
	// Requests, main thread -> worker -> engine.
	MsgSendKey  MessageType = 0x0001 // fire-and-forget key injection
	MsgCall     MessageType = 0x0002 // synchronous function call
	MsgCallResp MessageType = 0x0003
	MsgSnapshotReq  MessageType = 0x0004
	MsgSnapshotResp MessageType = 0x0005
	MsgShutdown     MessageType = 0x0006

	// Events, worker -> main thread.
	MsgReady            MessageType = 0x0100
	MsgEventSnapshot    MessageType = 0x0101
	MsgEventCommit      MessageType = 0x0102
	MsgEventDeleteAround MessageType = 0x0103
	MsgEventCandidates  MessageType = 0x0104
	MsgEventCommandLine MessageType = 0x0105
	MsgEventModeChanged MessageType = 0x0106
	MsgEventKeyProcessed MessageType = 0x0107

	MsgError MessageType = 0x01ff
)

// Header is the fixed-size 16-byte frame header preceding every JSON
// payload on the engine pipe.
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32
}

// HeaderSize is the wire size of Header in bytes.
const HeaderSize = 16

// Write serializes the header to w in big-endian form.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and validates a Header from r.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("engine protocol: bad magic %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("engine protocol: unsupported version %d", h.Version)
	}
	return h, nil
}

// Message pairs a Header with its JSON payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage builds a Message with a fresh header for msgType/requestID.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write serializes the full message (header + payload) to w.
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// maxPayload bounds a single frame; the engine only ever sends small
// structured payloads (snapshots, candidate lists), never file contents.
const maxPayload = 8 * 1024 * 1024

// ReadMessage reads one complete framed message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > maxPayload {
			return nil, fmt.Errorf("engine protocol: payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func encode(v any) ([]byte, error) { return json.Marshal(v) }
func decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// CallRequest invokes an engine-side function by name (handle_bs,
// handle_commit, see internal/enginescript) with positional arguments.
type CallRequest struct {
	Function string `json:"function"`
	Args     []any  `json:"args,omitempty"`
}

// CallResponse carries the result of a Call, or an error.
type CallResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// VisualRange reports the anchor/cursor byte offsets of an active visual
// selection.
type VisualRange struct {
	AnchorByte int `json:"anchor_byte"`
	CursorByte int `json:"cursor_byte"`
}

// Snapshot is a single structured readout of engine state returned by the
// engine's snapshot collector.
type Snapshot struct {
	PreeditText          string       `json:"preedit_text"`
	CursorByte           int          `json:"cursor_byte"`
	ModeTag              string       `json:"mode_tag"`
	Blocking             bool         `json:"blocking"`
	CharWidthUnderCursor int          `json:"char_width_under_cursor"`
	RecordingRegister    string       `json:"recording_register,omitempty"`
	VisualRange          *VisualRange `json:"visual_range,omitempty"`
}

// CommitEvent carries text the engine decided should be committed to the
// focused application.
type CommitEvent struct {
	Text string `json:"text"`
}

// DeleteSurroundingEvent asks the compositor to delete adjacent bytes
// before/after the cursor in the focused application's own buffer.
type DeleteSurroundingEvent struct {
	Before uint32 `json:"before"`
	After  uint32 `json:"after"`
}

// CandidatesEvent carries a completion candidate list update.
type CandidatesEvent struct {
	Candidates []string `json:"candidates"`
	Selected   int      `json:"selected"`
}

// CommandLineOp classifies a CommandLine event.
type CommandLineOp string

const (
	CommandLineEnter   CommandLineOp = "enter"
	CommandLineUpdate  CommandLineOp = "update"
	CommandLineExecute CommandLineOp = "execute"
	CommandLineCancel  CommandLineOp = "cancel"
	CommandLineMessage CommandLineOp = "message"
)

// CommandLineEvent reports command-line entry/update/execute/cancel, or a
// produced message (e.g. an error echoed by :messages).
type CommandLineEvent struct {
	Op          CommandLineOp `json:"op"`
	Text        string        `json:"text,omitempty"`
	CursorByte  int           `json:"cursor_byte,omitempty"`
	PrefixLen   int           `json:"prefix_len,omitempty"`
	Level       uint64        `json:"level,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// ModeChangedEvent reports an in-engine mode transition (the raw mode()
// string, e.g. "i", "n", "no", "v").
type ModeChangedEvent struct {
	Mode string `json:"mode"`
}

// ErrorEvent carries an engine-side error report (child crash detection,
// malformed autocommand payloads).
type ErrorEvent struct {
	Message string `json:"message"`
}

// KeyProcessedEvent marks the end of a single SendKey's processing on the
// engine side, letting internal/coordinator's wait loop stop early instead
// of blocking for its full timeout window.
type KeyProcessedEvent struct{}
