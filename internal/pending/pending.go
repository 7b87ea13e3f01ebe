// Package pending implements a single, process-wide register of "what the
// engine is waiting for next": a mutually-exclusive state describing
// multi-key sequences in flight (getchar prompts, pending motions, register
// selection, command-line mode). internal/coordinator consults it on every
// keystroke to decide whether the key should be forwarded verbatim, and
// internal/reconciler updates it as engine events report the engine's own
// state machine advancing. A single atomic word keeps that check lock-free on the
// hot per-keystroke path.
package pending

import "sync/atomic"

// State enumerates the mutually-exclusive things the engine can be waiting
// on. Zero value is None.
type State uint32

const (
	// None means no multi-key sequence is in flight.
	None State = iota
	// Getchar means the engine is blocked inside a synchronous
	// character-reading operator (f, t, r, m, q for macro start/stop, and
	// similar) and the next key completes it rather than being
	// interpreted normally.
	Getchar
	// Motion means an operator (d, c, y, ...) is waiting for the motion
	// that completes it.
	Motion
	// TextObject means an i/a prefix was seen after an operator and the
	// next key selects the text object.
	TextObject
	// InsertRegister means <C-r> was pressed in insert mode and the next
	// key names the register to insert.
	InsertRegister
	// NormalRegister means " was pressed in normal mode and the next key
	// names the register for the following operator or paste.
	NormalRegister
	// CommandLine means ":" was pressed in normal mode; keys are
	// forwarded verbatim until the command line is dismissed.
	CommandLine
)

func (s State) String() string {
	switch s {
	case None:
		return "none"
	case Getchar:
		return "getchar"
	case Motion:
		return "motion"
	case TextObject:
		return "text-object"
	case InsertRegister:
		return "insert-register"
	case NormalRegister:
		return "normal-register"
	case CommandLine:
		return "command-line"
	default:
		return "unknown"
	}
}

// Register is a lock-free, mutually-exclusive pending-state cell. The zero
// value is ready to use and starts at None.
type Register struct {
	word atomic.Uint32
}

// Load returns the current state.
func (r *Register) Load() State {
	return State(r.word.Load())
}

// Store unconditionally sets the state.
func (r *Register) Store(s State) {
	r.word.Store(uint32(s))
}

// Clear resets the state to None.
func (r *Register) Clear() {
	r.word.Store(uint32(None))
}

// Is reports whether the current state equals s.
func (r *Register) Is(s State) bool {
	return r.Load() == s
}

// CompareAndSwap atomically sets the state to new only if it currently
// equals old, returning whether the swap happened. Used where a caller must
// transition out of a specific pending state without racing a concurrent
// Clear (e.g. the engine's event-reader goroutine racing the keystroke
// dispatcher).
func (r *Register) CompareAndSwap(old, new State) bool {
	return r.word.CompareAndSwap(uint32(old), uint32(new))
}
