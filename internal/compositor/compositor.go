// Package compositor defines the boundary between the coordination layer
// and the Wayland wire protocol. Compositor is implemented concretely by
// this package's cgo binding to libwayland-client (compositor_wayland.go);
// internal/lifecycle, internal/coordinator, and internal/reconciler depend
// only on this interface, never on the concrete client, so the state
// machines can be exercised in tests without a running compositor.
package compositor

// Compositor is everything the coordination layer needs from the Wayland
// input-method and virtual-keyboard protocols. Method names mirror the
// operations wlroots' zwp_input_method_v2 and zwp_virtual_keyboard_v1
// expose, not this package's internal wire representation.
type Compositor interface {
	// Active reports whether a text field currently has IME focus
	// (zwp_input_method_v2's Activate/Deactivate, updated as each event
	// arrives rather than on the paired Done).
	Active() bool

	// HasKeyboardGrab reports whether a keyboard grab is currently held.
	HasKeyboardGrab() bool
	// GrabKeyboard requests a keyboard grab. Returns false if one is
	// already held (grabbing twice is a caller bug, not a wire error).
	GrabKeyboard() bool
	// ReleaseKeyboard releases the keyboard grab, if held, and clears
	// virtual-keyboard modifier state. Returns false if none was held.
	ReleaseKeyboard() bool

	// SetVirtualKeymap uploads the same keymap the grab delivered onto
	// the virtual keyboard, required before SendVirtualKey or
	// ClearModifiers can take effect.
	SetVirtualKeymap(keymapData string)
	// ClearModifiers zeroes the virtual keyboard's modifier state, used
	// to fix a toggle keybind's modifier leaking into the grabbed
	// application.
	ClearModifiers()
	// SendVirtualKey synthesizes a full press+release of keycode with
	// the given modifier state, used for passthrough keys the engine
	// declined to consume.
	SendVirtualKey(keycode uint32, modsDepressed, modsLatched, modsLocked, group uint32)

	// SetPreedit reflects preedit text and cursor range to the focused
	// application and commits the current serial.
	SetPreedit(text string, cursorBegin, cursorEnd int32)
	// CommitString commits text to the focused application, clears the
	// compositor-side preedit, and commits the current serial.
	CommitString(text string)
	// DeleteSurrounding asks the focused application to delete before
	// bytes preceding and after bytes following the cursor, then
	// commits the current serial.
	DeleteSurrounding(before, after uint32)
}
