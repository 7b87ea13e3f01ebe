// Package xkbkeymap wraps libxkbcommon to turn the keymap zwp_input_method_keyboard_grab_v2
// hands over into raw keysyms and modifier state per keystroke. It never
// decides what those keysyms mean in Vim terms; internal/keynotation owns
// that translation, kept separate so it stays testable without cgo.
package xkbkeymap

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"wlime/internal/keynotation"
)

/*
#cgo LDFLAGS: -lxkbcommon

#include <stdlib.h>
#include <xkbcommon/xkbcommon.h>
*/
import "C"

// FormatXKBv1 is the wl_keyboard keymap_format wire value for the standard
// XKB text format, the only format supported.
const FormatXKBv1 = uint32(C.XKB_KEYMAP_FORMAT_TEXT_V1)

// State owns the compiled keymap plus the live modifier/group state that
// zwp_input_method_v2's Keymap and Modifiers events update in place.
type State struct {
	ctx    *C.struct_xkb_context
	keymap *C.struct_xkb_keymap
	state  *C.struct_xkb_state
}

// Load compiles a keymap from an mmap-able fd of the given size, matching
// the shape wl_keyboard.keymap and zwp_input_method_keyboard_grab_v2.keymap
// both deliver: a shared-memory FD holding a NUL-terminated XKB text keymap.
func Load(format uint32, fd int, size int) (*State, error) {
	if format != FormatXKBv1 {
		return nil, fmt.Errorf("xkbkeymap: unsupported keymap format %d", format)
	}

	ctx := C.xkb_context_new(C.XKB_CONTEXT_NO_FLAGS)
	if ctx == nil {
		return nil, errors.New("xkbkeymap: xkb_context_new failed")
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		C.xkb_context_unref(ctx)
		return nil, fmt.Errorf("xkbkeymap: mmap keymap: %w", err)
	}
	defer unix.Munmap(data)

	keymap := C.xkb_keymap_new_from_string(
		ctx,
		(*C.char)(unsafe.Pointer(&data[0])),
		C.XKB_KEYMAP_FORMAT_TEXT_V1,
		C.XKB_KEYMAP_COMPILE_NO_FLAGS,
	)
	if keymap == nil {
		C.xkb_context_unref(ctx)
		return nil, errors.New("xkbkeymap: xkb_keymap_new_from_string failed")
	}

	state := C.xkb_state_new(keymap)
	if state == nil {
		C.xkb_keymap_unref(keymap)
		C.xkb_context_unref(ctx)
		return nil, errors.New("xkbkeymap: xkb_state_new failed")
	}

	return &State{ctx: ctx, keymap: keymap, state: state}, nil
}

// Close releases the underlying XKB objects. Safe to call once.
func (s *State) Close() {
	if s.state != nil {
		C.xkb_state_unref(s.state)
		s.state = nil
	}
	if s.keymap != nil {
		C.xkb_keymap_unref(s.keymap)
		s.keymap = nil
	}
	if s.ctx != nil {
		C.xkb_context_unref(s.ctx)
		s.ctx = nil
	}
}

// UpdateMask applies a Modifiers event's depressed/latched/locked/group
// fields to the tracked state, per wl_keyboard.modifiers and the mirrored
// zwp_input_method_keyboard_grab_v2 event.
func (s *State) UpdateMask(depressed, latched, locked, group uint32) {
	C.xkb_state_update_mask(
		s.state,
		C.xkb_mod_mask_t(depressed),
		C.xkb_mod_mask_t(latched),
		C.xkb_mod_mask_t(locked),
		C.xkb_layout_index_t(group),
		C.xkb_layout_index_t(group),
		C.xkb_layout_index_t(group),
	)
}

var (
	modNameControl = []byte("Control\x00")
	modNameAlt     = []byte("Mod1\x00")
)

// Modifiers reports whether Control and Alt are currently effective,
// the two modifiers keynotation.ToVim distinguishes.
func (s *State) Modifiers() (ctrl, alt bool) {
	ctrl = C.xkb_state_mod_name_is_active(s.state, (*C.char)(unsafe.Pointer(&modNameControl[0])), C.XKB_STATE_MODS_EFFECTIVE) == 1
	alt = C.xkb_state_mod_name_is_active(s.state, (*C.char)(unsafe.Pointer(&modNameAlt[0])), C.XKB_STATE_MODS_EFFECTIVE) == 1
	return ctrl, alt
}

// KeyEvent processes a raw evdev keycode (as delivered by
// zwp_input_method_keyboard_grab_v2.key, which is the wl_keyboard.key
// value: the Linux evdev code, not the XKB keycode) into the keysym and
// UTF-8 text keynotation.ToVim needs. Per the XKB wire protocol, evdev
// codes are offset by 8 to get the XKB keycode.
func (s *State) KeyEvent(evdevCode uint32) (keynotation.Keysym, string) {
	xkbCode := C.xkb_keycode_t(evdevCode + 8)

	buf := make([]byte, 8)
	n := C.xkb_state_key_get_utf8(s.state, xkbCode, (*C.char)(unsafe.Pointer(&buf[0])), C.size_t(len(buf)))
	if int(n) >= len(buf) {
		buf = make([]byte, n+1)
		n = C.xkb_state_key_get_utf8(s.state, xkbCode, (*C.char)(unsafe.Pointer(&buf[0])), C.size_t(len(buf)))
	}

	rawSym := C.xkb_state_key_get_one_sym(s.state, xkbCode)
	return keynotation.Keysym(rawSym), string(buf[:n])
}

// KeyRepeats reports whether the keymap marks evdevCode as auto-repeating.
func (s *State) KeyRepeats(evdevCode uint32) bool {
	return C.xkb_keymap_key_repeats(s.keymap, C.xkb_keycode_t(evdevCode+8)) == 1
}
