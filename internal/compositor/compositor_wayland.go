//go:build linux

package compositor

/*
#cgo pkg-config: wayland-client

#include <stdlib.h>
#include <string.h>
#include <wayland-client.h>
#include <wayland-client-protocol.h>

// wlime speaks two unstable protocol extensions libwayland-client ships no
// generated headers for: zwp_input_method_v2 and zwp_virtual_keyboard_v1.
// Rather than vendor wayland-scanner output, the wire-level pieces this
// binding actually exercises are declared by hand below: interface
// descriptors for the two objects wlime creates, and thin marshal/listener
// wrappers for the requests and events wlime's IME loop uses. This mirrors
// what wayland-scanner would emit for the subset of each protocol wlime
// speaks, not the full extension surface.

extern const struct wl_interface zwp_input_method_v2_interface;
extern const struct wl_interface zwp_input_method_keyboard_grab_v2_interface;
extern const struct wl_interface zwp_virtual_keyboard_v1_interface;

static const struct wl_interface zwp_input_method_v2_interface = {
	"zwp_input_method_v2", 1, 0, NULL, 0, NULL,
};
static const struct wl_interface zwp_input_method_keyboard_grab_v2_interface = {
	"zwp_input_method_keyboard_grab_v2", 1, 0, NULL, 0, NULL,
};
static const struct wl_interface zwp_virtual_keyboard_v1_interface = {
	"zwp_virtual_keyboard_v1", 1, 0, NULL, 0, NULL,
};

// Input method requests (opcodes per zwp-input-method-v2 v1).
enum {
	IM_COMMIT_STRING           = 0,
	IM_SET_PREEDIT_STRING      = 1,
	IM_DELETE_SURROUNDING_TEXT = 2,
	IM_COMMIT                  = 3,
	IM_GET_INPUT_POPUP_SURFACE = 4,
	IM_GRAB_KEYBOARD            = 5,
	IM_DESTROY                 = 6,
};

// Input method events.
enum {
	IM_EVT_ACTIVATE      = 0,
	IM_EVT_DEACTIVATE    = 1,
	IM_EVT_SURROUNDING   = 2,
	IM_EVT_TEXT_CHANGE_CAUSE = 3,
	IM_EVT_CONTENT_TYPE  = 4,
	IM_EVT_DONE          = 5,
	IM_EVT_UNAVAILABLE   = 6,
};

// Keyboard grab events.
enum {
	GRAB_EVT_KEYMAP     = 0,
	GRAB_EVT_KEY        = 1,
	GRAB_EVT_MODIFIERS  = 2,
	GRAB_EVT_REPEAT_INFO = 3,
};

// Virtual keyboard requests.
enum {
	VK_KEYMAP    = 0,
	VK_KEY       = 1,
	VK_MODIFIERS = 2,
	VK_DESTROY   = 3,
};

static struct zwp_input_method_v2 *im_grab_keyboard(struct zwp_input_method_v2 *im) {
	struct wl_proxy *p = wl_proxy_marshal_flags(
		(struct wl_proxy *)im, IM_GRAB_KEYBOARD,
		&zwp_input_method_keyboard_grab_v2_interface, wl_proxy_get_version((struct wl_proxy *)im), 0, NULL);
	return (struct zwp_input_method_v2 *)p;
}

static void im_commit_string(struct zwp_input_method_v2 *im, const char *text) {
	wl_proxy_marshal_flags((struct wl_proxy *)im, IM_COMMIT_STRING, NULL, wl_proxy_get_version((struct wl_proxy *)im), 0, text);
}

static void im_set_preedit_string(struct zwp_input_method_v2 *im, const char *text, int32_t begin, int32_t end) {
	wl_proxy_marshal_flags((struct wl_proxy *)im, IM_SET_PREEDIT_STRING, NULL, wl_proxy_get_version((struct wl_proxy *)im), 0, text, begin, end);
}

static void im_delete_surrounding_text(struct zwp_input_method_v2 *im, uint32_t before, uint32_t after) {
	wl_proxy_marshal_flags((struct wl_proxy *)im, IM_DELETE_SURROUNDING_TEXT, NULL, wl_proxy_get_version((struct wl_proxy *)im), 0, before, after);
}

static void im_commit(struct zwp_input_method_v2 *im, uint32_t serial) {
	wl_proxy_marshal_flags((struct wl_proxy *)im, IM_COMMIT, NULL, wl_proxy_get_version((struct wl_proxy *)im), 0, serial);
}

static void im_destroy(struct zwp_input_method_v2 *im) {
	wl_proxy_marshal_flags((struct wl_proxy *)im, IM_DESTROY, NULL, wl_proxy_get_version((struct wl_proxy *)im), WL_MARSHAL_FLAG_DESTROY);
}

static void grab_release(struct zwp_input_method_v2 *grab) {
	wl_proxy_marshal_flags((struct wl_proxy *)grab, IM_DESTROY, NULL, wl_proxy_get_version((struct wl_proxy *)grab), WL_MARSHAL_FLAG_DESTROY);
}

static void vk_keymap(struct zwp_virtual_keyboard_v1 *vk, uint32_t format, int32_t fd, uint32_t size) {
	wl_proxy_marshal_flags((struct wl_proxy *)vk, VK_KEYMAP, NULL, wl_proxy_get_version((struct wl_proxy *)vk), 0, format, fd, size);
}

static void vk_key(struct zwp_virtual_keyboard_v1 *vk, uint32_t time, uint32_t key, uint32_t state) {
	wl_proxy_marshal_flags((struct wl_proxy *)vk, VK_KEY, NULL, wl_proxy_get_version((struct wl_proxy *)vk), 0, time, key, state);
}

static void vk_modifiers(struct zwp_virtual_keyboard_v1 *vk, uint32_t depressed, uint32_t latched, uint32_t locked, uint32_t group) {
	wl_proxy_marshal_flags((struct wl_proxy *)vk, VK_MODIFIERS, NULL, wl_proxy_get_version((struct wl_proxy *)vk), 0, depressed, latched, locked, group);
}

extern void goInputMethodActivate(void *data);
extern void goInputMethodDeactivate(void *data);
extern void goInputMethodDone(void *data);
extern void goInputMethodUnavailable(void *data);
extern void goGrabKeymap(void *data, uint32_t format, int32_t fd, uint32_t size);
extern void goGrabKey(void *data, uint32_t time, uint32_t key, uint32_t state);
extern void goGrabModifiers(void *data, uint32_t depressed, uint32_t latched, uint32_t locked, uint32_t group);
extern void goGrabRepeatInfo(void *data, int32_t rate, int32_t delay);

static void on_im_activate(void *data, struct zwp_input_method_v2 *im) { goInputMethodActivate(data); }
static void on_im_deactivate(void *data, struct zwp_input_method_v2 *im) { goInputMethodDeactivate(data); }
static void on_im_surrounding(void *data, struct zwp_input_method_v2 *im, const char *text, uint32_t cursor, uint32_t anchor) {}
static void on_im_text_change_cause(void *data, struct zwp_input_method_v2 *im, uint32_t cause) {}
static void on_im_content_type(void *data, struct zwp_input_method_v2 *im, uint32_t hint, uint32_t purpose) {}
static void on_im_done(void *data, struct zwp_input_method_v2 *im) { goInputMethodDone(data); }
static void on_im_unavailable(void *data, struct zwp_input_method_v2 *im) { goInputMethodUnavailable(data); }

static const struct zwp_input_method_v2_listener im_listener = {
	.activate = on_im_activate,
	.deactivate = on_im_deactivate,
	.surrounding_text = on_im_surrounding,
	.text_change_cause = on_im_text_change_cause,
	.content_type = on_im_content_type,
	.done = on_im_done,
	.unavailable = on_im_unavailable,
};

static void on_grab_keymap(void *data, struct zwp_input_method_v2 *g, uint32_t format, int32_t fd, uint32_t size) {
	goGrabKeymap(data, format, fd, size);
}
static void on_grab_key(void *data, struct zwp_input_method_v2 *g, uint32_t serial, uint32_t time, uint32_t key, uint32_t state) {
	goGrabKey(data, time, key, state);
}
static void on_grab_modifiers(void *data, struct zwp_input_method_v2 *g, uint32_t serial, uint32_t depressed, uint32_t latched, uint32_t locked, uint32_t group) {
	goGrabModifiers(data, depressed, latched, locked, group);
}
static void on_grab_repeat_info(void *data, struct zwp_input_method_v2 *g, int32_t rate, int32_t delay) {
	goGrabRepeatInfo(data, rate, delay);
}

static int im_add_listener(struct zwp_input_method_v2 *im, void *data) {
	return wl_proxy_add_listener((struct wl_proxy *)im, (void (**)(void))&im_listener, data);
}

static int grab_add_listener(struct zwp_input_method_v2 *grab, void *data) {
	static const struct {
		void (*keymap)(void *, struct zwp_input_method_v2 *, uint32_t, int32_t, uint32_t);
		void (*key)(void *, struct zwp_input_method_v2 *, uint32_t, uint32_t, uint32_t, uint32_t);
		void (*modifiers)(void *, struct zwp_input_method_v2 *, uint32_t, uint32_t, uint32_t, uint32_t, uint32_t);
		void (*repeat_info)(void *, struct zwp_input_method_v2 *, int32_t, int32_t);
	} listener = {on_grab_keymap, on_grab_key, on_grab_modifiers, on_grab_repeat_info};
	return wl_proxy_add_listener((struct wl_proxy *)grab, (void (**)(void))&listener, data);
}
*/
import "C"

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"wlime/internal/logging"
)

// WaylandCompositor implements Compositor against a live zwp_input_method_v2
// binding plus a zwp_virtual_keyboard_v1 used for modifier hygiene and
// passthrough key synthesis. It owns no Wayland connection or event-loop
// bookkeeping of its own; the caller (cmd/wlime) drives wl_display_dispatch
// and forwards the resulting Activate/Deactivate/Done/Unavailable/Keymap
// events into internal/lifecycle.Manager, which is why this type exposes
// only the request half of the protocol as Compositor plus a small set of
// callback setters for the event half.
type WaylandCompositor struct {
	display *C.struct_wl_display
	im      *C.struct_zwp_input_method_v2
	vk      *C.struct_zwp_virtual_keyboard_v1
	grab    *C.struct_zwp_input_method_v2

	log *logging.Logger

	mu               sync.Mutex
	active           bool
	hasGrab          bool
	virtualKeymapSet bool

	onActivate    func()
	onDeactivate  func()
	onDone        func()
	onUnavailable func()
	onKeymap      func(format uint32, fd int, size uint32)
	onKey         func(evdevCode uint32, pressed bool)
	onModifiers   func(depressed, latched, locked, group uint32)
	onRepeatInfo  func(rate, delay int32)
}

var registry sync.Map // uintptr(unsafe.Pointer) -> *WaylandCompositor, keyed for cgo callbacks

// NewWaylandCompositor binds to an already-connected display's input-method
// and virtual-keyboard globals, previously discovered via wl_registry.
func NewWaylandCompositor(display unsafe.Pointer, im unsafe.Pointer, vk unsafe.Pointer, log *logging.Logger) *WaylandCompositor {
	w := &WaylandCompositor{
		display: (*C.struct_wl_display)(display),
		im:      (*C.struct_zwp_input_method_v2)(im),
		vk:      (*C.struct_zwp_virtual_keyboard_v1)(vk),
		log:     log,
	}
	key := uintptr(im)
	registry.Store(key, w)
	C.im_add_listener(w.im, unsafe.Pointer(key))
	return w
}

// SetCallbacks wires the four zwp_input_method_v2 lifecycle events onto the
// handlers internal/lifecycle.Manager implements as OnActivate/OnDeactivate/
// OnDone/OnUnavailable, plus OnKeymap for the keyboard-grab Keymap event.
func (w *WaylandCompositor) SetCallbacks(onActivate, onDeactivate, onDone, onUnavailable func(), onKeymap func(format uint32, fd int, size uint32)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onActivate = onActivate
	w.onDeactivate = onDeactivate
	w.onDone = onDone
	w.onUnavailable = onUnavailable
	w.onKeymap = onKeymap
}

// SetKeyCallbacks wires the keyboard grab's raw Key/Modifiers events. The
// daemon forwards evdev codes to internal/xkbkeymap.State to resolve a
// keysym before internal/coordinator ever sees them; this package stays
// free of an xkbkeymap dependency so the two can be tested independently.
func (w *WaylandCompositor) SetKeyCallbacks(onKey func(evdevCode uint32, pressed bool), onModifiers func(depressed, latched, locked, group uint32)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onKey = onKey
	w.onModifiers = onModifiers
}

// SetRepeatInfoCallback wires the keyboard grab's repeat_info event, sent
// once right after the grab's Keymap event with the compositor's configured
// repeat rate (keys/second) and delay (ms before the first repeat).
func (w *WaylandCompositor) SetRepeatInfoCallback(onRepeatInfo func(rate, delay int32)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onRepeatInfo = onRepeatInfo
}

func (w *WaylandCompositor) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// setActive is called from the Activate/Deactivate listener callbacks, since
// zwp_input_method_v2 has no direct "is a text field focused" getter. The
// value changes as soon as the event arrives, not on the paired Done.
func (w *WaylandCompositor) setActive(v bool) {
	w.mu.Lock()
	w.active = v
	w.mu.Unlock()
}

func (w *WaylandCompositor) HasKeyboardGrab() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasGrab
}

func (w *WaylandCompositor) GrabKeyboard() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hasGrab {
		return false
	}
	grab := C.im_grab_keyboard(w.im)
	if grab == nil {
		return false
	}
	w.grab = grab
	key := uintptr(unsafe.Pointer(grab))
	registry.Store(key, w)
	C.grab_add_listener(grab, unsafe.Pointer(key))
	w.hasGrab = true
	return true
}

func (w *WaylandCompositor) ReleaseKeyboard() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasGrab || w.grab == nil {
		return false
	}
	C.grab_release(w.grab)
	registry.Delete(uintptr(unsafe.Pointer(w.grab)))
	w.grab = nil
	w.hasGrab = false
	if w.virtualKeymapSet {
		C.vk_modifiers(w.vk, 0, 0, 0, 0)
	}
	return true
}

// SetVirtualKeymap loads keymapData onto the virtual keyboard via a memfd,
// required before the compositor will accept modifiers() or key() requests
// on it, per zwp_virtual_keyboard_v1's protocol.
func (w *WaylandCompositor) SetVirtualKeymap(keymapData string) {
	fd, err := createKeymapMemfd(keymapData)
	if err != nil {
		if w.log != nil {
			w.log.Warn("compositor: create keymap memfd failed", "error", err)
		}
		return
	}
	defer fd.Close()

	size := uint32(len(keymapData) + 1)
	C.vk_keymap(w.vk, C.uint32_t(1), C.int32_t(fd.Fd()), C.uint32_t(size))
	w.mu.Lock()
	w.virtualKeymapSet = true
	w.mu.Unlock()
}

// ClearModifiers zeroes the virtual keyboard's modifier state, fixing
// modifiers left stuck by the toggle keybind's own key-up event racing the
// keyboard grab's start.
func (w *WaylandCompositor) ClearModifiers() {
	w.mu.Lock()
	ready := w.virtualKeymapSet
	w.mu.Unlock()
	if !ready {
		return
	}
	C.vk_modifiers(w.vk, 0, 0, 0, 0)
}

func (w *WaylandCompositor) SendVirtualKey(keycode uint32, modsDepressed, modsLatched, modsLocked, group uint32) {
	C.vk_modifiers(w.vk, C.uint32_t(modsDepressed), C.uint32_t(modsLatched), C.uint32_t(modsLocked), C.uint32_t(group))
	C.vk_key(w.vk, 0, C.uint32_t(keycode), 1) // WL_KEYBOARD_KEY_STATE_PRESSED
	C.vk_key(w.vk, 0, C.uint32_t(keycode), 0) // WL_KEYBOARD_KEY_STATE_RELEASED
	C.vk_modifiers(w.vk, 0, 0, 0, 0)
}

func (w *WaylandCompositor) SetPreedit(text string, cursorBegin, cursorEnd int32) {
	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	C.im_set_preedit_string(w.im, ctext, C.int32_t(cursorBegin), C.int32_t(cursorEnd))
	C.im_commit(w.im, w.nextSerial())
}

func (w *WaylandCompositor) CommitString(text string) {
	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	C.im_commit_string(w.im, ctext)
	empty := C.CString("")
	defer C.free(unsafe.Pointer(empty))
	C.im_set_preedit_string(w.im, empty, 0, 0)
	C.im_commit(w.im, w.nextSerial())
}

func (w *WaylandCompositor) DeleteSurrounding(before, after uint32) {
	C.im_delete_surrounding_text(w.im, C.uint32_t(before), C.uint32_t(after))
	C.im_commit(w.im, w.nextSerial())
}

// serialCounter counts the done events received so far; goInputMethodDone
// increments it and every commit request carries its current value.
var serialCounter struct {
	sync.Mutex
	n uint32
}

func (w *WaylandCompositor) nextSerial() C.uint32_t {
	serialCounter.Lock()
	defer serialCounter.Unlock()
	return C.uint32_t(serialCounter.n)
}

// Close destroys the input-method binding only. It does not release a
// keyboard grab that is still held or destroy the virtual keyboard.
func (w *WaylandCompositor) Close() {
	registry.Delete(uintptr(unsafe.Pointer(w.im)))
	C.im_destroy(w.im)
}

func createKeymapMemfd(data string) (*os.File, error) {
	f, err := os.CreateTemp("", "wlime-keymap-*")
	if err != nil {
		return nil, fmt.Errorf("compositor: create keymap tempfile: %w", err)
	}
	os.Remove(f.Name())
	if _, err := f.WriteString(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("compositor: write keymap: %w", err)
	}
	if _, err := f.WriteString("\x00"); err != nil {
		f.Close()
		return nil, fmt.Errorf("compositor: write keymap terminator: %w", err)
	}
	return f, nil
}

//export goInputMethodActivate
func goInputMethodActivate(data unsafe.Pointer) {
	withCompositor(data, func(w *WaylandCompositor) {
		w.setActive(true)
		if w.onActivate != nil {
			w.onActivate()
		}
	})
}

//export goInputMethodDeactivate
func goInputMethodDeactivate(data unsafe.Pointer) {
	withCompositor(data, func(w *WaylandCompositor) {
		w.setActive(false)
		if w.onDeactivate != nil {
			w.onDeactivate()
		}
	})
}

//export goInputMethodDone
func goInputMethodDone(data unsafe.Pointer) {
	withCompositor(data, func(w *WaylandCompositor) {
		serialCounter.Lock()
		serialCounter.n++
		serialCounter.Unlock()
		if w.onDone != nil {
			w.onDone()
		}
	})
}

//export goInputMethodUnavailable
func goInputMethodUnavailable(data unsafe.Pointer) {
	withCompositor(data, func(w *WaylandCompositor) {
		if w.onUnavailable != nil {
			w.onUnavailable()
		}
	})
}

//export goGrabKeymap
func goGrabKeymap(data unsafe.Pointer, format C.uint32_t, fd C.int32_t, size C.uint32_t) {
	withCompositor(data, func(w *WaylandCompositor) {
		if w.onKeymap != nil {
			w.onKeymap(uint32(format), int(fd), uint32(size))
		}
	})
}

//export goGrabKey
func goGrabKey(data unsafe.Pointer, time, key, state C.uint32_t) {
	withCompositor(data, func(w *WaylandCompositor) {
		if w.onKey != nil {
			w.onKey(uint32(key), state == 1)
		}
	})
}

//export goGrabModifiers
func goGrabModifiers(data unsafe.Pointer, depressed, latched, locked, group C.uint32_t) {
	withCompositor(data, func(w *WaylandCompositor) {
		if w.onModifiers != nil {
			w.onModifiers(uint32(depressed), uint32(latched), uint32(locked), uint32(group))
		}
	})
}

//export goGrabRepeatInfo
func goGrabRepeatInfo(data unsafe.Pointer, rate, delay C.int32_t) {
	withCompositor(data, func(w *WaylandCompositor) {
		if w.onRepeatInfo != nil {
			w.onRepeatInfo(int32(rate), int32(delay))
		}
	})
}

func withCompositor(data unsafe.Pointer, fn func(w *WaylandCompositor)) {
	key := uintptr(data)
	v, ok := registry.Load(key)
	if !ok {
		return
	}
	fn(v.(*WaylandCompositor))
}
