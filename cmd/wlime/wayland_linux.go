//go:build linux

package main

/*
#cgo pkg-config: wayland-client

#include <stdlib.h>
#include <string.h>
#include <wayland-client.h>
#include <wayland-client-protocol.h>

// The two manager globals wlime binds are, like zwp_input_method_v2 and
// zwp_virtual_keyboard_v1 in internal/compositor's binding, unstable
// extensions libwayland-client ships no generated headers for. Interface
// descriptors are redeclared here (static, so this translation unit gets
// its own copy) rather than shared across files, matching how each cgo
// preamble in this repository is its own compilation unit.
extern const struct wl_interface zwp_input_method_v2_interface;
extern const struct wl_interface zwp_virtual_keyboard_v1_interface;
extern const struct wl_interface zwp_input_method_manager_v2_interface;
extern const struct wl_interface zwp_virtual_keyboard_manager_v1_interface;

static const struct wl_interface zwp_input_method_v2_interface = {
	"zwp_input_method_v2", 1, 0, NULL, 0, NULL,
};
static const struct wl_interface zwp_virtual_keyboard_v1_interface = {
	"zwp_virtual_keyboard_v1", 1, 0, NULL, 0, NULL,
};
static const struct wl_interface zwp_input_method_manager_v2_interface = {
	"zwp_input_method_manager_v2", 1, 0, NULL, 0, NULL,
};
static const struct wl_interface zwp_virtual_keyboard_manager_v1_interface = {
	"zwp_virtual_keyboard_manager_v1", 1, 0, NULL, 0, NULL,
};

enum { IMM_GET_INPUT_METHOD = 0 };
enum { VKM_CREATE_VIRTUAL_KEYBOARD = 0 };

static struct wl_proxy *imm_get_input_method(struct wl_proxy *imm, struct wl_seat *seat) {
	return wl_proxy_marshal_flags(imm, IMM_GET_INPUT_METHOD,
		&zwp_input_method_v2_interface, wl_proxy_get_version(imm), 0, seat);
}

static struct wl_proxy *vkm_create_virtual_keyboard(struct wl_proxy *vkm, struct wl_seat *seat) {
	return wl_proxy_marshal_flags(vkm, VKM_CREATE_VIRTUAL_KEYBOARD,
		&zwp_virtual_keyboard_v1_interface, wl_proxy_get_version(vkm), 0, seat);
}

extern void wlimeRegistryGlobal(void *data, struct wl_registry *reg, uint32_t name, char *interface, uint32_t version);

static void on_registry_global(void *data, struct wl_registry *reg, uint32_t name, const char *interface, uint32_t version) {
	wlimeRegistryGlobal(data, reg, name, (char *)interface, version);
}
static void on_registry_global_remove(void *data, struct wl_registry *reg, uint32_t name) {}

static const struct wl_registry_listener wlime_registry_listener = {
	.global = on_registry_global,
	.global_remove = on_registry_global_remove,
};

static struct wl_registry *wlime_get_registry(struct wl_display *display) {
	struct wl_registry *reg = wl_display_get_registry(display);
	wl_registry_add_listener(reg, &wlime_registry_listener, NULL);
	return reg;
}
*/
import "C"

import (
	"errors"
	"unsafe"
)

// waylandConn owns the single display connection cmd/wlime keeps: the
// registry-bound globals internal/compositor and internal/popup need
// (compositor, seat, shm) plus the two unstable-extension managers used to
// create the input-method and virtual-keyboard objects those packages wrap.
// A process talks to exactly one compositor, so this is a package-level
// singleton rather than a value threaded through every call — the registry
// global callback has no natural place to carry a Go receiver otherwise,
// short of the same pointer-identity registry internal/compositor uses.
type waylandConn struct {
	display *C.struct_wl_display

	compositor *C.struct_wl_compositor
	seat       *C.struct_wl_seat
	shm        *C.struct_wl_shm
	imManager  *C.struct_wl_proxy
	vkManager  *C.struct_wl_proxy
}

var activeConn *waylandConn

// connectWayland connects to the default display and blocks until the
// registry has reported (and this file has bound) every global the
// coordination layer needs. It fails closed: a compositor with no
// input-method manager (another IME already running, or a compositor that
// doesn't implement the protocol) is reported as an error, not a degraded
// mode, since wlime has no useful work to do without it.
func connectWayland() (*waylandConn, error) {
	disp := C.wl_display_connect(nil)
	if disp == nil {
		return nil, errors.New("wayland: wl_display_connect failed, is a Wayland session running?")
	}

	conn := &waylandConn{display: disp}
	activeConn = conn

	reg := C.wlime_get_registry(disp)
	if reg == nil {
		C.wl_display_disconnect(disp)
		return nil, errors.New("wayland: wl_display_get_registry failed")
	}

	// Two roundtrips: the first delivers the registry's initial global
	// events, the second flushes anything a bind request's own reply
	// triggers (harmless if nothing does).
	C.wl_display_roundtrip(disp)
	C.wl_display_roundtrip(disp)

	switch {
	case conn.compositor == nil:
		return nil, errors.New("wayland: compositor has no wl_compositor global")
	case conn.seat == nil:
		return nil, errors.New("wayland: compositor has no wl_seat global")
	case conn.shm == nil:
		return nil, errors.New("wayland: compositor has no wl_shm global")
	case conn.imManager == nil:
		return nil, errors.New("wayland: compositor has no zwp_input_method_manager_v2 (unsupported compositor, or another IME already bound it)")
	case conn.vkManager == nil:
		return nil, errors.New("wayland: compositor has no zwp_virtual_keyboard_manager_v1")
	}

	return conn, nil
}

//export wlimeRegistryGlobal
func wlimeRegistryGlobal(data unsafe.Pointer, reg *C.struct_wl_registry, name C.uint32_t, cIface *C.char, version C.uint32_t) {
	if activeConn == nil {
		return
	}
	switch C.GoString(cIface) {
	case "wl_compositor":
		activeConn.compositor = (*C.struct_wl_compositor)(C.wl_registry_bind(reg, name, &C.wl_compositor_interface, 4))
	case "wl_seat":
		activeConn.seat = (*C.struct_wl_seat)(C.wl_registry_bind(reg, name, &C.wl_seat_interface, 5))
	case "wl_shm":
		activeConn.shm = (*C.struct_wl_shm)(C.wl_registry_bind(reg, name, &C.wl_shm_interface, 1))
	case "zwp_input_method_manager_v2":
		activeConn.imManager = (*C.struct_wl_proxy)(C.wl_registry_bind(reg, name, &zwp_input_method_manager_v2_interface, 1))
	case "zwp_virtual_keyboard_manager_v1":
		activeConn.vkManager = (*C.struct_wl_proxy)(C.wl_registry_bind(reg, name, &zwp_virtual_keyboard_manager_v1_interface, 1))
	}
}

// getInputMethod creates this seat's zwp_input_method_v2 object.
func (c *waylandConn) getInputMethod() unsafe.Pointer {
	return unsafe.Pointer(C.imm_get_input_method(c.imManager, c.seat))
}

// createVirtualKeyboard creates this seat's zwp_virtual_keyboard_v1 object.
func (c *waylandConn) createVirtualKeyboard() unsafe.Pointer {
	return unsafe.Pointer(C.vkm_create_virtual_keyboard(c.vkManager, c.seat))
}

// createSurface creates a plain wl_surface for the popup renderer to bind
// a zwp_input_popup_surface_v2 onto.
func (c *waylandConn) createSurface() unsafe.Pointer {
	return unsafe.Pointer(C.wl_compositor_create_surface(c.compositor))
}

func (c *waylandConn) shmPointer() unsafe.Pointer     { return unsafe.Pointer(c.shm) }
func (c *waylandConn) displayPointer() unsafe.Pointer { return unsafe.Pointer(c.display) }

// dispatch blocks in wl_display_dispatch until the next batch of events is
// processed or the connection errors out. Run in its own goroutine; the
// callbacks it triggers (internal/compositor's //export functions) only
// ever enqueue onto channels the main reactor drains, so this goroutine
// never touches coordination-layer state directly.
func (c *waylandConn) dispatch() error {
	if C.wl_display_dispatch(c.display) < 0 {
		return errors.New("wayland: wl_display_dispatch failed, compositor connection lost")
	}
	return nil
}

func (c *waylandConn) close() {
	C.wl_display_disconnect(c.display)
}
