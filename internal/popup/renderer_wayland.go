//go:build linux

package popup

/*
#cgo pkg-config: wayland-client

#include <stdlib.h>
#include <string.h>
#include <wayland-client.h>
#include <wayland-client-protocol.h>

extern const struct wl_interface zwp_input_popup_surface_v2_interface;
static const struct wl_interface zwp_input_popup_surface_v2_interface = {
	"zwp_input_popup_surface_v2", 1, 0, NULL, 0, NULL,
};

enum { IM_GET_INPUT_POPUP_SURFACE = 4 };

static struct wl_proxy *im_get_popup_surface(struct wl_proxy *im, struct wl_surface *surface) {
	return wl_proxy_marshal_flags(im, IM_GET_INPUT_POPUP_SURFACE,
		&zwp_input_popup_surface_v2_interface, wl_proxy_get_version(im), 0, NULL, surface);
}

static struct wl_shm_pool *shm_create_pool(struct wl_shm *shm, int32_t fd, int32_t size) {
	return wl_shm_create_pool(shm, fd, size);
}

static struct wl_buffer *pool_create_buffer(struct wl_shm_pool *pool, int32_t offset, int32_t width, int32_t height, int32_t stride, uint32_t format) {
	return wl_shm_pool_create_buffer(pool, offset, width, height, stride, format);
}
*/
import "C"

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"
	"sync"
	"unsafe"

	"gioui.org/font/gofont"
	"gioui.org/text"
	"gioui.org/unit"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"wlime/internal/logging"
)

var (
	popupBackground = color.RGBA{R: 0x1e, G: 0x1e, B: 0x2a, A: 0xf0}
	popupForeground = color.RGBA{R: 0xe4, G: 0xe4, B: 0xf0, A: 0xff}
)

// WaylandRenderer draws Content into a software SHM buffer attached to the
// zwp_input_popup_surface_v2 the compositor positions near the text cursor.
// Line height is measured through gioui's text.Shaper, matching the corpus's
// UI stack even though this surface never runs a full gio app.Window loop
// (an input-method popup is compositor-positioned, not client-positioned,
// so it doesn't need gio's own windowing); glyphs are drawn with
// basicfont.Face7x13.
type WaylandRenderer struct {
	shm     *C.struct_wl_shm
	surface *C.struct_wl_surface
	popup   *C.struct_wl_proxy

	log    *logging.Logger
	shaper text.Shaper
	conv   unit.Converter

	mu     sync.Mutex
	shown  bool
	width  int
	height int
}

const (
	popupPadding  = 8
	popupLineHt   = 20
	popupMaxWidth = 480
	popupFontSize = 14
)

// unitConverter is a fixed 1:1 device-pixel Converter: the popup surface has
// no independent scale factor of its own to query, so dp/sp collapse to px.
type unitConverter struct{}

func (unitConverter) Px(v unit.Value) int {
	switch v.U {
	case unit.UnitPx:
		return int(v.V)
	default:
		return int(v.V + 0.5)
	}
}

// NewWaylandRenderer wraps an already-created wl_surface and binds a
// zwp_input_popup_surface_v2 to it via the input method object.
func NewWaylandRenderer(shm unsafe.Pointer, im unsafe.Pointer, surface unsafe.Pointer, log *logging.Logger) *WaylandRenderer {
	shaper := text.NewCache(gofont.Collection())
	surf := (*C.struct_wl_surface)(surface)
	popup := C.im_get_popup_surface((*C.struct_wl_proxy)(im), surf)
	return &WaylandRenderer{
		shm:     (*C.struct_wl_shm)(shm),
		surface: surf,
		popup:   popup,
		log:     log,
		shaper:  shaper,
		conv:    unitConverter{},
	}
}

// Update implements Renderer: rasterizes content and commits it to the
// popup surface, or hides the surface if there's nothing to show.
func (r *WaylandRenderer) Update(content Content) {
	if content.IsEmpty() {
		r.Hide()
		return
	}

	lines := layoutLines(content)
	img := r.rasterize(lines)

	if err := r.attach(img); err != nil {
		if r.log != nil {
			r.log.Warn("popup: attach buffer failed", "error", err)
		}
		return
	}

	r.mu.Lock()
	r.shown = true
	r.mu.Unlock()
}

// Hide implements Renderer: detaches the surface's buffer, matching the
// zwp_input_popup_surface_v2 idiom of committing a null buffer to hide.
func (r *WaylandRenderer) Hide() {
	r.mu.Lock()
	wasShown := r.shown
	r.shown = false
	r.mu.Unlock()

	if !wasShown {
		return
	}
	C.wl_surface_attach(r.surface, nil, 0, 0)
	C.wl_surface_commit(r.surface)
}

// layoutLines turns Content into the flat list of display lines the popup
// shows: the preedit text as-is (no cursor marker), the keypress trail, the
// command-line echo, the candidate list with its selection marker, the
// recording indicator while the blink is on, and any transient message —
// matching coordinator.rs's PopupContent -> rendered-lines mapping.
func layoutLines(content Content) []string {
	var lines []string

	if content.Preedit != "" {
		lines = append(lines, content.Preedit)
	}

	if len(content.KeypressEntries) > 0 {
		trail := ""
		for _, e := range content.KeypressEntries {
			trail += e
		}
		lines = append(lines, trail)
	}

	if content.HasCmdline {
		lines = append(lines, content.CmdlineText)
	}

	for i, c := range content.Candidates {
		marker := "  "
		if i == content.SelectedCandidate {
			marker = "> "
		}
		lines = append(lines, marker+c)
	}

	if content.Recording != "" && content.RecBlinkOn {
		lines = append(lines, "recording @"+content.Recording)
	}

	if content.TransientMessage != "" {
		lines = append(lines, content.TransientMessage)
	}

	return lines
}

// rasterize draws lines onto an RGBA image sized to fit them. Line height
// comes from r.shaper's metrics at popupFontSize (see lineHeight); the text
// itself is drawn with basicfont.Face7x13, and no font setting from the
// daemon's config is used.
func (r *WaylandRenderer) rasterize(lines []string) *image.RGBA {
	lineHeight := r.lineHeight()
	width := popupMaxWidth
	height := popupPadding*2 + len(lines)*lineHeight
	if height < lineHeight {
		height = lineHeight
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	bg := image.NewUniform(popupBackground)
	draw.Draw(img, img.Bounds(), bg, image.Point{}, draw.Src)

	y := popupPadding
	for _, line := range lines {
		drawTextLine(img, line, popupPadding, y+lineHeight-6)
		y += lineHeight
	}

	return img
}

// lineHeight asks the shaper for the configured font's line metrics rather
// than assuming a fixed pixel value, so a future font-size config change
// resizes the popup instead of clipping text.
func (r *WaylandRenderer) lineHeight() int {
	popupFont := text.Font{Size: unit.Sp(popupFontSize)}
	lines, err := r.shaper.Layout(r.conv, popupFont, strings.NewReader("Mg"), text.LayoutOptions{MaxWidth: popupMaxWidth})
	if err != nil || len(lines) == 0 {
		return popupLineHt
	}
	h := (lines[0].Ascent + lines[0].Descent).Ceil() + 6
	if h < 12 {
		h = popupLineHt
	}
	return h
}

func drawTextLine(img *image.RGBA, line string, x, baseline int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(popupForeground),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(line)
}

func (r *WaylandRenderer) attach(img *image.RGBA) error {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	stride := w * 4

	f, err := os.CreateTemp("", "wlime-popup-*")
	if err != nil {
		return fmt.Errorf("popup: create shm tempfile: %w", err)
	}
	defer f.Close()
	os.Remove(f.Name())

	if err := f.Truncate(int64(stride * h)); err != nil {
		return fmt.Errorf("popup: truncate shm file: %w", err)
	}
	if _, err := f.WriteAt(bgraBytes(img), 0); err != nil {
		return fmt.Errorf("popup: write shm pixels: %w", err)
	}

	pool := C.shm_create_pool(r.shm, C.int32_t(f.Fd()), C.int32_t(stride*h))
	if pool == nil {
		return fmt.Errorf("popup: wl_shm_create_pool failed")
	}
	defer C.wl_shm_pool_destroy(pool)

	buf := C.pool_create_buffer(pool, 0, C.int32_t(w), C.int32_t(h), C.int32_t(stride), C.uint32_t(0)) // WL_SHM_FORMAT_ARGB8888
	if buf == nil {
		return fmt.Errorf("popup: wl_shm_pool_create_buffer failed")
	}

	C.wl_surface_attach(r.surface, buf, 0, 0)
	C.wl_surface_damage_buffer(r.surface, 0, 0, C.int32_t(w), C.int32_t(h))
	C.wl_surface_commit(r.surface)

	r.mu.Lock()
	r.width, r.height = w, h
	r.mu.Unlock()

	return nil
}

// bgraBytes converts img to the byte-swapped BGRA layout WL_SHM_FORMAT_ARGB8888
// expects on little-endian hosts.
func bgraBytes(img *image.RGBA) []byte {
	out := make([]byte, len(img.Pix))
	for i := 0; i+3 < len(img.Pix); i += 4 {
		r, g, b, a := img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]
		out[i+0] = b
		out[i+1] = g
		out[i+2] = r
		out[i+3] = a
	}
	return out
}

// Close releases the popup surface binding.
func (r *WaylandRenderer) Close() {
	C.wl_proxy_destroy(r.popup)
}
