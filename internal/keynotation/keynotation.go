// Package keynotation converts XKB keysyms and modifier state into Vim key
// notation strings suitable for nvim_input. Every function here is a pure,
// side-effect-free translation — no I/O, no mutable state.
package keynotation

import (
	"strconv"
	"strings"
)

// Keysym is a raw XKB keysym value, as delivered by internal/xkbkeymap.
type Keysym uint32

// Keysyms this package special-cases, taken from X11/keysymdef.h.
const (
	KeysymReturn    Keysym = 0xff0d
	KeysymKPEnter   Keysym = 0xff8d
	KeysymBackSpace Keysym = 0xff08
	KeysymTab       Keysym = 0xff09
	KeysymEscape    Keysym = 0xff1b
	KeysymSpace     Keysym = 0x0020
	KeysymLeft      Keysym = 0xff51
	KeysymRight     Keysym = 0xff53
	KeysymUp        Keysym = 0xff52
	KeysymDown      Keysym = 0xff54
	KeysymHome      Keysym = 0xff50
	KeysymEnd       Keysym = 0xff57
	KeysymDelete    Keysym = 0xffff
	KeysymF1        Keysym = 0xffbe
	KeysymF12       Keysym = 0xffc9
	KeysymLowerA    Keysym = 0x0061
	KeysymLowerZ    Keysym = 0x007a
)

// specialKeyName maps a keysym to its Vim special-key name (e.g. Return ->
// "CR"). Returns "", false for letters, digits, and other printable keys.
func specialKeyName(keysym Keysym) (string, bool) {
	if keysym >= KeysymF1 && keysym <= KeysymF12 {
		return "F" + strconv.Itoa(int(keysym-KeysymF1)+1), true
	}
	switch keysym {
	case KeysymReturn, KeysymKPEnter:
		return "CR", true
	case KeysymBackSpace:
		return "BS", true
	case KeysymTab:
		return "Tab", true
	case KeysymEscape:
		return "Esc", true
	case KeysymSpace:
		return "Space", true
	case KeysymLeft:
		return "Left", true
	case KeysymRight:
		return "Right", true
	case KeysymUp:
		return "Up", true
	case KeysymDown:
		return "Down", true
	case KeysymHome:
		return "Home", true
	case KeysymEnd:
		return "End", true
	case KeysymDelete:
		return "Del", true
	default:
		return "", false
	}
}

// keysymToLetter maps a keysym to its lowercase letter, if it is one of the
// keysyms in the a-z range.
func keysymToLetter(keysym Keysym) (rune, bool) {
	if keysym >= KeysymLowerA && keysym <= KeysymLowerZ {
		return rune('a' + (keysym - KeysymLowerA)), true
	}
	return 0, false
}

// IsPrintable reports whether utf8 contains at least one non-control
// character.
func IsPrintable(utf8 string) bool {
	if utf8 == "" {
		return false
	}
	for _, r := range utf8 {
		if r >= 0x20 && r != 0x7f {
			return true
		}
	}
	return false
}

// ToVim converts an XKB keysym plus modifier state to Vim key notation.
// Returns "", false for keys with no Vim representation (bare modifier
// keys). Alt is checked before Ctrl, so Ctrl+Alt+<key> notates as an Alt
// combination.
func ToVim(ctrl, alt bool, keysym Keysym, utf8 string) (string, bool) {
	if alt {
		if name, ok := specialKeyName(keysym); ok {
			return "<A-" + name + ">", true
		}
		if c, ok := keysymToLetter(keysym); ok {
			return "<A-" + string(c) + ">", true
		}
		if IsPrintable(utf8) {
			return "<A-" + strings.ReplaceAll(utf8, "<", "lt") + ">", true
		}
		return "", false
	}

	if ctrl {
		if name, ok := specialKeyName(keysym); ok {
			return "<C-" + name + ">", true
		}
		if c, ok := keysymToLetter(keysym); ok {
			return "<C-" + string(c) + ">", true
		}
		if IsPrintable(utf8) {
			return "<C-" + strings.ReplaceAll(utf8, "<", "lt") + ">", true
		}
		return "", false
	}

	if name, ok := specialKeyName(keysym); ok {
		return "<" + name + ">", true
	}
	if IsPrintable(utf8) {
		return strings.ReplaceAll(utf8, "<", "<lt>"), true
	}
	return "", false
}
