package ime

import "fmt"

// IBus key event state masks
const (
	IBusShiftMask   uint32 = 1 << 0
	IBusLockMask    uint32 = 1 << 1
	IBusControlMask uint32 = 1 << 2
	IBusMod1Mask    uint32 = 1 << 3 // Alt
	IBusMod4Mask    uint32 = 1 << 6 // Super/Meta
	IBusReleaseMask uint32 = 1 << 30
)

// Common X11 key symbols
const (
	XKBackSpace  = 0xff08
	XKTab        = 0xff09
	XKReturn     = 0xff0d
	XKEscape     = 0xff1b
	XKDelete     = 0xffff
	XKKPEnter    = 0xff8d
	XKISOLeftTab = 0xfe20
	XKF1         = 0xffbe
	XKF12        = 0xffc9
	XKKP0        = 0xffb0
	XKKP9        = 0xffb9
)

var namedKeysyms = map[uint32]string{
	XKBackSpace:  "Backspace",
	XKTab:        "Tab",
	XKISOLeftTab: "Tab",
	XKReturn:     "Enter",
	XKKPEnter:    "Enter",
	XKEscape:     "Escape",
	XKDelete:     "Delete",
	0xff50:       "Home",
	0xff51:       "ArrowLeft",
	0xff52:       "ArrowUp",
	0xff53:       "ArrowRight",
	0xff54:       "ArrowDown",
	0xff55:       "PageUp",
	0xff56:       "PageDown",
	0xff57:       "End",
	0xff63:       "Insert",
	0xff7f:       "NumLock",
	0xffaa:       "*",
	0xffab:       "+",
	0xffad:       "-",
	0xffae:       ".",
	0xffaf:       "/",
	0xffe1:       "Shift",
	0xffe2:       "Shift",
	0xffe3:       "Control",
	0xffe4:       "Control",
	0xffe5:       "CapsLock",
	0xffe9:       "Alt",
	0xffea:       "Alt",
	0xffeb:       "Meta",
	0xffec:       "Meta",
}

// keyvalToRune converts X11 keysym to Unicode rune.
func keyvalToRune(keyval uint32) rune {
	// Direct Unicode mapping for Latin-1 range
	if keyval >= 0x20 && keyval <= 0x7e {
		return rune(keyval)
	}

	// Extended Latin (ISO 8859-1)
	if keyval >= 0xa0 && keyval <= 0xff {
		return rune(keyval)
	}

	// Unicode keysyms (0x01000000 + codepoint)
	if keyval >= 0x01000000 && keyval <= 0x0110ffff {
		return rune(keyval - 0x01000000)
	}

	return 0
}

// KeysymName returns the key identifier for an X11 keysym: the character
// for printable keys, a name such as "Enter" otherwise, or "Unidentified".
func KeysymName(keyval uint32) string {
	if name, ok := namedKeysyms[keyval]; ok {
		return name
	}
	if keyval >= XKKP0 && keyval <= XKKP9 {
		return string(rune('0' + keyval - XKKP0))
	}
	if keyval >= XKF1 && keyval <= XKF12 {
		return fmt.Sprintf("F%d", keyval-XKF1+1)
	}
	if r := keyvalToRune(keyval); r != 0 {
		return string(r)
	}
	return "Unidentified"
}
