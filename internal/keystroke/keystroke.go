// Package keystroke reads key presses from Linux evdev keyboard devices and
// turns them into detector key events.
//
// Barcode scanners in keyboard-wedge mode enumerate as ordinary USB
// keyboards, so the same device node delivers both scanned and typed keys.
// EvdevHost tracks shift and caps lock state itself because evdev reports
// physical key codes, not characters.
//
// Platform support:
// - Linux: /dev/input/event* (requires the input group or root)
// - Others: ErrNotAvailable
package keystroke

import (
	"errors"
)

var (
	// ErrNotAvailable is returned where evdev does not exist.
	ErrNotAvailable = errors.New("keystroke: evdev not available on this platform")

	// ErrNoKeyboard is returned when no device was configured and none
	// could be found.
	ErrNoKeyboard = errors.New("keystroke: no keyboard device found")
)

// EvdevConfig selects and configures the device an EvdevHost reads.
type EvdevConfig struct {
	// Device is the event node. Empty picks the first keyboard.
	Device string

	// Grab takes the device exclusively while attached, so none of its
	// keys reach the console or the display server.
	Grab bool
}

// Keyboard describes a keyboard-capable input device.
type Keyboard struct {
	Path      string `json:"path"`
	Name      string `json:"name"`
	Phys      string `json:"phys,omitempty"`
	Bus       string `json:"bus,omitempty"`
	VendorID  uint16 `json:"vendor_id"`
	ProductID uint16 `json:"product_id"`
}
