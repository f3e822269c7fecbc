//go:build !linux

package keystroke

import (
	"log/slog"

	"scanwedge/internal/detector"
)

// EvdevHost is unavailable off Linux; Attach always fails.
type EvdevHost struct{}

// NewEvdevHost returns a host whose Attach reports ErrNotAvailable.
func NewEvdevHost(cfg EvdevConfig, logger *slog.Logger) *EvdevHost {
	return &EvdevHost{}
}

// Attach implements detector.Host.
func (h *EvdevHost) Attach(detector.Handler) error {
	return ErrNotAvailable
}

// Detach implements detector.Host.
func (h *EvdevHost) Detach() error {
	return nil
}

// Device returns the configured device path.
func (h *EvdevHost) Device() string {
	return ""
}

// ListKeyboards returns ErrNotAvailable off Linux.
func ListKeyboards() ([]Keyboard, error) {
	return nil, ErrNotAvailable
}
