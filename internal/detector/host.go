package detector

import (
	"errors"
	"sync"
)

// ErrAlreadyAttached is returned by hosts that accept a single observer.
var ErrAlreadyAttached = errors.New("host already has an attached handler")

// KeyEvent is one raw key press delivered by a host. The detector reads the
// time itself; hosts only supply the key identifier.
type KeyEvent struct {
	// Key is a single character for printable keys, or a symbolic name
	// such as "Enter" or "Shift".
	Key string

	prevent func()
}

// NewKeyEvent returns an event whose PreventDefault calls prevent. prevent
// may be nil for hosts without a default action.
func NewKeyEvent(key string, prevent func()) KeyEvent {
	return KeyEvent{Key: key, prevent: prevent}
}

// PreventDefault asks the host not to perform the key's normal action.
func (e KeyEvent) PreventDefault() {
	if e.prevent != nil {
		e.prevent()
	}
}

// Handler receives key presses from a host.
type Handler func(KeyEvent)

// Host is a key-press stream at the broadest scope the platform offers.
type Host interface {
	// Attach starts delivering key presses to h.
	Attach(h Handler) error
	// Detach stops delivery. Detaching a detached host is a no-op.
	Detach() error
}

// LossReporter is implemented by hosts whose key stream can end without
// Detach, such as an unplugged device. The detector does not notice a lost
// host; its owner watches Lost and rebuilds or reports.
type LossReporter interface {
	// Lost returns a channel closed when the current attachment ends on
	// its own. It is nil before the first Attach.
	Lost() <-chan struct{}
	// Err returns why the last attachment ended, or nil.
	Err() error
}

// ManualHost is a Host driven by code. Tests and trace replay use it.
type ManualHost struct {
	mu       sync.Mutex
	handler  Handler
	attaches int
	detaches int
	lost     chan struct{}
	err      error
}

// NewManualHost returns a detached ManualHost.
func NewManualHost() *ManualHost {
	return &ManualHost{}
}

// Attach implements Host.
func (m *ManualHost) Attach(h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handler != nil {
		return ErrAlreadyAttached
	}
	m.handler = h
	m.attaches++
	m.lost = make(chan struct{})
	m.err = nil
	return nil
}

// Detach implements Host.
func (m *ManualHost) Detach() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handler == nil {
		return nil
	}
	m.handler = nil
	m.detaches++
	return nil
}

// Fail ends the current attachment as if the key source went away. It is
// a no-op while detached.
func (m *ManualHost) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handler == nil {
		return
	}
	m.handler = nil
	m.detaches++
	m.err = err
	close(m.lost)
}

// Lost implements LossReporter.
func (m *ManualHost) Lost() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lost
}

// Err implements LossReporter.
func (m *ManualHost) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Press delivers key to the attached handler, if any, and reports whether
// the handler prevented the default action.
func (m *ManualHost) Press(key string) (prevented bool) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()

	if h == nil {
		return false
	}
	h(NewKeyEvent(key, func() { prevented = true }))
	return prevented
}

// Attached reports whether a handler is attached.
func (m *ManualHost) Attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler != nil
}

// Attaches returns how many times a handler was attached.
func (m *ManualHost) Attaches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attaches
}

// Detaches returns how many attached handlers were detached.
func (m *ManualHost) Detaches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detaches
}
