// Package detector tells barcode-scanner input apart from human typing.
//
// A scanner is a keyboard that types very fast. The Detector buffers single
// character key presses and keeps a run going while each key arrives within
// MaxDelay of the previous one. A run ends either on the termination key or
// when the inactivity timer fires; runs of at least MinLength characters are
// emitted as a Result to every subscriber, shorter ones are dropped. A run
// that grows to MaxLength is dropped as a stuck scan.
//
// The detector attaches to its Host lazily: only while at least one
// listener is subscribed.
package detector

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"scanwedge/internal/clock"
	"scanwedge/internal/logging"
)

// ErrNilListener is returned when subscribing a nil listener.
var ErrNilListener = errors.New("detector: nil listener")

// Keystroke is one accepted character in a debug trace.
type Keystroke struct {
	Key       string        `json:"key"`
	Timestamp time.Time     `json:"timestamp"`
	Delay     time.Duration `json:"delay"`
}

// Result is a completed scan. Keystrokes is nil unless debug tracing is
// enabled.
type Result struct {
	Barcode    string      `json:"barcode"`
	Timestamp  time.Time   `json:"timestamp"`
	Keystrokes []Keystroke `json:"keystrokes,omitempty"`
}

// Listener receives scans. Implementations must be comparable (typically a
// pointer) since the subscriber set is keyed by identity.
type Listener interface {
	HandleScan(Result) error
}

type funcListener struct {
	fn func(Result) error
}

func (f *funcListener) HandleScan(r Result) error {
	return f.fn(r)
}

// Func adapts fn to a Listener. Every call returns a distinct listener;
// keep the returned value to subscribe the same listener twice.
func Func(fn func(Result) error) Listener {
	return &funcListener{fn: fn}
}

// Detector is the scan state machine. It is safe for concurrent use: host
// goroutines and timer callbacks are serialized internally.
type Detector struct {
	host     Host
	opts     Options
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer

	// hostMu orders attach/detach edges; mu guards everything below.
	hostMu sync.Mutex
	mu     sync.Mutex

	listeners []Listener
	active    bool

	buffer []string
	trace  []Keystroke
	last   time.Time
	timer  clock.Timer
	gen    uint64
}

type emission struct {
	result    Result
	listeners []Listener
}

// New returns a detector bound to host. It does not attach until the first
// Subscribe.
func New(host Host, opts ...Option) *Detector {
	s := settings{Options: DefaultOptions()}
	for _, opt := range opts {
		opt(&s)
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = logging.Default().WithComponent("detector").Logger
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}

	return &Detector{
		host:     host,
		opts:     s.Options,
		clock:    s.clock,
		logger:   s.logger,
		observer: s.observer,
	}
}

// Options returns the detector's configuration.
func (d *Detector) Options() Options {
	return d.opts
}

// Active reports whether the detector is attached to its host.
func (d *Detector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Len returns the number of subscribed listeners.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

// Subscribe registers l and returns a function that removes it again.
// Subscribing an already registered listener is a no-op, but still returns
// a working unsubscribe. The first subscriber attaches the host; if that
// fails the error is returned and l is not registered.
func (d *Detector) Subscribe(l Listener) (func(), error) {
	if l == nil {
		return nil, ErrNilListener
	}

	d.hostMu.Lock()
	defer d.hostMu.Unlock()

	d.mu.Lock()
	known := d.indexLocked(l) >= 0
	attach := !known && len(d.listeners) == 0
	d.mu.Unlock()

	if attach {
		if err := d.host.Attach(d.HandleKey); err != nil {
			return nil, fmt.Errorf("attach host: %w", err)
		}
	}

	if !known {
		d.mu.Lock()
		d.listeners = append(d.listeners, l)
		if attach {
			d.active = true
		}
		d.mu.Unlock()
	}

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(l) })
	}, nil
}

// SubscribeOnce registers l for a single scan. The subscription is removed
// before l runs, so l sees at most one result even if it re-enters the
// detector.
func (d *Detector) SubscribeOnce(l Listener) (func(), error) {
	if l == nil {
		return nil, ErrNilListener
	}
	o := &onceListener{next: l}
	o.detach = func() { d.remove(o) }
	return d.Subscribe(o)
}

type onceListener struct {
	next   Listener
	detach func()
	fired  atomic.Bool
}

func (o *onceListener) HandleScan(r Result) error {
	if !o.fired.CompareAndSwap(false, true) {
		return nil
	}
	o.detach()
	return o.next.HandleScan(r)
}

func (d *Detector) remove(l Listener) {
	d.hostMu.Lock()
	defer d.hostMu.Unlock()

	d.mu.Lock()
	i := d.indexLocked(l)
	if i < 0 {
		d.mu.Unlock()
		return
	}
	d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
	detach := len(d.listeners) == 0 && d.active
	if detach {
		d.active = false
		d.resetLocked()
	}
	d.mu.Unlock()

	if detach {
		if err := d.host.Detach(); err != nil {
			d.logger.Warn("detach host", "error", err)
		}
	}
}

// Destroy drops every subscriber, detaches the host and clears any run in
// progress. It is safe to call more than once.
func (d *Detector) Destroy() {
	d.hostMu.Lock()
	defer d.hostMu.Unlock()

	d.mu.Lock()
	d.listeners = nil
	d.active = false
	d.resetLocked()
	d.mu.Unlock()

	if err := d.host.Detach(); err != nil {
		d.logger.Warn("detach host", "error", err)
	}
}

func (d *Detector) indexLocked(l Listener) int {
	for i, cand := range d.listeners {
		if cand == l {
			return i
		}
	}
	return -1
}

// HandleKey classifies one key press. Hosts call it through the Handler
// passed to Attach; it is exported for hosts that are wired by hand.
func (d *Detector) HandleKey(ev KeyEvent) {
	var out []*emission

	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}

	term := ev.Key == d.opts.TerminationKey
	if !term && utf8.RuneCountInString(ev.Key) != 1 {
		d.observer.KeyIgnored()
		d.mu.Unlock()
		return
	}

	if d.opts.PreventDefault && !(term && d.opts.PassTerminationKey) {
		ev.PreventDefault()
	}

	now := d.clock.Now()

	// The previous run's timer may not have been serviced yet.
	if len(d.buffer) > 0 && !d.last.IsZero() && now.Sub(d.last) >= d.opts.MaxDelay {
		if e := d.evaluateLocked(now); e != nil {
			out = append(out, e)
		}
	}

	var delay time.Duration
	if !d.last.IsZero() {
		delay = now.Sub(d.last)
	}
	d.last = now

	switch {
	case term:
		if e := d.evaluateLocked(now); e != nil {
			out = append(out, e)
		}
	case len(d.buffer) >= d.opts.MaxLength:
		d.discardLocked(ReasonOverflow)
	default:
		d.buffer = append(d.buffer, ev.Key)
		if d.opts.Debug {
			d.trace = append(d.trace, Keystroke{Key: ev.Key, Timestamp: now, Delay: delay})
		}
		d.observer.KeyAccepted()
		d.scheduleLocked()
	}
	d.mu.Unlock()

	for _, e := range out {
		d.deliver(e)
	}
}

// scheduleLocked replaces the pending inactivity timer.
func (d *Detector) scheduleLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.opts.MaxDelay, func() { d.expire(gen) })
}

func (d *Detector) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	e := d.evaluateLocked(d.clock.Now())
	d.mu.Unlock()

	if e != nil {
		d.deliver(e)
	}
}

// evaluateLocked ends the current run: it returns the scan to deliver when
// the run is long enough and discards it otherwise. State is reset either
// way.
func (d *Detector) evaluateLocked(now time.Time) *emission {
	if len(d.buffer) < d.opts.MinLength {
		d.discardLocked(ReasonTooShort)
		return nil
	}

	r := Result{
		Barcode:   strings.Join(d.buffer, ""),
		Timestamp: now,
	}
	if d.opts.Debug {
		r.Keystrokes = make([]Keystroke, len(d.trace))
		copy(r.Keystrokes, d.trace)
	}
	e := &emission{
		result:    r,
		listeners: append([]Listener(nil), d.listeners...),
	}
	d.resetLocked()

	d.observer.ScanEmitted(r)
	d.logger.Debug("scan detected",
		"barcode", logging.Barcode(r.Barcode),
		"length", utf8.RuneCountInString(r.Barcode),
		"listeners", len(e.listeners))
	return e
}

func (d *Detector) discardLocked(reason DiscardReason) {
	if n := len(d.buffer); n > 0 {
		d.observer.RunDiscarded(reason, n)
	}
	d.resetLocked()
}

func (d *Detector) resetLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.buffer = d.buffer[:0]
	d.trace = d.trace[:0]
	d.last = time.Time{}
}

func (d *Detector) deliver(e *emission) {
	for _, l := range e.listeners {
		r := e.result
		if r.Keystrokes != nil {
			r.Keystrokes = append([]Keystroke(nil), r.Keystrokes...)
		}
		d.invoke(l, r)
	}
}

func (d *Detector) invoke(l Listener, r Result) {
	defer func() {
		if p := recover(); p != nil {
			d.observer.ListenerFailed()
			d.logger.Error("error in scan listener", "panic", p)
		}
	}()

	if err := l.HandleScan(r); err != nil {
		d.observer.ListenerFailed()
		d.logger.Error("error in scan listener", "error", err)
	}
}
