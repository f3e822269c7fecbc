package detector

import (
	"log/slog"
	"time"

	"scanwedge/internal/clock"
)

// Defaults for a detector constructed without options.
const (
	DefaultMaxDelay       = 10 * time.Millisecond
	DefaultTerminationKey = "Enter"
	DefaultMinLength      = 3
	DefaultMaxLength      = 100
)

// Options is the immutable configuration of one detector. Values are not
// range checked; zero or negative limits simply produce degenerate runs.
type Options struct {
	MaxDelay       time.Duration
	TerminationKey string
	MinLength      int
	MaxLength      int
	Debug          bool
	PreventDefault bool

	// PassTerminationKey leaves the termination key's default action
	// alone when PreventDefault is set.
	PassTerminationKey bool
}

// DefaultOptions returns the options used when none are supplied.
func DefaultOptions() Options {
	return Options{
		MaxDelay:       DefaultMaxDelay,
		TerminationKey: DefaultTerminationKey,
		MinLength:      DefaultMinLength,
		MaxLength:      DefaultMaxLength,
	}
}

type settings struct {
	Options
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer
}

// Option overrides a single setting.
type Option func(*settings)

// WithOptions replaces every detector option at once.
func WithOptions(o Options) Option {
	return func(s *settings) { s.Options = o }
}

// WithMaxDelay sets the longest gap between keys of a single scan.
func WithMaxDelay(d time.Duration) Option {
	return func(s *settings) { s.MaxDelay = d }
}

// WithTerminationKey sets the key that explicitly ends a run.
func WithTerminationKey(key string) Option {
	return func(s *settings) { s.TerminationKey = key }
}

// WithMinLength sets the shortest run that is emitted as a scan.
func WithMinLength(n int) Option {
	return func(s *settings) { s.MinLength = n }
}

// WithMaxLength sets the buffer length at which a run is dropped.
func WithMaxLength(n int) Option {
	return func(s *settings) { s.MaxLength = n }
}

// WithDebug attaches a per-keystroke timing trace to every result.
func WithDebug(enabled bool) Option {
	return func(s *settings) { s.Debug = enabled }
}

// WithPreventDefault suppresses the host's default action for every
// accepted key press.
func WithPreventDefault(enabled bool) Option {
	return func(s *settings) { s.PreventDefault = enabled }
}

// WithPassTerminationKey exempts the termination key from PreventDefault.
func WithPassTerminationKey(enabled bool) Option {
	return func(s *settings) { s.PassTerminationKey = enabled }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithLogger sets the sink for listener failures and debug output.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithObserver registers hooks for metrics.
func WithObserver(o Observer) Option {
	return func(s *settings) { s.observer = o }
}
