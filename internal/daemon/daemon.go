// Package daemon runs one scan detector against the configured key source
// and forwards scans to the configured output.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"scanwedge/internal/clock"
	"scanwedge/internal/config"
	"scanwedge/internal/detector"
	"scanwedge/internal/health"
	"scanwedge/internal/ime"
	"scanwedge/internal/keystroke"
	"scanwedge/internal/logging"
	"scanwedge/internal/metrics"
	"scanwedge/internal/output"
)

const shutdownTimeout = 5 * time.Second

// HostFactory builds the key-event host for a configuration.
type HostFactory func(cfg *config.Config) (detector.Host, error)

// NewHost is the default HostFactory.
func NewHost(cfg *config.Config) (detector.Host, error) {
	switch cfg.Source.Type {
	case config.SourceEvdev:
		return keystroke.NewEvdevHost(keystroke.EvdevConfig{
			Device: cfg.Source.Device,
			Grab:   cfg.Source.Grab,
		}, nil), nil
	case config.SourceIBus:
		return ime.NewIBusHost(ime.IBusConfig{
			BusName: cfg.Source.IBusBusName,
		}, nil), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithHostFactory replaces NewHost.
func WithHostFactory(f HostFactory) Option {
	return func(d *Daemon) { d.newHost = f }
}

// WithLogger sets the logger the daemon and its detectors log to.
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) { d.base = l }
}

// WithOutput writes scans to w instead of the configured output path.
func WithOutput(w io.Writer) Option {
	return func(d *Daemon) {
		d.openOutput = func(string) (io.WriteCloser, error) {
			return nopCloser{w}, nil
		}
	}
}

// WithClock sets the clock handed to every detector.
func WithClock(c clock.Clock) Option {
	return func(d *Daemon) { d.clock = c }
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Daemon owns the detector, its host and its sink. A configuration change
// replaces all three.
type Daemon struct {
	base       *slog.Logger
	logger     *slog.Logger
	newHost    HostFactory
	openOutput func(path string) (io.WriteCloser, error)
	clock      clock.Clock
	metrics    *metrics.Metrics
	health     *health.Checker

	mu       sync.Mutex
	cfg      *config.Config
	pipeline *pipeline
	listener net.Listener
}

// pipeline is one detector instance with its sink.
type pipeline struct {
	host        detector.Host
	det         *detector.Detector
	sink        *trackingSink
	writer      io.WriteCloser
	unsubscribe func()
	stopped     chan struct{}
}

// New returns a daemon for cfg. cfg must be valid.
func New(cfg *config.Config, opts ...Option) *Daemon {
	d := &Daemon{
		cfg:        cfg,
		newHost:    NewHost,
		openOutput: output.Open,
		metrics:    metrics.New(cfg.Source.Type),
		health:     health.NewChecker(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.base == nil {
		d.base = logging.Default().Logger
	}
	d.logger = d.base.With("component", "daemon")

	d.health.Register("host", true, d.hostCheck)
	d.health.Register("output", false, d.outputCheck)
	return d
}

// Metrics returns the daemon's collectors.
func (d *Daemon) Metrics() *metrics.Metrics {
	return d.metrics
}

// Health returns the daemon's health checker.
func (d *Daemon) Health() *health.Checker {
	return d.health
}

// Config returns the configuration in effect.
func (d *Daemon) Config() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Detector returns the running detector, or nil.
func (d *Daemon) Detector() *detector.Detector {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pipeline == nil {
		return nil
	}
	return d.pipeline.det
}

// MetricsAddr returns the bound metrics address, or "" when not serving.
func (d *Daemon) MetricsAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Run starts the pipeline and the metrics server and blocks until ctx is
// done.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	cfg := d.cfg
	p, err := d.start(cfg)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.pipeline = p
	d.mu.Unlock()

	var srv *http.Server
	if cfg.Metrics.Listen != "" {
		srv, err = d.serve(cfg.Metrics.Listen)
		if err != nil {
			d.stopPipeline()
			return err
		}
	}

	d.health.SetReady(true)
	d.logger.Info("scanwedge running",
		"source", cfg.Source.Type,
		"max_delay_ms", cfg.Detector.MaxDelayMs,
		"min_length", cfg.Detector.MinBarcodeLength,
		"metrics", d.MetricsAddr())

	<-ctx.Done()

	d.health.SetReady(false)
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn("metrics server shutdown", "error", err)
		}
	}
	d.stopPipeline()
	d.logger.Info("scanwedge stopped")
	return nil
}

// Reload replaces the detector, host and sink with ones built from cfg.
// When the new pipeline cannot start, the previous configuration is
// restored and the error returned. The metrics listen address and the
// source label on every metric only change on restart.
func (d *Daemon) Reload(cfg *config.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pipeline == nil {
		d.cfg = cfg
		return nil
	}

	if cfg.Metrics.Listen != d.cfg.Metrics.Listen {
		d.logger.Warn("metrics listen address change needs a restart",
			"current", d.cfg.Metrics.Listen, "configured", cfg.Metrics.Listen)
	}
	if cfg.Source.Type != d.cfg.Source.Type {
		d.logger.Warn("metrics source label change needs a restart",
			"current", d.cfg.Source.Type, "configured", cfg.Source.Type)
	}

	old := d.cfg
	d.stopLocked()

	p, err := d.start(cfg)
	if err != nil {
		d.logger.Error("reload failed, restoring previous configuration", "error", err)
		if p, rerr := d.start(old); rerr == nil {
			d.pipeline = p
		} else {
			d.logger.Error("restore failed", "error", rerr)
		}
		return fmt.Errorf("reload: %w", err)
	}

	d.cfg = cfg
	d.pipeline = p
	d.metrics.DetectorReloads.Inc()
	d.logger.Info("configuration reloaded",
		"source", cfg.Source.Type,
		"max_delay_ms", cfg.Detector.MaxDelayMs)
	return nil
}

func (d *Daemon) start(cfg *config.Config) (*pipeline, error) {
	host, err := d.newHost(cfg)
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}

	w, err := d.openOutput(cfg.Output.Path)
	if err != nil {
		return nil, err
	}
	l, err := output.New(cfg.Output.Format, w, cfg.Source.Type)
	if err != nil {
		w.Close()
		return nil, err
	}

	opts := append(cfg.DetectorOptions(),
		detector.WithObserver(d.metrics),
		detector.WithLogger(d.base.With("component", "detector")),
	)
	if d.clock != nil {
		opts = append(opts, detector.WithClock(d.clock))
	}
	det := detector.New(host, opts...)

	sink := &trackingSink{next: l}
	unsubscribe, err := det.Subscribe(sink)
	if err != nil {
		w.Close()
		return nil, err
	}
	d.metrics.SetAttached(true)

	p := &pipeline{
		host:        host,
		det:         det,
		sink:        sink,
		writer:      w,
		unsubscribe: unsubscribe,
		stopped:     make(chan struct{}),
	}
	if lr, ok := host.(detector.LossReporter); ok {
		if lost := lr.Lost(); lost != nil {
			go d.watchHost(p, lr, lost)
		}
	}
	return p, nil
}

// watchHost marks the host detached when its key stream ends on its own.
// The pipeline stays in place; a reload (SIGHUP or a config change)
// reattaches once the device is back.
func (d *Daemon) watchHost(p *pipeline, lr detector.LossReporter, lost <-chan struct{}) {
	select {
	case <-p.stopped:
		return
	case <-lost:
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pipeline != p {
		return
	}
	d.metrics.SetAttached(false)
	d.logger.Error("key source lost, reload to reattach", "source", d.cfg.Source.Type, "error", lr.Err())
}

func (d *Daemon) stopPipeline() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *Daemon) stopLocked() {
	p := d.pipeline
	if p == nil {
		return
	}
	d.pipeline = nil
	close(p.stopped)

	p.unsubscribe()
	p.det.Destroy()
	d.metrics.SetAttached(false)
	if err := p.writer.Close(); err != nil {
		d.logger.Warn("close output", "error", err)
	}
}

func (d *Daemon) serve(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	mux.Handle("/healthz", d.health.HealthHandler())
	mux.Handle("/readyz", d.health.ReadinessHandler())
	mux.Handle("/livez", d.health.LivenessHandler())

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	d.mu.Lock()
	d.listener = ln
	d.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv, nil
}

func (d *Daemon) hostCheck() health.CheckResult {
	d.mu.Lock()
	p := d.pipeline
	d.mu.Unlock()
	if p == nil || !p.det.Active() {
		return health.Unhealthy("detector not attached")
	}
	if lr, ok := p.host.(detector.LossReporter); ok {
		select {
		case <-lr.Lost():
			msg := "key source lost"
			if err := lr.Err(); err != nil {
				msg += ": " + err.Error()
			}
			return health.Unhealthy(msg)
		default:
		}
	}
	return health.Healthy("attached")
}

func (d *Daemon) outputCheck() health.CheckResult {
	d.mu.Lock()
	p := d.pipeline
	d.mu.Unlock()
	if p == nil {
		return health.CheckResult{Status: health.StatusUnknown}
	}
	if err := p.sink.lastError(); err != nil {
		return health.Degraded(err.Error())
	}
	return health.Healthy("")
}

// trackingSink remembers whether the last write failed.
type trackingSink struct {
	next detector.Listener

	mu      sync.Mutex
	lastErr error
}

func (s *trackingSink) HandleScan(r detector.Result) error {
	err := s.next.HandleScan(r)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

func (s *trackingSink) lastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
