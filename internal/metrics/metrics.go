// Package metrics exposes scanwedge counters in Prometheus format.
//
// Metrics is a detector.Observer; hand it to detector.WithObserver and
// serve Handler on the configured listen address.
package metrics

import (
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scanwedge/internal/detector"
)

const namespace = "scanwedge"

// Metrics holds the scanwedge collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	KeysAccepted    prometheus.Counter
	KeysIgnored     prometheus.Counter
	RunsDiscarded   *prometheus.CounterVec
	ScansTotal      prometheus.Counter
	ListenerErrors  prometheus.Counter
	BarcodeLength   prometheus.Histogram
	LastScan        prometheus.Gauge
	DetectorReloads prometheus.Counter
	HostAttached    prometheus.Gauge
}

// New registers every collector in a fresh registry labelled with source.
func New(source string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	labels := prometheus.Labels{"source": source}
	m := &Metrics{
		registry: reg,
		KeysAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "keys_accepted_total",
			Help:        "Key presses appended to a run.",
			ConstLabels: labels,
		}),
		KeysIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "keys_ignored_total",
			Help:        "Non-printable key presses that were dropped.",
			ConstLabels: labels,
		}),
		RunsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "runs_discarded_total",
			Help:        "Runs dropped without a scan, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "scans_total",
			Help:        "Scans emitted to listeners.",
			ConstLabels: labels,
		}),
		ListenerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "listener_errors_total",
			Help:        "Listener invocations that returned an error or panicked.",
			ConstLabels: labels,
		}),
		BarcodeLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "barcode_length_chars",
			Help:        "Length of emitted barcodes in characters.",
			ConstLabels: labels,
			Buckets:     []float64{4, 8, 12, 13, 16, 20, 32, 64, 100},
		}),
		LastScan: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_scan_timestamp_seconds",
			Help:        "Unix time of the most recent scan.",
			ConstLabels: labels,
		}),
		DetectorReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "detector_reloads_total",
			Help:        "Detectors rebuilt after a configuration change.",
			ConstLabels: labels,
		}),
		HostAttached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "host_attached",
			Help:        "1 while the detector is attached to its key source.",
			ConstLabels: labels,
		}),
	}

	for _, reason := range []detector.DiscardReason{detector.ReasonTooShort, detector.ReasonOverflow} {
		m.RunsDiscarded.WithLabelValues(string(reason))
	}

	reg.MustRegister(
		m.KeysAccepted,
		m.KeysIgnored,
		m.RunsDiscarded,
		m.ScansTotal,
		m.ListenerErrors,
		m.BarcodeLength,
		m.LastScan,
		m.DetectorReloads,
		m.HostAttached,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetAttached records whether the detector currently listens to its host.
func (m *Metrics) SetAttached(attached bool) {
	if attached {
		m.HostAttached.Set(1)
	} else {
		m.HostAttached.Set(0)
	}
}

// KeyAccepted implements detector.Observer.
func (m *Metrics) KeyAccepted() { m.KeysAccepted.Inc() }

// KeyIgnored implements detector.Observer.
func (m *Metrics) KeyIgnored() { m.KeysIgnored.Inc() }

// RunDiscarded implements detector.Observer.
func (m *Metrics) RunDiscarded(reason detector.DiscardReason, _ int) {
	m.RunsDiscarded.WithLabelValues(string(reason)).Inc()
}

// ScanEmitted implements detector.Observer.
func (m *Metrics) ScanEmitted(r detector.Result) {
	m.ScansTotal.Inc()
	m.BarcodeLength.Observe(float64(utf8.RuneCountInString(r.Barcode)))
	m.LastScan.Set(float64(r.Timestamp.UnixNano()) / float64(time.Second))
}

// ListenerFailed implements detector.Observer.
func (m *Metrics) ListenerFailed() { m.ListenerErrors.Inc() }
