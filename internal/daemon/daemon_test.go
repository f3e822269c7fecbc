package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwedge/internal/clock"
	"scanwedge/internal/config"
	"scanwedge/internal/detector"
	"scanwedge/internal/output"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimSpace(b.buf.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

type failingAttach struct{}

func (failingAttach) Attach(detector.Handler) error { return errors.New("device busy") }
func (failingAttach) Detach() error                 { return nil }

type harness struct {
	t      *testing.T
	daemon *Daemon
	out    *syncBuffer
	clock  *clock.Fake

	mu    sync.Mutex
	hosts []*detector.ManualHost

	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		out:   &syncBuffer{},
		clock: clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	h.daemon = New(cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithOutput(h.out),
		WithClock(h.clock),
		WithHostFactory(func(cfg *config.Config) (detector.Host, error) {
			if cfg.Source.Device == "/dev/input/missing" {
				return nil, errors.New("no such device")
			}
			if cfg.Source.Device == "/dev/input/busy" {
				return failingAttach{}, nil
			}
			host := detector.NewManualHost()
			h.mu.Lock()
			h.hosts = append(h.hosts, host)
			h.mu.Unlock()
			return host, nil
		}),
	)
	return h
}

func (h *harness) start() {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.daemon.Run(ctx) }()

	require.Eventually(h.t, func() bool {
		return h.daemon.Health().IsReady()
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) stop() {
	h.t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(h.t, err)
	case <-time.After(5 * time.Second):
		h.t.Fatal("daemon did not stop")
	}
}

func (h *harness) host() *detector.ManualHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hosts[len(h.hosts)-1]
}

func (h *harness) typeKeys(gap time.Duration, keys ...string) {
	for _, k := range keys {
		h.host().Press(k)
		h.clock.Advance(gap)
	}
}

func TestRunForwardsScans(t *testing.T) {
	h := newHarness(t, config.DefaultConfig())
	h.start()

	h.typeKeys(2*time.Millisecond, "4", "0", "0", "6", "Enter")
	h.typeKeys(50*time.Millisecond, "h", "i")

	lines := h.out.Lines()
	require.Len(t, lines, 1)
	require.NoError(t, output.ValidateRecord([]byte(lines[0])))

	var rec output.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "4006", rec.Barcode)
	assert.Equal(t, config.SourceEvdev, rec.Source)

	m := h.daemon.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HostAttached))

	h.stop()
	assert.False(t, h.host().Attached())
	assert.Nil(t, h.daemon.Detector())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HostAttached))
}

func TestRunTextOutput(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Output.Format = "text"
	h := newHarness(t, cfg)
	h.start()
	defer h.stop()

	h.typeKeys(time.Millisecond, "a", "b", "c", "Enter")
	assert.Equal(t, []string{"abc"}, h.out.Lines())
}

func TestRunAttachFailure(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Source.Device = "/dev/input/busy"
	h := newHarness(t, cfg)

	err := h.daemon.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device busy")
}

func TestReloadReplacesDetector(t *testing.T) {
	h := newHarness(t, config.DefaultConfig())
	h.start()
	defer h.stop()

	first := h.host()
	oldDet := h.daemon.Detector()

	cfg := config.DefaultConfig()
	cfg.Detector.TerminationKey = "Tab"
	cfg.Detector.MinBarcodeLength = 2
	require.NoError(t, h.daemon.Reload(cfg))

	assert.False(t, first.Attached(), "old host detached")
	assert.NotSame(t, oldDet, h.daemon.Detector())
	assert.True(t, h.host().Attached())
	assert.Equal(t, "Tab", h.daemon.Detector().Options().TerminationKey)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.daemon.Metrics().DetectorReloads))

	h.typeKeys(time.Millisecond, "4", "2", "Tab")
	assert.Len(t, h.out.Lines(), 1)
}

func TestReloadFailureKeepsPrevious(t *testing.T) {
	h := newHarness(t, config.DefaultConfig())
	h.start()
	defer h.stop()

	bad := config.DefaultConfig()
	bad.Source.Device = "/dev/input/missing"
	bad.Detector.TerminationKey = "Tab"

	err := h.daemon.Reload(bad)
	require.Error(t, err)

	assert.Equal(t, "Enter", h.daemon.Config().Detector.TerminationKey)
	require.NotNil(t, h.daemon.Detector())
	assert.True(t, h.daemon.Detector().Active())

	h.typeKeys(time.Millisecond, "1", "2", "3", "Enter")
	assert.Len(t, h.out.Lines(), 1)
}

func TestReloadBeforeRun(t *testing.T) {
	h := newHarness(t, config.DefaultConfig())
	cfg := config.DefaultConfig()
	cfg.Detector.MaxDelayMs = 30
	require.NoError(t, h.daemon.Reload(cfg))
	assert.Equal(t, 30, h.daemon.Config().Detector.MaxDelayMs)
}

func TestMetricsServer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Metrics.Listen = "127.0.0.1:0"
	h := newHarness(t, cfg)
	h.start()
	defer h.stop()

	h.typeKeys(time.Millisecond, "1", "2", "3", "Enter")

	base := "http://" + h.daemon.MetricsAddr()

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `scanwedge_scans_total{source="evdev"} 1`)

	resp, err = http.Get(base + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/healthz?full=true")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"host"`)
}

func TestOutputHealthDegradesOnWriteError(t *testing.T) {
	h := newHarness(t, config.DefaultConfig())
	h.daemon.openOutput = func(string) (io.WriteCloser, error) {
		return nopCloser{failingWriter{}}, nil
	}
	h.start()
	defer h.stop()

	h.typeKeys(time.Millisecond, "1", "2", "3", "Enter")

	results := h.daemon.Health().Check()
	assert.Equal(t, "degraded", string(results["output"].Status))
	assert.Equal(t, "healthy", string(results["host"].Status))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.daemon.Metrics().ListenerErrors))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestHostLossTurnsHealthUnhealthy(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Metrics.Listen = "127.0.0.1:0"
	h := newHarness(t, cfg)
	logs := &syncBuffer{}
	h.daemon.logger = slog.New(slog.NewTextHandler(logs, nil))
	h.start()
	defer h.stop()

	m := h.daemon.Metrics()
	require.Equal(t, 1.0, testutil.ToFloat64(m.HostAttached))

	h.host().Fail(errors.New("device unplugged"))

	results := h.daemon.Health().Check()
	assert.Equal(t, "unhealthy", string(results["host"].Status))
	assert.Contains(t, results["host"].Message, "device unplugged")

	resp, err := http.Get("http://" + h.daemon.MetricsAddr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.HostAttached) == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "key source lost")
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.daemon.Reload(config.DefaultConfig()))
	results = h.daemon.Health().Check()
	assert.Equal(t, "healthy", string(results["host"].Status))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HostAttached))

	h.typeKeys(time.Millisecond, "4", "5", "6", "Enter")
	assert.Eventually(t, func() bool {
		return strings.Contains(h.out.String(), "456")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHostLossAfterReloadIsIgnored(t *testing.T) {
	h := newHarness(t, config.DefaultConfig())
	h.start()
	defer h.stop()

	old := h.host()
	require.NoError(t, h.daemon.Reload(config.DefaultConfig()))
	old.Fail(errors.New("stale device"))

	results := h.daemon.Health().Check()
	assert.Equal(t, "healthy", string(results["host"].Status))
	assert.Never(t, func() bool {
		return testutil.ToFloat64(h.daemon.Metrics().HostAttached) != 1
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestReloadSourceChangeKeepsMetricLabel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Metrics.Listen = "127.0.0.1:0"
	h := newHarness(t, cfg)
	logs := &syncBuffer{}
	h.daemon.logger = slog.New(slog.NewTextHandler(logs, nil))
	h.start()
	defer h.stop()

	next := config.DefaultConfig()
	next.Metrics.Listen = cfg.Metrics.Listen
	next.Source.Type = config.SourceIBus
	require.NoError(t, h.daemon.Reload(next))
	assert.Contains(t, logs.String(), "metrics source label change needs a restart")

	h.typeKeys(time.Millisecond, "1", "2", "3", "Enter")

	resp, err := http.Get("http://" + h.daemon.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `scanwedge_scans_total{source="evdev"} 1`)
	assert.NotContains(t, string(body), `source="ibus"`)
}
