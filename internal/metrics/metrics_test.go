package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwedge/internal/clock"
	"scanwedge/internal/detector"
)

func TestObserverCounts(t *testing.T) {
	m := New("test")
	host := detector.NewManualHost()
	c := clock.NewFake(time.Unix(1700000000, 0))
	d := detector.New(host, detector.WithClock(c), detector.WithObserver(m), detector.WithMaxLength(5))
	defer d.Destroy()

	_, err := d.Subscribe(detector.Func(func(detector.Result) error { return nil }))
	require.NoError(t, err)
	_, err = d.Subscribe(detector.Func(func(detector.Result) error { return errors.New("sink down") }))
	require.NoError(t, err)

	for _, k := range []string{"4", "0", "0", "6", "Shift", "Enter"} {
		host.Press(k)
	}
	host.Press("1")
	host.Press("Enter")
	for _, k := range []string{"1", "2", "3", "4", "5", "6"} {
		host.Press(k)
	}

	assert.Equal(t, 10.0, testutil.ToFloat64(m.KeysAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KeysIgnored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ListenerErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsDiscarded.WithLabelValues("too_short")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsDiscarded.WithLabelValues("overflow")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastScan))
}

func TestHandlerExposition(t *testing.T) {
	m := New("evdev")
	m.SetAttached(true)
	m.DetectorReloads.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, body, `scanwedge_host_attached{source="evdev"} 1`)
	assert.Contains(t, body, `scanwedge_detector_reloads_total{source="evdev"} 1`)
	assert.True(t, strings.Contains(body, `scanwedge_runs_discarded_total{reason="overflow",source="evdev"} 0`))
}
