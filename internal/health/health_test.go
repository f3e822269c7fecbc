package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		critical CheckResult
		optional CheckResult
		want     Status
	}{
		{"all healthy", Healthy(""), Healthy(""), StatusHealthy},
		{"optional unhealthy", Healthy(""), Unhealthy("x"), StatusDegraded},
		{"optional degraded", Healthy(""), Degraded("x"), StatusDegraded},
		{"critical unhealthy", Unhealthy("x"), Healthy(""), StatusUnhealthy},
		{"critical unknown", CheckResult{Status: StatusUnknown}, Healthy(""), StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.Register("host", true, func() CheckResult { return tt.critical })
			c.Register("output", false, func() CheckResult { return tt.optional })
			assert.Equal(t, tt.want, c.OverallStatus(c.Check()))
		})
	}
}

func TestCheckRecoversPanic(t *testing.T) {
	c := NewChecker()
	c.Register("boom", true, func() CheckResult { panic("nope") })

	results := c.Check()
	assert.Equal(t, StatusUnhealthy, results["boom"].Status)
	assert.Contains(t, results["boom"].Message, "nope")
	assert.False(t, results["boom"].LastChecked.IsZero())
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker()
	attached := false
	c.Register("host", true, func() CheckResult {
		if attached {
			return Healthy("attached")
		}
		return Unhealthy("detached")
	})

	get := func() int {
		rec := httptest.NewRecorder()
		c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusServiceUnavailable, get())
	c.SetReady(true)
	assert.Equal(t, http.StatusServiceUnavailable, get())
	attached = true
	assert.Equal(t, http.StatusOK, get())
}

func TestHealthHandler(t *testing.T) {
	c := NewChecker()
	c.SetReady(true)
	c.Register("host", true, func() CheckResult { return Healthy("attached") })
	c.Register("output", false, func() CheckResult { return Degraded("last write failed") })

	rec := httptest.NewRecorder()
	c.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?full=true", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.True(t, resp.Ready)
	assert.Equal(t, "last write failed", resp.Components["output"].Message)

	rec = httptest.NewRecorder()
	c.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	resp = Response{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Components)
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alive"`)
}
