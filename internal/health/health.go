// Package health reports whether the scanwedge daemon is attached to its
// key source and able to write scans.
//
// Features:
//   - Liveness (is process running)
//   - Readiness (is the detector attached)
//   - Per-component status with critical/non-critical aggregation
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check is a cheap, non-blocking test of one component.
type Check func() CheckResult

type component struct {
	critical bool
	check    Check
}

// Checker manages health checks.
type Checker struct {
	mu         sync.RWMutex
	components map[string]component
	startTime  time.Time
	ready      bool
	now        func() time.Time
}

// NewChecker creates a new Checker.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]component),
		startTime:  time.Now(),
		now:        time.Now,
	}
}

// Register adds or replaces a check. A failing critical check makes the
// whole daemon unhealthy; a failing non-critical one degrades it.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = component{critical: critical, check: check}
}

// SetReady sets the readiness state.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

// IsReady returns the readiness state.
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Check runs all registered checks.
func (c *Checker) Check() map[string]CheckResult {
	c.mu.RLock()
	components := make(map[string]component, len(c.components))
	for name, comp := range c.components {
		components[name] = comp
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(components))
	for name, comp := range components {
		results[name] = c.run(comp.check)
	}
	return results
}

func (c *Checker) run(check Check) (result CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			result = CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("check panicked: %v", r),
			}
		}
		result.LastChecked = c.now()
	}()
	return check()
}

// OverallStatus aggregates results.
func (c *Checker) OverallStatus(results map[string]CheckResult) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hasUnknown := false
	hasDegraded := false

	for name, result := range results {
		comp, ok := c.components[name]
		if !ok {
			continue
		}

		switch result.Status {
		case StatusUnhealthy:
			if comp.critical {
				return StatusUnhealthy
			}
			hasDegraded = true
		case StatusDegraded:
			hasDegraded = true
		case StatusUnknown:
			if comp.critical {
				hasUnknown = true
			}
		}
	}

	if hasUnknown {
		return StatusUnknown
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// Response is the body of the health endpoint.
type Response struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Response runs every check and aggregates the result.
func (c *Checker) Response(includeComponents bool) Response {
	results := c.Check()

	resp := Response{
		Status:    c.OverallStatus(results),
		Ready:     c.IsReady(),
		Uptime:    c.now().Sub(c.startTime).Round(time.Second).String(),
		Timestamp: c.now(),
	}
	if includeComponents {
		resp.Components = results
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// LivenessHandler returns an HTTP handler for liveness checks.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "alive",
			"timestamp": c.now(),
		})
	})
}

// ReadinessHandler returns an HTTP handler for readiness checks.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":    "not ready",
				"timestamp": c.now(),
			})
			return
		}

		status := c.OverallStatus(c.Check())
		code := http.StatusOK
		if status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status":    status,
			"ready":     true,
			"timestamp": c.now(),
		})
	})
}

// HealthHandler returns an HTTP handler for detailed health checks.
// ?full=true includes per-component results.
func (c *Checker) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := c.Response(r.URL.Query().Get("full") == "true")

		code := http.StatusOK
		if resp.Status == StatusUnhealthy || resp.Status == StatusUnknown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})
}

// Healthy returns a result with StatusHealthy.
func Healthy(msg string) CheckResult {
	return CheckResult{Status: StatusHealthy, Message: msg}
}

// Unhealthy returns a result with StatusUnhealthy.
func Unhealthy(msg string) CheckResult {
	return CheckResult{Status: StatusUnhealthy, Message: msg}
}

// Degraded returns a result with StatusDegraded.
func Degraded(msg string) CheckResult {
	return CheckResult{Status: StatusDegraded, Message: msg}
}
