// Package replay runs recorded key traces through a detector on a fake
// clock, so scans can be reproduced without hardware and without waiting.
package replay

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"scanwedge/internal/clock"
	"scanwedge/internal/detector"
	"scanwedge/internal/schemavalidation"
)

// DefaultIdle is how long the clock runs on after the last key when a
// trace does not say.
const DefaultIdle = time.Second

// Epoch is the fake clock's start time. Result timestamps are Epoch plus
// the trace offset.
var Epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// ErrOutOfOrder is returned for at_ms offsets that go backwards.
var ErrOutOfOrder = errors.New("replay: key offsets go backwards")

//go:embed trace.schema.json
var traceSchema []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
)

func compiledSchema() *jsonschema.Schema {
	schemaOnce.Do(func() {
		schema = schemavalidation.MustCompile("trace-v1.schema.json", traceSchema)
	})
	return schema
}

// Schema returns the JSON schema of a trace file.
func Schema() []byte {
	return traceSchema
}

// Key is one recorded press. Exactly one of AtMs (offset from the trace
// start) and AfterMs (gap after the previous key) is set.
type Key struct {
	Key     string   `json:"key" yaml:"key"`
	AtMs    *float64 `json:"at_ms,omitempty" yaml:"at_ms,omitempty"`
	AfterMs *float64 `json:"after_ms,omitempty" yaml:"after_ms,omitempty"`
}

// Trace is a recorded key sequence.
type Trace struct {
	Name   string   `json:"name,omitempty" yaml:"name,omitempty"`
	IdleMs *float64 `json:"idle_ms,omitempty" yaml:"idle_ms,omitempty"`
	Keys   []Key    `json:"keys" yaml:"keys"`
}

// Idle returns the time to run the clock after the last key.
func (t *Trace) Idle() time.Duration {
	if t.IdleMs == nil {
		return DefaultIdle
	}
	return msToDuration(*t.IdleMs)
}

// Offsets returns the absolute offset of every key from the trace start.
func (t *Trace) Offsets() ([]time.Duration, error) {
	offsets := make([]time.Duration, len(t.Keys))
	var prev time.Duration
	for i, k := range t.Keys {
		var at time.Duration
		switch {
		case k.AtMs != nil:
			at = msToDuration(*k.AtMs)
			if at < prev {
				return nil, fmt.Errorf("%w: key %d at %v after %v", ErrOutOfOrder, i, at, prev)
			}
		case k.AfterMs != nil:
			at = prev + msToDuration(*k.AfterMs)
		default:
			return nil, fmt.Errorf("replay: key %d has neither at_ms nor after_ms", i)
		}
		offsets[i] = at
		prev = at
	}
	return offsets, nil
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// Load reads a JSON or YAML trace, chosen by extension.
func Load(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("unknown trace format %q (want .json, .yaml or .yml)", filepath.Ext(path))
	}
}

// ParseJSON decodes and validates a JSON trace.
func ParseJSON(data []byte) (*Trace, error) {
	if err := schemavalidation.Validate(compiledSchema(), data); err != nil {
		return nil, fmt.Errorf("invalid trace: %w", err)
	}
	var t Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	return &t, nil
}

// ParseYAML decodes and validates a YAML trace.
func ParseYAML(data []byte) (*Trace, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	if err := schemavalidation.ValidateValue(compiledSchema(), raw); err != nil {
		return nil, fmt.Errorf("invalid trace: %w", err)
	}
	var t Trace
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	return &t, nil
}

// Report is the outcome of one replay.
type Report struct {
	Results []detector.Result
	// Prevented counts keys whose default action the detector suppressed.
	Prevented int
	// Duration is the simulated time from the first key to the end of the
	// idle period.
	Duration time.Duration
}

// Run plays t into a fresh detector configured with opts. The detector
// always runs on a fake clock starting at Epoch; a clock option in opts is
// overridden.
func Run(t *Trace, opts ...detector.Option) (*Report, error) {
	offsets, err := t.Offsets()
	if err != nil {
		return nil, err
	}

	fake := clock.NewFake(Epoch)
	host := detector.NewManualHost()
	d := detector.New(host, append(opts[:len(opts):len(opts)], detector.WithClock(fake))...)
	defer d.Destroy()

	report := &Report{}
	var mu sync.Mutex
	_, err = d.Subscribe(detector.Func(func(r detector.Result) error {
		mu.Lock()
		report.Results = append(report.Results, r)
		mu.Unlock()
		return nil
	}))
	if err != nil {
		return nil, err
	}

	var end time.Duration
	for i, k := range t.Keys {
		fake.Set(Epoch.Add(offsets[i]))
		if host.Press(k.Key) {
			report.Prevented++
		}
		end = offsets[i]
	}
	end += t.Idle()
	fake.Set(Epoch.Add(end))

	report.Duration = end
	if len(offsets) > 0 {
		report.Duration -= offsets[0]
	}
	return report, nil
}
