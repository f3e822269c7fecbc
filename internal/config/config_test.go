package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwedge/internal/detector"
	"scanwedge/internal/logging"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, 10, cfg.Detector.MaxDelayMs)
	assert.Equal(t, "Enter", cfg.Detector.TerminationKey)
	assert.Equal(t, 3, cfg.Detector.MinBarcodeLength)
	assert.Equal(t, 100, cfg.Detector.MaxBarcodeLength)
	assert.False(t, cfg.Detector.EnableDebugEvents)
	assert.False(t, cfg.Detector.PreventDefault)
	assert.Equal(t, SourceEvdev, cfg.Source.Type)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Empty(t, cfg.Metrics.Listen)

	require.NoError(t, cfg.Validate())
}

func TestConfigPath(t *testing.T) {
	t.Setenv("SCANWEDGE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, "/tmp/xdg/scanwedge/config.toml", ConfigPath())

	t.Setenv("SCANWEDGE_CONFIG", "/etc/scanwedge.yaml")
	assert.Equal(t, "/etc/scanwedge.yaml", ConfigPath())
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Detector, cfg.Detector)
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "config.toml",
			content: `
[detector]
max_delay_ms = 30
termination_key = "Tab"
enable_debug_events = true

[output]
format = "text"
`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `
detector:
  max_delay_ms: 30
  termination_key: Tab
  enable_debug_events: true
output:
  format: text
`,
		},
		{
			name:    "json",
			file:    "config.json",
			content: `{"detector":{"max_delay_ms":30,"termination_key":"Tab","enable_debug_events":true},"output":{"format":"text"}}`,
		},
		{
			name: "no extension",
			file: "scanwedge",
			content: `
[detector]
max_delay_ms = 30
termination_key = "Tab"
enable_debug_events = true

[output]
format = "text"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			cfg, err := Load(path)
			require.NoError(t, err)

			assert.Equal(t, 30, cfg.Detector.MaxDelayMs)
			assert.Equal(t, "Tab", cfg.Detector.TerminationKey)
			assert.True(t, cfg.Detector.EnableDebugEvents)
			assert.Equal(t, "text", cfg.Output.Format)

			// Omitted keys keep defaults.
			assert.Equal(t, 3, cfg.Detector.MinBarcodeLength)
			assert.Equal(t, 100, cfg.Detector.MaxBarcodeLength)
			assert.Equal(t, SourceEvdev, cfg.Source.Type)
		})
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[detector\nmax_delay_ms = "), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode TOML")
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("SCANWEDGE_MAX_DELAY_MS", "25")
	t.Setenv("SCANWEDGE_TERMINATION_KEY", "Tab")
	t.Setenv("SCANWEDGE_SOURCE", "ibus")
	t.Setenv("SCANWEDGE_METRICS_LISTEN", "127.0.0.1:9464")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Detector.MaxDelayMs)
	assert.Equal(t, "Tab", cfg.Detector.TerminationKey)
	assert.Equal(t, SourceIBus, cfg.Source.Type)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Listen)
}

func TestEnvOverrideIgnoresBadNumber(t *testing.T) {
	t.Setenv("SCANWEDGE_MAX_DELAY_MS", "fast")
	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, 10, cfg.Detector.MaxDelayMs)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad version", func(c *Config) { c.Version = 99 }, "version"},
		{"bad source", func(c *Config) { c.Source.Type = "x11" }, "source.type"},
		{"relative device", func(c *Config) { c.Source.Device = "event3" }, "source.device"},
		{"ibus without name", func(c *Config) {
			c.Source.Type = SourceIBus
			c.Source.IBusBusName = ""
		}, "source.ibus_bus_name"},
		{"bad output format", func(c *Config) { c.Output.Format = "xml" }, "output.format"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"file output without path", func(c *Config) {
			c.Logging.Output = "file"
			c.Logging.FilePath = ""
		}, "logging.file_path"},
		{"bad listen", func(c *Config) { c.Metrics.Listen = "nope" }, "metrics.listen"},
		{"empty termination key", func(c *Config) { c.Detector.TerminationKey = "" }, "detector.termination_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.True(t, verrs.Has(tt.field), "expected error on %s, got %v", tt.field, verrs)
		})
	}
}

func TestValidateAllowsOddDetectorValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector.MaxDelayMs = 0
	cfg.Detector.MinBarcodeLength = 0
	cfg.Detector.MaxBarcodeLength = -1
	assert.NoError(t, cfg.Validate())
}

func TestDetectorOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector.MaxDelayMs = 40
	cfg.Detector.TerminationKey = "Tab"
	cfg.Detector.PreventDefault = true
	cfg.Detector.PassTerminationKey = true

	d := detector.New(detector.NewManualHost(), cfg.DetectorOptions()...)
	opts := d.Options()

	assert.Equal(t, 40*time.Millisecond, opts.MaxDelay)
	assert.Equal(t, "Tab", opts.TerminationKey)
	assert.Equal(t, 3, opts.MinLength)
	assert.Equal(t, 100, opts.MaxLength)
	assert.True(t, opts.PreventDefault)
	assert.True(t, opts.PassTerminationKey)
}

func TestLoggerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.LogBarcodes = true

	lc := cfg.LoggerConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
	assert.True(t, lc.LogBarcodes)
	assert.Equal(t, "scanwedge", lc.Component)
}

func TestSaveRoundTrip(t *testing.T) {
	for _, ext := range []string{".toml", ".yaml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "config"+ext)

			cfg := DefaultConfig()
			cfg.Detector.TerminationKey = "Tab"
			cfg.Metrics.Listen = ":9464"
			require.NoError(t, Save(cfg, path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Detector.MaxDelayMs = 99
	assert.Equal(t, 10, cfg.Detector.MaxDelayMs)
}

func TestLoaderWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(DefaultConfig(), path))

	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 1)
	l.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	require.NoError(t, l.Watch())
	defer l.Close()

	cfg := DefaultConfig()
	cfg.Detector.MaxDelayMs = 50
	require.NoError(t, os.WriteFile(path, mustMarshal(t, cfg, path), 0600))

	select {
	case c := <-changed:
		assert.Equal(t, 50, c.Detector.MaxDelayMs)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}

func TestLoaderKeepsConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(DefaultConfig(), path))

	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)
	changed := make(chan *Config, 1)
	l.OnChange(func(c *Config) { changed <- c })
	require.NoError(t, l.Watch())
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte("[output]\nformat = \"xml\"\n"), 0600))

	select {
	case err := <-l.Errors():
		assert.Contains(t, err.Error(), "output.format")
	case <-time.After(5 * time.Second):
		t.Fatal("reload error not reported")
	}
	assert.Empty(t, changed, "invalid config must not reach OnChange")
}

func mustMarshal(t *testing.T, cfg *Config, path string) []byte {
	t.Helper()
	data, err := Marshal(cfg, path)
	require.NoError(t, err)
	return data
}
