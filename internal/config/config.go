// Package config handles configuration loading, validation, and management for scanwedge.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"scanwedge/internal/detector"
	"scanwedge/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Source types.
const (
	SourceEvdev = "evdev"
	SourceIBus  = "ibus"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Detector holds the scan detector options. They are fixed for the
	// lifetime of one detector; a reload builds a new detector.
	Detector DetectorConfig `toml:"detector" json:"detector" yaml:"detector"`

	// Source selects the key-event host.
	Source SourceConfig `toml:"source" json:"source" yaml:"source"`

	// Output configures where scan records are written.
	Output OutputConfig `toml:"output" json:"output" yaml:"output"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// DetectorConfig mirrors detector.Options in file form. Values are taken as
// given; zero and negative numbers are legal.
type DetectorConfig struct {
	// MaxDelayMs is the longest gap between two keys of one scan.
	MaxDelayMs int `toml:"max_delay_ms" json:"max_delay_ms" yaml:"max_delay_ms"`

	// TerminationKey ends a run immediately, e.g. "Enter" or "Tab".
	TerminationKey string `toml:"termination_key" json:"termination_key" yaml:"termination_key" validate:"required"`

	MinBarcodeLength int `toml:"min_barcode_length" json:"min_barcode_length" yaml:"min_barcode_length"`
	MaxBarcodeLength int `toml:"max_barcode_length" json:"max_barcode_length" yaml:"max_barcode_length"`

	// EnableDebugEvents attaches per-key timing to every scan.
	EnableDebugEvents bool `toml:"enable_debug_events" json:"enable_debug_events" yaml:"enable_debug_events"`

	// PreventDefault swallows accepted keys at the source.
	PreventDefault bool `toml:"prevent_default" json:"prevent_default" yaml:"prevent_default"`

	// PassTerminationKey lets the termination key through even with
	// PreventDefault.
	PassTerminationKey bool `toml:"pass_termination_key" json:"pass_termination_key" yaml:"pass_termination_key"`
}

// SourceConfig selects and configures the key-event host.
type SourceConfig struct {
	// Type is "evdev" or "ibus".
	Type string `toml:"type" json:"type" yaml:"type" validate:"oneof=evdev ibus"`

	// Device is the evdev node, e.g. /dev/input/by-id/usb-Scanner-event-kbd.
	// Empty picks the first keyboard.
	Device string `toml:"device" json:"device" yaml:"device" validate:"omitempty,startswith=/"`

	// Grab takes the evdev device exclusively so scanned keys do not reach
	// other programs.
	Grab bool `toml:"grab" json:"grab" yaml:"grab"`

	// IBusBusName is the D-Bus name requested by the IBus engine.
	IBusBusName string `toml:"ibus_bus_name" json:"ibus_bus_name" yaml:"ibus_bus_name" validate:"required_if=Type ibus"`
}

// OutputConfig configures the scan sink.
type OutputConfig struct {
	// Format is "json" (one record per line) or "text".
	Format string `toml:"format" json:"format" yaml:"format" validate:"oneof=json text"`

	// Path is the file scans are appended to; empty or "-" is stdout.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level       string `toml:"level" json:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	Format      string `toml:"format" json:"format" yaml:"format" validate:"oneof=text json"`
	Output      string `toml:"output" json:"output" yaml:"output" validate:"oneof=stdout stderr file both"`
	FilePath    string `toml:"file_path" json:"file_path" yaml:"file_path" validate:"required_if=Output file,required_if=Output both"`
	MaxSizeMB   int64  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups  int    `toml:"max_backups" json:"max_backups" yaml:"max_backups" validate:"gte=0"`
	Compress    bool   `toml:"compress" json:"compress" yaml:"compress"`
	LogBarcodes bool   `toml:"log_barcodes" json:"log_barcodes" yaml:"log_barcodes"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is a host:port to serve /metrics on. Empty disables it.
	Listen string `toml:"listen" json:"listen" yaml:"listen" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	def := detector.DefaultOptions()
	return &Config{
		Version: Version,
		Detector: DetectorConfig{
			MaxDelayMs:       int(def.MaxDelay / time.Millisecond),
			TerminationKey:   def.TerminationKey,
			MinBarcodeLength: def.MinLength,
			MaxBarcodeLength: def.MaxLength,
		},
		Source: SourceConfig{
			Type:        SourceEvdev,
			IBusBusName: "org.scanwedge.IBus",
		},
		Output: OutputConfig{
			Format: "json",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   logging.DefaultLogPath(),
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

// ConfigDir returns $XDG_CONFIG_HOME/scanwedge, falling back to
// ~/.config/scanwedge.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "scanwedge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".scanwedge"
	}
	return filepath.Join(home, ".config", "scanwedge")
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if p := os.Getenv("SCANWEDGE_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.toml")
}

// DetectorOptions converts the detector section into detector options.
func (c *Config) DetectorOptions() []detector.Option {
	d := c.Detector
	return []detector.Option{
		detector.WithOptions(detector.Options{
			MaxDelay:           time.Duration(d.MaxDelayMs) * time.Millisecond,
			TerminationKey:     d.TerminationKey,
			MinLength:          d.MinBarcodeLength,
			MaxLength:          d.MaxBarcodeLength,
			Debug:              d.EnableDebugEvents,
			PreventDefault:     d.PreventDefault,
			PassTerminationKey: d.PassTerminationKey,
		}),
	}
}

// LoggerConfig converts the logging section. Call Validate first; unknown
// level or format strings fall back to info and text.
func (c *Config) LoggerConfig() *logging.Config {
	lc := logging.DefaultConfig()
	lc.Level, _ = logging.ParseLevel(c.Logging.Level)
	lc.Format, _ = logging.ParseFormat(c.Logging.Format)
	lc.Output = c.Logging.Output
	lc.FilePath = c.Logging.FilePath
	lc.MaxSize = c.Logging.MaxSizeMB
	lc.MaxBackups = c.Logging.MaxBackups
	lc.Compress = c.Logging.Compress
	lc.LogBarcodes = c.Logging.LogBarcodes
	return lc
}

// ApplyEnvOverrides applies SCANWEDGE_* environment variables on top of
// the file configuration.
func (c *Config) ApplyEnvOverrides() {
	// Source overrides
	if v := os.Getenv("SCANWEDGE_SOURCE"); v != "" {
		c.Source.Type = v
	}
	if v := os.Getenv("SCANWEDGE_DEVICE"); v != "" {
		c.Source.Device = v
	}

	// Detector overrides
	if v := os.Getenv("SCANWEDGE_MAX_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Detector.MaxDelayMs = n
		}
	}
	if v := os.Getenv("SCANWEDGE_TERMINATION_KEY"); v != "" {
		c.Detector.TerminationKey = v
	}

	// Output overrides
	if v := os.Getenv("SCANWEDGE_OUTPUT_FORMAT"); v != "" {
		c.Output.Format = v
	}

	// Logging overrides
	if v := os.Getenv("SCANWEDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SCANWEDGE_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	// Metrics overrides
	if v := os.Getenv("SCANWEDGE_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
