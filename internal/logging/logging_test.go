package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(json) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestLevelString(t *testing.T) {
	for _, lvl := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		parsed, err := ParseLevel(LevelString(lvl))
		if err != nil || parsed != lvl {
			t.Errorf("round trip of %v gave %v, %v", lvl, parsed, err)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", cfg.Level)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected default output stderr, got %s", cfg.Output)
	}
	if cfg.Component != "scanwedge" {
		t.Errorf("expected component scanwedge, got %s", cfg.Component)
	}
	if !strings.HasSuffix(cfg.FilePath, filepath.Join("scanwedge", "scanwedge.log")) {
		t.Errorf("unexpected default log path %s", cfg.FilePath)
	}
}

func TestJSONFormatWithComponent(t *testing.T) {
	var buf bytes.Buffer

	logger, err := New(&Config{
		Level:     LevelInfo,
		Format:    FormatJSON,
		Component: "test",
		Writer:    &buf,
	})
	if err != nil {
		t.Fatalf("failed to create JSON logger: %v", err)
	}

	logger.WithComponent("detector").Info("scan detected", "length", 5, "api_token", "abc")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "scan detected" {
		t.Errorf("unexpected msg %v", entry["msg"])
	}
	if entry["component"] != "detector" {
		t.Errorf("expected component detector, got %v", entry["component"])
	}
	if entry["api_token"] != "[REDACTED]" {
		t.Errorf("expected token to be redacted, got %v", entry["api_token"])
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		{"password", true},
		{"PASSWORD", true},
		{"auth_token", true},
		{"private_key", true},
		{"barcode", false},
		{"length", false},
		{"device", false},
	}

	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			if got := shouldRedact(test.key); got != test.expected {
				t.Errorf("shouldRedact(%q) = %v, expected %v", test.key, got, test.expected)
			}
		})
	}
}

func TestBarcodeFingerprint(t *testing.T) {
	a := Fingerprint("4006381333931")
	b := Fingerprint("4006381333931")
	c := Fingerprint("4006381333932")

	if a != b {
		t.Error("fingerprint is not stable")
	}
	if a == c {
		t.Error("different barcodes share a fingerprint")
	}
	if !strings.HasPrefix(a, "b2:") || len(a) != 3+12 {
		t.Errorf("unexpected fingerprint format %q", a)
	}
	if strings.Contains(a, "4006381333931") {
		t.Error("fingerprint leaks the barcode")
	}
}

func TestBarcodeValue(t *testing.T) {
	t.Cleanup(func() { setLogBarcodes(false) })

	setLogBarcodes(false)
	if got := Barcode("12345").String(); got != Fingerprint("12345") {
		t.Errorf("expected fingerprint, got %q", got)
	}

	setLogBarcodes(true)
	if got := Barcode("12345").String(); got != "12345" {
		t.Errorf("expected raw value, got %q", got)
	}
}

func TestFileRotator(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "test.log")

	r, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewFileRotator failed: %v", err)
	}
	defer r.Close()

	if _, err := r.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("unexpected log content %q", data)
	}
}

func TestFileRotatorRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	r, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 1, MaxBackups: 2, Compress: true})
	if err != nil {
		t.Fatalf("NewFileRotator failed: %v", err)
	}
	defer r.Close()

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 4; i++ {
		if _, err := r.Write(chunk); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	backups, err := r.Backups()
	if err != nil {
		t.Fatalf("Backups failed: %v", err)
	}
	if len(backups) == 0 || len(backups) > 2 {
		t.Fatalf("expected 1..2 backups, got %v", backups)
	}
	for _, b := range backups {
		if !strings.HasSuffix(b, ".gz") {
			t.Errorf("backup %s not compressed", b)
		}
	}
}
