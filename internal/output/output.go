// Package output writes detected scans to files or standard output.
package output

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"scanwedge/internal/detector"
	"scanwedge/internal/schemavalidation"
)

// Formats accepted by New.
const (
	FormatJSON = "json"
	FormatText = "text"
)

//go:embed record.schema.json
var recordSchema []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
)

// Schema returns the JSON schema of a Record.
func Schema() []byte {
	return recordSchema
}

// ValidateRecord validates one JSON-encoded record.
func ValidateRecord(data []byte) error {
	schemaOnce.Do(func() {
		schema = schemavalidation.MustCompile("record-v1.schema.json", recordSchema)
	})
	return schemavalidation.Validate(schema, data)
}

// Record is the persisted form of a scan.
type Record struct {
	ID         string            `json:"id"`
	Source     string            `json:"source"`
	Barcode    string            `json:"barcode"`
	Timestamp  time.Time         `json:"timestamp"`
	Keystrokes []KeystrokeRecord `json:"keystrokes,omitempty"`
}

// KeystrokeRecord is one key of a debug trace. DelayMs is the gap to the
// previous key in milliseconds, zero for the first.
type KeystrokeRecord struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	DelayMs   float64   `json:"delay_ms"`
}

// NewRecord converts a detector result.
func NewRecord(source string, r detector.Result) Record {
	rec := Record{
		ID:        uuid.NewString(),
		Source:    source,
		Barcode:   r.Barcode,
		Timestamp: r.Timestamp.UTC(),
	}
	for _, k := range r.Keystrokes {
		rec.Keystrokes = append(rec.Keystrokes, KeystrokeRecord{
			Key:       k.Key,
			Timestamp: k.Timestamp.UTC(),
			DelayMs:   float64(k.Delay) / float64(time.Millisecond),
		})
	}
	return rec
}

// JSONSink writes one JSON record per line.
type JSONSink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	source string
}

// NewJSONSink returns a listener writing records tagged with source to w.
func NewJSONSink(w io.Writer, source string) *JSONSink {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONSink{enc: enc, source: source}
}

// HandleScan implements detector.Listener.
func (s *JSONSink) HandleScan(r detector.Result) error {
	rec := NewRecord(s.source, r)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// TextSink writes the bare barcode, one per line.
type TextSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextSink returns a listener writing barcodes to w.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

// HandleScan implements detector.Listener.
func (s *TextSink) HandleScan(r detector.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, r.Barcode+"\n"); err != nil {
		return fmt.Errorf("write barcode: %w", err)
	}
	return nil
}

// New returns the sink for format.
func New(format string, w io.Writer, source string) (detector.Listener, error) {
	switch strings.ToLower(format) {
	case FormatJSON, "":
		return NewJSONSink(w, source), nil
	case FormatText:
		return NewTextSink(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Open opens path for appending. Empty or "-" is standard output, which is
// never closed.
func Open(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	return f, nil
}
