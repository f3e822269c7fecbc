package logging

import (
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"
)

var logBarcodes atomic.Bool

func setLogBarcodes(enabled bool) {
	logBarcodes.Store(enabled)
}

// Fingerprint returns a short stable digest of a scanned value so log lines
// can be correlated without recording the value itself.
func Fingerprint(barcode string) string {
	sum := blake2b.Sum256([]byte(barcode))
	return "b2:" + hex.EncodeToString(sum[:6])
}

// Barcode returns the log value for a scanned barcode: the value itself when
// the default logger was configured with LogBarcodes, its fingerprint
// otherwise.
func Barcode(barcode string) slog.Value {
	if logBarcodes.Load() {
		return slog.StringValue(barcode)
	}
	return slog.StringValue(Fingerprint(barcode))
}
