// scanwedge detects barcode scans arriving through a keyboard-wedge
// scanner and reports each scan as a record.
//
//	scanwedge run                Watch a keyboard and emit scan records
//	scanwedge replay <trace>     Feed a recorded key trace through the detector
//	scanwedge monitor            Show live key timing and detected scans
//	scanwedge tracegen           Generate a synthetic key trace
//	scanwedge devices            List keyboard input devices
//	scanwedge config init        Write a default configuration file
//	scanwedge config show        Print the effective configuration
//	scanwedge config validate    Check a configuration file
//	scanwedge schema <name>      Print the record or trace JSON schema
//	scanwedge ibus-component     Print the IBus component XML
//	scanwedge version            Show version information
package main

import (
	"fmt"
	"os"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
