package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scanwedge/internal/clock"
	"scanwedge/internal/daemon"
	"scanwedge/internal/detector"
)

func newMonitorCmd(c *cli) *cobra.Command {
	var (
		source string
		device string
		quiet  bool
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Show live key timing and detected scans",
		Long: `Attach to the key source and print every key press with the gap since
the previous one, marking the scans the detector reports. Use it to see
how fast a scanner types before choosing max_delay_ms.

Nothing is written to the configured output. Press Ctrl+C to stop and
print a summary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			cfg = cfg.Clone()
			if cmd.Flags().Changed("source") {
				cfg.Source.Type = source
			}
			if cmd.Flags().Changed("device") {
				cfg.Source.Device = device
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			host, err := daemon.NewHost(cfg)
			if err != nil {
				return err
			}

			m := newMonitor(cmd.OutOrStdout(), clock.Real(), cfg.Detector.MaxDelayMs, quiet)
			opts := append(cfg.DetectorOptions(),
				detector.WithLogger(c.logger.WithComponent("monitor").Logger))
			det := detector.New(&tapHost{Host: host, tap: m.key}, opts...)
			defer det.Destroy()

			if _, err := det.Subscribe(detector.Func(m.scan)); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s input (max delay %dms). Press Ctrl+C to stop.\n",
				cfg.Source.Type, cfg.Detector.MaxDelayMs)
			<-ctx.Done()

			m.summary(cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "key source: evdev or ibus")
	cmd.Flags().StringVar(&device, "device", "", "evdev device path")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print scans")
	return cmd
}

// tapHost passes every key press to tap before the detector sees it.
type tapHost struct {
	detector.Host
	tap func(key string)
}

func (t *tapHost) Attach(h detector.Handler) error {
	return t.Host.Attach(func(ev detector.KeyEvent) {
		t.tap(ev.Key)
		h(ev)
	})
}

// monitor prints key timing and keeps gap statistics.
type monitor struct {
	out      io.Writer
	clock    clock.Clock
	maxDelay time.Duration
	quiet    bool

	mu    sync.Mutex
	last  time.Time
	keys  int
	scans int
	fast  int
	min   time.Duration
	max   time.Duration
}

func newMonitor(out io.Writer, clk clock.Clock, maxDelayMs int, quiet bool) *monitor {
	return &monitor{
		out:      out,
		clock:    clk,
		maxDelay: time.Duration(maxDelayMs) * time.Millisecond,
		quiet:    quiet,
	}
}

func (m *monitor) key(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.keys++

	var gap time.Duration
	first := m.last.IsZero()
	if !first {
		gap = now.Sub(m.last)
		if m.min == 0 || gap < m.min {
			m.min = gap
		}
		if gap > m.max {
			m.max = gap
		}
		if gap < m.maxDelay {
			m.fast++
		}
	}
	m.last = now

	if m.quiet {
		return
	}
	marker := " "
	if !first && gap < m.maxDelay {
		marker = "*"
	}
	if first {
		fmt.Fprintf(m.out, "%s %10s  %q\n", marker, "-", key)
		return
	}
	fmt.Fprintf(m.out, "%s %8.2fms  %q\n", marker, float64(gap)/float64(time.Millisecond), key)
}

func (m *monitor) scan(r detector.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scans++
	_, err := fmt.Fprintf(m.out, "SCAN %s (%d chars)\n", r.Barcode, len([]rune(r.Barcode)))
	return err
}

func (m *monitor) summary(w io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  Keys:       %d\n", m.keys)
	fmt.Fprintf(w, "  Scans:      %d\n", m.scans)
	fmt.Fprintf(w, "  Fast gaps:  %d (< %s)\n", m.fast, m.maxDelay)
	if m.keys > 1 {
		fmt.Fprintf(w, "  Gap range:  %s - %s\n", m.min, m.max)
	}
}
