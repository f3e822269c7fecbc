package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"scanwedge/internal/detector"
	"scanwedge/internal/output"
	"scanwedge/internal/replay"
)

type replayFlags struct {
	maxDelay       time.Duration
	terminationKey string
	minLength      int
	maxLength      int
	debug          bool
	preventDefault bool
	format         string
	summary        bool
}

func newReplayCmd(c *cli) *cobra.Command {
	f := &replayFlags{}

	cmd := &cobra.Command{
		Use:   "replay <trace>",
		Short: "Feed a recorded key trace through the detector",
		Long: `Replay a key trace (YAML or JSON) into a detector running on simulated
time and print the scans it produces. Detector settings come from the
config file unless overridden by flags.

Trace format:
  name: burst
  idle_ms: 1000
  keys:
    - {key: "1", at_ms: 0}
    - {key: "2", after_ms: 3}
    - {key: Enter, after_ms: 3}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, c, f, args[0])
		},
	}

	cmd.Flags().DurationVar(&f.maxDelay, "max-delay", 0, "maximum gap between scanner keystrokes")
	cmd.Flags().StringVar(&f.terminationKey, "termination-key", "", "key that ends a scan")
	cmd.Flags().IntVar(&f.minLength, "min-length", 0, "minimum barcode length")
	cmd.Flags().IntVar(&f.maxLength, "max-length", 0, "maximum barcode length")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "include per-keystroke timing in results")
	cmd.Flags().BoolVar(&f.preventDefault, "prevent-default", false, "suppress default actions of scanner keys")
	cmd.Flags().StringVar(&f.format, "format", "", "record format: json or text")
	cmd.Flags().BoolVar(&f.summary, "summary", true, "print a summary line to stderr")
	return cmd
}

func runReplay(cmd *cobra.Command, c *cli, f *replayFlags, path string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	trace, err := replay.Load(path)
	if err != nil {
		return err
	}

	opts := cfg.DetectorOptions()
	flags := cmd.Flags()
	if flags.Changed("max-delay") {
		opts = append(opts, detector.WithMaxDelay(f.maxDelay))
	}
	if flags.Changed("termination-key") {
		opts = append(opts, detector.WithTerminationKey(f.terminationKey))
	}
	if flags.Changed("min-length") {
		opts = append(opts, detector.WithMinLength(f.minLength))
	}
	if flags.Changed("max-length") {
		opts = append(opts, detector.WithMaxLength(f.maxLength))
	}
	if flags.Changed("debug") {
		opts = append(opts, detector.WithDebug(f.debug))
	}
	if flags.Changed("prevent-default") {
		opts = append(opts, detector.WithPreventDefault(f.preventDefault))
	}
	opts = append(opts, detector.WithLogger(c.logger.WithComponent("replay").Logger))

	report, err := replay.Run(trace, opts...)
	if err != nil {
		return err
	}

	format := cfg.Output.Format
	if flags.Changed("format") {
		format = f.format
	}
	sink, err := output.New(format, cmd.OutOrStdout(), "replay")
	if err != nil {
		return err
	}
	for _, r := range report.Results {
		if err := sink.HandleScan(r); err != nil {
			return err
		}
	}

	if f.summary {
		name := trace.Name
		if name == "" {
			name = path
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d scan(s), %d key(s) prevented, %s simulated\n",
			name, len(report.Results), report.Prevented, report.Duration)
	}
	return nil
}
