package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"scanwedge/internal/detector"
	"scanwedge/internal/replay"
)

func newTraceGenCmd() *cobra.Command {
	var (
		profileName string
		count       int
		seed        int64
		outputPath  string
		termKey     string
		list        bool
	)

	cmd := &cobra.Command{
		Use:   "tracegen",
		Short: "Generate a synthetic key trace for replay",
		Long: `Generate a key trace that imitates a scanner, a human typist, or both,
for tuning detector settings with "scanwedge replay".

Examples:
  scanwedge tracegen --profile scanner --count 20 -o scans.yaml
  scanwedge tracegen --profile slow-scanner -o bt.yaml && scanwedge replay bt.yaml --max-delay 25ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				for _, name := range replay.ProfileNames() {
					fmt.Fprintf(cmd.OutOrStdout(), "  %-14s %s\n", name, replay.Profiles[name].Description)
				}
				return nil
			}

			profile, ok := replay.Profiles[profileName]
			if !ok {
				return fmt.Errorf("unknown profile %q (available: %s)", profileName, strings.Join(replay.ProfileNames(), ", "))
			}
			if seed == 0 {
				seed = time.Now().UnixNano()
			}

			g, err := replay.Generate(rand.New(rand.NewSource(seed)), profile, count, termKey)
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(g.Trace)
			if err != nil {
				return fmt.Errorf("encode trace: %w", err)
			}
			header := fmt.Sprintf("# profile: %s, seed: %d, scans: %d\n", profileName, seed, len(g.Barcodes))
			data = append([]byte(header), data...)

			if outputPath == "" || outputPath == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if ext := strings.ToLower(filepath.Ext(outputPath)); ext != ".yaml" && ext != ".yml" {
				return fmt.Errorf("output %s: traces are written as YAML (.yaml or .yml)", outputPath)
			}
			if err := os.WriteFile(outputPath, data, 0644); err != nil {
				return fmt.Errorf("write trace: %w", err)
			}

			stats, err := replay.Summarize(g.Trace)
			if err != nil {
				return err
			}
			w := cmd.ErrOrStderr()
			fmt.Fprintf(w, "Generated %s (profile %s, seed %d)\n", outputPath, profileName, seed)
			fmt.Fprintf(w, "  Keys:      %d\n", stats.Keys)
			fmt.Fprintf(w, "  Scans:     %d\n", len(g.Barcodes))
			fmt.Fprintf(w, "  Span:      %.1f ms\n", stats.SpanMs)
			fmt.Fprintf(w, "  Gap mean:  %.2f ms\n", stats.MeanMs)
			fmt.Fprintf(w, "  Gap range: %.3f - %.1f ms\n", stats.MinMs, stats.MaxMs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&profileName, "profile", "p", "mixed", "input profile")
	cmd.Flags().IntVarP(&count, "count", "n", 20, "number of words and scans")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed; 0 uses the current time")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&termKey, "termination-key", detector.DefaultTerminationKey, "key that ends each scan")
	cmd.Flags().BoolVar(&list, "list", false, "list available profiles")
	return cmd
}
