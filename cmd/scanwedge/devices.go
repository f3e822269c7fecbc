package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"scanwedge/internal/keystroke"
)

func newDevicesCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List keyboard input devices",
		Long: `List the evdev nodes that report keyboard events. Scanners in
keyboard-wedge mode show up here next to real keyboards; pass the
path to "scanwedge run --device".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kbds, err := keystroke.ListKeyboards()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(kbds)
			}
			printKeyboards(out, kbds)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printKeyboards(out io.Writer, kbds []keystroke.Keyboard) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tNAME\tBUS\tID")
	for _, k := range kbds {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%04x:%04x\n", k.Path, k.Name, k.Bus, k.VendorID, k.ProductID)
	}
	tw.Flush()
}
