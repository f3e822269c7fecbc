package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scanwedge/internal/output"
	"scanwedge/internal/replay"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema <record|trace>",
		Short:     "Print the record or trace JSON schema",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"record", "trace"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			switch args[0] {
			case "record":
				data = output.Schema()
			case "trace":
				data = replay.Schema()
			default:
				return fmt.Errorf("unknown schema %q (want record or trace)", args[0])
			}
			_, err := cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
