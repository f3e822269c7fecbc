package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scanwedge/internal/ime"
)

func newIBusComponentCmd(c *cli) *cobra.Command {
	var exec string

	cmd := &cobra.Command{
		Use:   "ibus-component",
		Short: "Print the IBus component XML",
		Long: `Print the component file that registers scanwedge as an IBus engine.
Install it into /usr/share/ibus/component/ and restart IBus:

  scanwedge ibus-component > /usr/share/ibus/component/scanwedge.xml
  ibus restart`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if exec == "" {
				self, err := os.Executable()
				if err != nil {
					return fmt.Errorf("locate executable: %w", err)
				}
				exec = self + " run --source ibus"
			}
			data, err := ime.ComponentXML(ime.IBusConfig{BusName: cfg.Source.IBusBusName}, exec, version)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&exec, "exec", "", "command IBus runs to start the engine")
	return cmd
}
