package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scanwedge/internal/config"
	"scanwedge/internal/logging"
)

// cli holds the state shared by all subcommands of one invocation.
type cli struct {
	configPath string
	logLevel   string
	logFormat  string

	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "scanwedge",
		Short: "Detect barcode scans from keyboard-wedge scanners",
		Long: `scanwedge watches keyboard input and tells barcode scans apart from
human typing by the time between keystrokes. A scanner types a whole
code in a few milliseconds; a person cannot.

Each detected scan is written as a record (JSON lines or plain text).
Keys can come from a Linux evdev device or from an IBus input method
engine.

Examples:
  scanwedge run --device /dev/input/event3 --grab
  scanwedge run --source ibus --format text
  scanwedge replay testdata/burst.yaml
  scanwedge config init`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setupLogging(config.DefaultConfig())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				c.logger.Close()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/scanwedge/config.toml)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newRunCmd(c),
		newReplayCmd(c),
		newDevicesCmd(c),
		newConfigCmd(c),
		newSchemaCmd(),
		newIBusComponentCmd(c),
		newMonitorCmd(c),
		newTraceGenCmd(),
		newVersionCmd(),
	)
	return root
}

// path returns the config file in use.
func (c *cli) path() string {
	if c.configPath != "" {
		return c.configPath
	}
	return config.ConfigPath()
}

// loadConfig reads the config file and reconfigures logging from it.
func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.path())
	if err != nil {
		return nil, err
	}
	if err := c.setupLogging(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging installs the default logger for cfg, with the --log-level
// and --log-format flags taking precedence.
func (c *cli) setupLogging(cfg *config.Config) error {
	lc := cfg.LoggerConfig()
	if c.logLevel != "" {
		level, err := logging.ParseLevel(c.logLevel)
		if err != nil {
			return err
		}
		lc.Level = level
	}
	if c.logFormat != "" {
		format, err := logging.ParseFormat(c.logFormat)
		if err != nil {
			return err
		}
		lc.Format = format
	}

	logger, err := logging.New(lc)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	if c.logger != nil {
		c.logger.Close()
	}
	c.logger = logger
	logging.SetDefault(logger)
	logger.Debug("logging configured", "level", logging.LevelString(lc.Level), "output", lc.Output)
	return nil
}
