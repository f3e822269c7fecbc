package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"scanwedge/internal/config"
	"scanwedge/internal/daemon"
)

type runFlags struct {
	source string
	device string
	grab   bool
	format string
	output string
	listen string
	watch  bool
}

func newRunCmd(c *cli) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch a keyboard and emit scan records",
		Long: `Attach to the configured key source and write one record per detected
barcode scan until interrupted.

The configuration file is watched and reloaded on change; SIGHUP forces
a reload. Flags override the file on every reload.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, c, f)
		},
	}

	f.register(cmd.Flags())
	return cmd
}

func (f *runFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.source, "source", "", "key source: evdev or ibus")
	fs.StringVar(&f.device, "device", "", "evdev device path (default: first keyboard)")
	fs.BoolVar(&f.grab, "grab", false, "grab the evdev device so keys do not reach other programs")
	fs.StringVar(&f.format, "format", "", "record format: json or text")
	fs.StringVarP(&f.output, "output", "o", "", "record output file (- for stdout)")
	fs.StringVar(&f.listen, "metrics-listen", "", "serve metrics and health on host:port")
	fs.BoolVar(&f.watch, "watch", true, "reload when the config file changes")
}

// apply copies the flags the user set onto cfg and revalidates it.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("source") {
		cfg.Source.Type = f.source
	}
	if flags.Changed("device") {
		cfg.Source.Device = f.device
	}
	if flags.Changed("grab") {
		cfg.Source.Grab = f.grab
	}
	if flags.Changed("format") {
		cfg.Output.Format = f.format
	}
	if flags.Changed("output") {
		cfg.Output.Path = f.output
	}
	if flags.Changed("metrics-listen") {
		cfg.Metrics.Listen = f.listen
	}
	return cfg.Validate()
}

func runDaemon(cmd *cobra.Command, c *cli, f *runFlags) error {
	loader := config.NewLoader(c.path())
	defer loader.Close()

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	cfg = cfg.Clone()
	if err := f.apply(cmd, cfg); err != nil {
		return err
	}
	if err := c.setupLogging(cfg); err != nil {
		return err
	}
	logger := c.logger.Logger

	d := daemon.New(cfg, daemon.WithLogger(logger))

	reload := func(next *config.Config) {
		next = next.Clone()
		if err := f.apply(cmd, next); err != nil {
			logger.Error("reloaded config rejected", "error", err)
			return
		}
		if err := d.Reload(next); err != nil {
			logger.Error("reload failed", "error", err)
		}
	}

	loader.OnChange(reload)
	if f.watch {
		if err := loader.Watch(); err != nil {
			logger.Warn("config watch unavailable", "path", loader.Path(), "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go forwardLoaderErrors(ctx, loader, logger)
	go reloadOnHangup(ctx, loader, logger, reload)

	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

func forwardLoaderErrors(ctx context.Context, loader *config.Loader, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-loader.Errors():
			if !ok {
				return
			}
			logger.Error("config reload", "path", loader.Path(), "error", err)
		}
	}
}

func reloadOnHangup(ctx context.Context, loader *config.Loader, logger *slog.Logger, reload func(*config.Config)) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("SIGHUP received, reloading", "path", loader.Path())
			cfg, err := loader.Load()
			if err != nil {
				logger.Error("config reload", "path", loader.Path(), "error", err)
				continue
			}
			reload(cfg)
		}
	}
}
