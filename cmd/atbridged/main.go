// atbridged bridges the desktop accessibility bus and raw keyboard input
// for assistive technology clients.
//
//	atbridged [--config FILE] [--no-capture] [--log-level LEVEL]
//	atbridged write-config [--config FILE] [--force]
//
// Clients talk to the daemon over a unix control socket; see atbridgectl.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"atbridge/internal/atspi"
	"atbridge/internal/config"
	"atbridge/internal/input"
	"atbridge/internal/logging"
)

// Version is set at build time.
var Version = "dev"

type options struct {
	configPath string
	noCapture  bool
	logLevel   string
	noWatch    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "atbridged",
		Short:         "Accessibility and keyboard bridge daemon",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (default: "+config.ConfigPath()+")")
	cmd.Flags().BoolVar(&opts.noCapture, "no-capture", false, "do not capture raw keyboard input")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "do not reload the configuration file on change")
	cmd.AddCommand(newWriteConfigCommand())
	return cmd
}

func newWriteConfigCommand() *cobra.Command {
	var (
		path  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "write-config",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = config.ConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "file to write; the extension picks TOML, YAML or JSON")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func run(ctx context.Context, opts *options) error {
	loader := config.NewLoader(opts.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", loader.Path(), err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	lc, err := cfg.LoggerConfig()
	if err != nil {
		return err
	}
	log, err := logging.New(lc)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Close()
	logging.SetDefault(log)

	svc := atspi.New(atspi.Config{
		BusAddress:       cfg.Accessibility.BusAddress,
		FocusSearchLimit: cfg.Accessibility.FocusSearchLimit,
		Keystrokes:       cfg.Accessibility.Keystrokes,
		Logger:           log.WithComponent("atspi"),
	})
	d := newDaemon(cfg, svc, input.NewSource(cfg.Capture.InputDir), log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.start(ctx, !opts.noCapture); err != nil {
		log.Error("startup failed", "error", err)
		return err
	}
	log.Info("atbridged started", "version", Version, "config", loader.Path(), "socket", cfg.IPC.SocketPath)

	loader.OnChange(func(old, next *config.Config) {
		if opts.logLevel != "" {
			next.Logging.Level = opts.logLevel
		}
		d.reconfigure(ctx, old, next)
	})
	if !opts.noWatch {
		if err := loader.Watch(); err != nil {
			log.Warn("configuration reload disabled", "error", err)
		}
	}
	defer loader.Close()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return d.stop()
		case err := <-loader.Errors():
			log.Warn("configuration reload failed", "error", err)
		case <-hup:
			if err := loader.Reload(); err != nil {
				log.Warn("configuration reload failed", "error", err)
			}
		}
	}
}
