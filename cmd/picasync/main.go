// Picasync keeps a folder of local photo albums in two-way sync with a web
// album service.
//
// Usage:
//
//	picasync setup                      # interactive first-run wizard
//	picasync daemon [--config <path>]   # sync on a timer, on demand and on folder changes
//	picasync sync-once [--config ...]   # single sync cycle then exit
//	picasync status                     # show last status and recent cycles
//	picasync uninstall [--purge]        # stop the service and remove its files
//	picasync version                    # print version
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/njoerd114/picasync/internal/config"
	"github.com/njoerd114/picasync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	defaultCfg, _ := config.DefaultPath()

	root := &cobra.Command{
		Use:           "picasync",
		Short:         "Two-way sync between local album folders and web albums",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(opts.configPath); err != nil {
				cmd.PrintErrln("No config file found. Run 'picasync setup' to get started.")
				cmd.PrintErrln()
			}
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultCfg, "path to config.yaml")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newSetupCmd(opts),
		newDaemonCmd(opts),
		newSyncOnceCmd(opts),
		newStatusCmd(opts),
		newUninstallCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, _ []string) {
				cmd.Println("picasync", version)
			},
		},
	)
	return root
}

// newLogger builds the process logger: colourised output on a terminal,
// logfmt otherwise (launchd and journald capture stderr). Records are also
// forwarded to the OpenTelemetry log pipeline once telemetry is set up.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var h slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		h = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: "15:04:05"})
	} else {
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(telemetry.NewLogHandler(h, "github.com/njoerd114/picasync"))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", path, err)
	}
	logger.Info("config loaded",
		"root", cfg.RootFolder,
		"poll_interval", cfg.PollInterval,
		"date_range_days", cfg.SyncDateRangeDays,
	)
	return cfg, nil
}
