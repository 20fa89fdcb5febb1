package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/njoerd114/picasync/internal/config"
	"github.com/njoerd114/picasync/internal/setup"
	"github.com/njoerd114/picasync/internal/state"
)

// recentCycles is how many history rows `picasync status` prints.
const recentCycles = 5

func newSetupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-run wizard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return setup.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout(), opts.configPath, logger).Run(ctx)
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last sync status and recent cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbPath, err := state.DefaultDBPath()
			if err != nil {
				return err
			}
			return printStatus(cmd.Context(), cmd.OutOrStdout(), opts.configPath, dbPath, time.Now())
		},
	}
}

// printStatus reports config, service and state DB details. It never fails
// on a missing file; those are shown as not found.
func printStatus(ctx context.Context, w io.Writer, cfgPath, dbPath string, now time.Time) error {
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(w, format, args...) }

	p("picasync status\n")
	p("---------------\n")

	if isNotExist(cfgPath) {
		p("  Config:    not found (%s)\n", cfgPath)
	} else if cfg, err := config.Load(cfgPath); err != nil {
		p("  Config:    %s (invalid: %v)\n", cfgPath, err)
	} else {
		p("  Config:    %s\n", cfgPath)
		p("  Root:      %s\n", cfg.RootFolder)
		p("  Poll:      %s\n", cfg.PollInterval)
		if cfg.SyncDateRangeDays > 0 {
			p("  Range:     last %d day(s)\n", cfg.SyncDateRangeDays)
		}
	}

	if svc, err := setup.NewService(runtime.GOOS, cfgPath); err == nil {
		if _, statErr := os.Stat(svc.Path()); statErr == nil {
			p("  Service:   %s\n", svc.Path())
		} else {
			p("  Service:   not installed\n")
		}
		if dir := svc.LogDir(); dir != "" {
			p("  Logs:      %s\n", dir)
		}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		p("  State DB:  not found\n")
		return nil
	}
	p("  State DB:  %s (%s)\n", dbPath, humanize.IBytes(uint64(info.Size()))) //nolint:gosec // size is never negative

	store, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening state DB: %w", err)
	}
	defer func() { _ = store.Close() }()

	st, err := store.LoadStatus(ctx)
	if err != nil {
		return err
	}
	if st != nil {
		flag := ""
		if st.ErrorState {
			flag = " [error]"
		}
		if st.InProgress {
			flag += " [running]"
		}
		p("\n  Status:    %s%s (%s)\n", st.Message, flag, humanize.RelTime(st.UpdatedAt, now, "ago", "from now"))
		if st.Summary != "" {
			p("             %s\n", st.Summary)
		}
	}

	recycled, err := store.CountRecycled(ctx)
	if err != nil {
		return err
	}
	p("  Recycled:  %s photo(s)\n", humanize.Comma(int64(recycled)))

	cycles, err := store.RecentCycles(ctx, recentCycles)
	if err != nil {
		return err
	}
	if len(cycles) > 0 {
		p("\n  Recent cycles:\n")
	}
	for _, c := range cycles {
		p("    %-16s %-10s up %d, down %d, failed %d, took %s\n",
			humanize.RelTime(c.FinishedAt, now, "ago", "from now"),
			c.Outcome, c.Uploaded, c.Downloaded, c.Failed,
			c.FinishedAt.Sub(c.StartedAt).Round(time.Second),
		)
	}
	return nil
}

func isNotExist(path string) bool {
	_, err := os.Stat(path)
	return os.IsNotExist(err)
}

func newUninstallCmd(opts *options) *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Stop the background service and remove its files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			p := func(format string, args ...any) { _, _ = fmt.Fprintf(out, format, args...) }

			p("Uninstalling picasync...\n")
			svc, err := setup.NewService(runtime.GOOS, opts.configPath)
			if err != nil {
				return err
			}
			if err := svc.Uninstall(); err != nil {
				p("  ! %v\n", err)
			} else {
				p("  Service removed\n")
			}

			if !purge {
				p("\n  Config, state DB and album folders preserved.\n")
				p("  Run with --purge to also remove the config and state DB.\n")
				return nil
			}
			dbPath, err := state.DefaultDBPath()
			if err != nil {
				return err
			}
			for _, path := range []string{opts.configPath, dbPath, dbPath + "-wal", dbPath + "-shm"} {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					p("  ! %v\n", err)
				}
			}
			p("  Config and state DB removed. Album folders were left in place.\n")
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "also remove the config file and state DB")
	return cmd
}
