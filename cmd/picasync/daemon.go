package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/picasync/internal/config"
	"github.com/njoerd114/picasync/internal/library"
	"github.com/njoerd114/picasync/internal/picasaini"
	"github.com/njoerd114/picasync/internal/picasaweb"
	"github.com/njoerd114/picasync/internal/state"
	syncp "github.com/njoerd114/picasync/internal/sync"
	"github.com/njoerd114/picasync/internal/telemetry"
)

// lockFile sits in the sync root so two processes never reconcile the same
// folders at once.
const lockFile = ".picasync.lock"

func newDaemonCmd(opts *options) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run continuously: on a timer, on SIGUSR1 and on folder changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), opts, true, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "start a cycle when files under the root change")
	return cmd
}

func newSyncOnceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-once",
		Short: "Run a single sync cycle then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), opts, false, false)
		},
	}
}

// app holds everything a sync run needs; close releases it in reverse order.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *state.Store
	lib     *library.Library
	auth    *picasaweb.Authenticator
	state   *syncp.SyncState
	engine  *syncp.Engine
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp loads the config and wires the sync engine.
func buildApp(ctx context.Context, opts *options) (*app, error) {
	logger := newLogger(opts.verbose)
	a := &app{log: logger}

	cfg, err := loadConfig(opts.configPath, logger)
	if err != nil {
		return nil, err
	}
	a.cfg = cfg

	// --- Telemetry (optional) ------------------------------------------------

	if telCfg := telemetry.FromConfig(cfg.Telemetry, version); telCfg != nil {
		shutdownTel, err := telemetry.Setup(ctx, *telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", telCfg.OTLPEndpoint)
			a.closers = append(a.closers, func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			})
		}
	}

	// --- State DB ------------------------------------------------------------

	dbPath, err := state.DefaultDBPath()
	if err != nil {
		a.close()
		return nil, err
	}
	store, err := state.Open(dbPath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	a.store = store
	a.closers = append(a.closers, func() {
		if err := store.Close(); err != nil {
			logger.Error("closing state DB", "error", err)
		}
	})
	logger.Debug("state DB opened", "path", dbPath)

	// --- Local library -------------------------------------------------------

	if err := os.MkdirAll(cfg.RootFolder, 0o755); err != nil {
		a.close()
		return nil, fmt.Errorf("creating root folder: %w", err)
	}
	lib, err := library.New(cfg.RootFolder, cfg.IgnoreFiles, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.lib = lib
	dates, err := library.NewExifDates(lib)
	if err != nil {
		a.close()
		return nil, err
	}
	trash := library.NewTrash(lib, "", logger)
	logger.Debug("local library ready", "root", lib.Root(), "trash", trash.Dir())

	// --- Remote --------------------------------------------------------------

	a.auth = picasaweb.NewAuthenticator(cfg.Remote, logger)
	connector := remoteConnector{auth: a.auth}

	// --- Engine --------------------------------------------------------------

	a.state = syncp.NewSyncState(&storeSink{store: store, log: logger})
	a.closers = append(a.closers, a.state.Close)

	orch := syncp.NewOrchestrator(syncp.Deps{
		Connector: connector,
		Library:   lib,
		Dates:     dates,
		Disk:      library.NewDiskGuard(lib.Root(), logger),
		Marker:    picasaini.NewMarker(osfs.New(lib.Root()), logger),
		Trash:     trash,
		History:   store,
	}, a.state, policyFromConfig(cfg), logger)
	a.engine = syncp.NewEngine(orch, cfg.PollInterval, cfg.MaxAge(), logger)
	return a, nil
}

func policyFromConfig(cfg *config.Config) syncp.Policy {
	return syncp.Policy{
		DownloadNew:        cfg.DownloadNew,
		DownloadChanged:    cfg.DownloadChanged,
		UploadNew:          cfg.UploadNew,
		UploadChanged:      cfg.UploadChanged,
		AutoBackupDownload: cfg.AutoBackupDownload,
		AutoBackupUpload:   cfg.AutoBackupUpload,
		UseChecksums:       cfg.UseChecksums,
		ExcludeVideos:      cfg.ExcludeVideos,
		ExcludeDropBox:     cfg.ExcludeDropBox,
	}
}

// runSync is the shared implementation for daemon and sync-once.
func runSync(parent context.Context, opts *options, daemon, watch bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := buildApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()

	lock := flock.New(filepath.Join(a.lib.Root(), lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking %s: %w", lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("another picasync process is syncing %s", a.lib.Root())
	}
	defer func() { _ = lock.Unlock() }()

	if !daemon {
		a.log.Info("running single sync cycle")
		stats, err := a.engine.RunOnce(ctx)
		a.log.Info("sync finished",
			"albums", stats.Albums,
			"uploaded", stats.Uploaded,
			"downloaded", stats.Downloaded,
			"failed", stats.Failed,
			"recycled", stats.Recycled,
		)
		return err
	}

	a.log.Info("daemon starting", "poll_interval", a.cfg.PollInterval, "watch", watch)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.engine.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("sync engine: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.handleSignals(gctx)
	})
	if watch {
		watcher := library.NewWatcher(a.lib, library.DefaultQuietPeriod, a.log)
		g.Go(func() error {
			err := watcher.Run(gctx, func() bool {
				if !a.engine.RequestCycle() {
					return false
				}
				a.log.Info("local changes detected, sync requested")
				return true
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				// The daemon still polls without the watcher.
				a.log.Warn("folder watcher stopped", "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	a.engine.Cancel()
	a.log.Info("shutdown complete")
	return err
}

// handleSignals maps SIGUSR1 to a manual cycle and SIGHUP to logout.
func (a *app) handleSignals(ctx context.Context) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				if !a.engine.RequestCycle() {
					a.log.Info("sync already running")
				}
			case syscall.SIGHUP:
				a.log.Info("logging out, credentials will be refreshed before the next cycle")
				a.engine.Logout()
			}
		}
	}
}

// remoteConnector hands the sync engine clients that share one
// Authenticator, so dropping its token affects every client at once.
type remoteConnector struct {
	auth *picasaweb.Authenticator
}

func (c remoteConnector) Connect(ctx context.Context, interactive bool) (syncp.RemoteClient, error) {
	client, err := c.auth.Connect(ctx, interactive)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (c remoteConnector) Invalidate() {
	c.auth.Forget()
}

// storeSink persists every status snapshot so `picasync status` can show it
// from another process.
type storeSink struct {
	store statusSaver
	log   *slog.Logger
	now   func() time.Time
}

type statusSaver interface {
	SaveStatus(ctx context.Context, st *state.Status) error
}

func (s *storeSink) SyncStatus(st syncp.Status) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	err := s.store.SaveStatus(context.Background(), &state.Status{
		Message:    st.Message,
		Summary:    st.Summary,
		InProgress: st.InProgress,
		ErrorState: st.ErrorState,
		UpdatedAt:  now().UTC(),
	})
	if err != nil {
		s.log.Warn("saving status", "error", err)
	}
}
