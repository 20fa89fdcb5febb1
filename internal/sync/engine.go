package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/picasync/internal/model"
)

const (
	otelScope        = "picasync/sync"
	spanCycle        = "sync.cycle"
	spanAlbum        = "sync.album"
	metricUploaded   = "picasync.sync.photos.uploaded"
	metricDownloaded = "picasync.sync.photos.downloaded"
	metricFailed     = "picasync.sync.photos.failed"
	metricRecycled   = "picasync.sync.photos.recycled"
	metricAborted    = "picasync.sync.cycles.aborted"
)

// Engine schedules sync cycles: one immediately, then every poll interval or
// whenever [Engine.RequestCycle] wakes it. Create one with [NewEngine] and
// start it with [Engine.Run].
type Engine struct {
	orch         *Orchestrator
	pollInterval time.Duration
	maxAge       time.Duration
	wake         chan struct{}
	log          *slog.Logger

	// OTel instruments; no-op when telemetry is disabled.
	tracer        trace.Tracer
	cntUploaded   metric.Int64Counter
	cntDownloaded metric.Int64Counter
	cntFailed     metric.Int64Counter
	cntRecycled   metric.Int64Counter
	cntAborted    metric.Int64Counter
}

// NewEngine creates an Engine. maxAge bounds each cycle to recently changed
// items; zero disables the bound.
func NewEngine(orch *Orchestrator, pollInterval, maxAge time.Duration, logger *slog.Logger) *Engine {
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		orch:         orch,
		pollInterval: pollInterval,
		maxAge:       maxAge,
		wake:         make(chan struct{}, 1),
		log:          logger,

		tracer:        otel.Tracer(otelScope),
		cntUploaded:   mustCounter(metricUploaded, "Number of photos uploaded"),
		cntDownloaded: mustCounter(metricDownloaded, "Number of photos downloaded"),
		cntFailed:     mustCounter(metricFailed, "Number of photo transfers that failed"),
		cntRecycled:   mustCounter(metricRecycled, "Number of photos moved to the recycle bin"),
		cntAborted:    mustCounter(metricAborted, "Number of sync cycles aborted"),
	}
}

// State returns the shared progress hub.
func (e *Engine) State() *SyncState { return e.orch.State() }

// RequestCycle wakes the worker. It returns false and does nothing while a
// cycle is running.
func (e *Engine) RequestCycle() bool {
	if e.orch.State().InProgress() {
		e.log.Debug("cycle requested while running, ignored")
		return false
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

// Cancel requests cooperative cancellation of the running cycle.
func (e *Engine) Cancel() { e.orch.Cancel() }

// Logout drops the cached credentials before the next cycle.
func (e *Engine) Logout() { e.orch.Logout() }

// cycle runs one pass, recording a trace span and metrics.
func (e *Engine) cycle(ctx context.Context) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, spanCycle)
	defer span.End()

	stats, err := e.orch.RunCycle(ctx, e.maxAge)

	if stats.Uploaded > 0 {
		e.cntUploaded.Add(ctx, int64(stats.Uploaded))
	}
	if stats.Downloaded > 0 {
		e.cntDownloaded.Add(ctx, int64(stats.Downloaded))
	}
	if stats.Failed > 0 {
		e.cntFailed.Add(ctx, int64(stats.Failed))
	}
	if stats.Recycled > 0 {
		e.cntRecycled.Add(ctx, int64(stats.Recycled))
	}
	if err != nil && !errors.Is(err, ErrSyncAlreadyRunning) {
		e.cntAborted.Add(ctx, 1)
	}

	span.SetAttributes(
		attribute.Int("sync.albums", stats.Albums),
		attribute.Int("sync.uploaded", stats.Uploaded),
		attribute.Int("sync.downloaded", stats.Downloaded),
		attribute.Int("sync.failed", stats.Failed),
		attribute.Int("sync.recycled", stats.Recycled),
	)
	if err != nil {
		span.RecordError(err)
	}
	return stats, err
}

// RunOnce performs a single cycle and returns.
func (e *Engine) RunOnce(ctx context.Context) (Stats, error) {
	return e.cycle(ctx)
}

// Run runs cycles until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		e.runLogged(ctx)

		// Wakes that raced with the finished cycle are absorbed.
		select {
		case <-e.wake:
		default:
		}

		timer := time.NewTimer(e.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-timer.C:
		case <-e.wake:
			timer.Stop()
			e.log.Info("manual sync requested")
		}
	}
}

func (e *Engine) runLogged(ctx context.Context) {
	_, err := e.cycle(ctx)
	switch {
	case err == nil, errors.Is(err, ErrSyncAlreadyRunning):
	case errors.Is(err, model.ErrNetworkUnavailable):
		e.log.Warn("sync skipped, network unavailable", "error", err)
	default:
		e.log.Error("sync cycle failed", "error", err)
	}
}
