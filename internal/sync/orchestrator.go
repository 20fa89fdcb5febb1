package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/picasync/internal/model"
	"github.com/njoerd114/picasync/internal/state"
)

var (
	// ErrSyncAlreadyRunning is returned by RunCycle while another cycle runs.
	ErrSyncAlreadyRunning = errors.New("sync already running")

	// ErrCycleAborted is returned when too many albums failed in a row.
	ErrCycleAborted = errors.New("sync cycle aborted")
)

// maxConsecutiveFailures is the number of album failures in a row that is
// still tolerated. One more aborts the cycle.
const maxConsecutiveFailures = 2

// Stats aggregates the results of one cycle.
type Stats struct {
	Albums        int
	Uploaded      int
	Downloaded    int
	Failed        int
	Recycled      int
	AlbumFailures int
}

func (s *Stats) addAlbum(a AlbumStats) {
	s.Albums++
	s.Uploaded += a.Uploaded
	s.Downloaded += a.Downloaded
	s.Failed += a.Failed
	s.Recycled += a.Recycled
}

// Deps groups the collaborators of an [Orchestrator]. Dates, Disk, Marker
// and History may be nil.
type Deps struct {
	Connector Connector
	Library   Library
	Dates     DateReader
	Disk      DiskGuard
	Marker    DeletionMarker
	Trash     Trash
	History   HistoryStore
}

// workItem is one album queued for a cycle.
type workItem struct {
	album       *model.Album
	folder      string
	localChange time.Time
}

// Orchestrator runs reconciliation cycles over every album. It is driven by a
// single worker goroutine; only [Orchestrator.Cancel] and
// [Orchestrator.Logout] may be called from other goroutines.
type Orchestrator struct {
	deps   Deps
	state  *SyncState
	policy Policy
	log    *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	// client is owned by the worker goroutine.
	client          RemoteClient
	logoutRequested atomic.Bool
}

// NewOrchestrator creates an Orchestrator publishing progress to st.
func NewOrchestrator(deps Deps, st *SyncState, policy Policy, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		deps:   deps,
		state:  st,
		policy: policy,
		log:    logger,
		tracer: otel.Tracer(otelScope),
		now:    time.Now,
	}
}

// State returns the shared progress hub.
func (o *Orchestrator) State() *SyncState { return o.state }

// Cancel requests cooperative cancellation of the running cycle. The flag is
// checked between albums and between items; a transfer in flight completes.
func (o *Orchestrator) Cancel() {
	o.state.RequestCancel()
}

// Logout schedules invalidation of the cached remote client and its
// credentials. The worker drops them at its next connectivity check.
func (o *Orchestrator) Logout() {
	o.logoutRequested.Store(true)
}

// RunCycle performs one full reconciliation pass over items changed within
// maxAge. A non-positive maxAge disables the age filter.
func (o *Orchestrator) RunCycle(ctx context.Context, maxAge time.Duration) (Stats, error) {
	if !o.state.Start() {
		o.log.Warn("sync already in progress, ignoring request")
		return Stats{}, ErrSyncAlreadyRunning
	}

	started := o.now()
	stats, err := o.runCycle(ctx, maxAge)

	cancelled := o.state.Cancelled() || ctx.Err() != nil || errors.Is(err, context.Canceled)
	outcome, msg, withError := o.conclude(err, cancelled)
	if cancelled {
		err = nil
	}
	o.state.SetStatus(msg)
	o.state.Cancel(withError)

	o.log.Info("sync cycle finished",
		"outcome", outcome,
		"albums", stats.Albums,
		"uploaded", stats.Uploaded,
		"downloaded", stats.Downloaded,
		"failed", stats.Failed,
		"recycled", stats.Recycled,
		"duration", o.now().Sub(started).Round(time.Millisecond),
	)
	o.recordCycle(ctx, started, stats, outcome, msg)
	return stats, err
}

func (o *Orchestrator) conclude(err error, cancelled bool) (outcome, msg string, withError bool) {
	switch {
	case cancelled:
		return state.OutcomeCancelled, "Sync cancelled.", false
	case err == nil:
		return state.OutcomeComplete, "Sync complete.", false
	case errors.Is(err, model.ErrAuthExpired):
		return state.OutcomeAuth, "Authentication expired. Sync aborted.", true
	case errors.Is(err, model.ErrNetworkUnavailable):
		return state.OutcomeNetwork, "Connection error. Sync aborted.", false
	case errors.Is(err, ErrCycleAborted):
		return state.OutcomeAborted, "Sync failed.", true
	default:
		return state.OutcomeFailed, "Sync failed.", true
	}
}

func (o *Orchestrator) recordCycle(ctx context.Context, started time.Time, stats Stats, outcome, msg string) {
	if o.deps.History == nil {
		return
	}
	c := &state.Cycle{
		StartedAt:  started,
		FinishedAt: o.now(),
		Uploaded:   stats.Uploaded,
		Downloaded: stats.Downloaded,
		Failed:     stats.Failed,
		Outcome:    outcome,
		Message:    msg,
	}
	if err := o.deps.History.RecordCycle(context.WithoutCancel(ctx), c); err != nil {
		o.log.Warn("recording cycle", "error", err)
	}
}

func (o *Orchestrator) runCycle(ctx context.Context, maxAge time.Duration) (Stats, error) {
	var stats Stats

	// 1. Connectivity.
	client, err := o.ensureClient(ctx)
	if err != nil {
		return stats, err
	}

	// 2. Exclusions.
	exclusions := o.loadExclusions()

	// 3. Albums and the recycle bin.
	albums, err := client.ListAlbums(ctx)
	if errors.Is(err, model.ErrAuthExpired) {
		o.log.Warn("credentials rejected, re-authenticating", "error", err)
		if client, err = o.reauth(ctx); err != nil {
			return stats, err
		}
		albums, err = client.ListAlbums(ctx)
	}
	if err != nil {
		if errors.Is(err, model.ErrAuthExpired) {
			o.invalidate()
		}
		return stats, o.classify(fmt.Errorf("listing albums: %w", err))
	}
	bin, albums, err := o.prepareRecycleBin(ctx, client, albums)
	if err != nil {
		if errors.Is(err, model.ErrAuthExpired) {
			o.invalidate()
		}
		return stats, err
	}

	var threshold time.Time
	if maxAge > 0 {
		threshold = o.now().Add(-maxAge)
	}

	// 4-7. Work list.
	items := o.buildWorkList(albums, exclusions, threshold)
	o.log.Info("sync cycle started", "albums", len(items), "recycled_index", bin.Len())

	// 8. Process sequentially.
	failures := 0
	for _, item := range items {
		if o.state.Cancelled() || ctx.Err() != nil {
			o.log.Info("sync cancelled", "remaining", len(items)-stats.Albums)
			return stats, nil
		}
		o.state.SetStatus(fmt.Sprintf("Syncing %s...", item.album.Title))

		albumStats, err := o.processAlbum(ctx, client, item, bin, threshold)
		if errors.Is(err, model.ErrAuthExpired) {
			o.log.Warn("credentials rejected, re-authenticating", "album", item.album.Title)
			if client, err = o.reauth(ctx); err != nil {
				stats.addAlbum(albumStats)
				return stats, err
			}
			retried, retryErr := o.processAlbum(ctx, client, item, bin, threshold)
			albumStats.add(retried)
			err = retryErr
		}
		stats.addAlbum(albumStats)

		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, context.Canceled):
			return stats, nil
		case errors.Is(err, model.ErrAuthExpired):
			o.log.Error("credentials rejected after re-authentication, aborting cycle", "album", item.album.Title, "error", err)
			o.invalidate()
			return stats, err
		case model.IsNetworkError(err):
			o.log.Warn("network unavailable, aborting cycle", "album", item.album.Title, "error", err)
			return stats, o.classify(err)
		default:
			failures++
			stats.AlbumFailures++
			o.log.Error("album sync failed", "album", item.album.Title, "consecutive", failures, "error", err)
			if failures > maxConsecutiveFailures {
				return stats, fmt.Errorf("%w: %d consecutive album failures", ErrCycleAborted, failures)
			}
		}
	}
	return stats, nil
}

func (o *Orchestrator) processAlbum(ctx context.Context, client RemoteClient, item *workItem, bin *RecycleBin, threshold time.Time) (AlbumStats, error) {
	ctx, span := o.tracer.Start(ctx, spanAlbum, trace.WithAttributes(
		attribute.String("album.title", item.album.Title),
		attribute.Bool("album.instant_upload", item.album.IsInstantUpload()),
	))
	defer span.End()

	deps := AlbumCollaborators{
		Library: o.deps.Library,
		Dates:   o.deps.Dates,
		Disk:    o.deps.Disk,
		Marker:  o.deps.Marker,
	}
	rec := NewAlbumReconciler(item.album, item.folder, deps, bin, o.state, o.policy, o.log)
	stats, err := rec.Process(ctx, client, threshold)

	span.SetAttributes(
		attribute.Int("album.uploaded", stats.Uploaded),
		attribute.Int("album.downloaded", stats.Downloaded),
		attribute.Int("album.failed", stats.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return stats, err
}

// ensureClient returns the cached client or connects without prompting.
func (o *Orchestrator) ensureClient(ctx context.Context) (RemoteClient, error) {
	if o.logoutRequested.CompareAndSwap(true, false) {
		o.invalidate()
		o.log.Info("logged out, credentials dropped")
	}
	if o.client != nil {
		return o.client, nil
	}
	c, err := o.deps.Connector.Connect(ctx, false)
	if err != nil {
		return nil, o.classify(fmt.Errorf("connecting: %w", err))
	}
	o.client = c
	return c, nil
}

// invalidate drops the cached client and the credentials behind it, so the
// next connect has to obtain fresh ones.
func (o *Orchestrator) invalidate() {
	o.client = nil
	o.deps.Connector.Invalidate()
}

// reauth replaces credentials the remote just rejected.
func (o *Orchestrator) reauth(ctx context.Context) (RemoteClient, error) {
	o.invalidate()
	return o.ensureClient(ctx)
}

// classify makes sure transport failures carry [model.ErrNetworkUnavailable].
func (o *Orchestrator) classify(err error) error {
	if errors.Is(err, model.ErrNetworkUnavailable) || !model.IsNetworkError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrNetworkUnavailable, err)
}

// loadExclusions reads the exclusion file. The auto-backup folder can never
// be excluded.
func (o *Orchestrator) loadExclusions() mapset.Set[string] {
	set := mapset.NewThreadUnsafeSet[string]()
	lines, err := o.deps.Library.ReadExclusions()
	if err != nil {
		o.log.Warn("reading exclusion list", "error", err)
		return set
	}
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			set.Add(l)
		}
	}
	set.Remove(AutoBackupFolder)
	if set.Cardinality() > 0 {
		o.log.Debug("exclusion list loaded", "albums", set.Cardinality())
	}
	return set
}

func (o *Orchestrator) prepareRecycleBin(ctx context.Context, client RemoteClient, albums []*model.Album) (*RecycleBin, []*model.Album, error) {
	binAlbum, rest := recycleAlbum(albums)
	bin := NewRecycleBin(binAlbum, o.deps.Trash, o.deps.History, o.log)
	if err := bin.Load(ctx, client); err != nil {
		if escalates(err) {
			return nil, nil, o.classify(err)
		}
		o.log.Warn("loading recycle bin", "error", err)
	}
	return bin, rest, nil
}

func (o *Orchestrator) buildWorkList(albums []*model.Album, exclusions mapset.Set[string], threshold time.Time) []*workItem {
	var items []*workItem
	remaining := albums

	// Auto-backup item, independent of the age filter.
	if o.policy.AutoBackupUpload {
		var instant *model.Album
		instant, remaining = instantUploadAlbum(albums)
		items = append(items, o.newWorkItem(instant))
	}

	// Local folders without a remote album.
	if o.policy.anyUpload() {
		items = append(items, o.newFolderItems(albums, exclusions)...)
	}

	// Existing remote albums.
	seen := mapset.NewThreadUnsafeSet[string]()
	dupes := 0
	for _, a := range remaining {
		if !seen.Add(a.Title) {
			dupes++
			continue
		}
		switch {
		case o.policy.ExcludeDropBox && a.Title == DropBoxTitle:
			continue
		case exclusions.Contains(a.Title):
			o.log.Debug("album excluded", "album", a.Title)
			continue
		case a.IsInstantUpload() && !o.policy.AutoBackupDownload:
			continue
		case !a.IsInstantUpload() && !o.policy.anyAlbumSync():
			continue
		}
		item := o.newWorkItem(a)
		if !threshold.IsZero() && item.localChange.Before(threshold) {
			continue
		}
		items = append(items, item)
	}
	if dupes > 0 {
		o.log.Info("ignored albums with duplicate titles", "count", dupes)
	}

	slices.SortStableFunc(items, func(a, b *workItem) int {
		return b.localChange.Compare(a.localChange)
	})
	return items
}

func (o *Orchestrator) newWorkItem(a *model.Album) *workItem {
	folder := FolderForAlbum(a)
	mod, exists, err := o.deps.Library.FolderModTime(folder)
	if err != nil {
		o.log.Warn("reading folder mtime", "folder", folder, "error", err)
		exists = false
	}
	return &workItem{
		album:       a,
		folder:      folder,
		localChange: localChangeDate(a.Updated, mod, exists),
	}
}

func (o *Orchestrator) newFolderItems(albums []*model.Album, exclusions mapset.Set[string]) []*workItem {
	folders, err := o.deps.Library.Subfolders()
	if err != nil {
		o.log.Warn("scanning local folders", "error", err)
		return nil
	}

	titles := mapset.NewThreadUnsafeSet[string](RecycleBinTitle)
	for _, a := range albums {
		titles.Add(a.Title)
	}

	var items []*workItem
	for _, f := range folders {
		if f.Name == AutoBackupFolder || strings.HasPrefix(f.Name, ".") {
			continue
		}
		if titles.Contains(f.Name) || exclusions.Contains(f.Name) {
			continue
		}
		items = append(items, &workItem{
			album:       &model.Album{Title: f.Name},
			folder:      f.Name,
			localChange: f.ModTime,
		})
	}
	slices.SortStableFunc(items, func(a, b *workItem) int {
		return b.localChange.Compare(a.localChange)
	})
	if len(items) > 0 {
		o.log.Info("new local albums found", "count", len(items))
	}
	return items
}

// instantUploadAlbum finds the device upload album, or synthesizes one to be
// created on first upload, and returns the albums without it.
func instantUploadAlbum(albums []*model.Album) (*model.Album, []*model.Album) {
	idx := slices.IndexFunc(albums, isInstantUploadAlbum)
	if idx < 0 {
		return &model.Album{
			Name:  instantUploadName,
			Title: InstantUploadTitle,
			Type:  model.AlbumTypeInstantUpload,
		}, albums
	}
	rest := make([]*model.Album, 0, len(albums)-1)
	rest = append(rest, albums[:idx]...)
	rest = append(rest, albums[idx+1:]...)
	return albums[idx], rest
}
