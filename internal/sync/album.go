package sync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"

	"github.com/njoerd114/picasync/internal/model"
)

// ErrDiskSpaceLow stops the remaining downloads of one album.
var ErrDiskSpaceLow = errors.New("free disk space below threshold")

// AlbumStats tracks the work done for one album.
type AlbumStats struct {
	Uploaded   int
	Downloaded int
	Failed     int
	Recycled   int
}

func (s *AlbumStats) add(o AlbumStats) {
	s.Uploaded += o.Uploaded
	s.Downloaded += o.Downloaded
	s.Failed += o.Failed
	s.Recycled += o.Recycled
}

// AlbumCollaborators groups the local-side dependencies of an album pass.
type AlbumCollaborators struct {
	Library Library
	Dates   DateReader
	Disk    DiskGuard
	Marker  DeletionMarker
}

// AlbumReconciler diffs one album folder against its remote album and
// applies the resulting uploads and downloads.
type AlbumReconciler struct {
	album  *model.Album
	folder string
	deps   AlbumCollaborators
	bin    *RecycleBin
	st     *SyncState
	policy Policy
	items  *ItemReconciler
	log    *slog.Logger
}

// NewAlbumReconciler creates an AlbumReconciler for album stored in folder
// (relative to the sync root). bin may be nil, which disables recycling.
func NewAlbumReconciler(album *model.Album, folder string, deps AlbumCollaborators, bin *RecycleBin, st *SyncState, policy Policy, logger *slog.Logger) *AlbumReconciler {
	a := &AlbumReconciler{
		album:  album,
		folder: folder,
		deps:   deps,
		bin:    bin,
		st:     st,
		policy: policy,
		log:    logger.With("album", album.Title),
	}
	a.items = NewItemReconciler(policy, album.IsInstantUpload(), func(name string) (string, error) {
		return deps.Library.Checksum(folder, name)
	})
	return a
}

// Process runs one pass over the album. Items changed before threshold are
// skipped; a zero threshold disables the filter. Single-item failures are
// logged and counted. Auth and network errors are returned immediately
// because they affect every remaining item.
func (a *AlbumReconciler) Process(ctx context.Context, remote RemoteClient, threshold time.Time) (AlbumStats, error) {
	var stats AlbumStats

	// 1. Remote photos.
	var photos []*model.Photo
	if a.album.Exists() {
		var err error
		photos, err = remote.ListPhotos(ctx, a.album)
		if err != nil {
			return stats, fmt.Errorf("listing photos: %w", err)
		}
	}

	// 2. Collapse duplicate filenames.
	photos, discarded := DedupePhotos(photos)
	if discarded > 0 {
		a.log.Info("discarded duplicate remote photos", "count", discarded)
	}

	// 3. Candidates, local-only first.
	candidates, err := a.buildCandidates(photos)
	if err != nil {
		return stats, err
	}

	// Deletion requests are honoured regardless of age.
	candidates, err = a.recycleMarked(ctx, remote, candidates, &stats)
	if err != nil {
		return stats, err
	}

	// 4. Age pre-filter.
	if !threshold.IsZero() {
		candidates = filterNewerThan(candidates, threshold)
	}

	// 5. Classify.
	var uploads, downloads []*Candidate
	for _, c := range candidates {
		switch a.items.EvaluateAction(c) {
		case ActionUpload:
			uploads = append(uploads, c)
		case ActionDownload:
			downloads = append(downloads, c)
		}
	}
	a.log.Debug("album classified",
		"candidates", len(candidates),
		"uploads", len(uploads),
		"downloads", len(downloads),
	)

	// 6. Uploads.
	for i, c := range uploads {
		if a.st.Cancelled() || ctx.Err() != nil {
			return stats, nil
		}
		a.st.SetStatus(fmt.Sprintf("Uploading %s to %s (%d/%d)", c.Name(), a.album.Title, i+1, len(uploads)))

		if err := a.upload(ctx, remote, c); err != nil {
			if escalates(err) {
				return stats, err
			}
			a.log.Error("upload failed", "name", c.Name(), "error", err)
			stats.Failed++
			a.st.AddFailed(1)
			continue
		}
		stats.Uploaded++
		a.st.AddUploaded(1)
	}

	// 7. Album date correction.
	if stats.Uploaded > 0 && !a.album.IsInstantUpload() {
		if err := a.correctAlbumDate(ctx, remote); err != nil {
			if escalates(err) {
				return stats, err
			}
			a.log.Warn("setting album date", "error", err)
		}
	}

	// 8. Downloads, guarded by free disk space.
	for i, c := range downloads {
		if a.st.Cancelled() || ctx.Err() != nil {
			return stats, nil
		}
		if err := a.checkDiskSpace(ctx); err != nil {
			a.log.Warn("stopping downloads for album", "remaining", len(downloads)-i, "error", err)
			a.st.SetStatus("Low disk space. Downloads paused.")
			break
		}
		a.st.SetStatus(fmt.Sprintf("Downloading %s from %s (%d/%d)", c.Name(), a.album.Title, i+1, len(downloads)))

		if err := a.download(ctx, remote, c); err != nil {
			if escalates(err) {
				return stats, err
			}
			a.log.Error("download failed", "name", c.Name(), "error", err)
			stats.Failed++
			a.st.AddFailed(1)
			continue
		}
		stats.Downloaded++
		a.st.AddDownloaded(1)
	}

	return stats, nil
}

// DedupePhotos keeps one photo per case-insensitive filename: the one with
// the greatest ID (see [compareIDs]). Group order follows first appearance.
func DedupePhotos(photos []*model.Photo) ([]*model.Photo, int) {
	kept := make([]*model.Photo, 0, len(photos))
	index := make(map[string]int, len(photos))
	discarded := 0
	for _, p := range photos {
		key := model.NormalizeName(p.Title)
		i, seen := index[key]
		if !seen {
			index[key] = len(kept)
			kept = append(kept, p)
			continue
		}
		discarded++
		if compareIDs(p.ID, kept[i].ID) > 0 {
			kept[i] = p
		}
	}
	return kept, discarded
}

// compareIDs orders opaque photo IDs. All-digit IDs compare numerically so
// that "12" sorts after "5"; anything else compares as plain strings.
func compareIDs(a, b string) int {
	if isDigits(a) && isDigits(b) {
		a, b = strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if len(a) != len(b) {
			return cmp.Compare(len(a), len(b))
		}
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (a *AlbumReconciler) buildCandidates(photos []*model.Photo) ([]*Candidate, error) {
	files, err := a.deps.Library.ListFiles(a.folder)
	if err != nil {
		return nil, fmt.Errorf("listing local folder %q: %w", a.folder, err)
	}

	marked := mapset.NewThreadUnsafeSet[string]()
	if a.deps.Marker != nil {
		names, err := a.deps.Marker.MarkedForDeletion(a.folder)
		if err != nil {
			a.log.Warn("reading deletion marks", "error", err)
		}
		for _, n := range names {
			marked.Add(model.NormalizeName(n))
		}
	}

	remoteNames := make(map[string]bool, len(photos))
	for _, p := range photos {
		remoteNames[model.NormalizeName(p.Title)] = true
	}
	localByName := make(map[string]model.LocalFile, len(files))

	var candidates []*Candidate
	for _, f := range files {
		key := model.NormalizeName(f.Name)
		localByName[key] = f
		if remoteNames[key] {
			continue
		}
		candidates = append(candidates, &Candidate{
			LocalName:         f.Name,
			LocalModTime:      f.ModTime,
			LocalSize:         f.Size,
			MarkedForDeletion: marked.Contains(key),
		})
	}

	videos := 0
	for _, p := range photos {
		if a.policy.ExcludeVideos && p.IsVideo() {
			videos++
			continue
		}
		key := model.NormalizeName(p.Title)
		c := &Candidate{Remote: p, MarkedForDeletion: marked.Contains(key)}
		if f, ok := localByName[key]; ok {
			c.LocalName = f.Name
			c.LocalModTime = f.ModTime
			c.LocalSize = f.Size
		}
		candidates = append(candidates, c)
	}
	if videos > 0 {
		a.log.Debug("skipped remote videos", "count", videos)
	}

	if a.bin == nil {
		return candidates, nil
	}
	live := candidates[:0]
	for _, c := range candidates {
		if !c.MarkedForDeletion && a.bin.Contains(c.UniqueKey()) {
			a.log.Debug("skipping recycled photo", "name", c.Name())
			continue
		}
		live = append(live, c)
	}
	return live, nil
}

func (a *AlbumReconciler) recycleMarked(ctx context.Context, remote RemoteClient, candidates []*Candidate, stats *AlbumStats) ([]*Candidate, error) {
	if a.bin == nil {
		return candidates, nil
	}
	rest := candidates[:0]
	for _, c := range candidates {
		if !c.MarkedForDeletion {
			rest = append(rest, c)
			continue
		}
		done, err := a.bin.Recycle(ctx, remote, a.folder, c)
		if err != nil {
			if escalates(err) {
				return nil, err
			}
			a.log.Error("recycle failed", "name", c.Name(), "error", err)
			stats.Failed++
			a.st.AddFailed(1)
			continue
		}
		if done {
			stats.Recycled++
		}
	}
	return rest, nil
}

func filterNewerThan(candidates []*Candidate, threshold time.Time) []*Candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if c.NewerThan(threshold) {
			out = append(out, c)
		}
	}
	return out
}

func (a *AlbumReconciler) ensureAlbum(ctx context.Context, remote RemoteClient) error {
	if a.album.Exists() {
		return nil
	}
	if err := remote.CreateAlbum(ctx, a.album); err != nil {
		return fmt.Errorf("creating album %q: %w", a.album.Title, err)
	}
	a.log.Info("remote album created", "id", a.album.ID)
	return nil
}

func (a *AlbumReconciler) upload(ctx context.Context, remote RemoteClient, c *Candidate) error {
	if err := a.ensureAlbum(ctx, remote); err != nil {
		return err
	}

	f, err := a.deps.Library.Open(a.folder, c.LocalName)
	if err != nil {
		return fmt.Errorf("opening %q: %w", c.LocalName, err)
	}
	defer f.Close()

	size := c.LocalSize
	var photo *model.Photo
	if c.HasRemote() {
		photo, err = remote.ReplacePhoto(ctx, c.Remote, c.LocalName, f, size)
	} else {
		photo, err = remote.UploadPhoto(ctx, a.album, c.LocalName, f, size)
	}
	if err != nil {
		return fmt.Errorf("uploading %q: %w", c.LocalName, err)
	}

	// Align the local mtime with the remote update time so the next pass
	// sees the pair as unchanged.
	if photo != nil && !photo.Updated.IsZero() {
		if err := a.deps.Library.SetModTime(a.folder, c.LocalName, photo.Updated); err != nil {
			a.log.Warn("updating local mtime after upload", "name", c.LocalName, "error", err)
		}
	}
	a.log.Info("uploaded", "name", c.LocalName)
	return nil
}

func (a *AlbumReconciler) download(ctx context.Context, remote RemoteClient, c *Candidate) error {
	name := c.Remote.Title
	if c.HasLocal() {
		name = c.LocalName
	}

	n, err := a.deps.Library.WriteFile(a.folder, name, c.Remote.Updated, func(w io.Writer) error {
		_, err := remote.DownloadPhoto(ctx, c.Remote, w)
		return err
	})
	if err != nil {
		return fmt.Errorf("downloading %q: %w", name, err)
	}
	if err := a.deps.Library.TouchFolder(a.folder); err != nil {
		a.log.Warn("updating folder mtime", "error", err)
	}
	a.log.Info("downloaded", "name", name, "size", humanize.Bytes(uint64(n)))
	return nil
}

func (a *AlbumReconciler) correctAlbumDate(ctx context.Context, remote RemoteClient) error {
	files, err := a.deps.Library.ListFiles(a.folder)
	if err != nil {
		return fmt.Errorf("listing local folder %q: %w", a.folder, err)
	}

	var newest time.Time
	for _, f := range files {
		date := f.ModTime
		if a.deps.Dates != nil {
			if d, err := a.deps.Dates.CaptureDate(a.folder, f.Name); err == nil && !d.IsZero() {
				date = d
			}
		}
		if date.After(newest) {
			newest = date
		}
	}
	if newest.IsZero() || newest.Equal(a.album.Timestamp) {
		return nil
	}

	if err := remote.SetAlbumDate(ctx, a.album, newest); err != nil {
		return err
	}
	a.album.Timestamp = newest
	a.log.Debug("album date set", "date", newest)
	return nil
}

func (a *AlbumReconciler) checkDiskSpace(ctx context.Context) error {
	if a.deps.Disk == nil {
		return nil
	}
	ok, err := a.deps.Disk.HasFreeSpace(ctx)
	if err != nil {
		return fmt.Errorf("checking free space: %w", err)
	}
	if !ok {
		return ErrDiskSpaceLow
	}
	return nil
}

// escalates reports whether an item-level error must end the album pass.
func escalates(err error) bool {
	return errors.Is(err, model.ErrAuthExpired) ||
		model.IsNetworkError(err) ||
		errors.Is(err, context.Canceled)
}
