// Package sync implements the two-way reconciliation engine for picasync. It
// compares the local album folders with the remote album service, decides per
// photo whether to upload, download or leave it alone, and applies those
// decisions one album at a time.
//
// The package contains four main components:
//
//   - [ItemReconciler] decides the action for one local/remote pair.
//   - [AlbumReconciler] diffs and applies one album.
//   - [Orchestrator] builds and drives the album work list for one cycle.
//   - [Engine] runs cycles on a timer or on demand.
//
// All progress is published through a shared [SyncState].
package sync

import (
	"context"
	"io"
	"time"

	"github.com/njoerd114/picasync/internal/model"
	"github.com/njoerd114/picasync/internal/state"
)

// RemoteClient provides access to the remote album service.
// Implemented by [picasaweb.Client].
type RemoteClient interface {
	// ListAlbums returns every album, following pagination to the end.
	ListAlbums(ctx context.Context) ([]*model.Album, error)
	// ListPhotos returns every photo of an existing album.
	ListPhotos(ctx context.Context, album *model.Album) ([]*model.Photo, error)
	// CreateAlbum creates the album remotely and fills in its ID.
	CreateAlbum(ctx context.Context, album *model.Album) error
	UploadPhoto(ctx context.Context, album *model.Album, name string, r io.Reader, size int64) (*model.Photo, error)
	ReplacePhoto(ctx context.Context, photo *model.Photo, name string, r io.Reader, size int64) (*model.Photo, error)
	MovePhoto(ctx context.Context, photo *model.Photo, dest *model.Album) error
	SetAlbumDate(ctx context.Context, album *model.Album, date time.Time) error
	DownloadPhoto(ctx context.Context, photo *model.Photo, w io.Writer) (int64, error)
}

// Connector produces an authenticated [RemoteClient]. When interactive is
// false it must not prompt the user and fails with [model.ErrAuthExpired]
// if no usable credential is available. Invalidate discards any cached
// credential so the next Connect, and any client it handed out earlier,
// must obtain a fresh one.
type Connector interface {
	Connect(ctx context.Context, interactive bool) (RemoteClient, error)
	Invalidate()
}

// Library provides access to the local album folders under the sync root.
// Folder arguments are relative to the root. Implemented by [library.Library].
type Library interface {
	Subfolders() ([]model.Folder, error)
	// FolderModTime reports the folder's mtime and whether it exists.
	FolderModTime(folder string) (time.Time, bool, error)
	// ListFiles returns the visible, non-ignored regular files of a folder.
	// A missing folder yields no files.
	ListFiles(folder string) ([]model.LocalFile, error)
	Open(folder, name string) (io.ReadCloser, error)
	// WriteFile writes via a temporary file renamed into place and then
	// stamps the file with modTime.
	WriteFile(folder, name string, modTime time.Time, fill func(io.Writer) error) (int64, error)
	SetModTime(folder, name string, t time.Time) error
	// TouchFolder sets the folder mtime to the newest file mtime inside it.
	TouchFolder(folder string) error
	// ReadExclusions returns the lines of the exclusion file, or nil if absent.
	ReadExclusions() ([]string, error)
	Checksum(folder, name string) (string, error)
}

// DateReader extracts the capture date of a local photo.
// Implemented by [library.ExifDates].
type DateReader interface {
	CaptureDate(folder, name string) (time.Time, error)
}

// DiskGuard reports whether the download volume still has enough free space.
// Implemented by [library.DiskGuard].
type DiskGuard interface {
	HasFreeSpace(ctx context.Context) (bool, error)
}

// DeletionMarker lists the files of a folder that the user tagged for
// deletion. Implemented by [picasaini.Marker].
type DeletionMarker interface {
	MarkedForDeletion(folder string) ([]string, error)
}

// Trash moves local files to the OS trash. Implemented by [library.Trash].
type Trash interface {
	MoveToTrash(folder, name string) error
}

// HistoryStore persists cycle outcomes and the recycle audit log.
// Implemented by [state.Store].
type HistoryStore interface {
	RecordCycle(ctx context.Context, c *state.Cycle) error
	RecordRecycled(ctx context.Context, p *state.RecycledPhoto) error
}

// StatusSink receives coalesced status snapshots. It is called from a single
// goroutine and must not call back into [SyncState].
type StatusSink interface {
	SyncStatus(st Status)
}
