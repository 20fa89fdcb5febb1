package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/njoerd114/picasync/internal/model"
	"github.com/njoerd114/picasync/internal/state"
)

// RecycleBin implements soft deletion. A photo tagged for deletion is moved
// into the remote Recycle Bin album and its local file into the OS trash;
// nothing is ever hard-deleted. The unique keys of recycled photos form the
// deleted index, which stops this or another client from re-uploading or
// re-downloading a photo after it vanished from its album.
type RecycleBin struct {
	album   *model.Album
	deleted mapset.Set[string]
	trash   Trash
	history HistoryStore
	log     *slog.Logger
	now     func() time.Time
}

// NewRecycleBin creates a RecycleBin around the given album, which may not
// exist remotely yet. history may be nil.
func NewRecycleBin(album *model.Album, trash Trash, history HistoryStore, logger *slog.Logger) *RecycleBin {
	return &RecycleBin{
		album:   album,
		deleted: mapset.NewThreadUnsafeSet[string](),
		trash:   trash,
		history: history,
		log:     logger,
		now:     time.Now,
	}
}

// Album returns the recycle album.
func (b *RecycleBin) Album() *model.Album { return b.album }

// Load seeds the deleted index from the recycle album's current contents.
func (b *RecycleBin) Load(ctx context.Context, remote RemoteClient) error {
	if !b.album.Exists() {
		return nil
	}
	photos, err := remote.ListPhotos(ctx, b.album)
	if err != nil {
		return fmt.Errorf("listing recycle bin: %w", err)
	}
	for _, p := range photos {
		b.deleted.Add(model.UniqueKey(p))
	}
	b.log.Debug("recycle bin loaded", "photos", len(photos))
	return nil
}

// Contains reports whether key was already recycled.
func (b *RecycleBin) Contains(key string) bool {
	return b.deleted.Contains(key)
}

// Len returns the size of the deleted index.
func (b *RecycleBin) Len() int {
	return b.deleted.Cardinality()
}

// Recycle soft-deletes the candidate found in folder. It returns false with a
// nil error when the photo was already recycled.
func (b *RecycleBin) Recycle(ctx context.Context, remote RemoteClient, folder string, c *Candidate) (bool, error) {
	key := c.UniqueKey()
	if b.deleted.Contains(key) {
		b.log.Debug("photo already recycled", "name", c.Name(), "key", key)
		return false, nil
	}

	if c.HasRemote() {
		if !b.album.Exists() {
			if err := remote.CreateAlbum(ctx, b.album); err != nil {
				return false, fmt.Errorf("creating recycle bin album: %w", err)
			}
			b.log.Info("recycle bin album created", "id", b.album.ID)
		}
		if err := remote.MovePhoto(ctx, c.Remote, b.album); err != nil {
			return false, fmt.Errorf("moving %q to recycle bin: %w", c.Name(), err)
		}
	}

	if c.HasLocal() {
		if err := b.trash.MoveToTrash(folder, c.LocalName); err != nil {
			return false, fmt.Errorf("trashing local %q: %w", c.LocalName, err)
		}
	}

	b.deleted.Add(key)
	b.log.Info("photo recycled", "folder", folder, "name", c.Name())

	if b.history != nil {
		entry := &state.RecycledPhoto{
			UniqueKey:  key,
			Album:      AlbumTitleForFolder(folder),
			Filename:   c.Name(),
			RecycledAt: b.now(),
		}
		if err := b.history.RecordRecycled(ctx, entry); err != nil {
			b.log.Warn("recording recycled photo", "name", c.Name(), "error", err)
		}
	}
	return true, nil
}

// recycleAlbum finds the Recycle Bin among albums and returns it together
// with the remaining albums. A placeholder is returned when none exists.
func recycleAlbum(albums []*model.Album) (*model.Album, []*model.Album) {
	var bin *model.Album
	rest := make([]*model.Album, 0, len(albums))
	for _, a := range albums {
		if a.Title == RecycleBinTitle {
			if bin == nil {
				bin = a
			}
			continue
		}
		rest = append(rest, a)
	}
	if bin == nil {
		bin = &model.Album{Title: RecycleBinTitle, Description: recycleBinDescription}
	}
	return bin, rest
}
