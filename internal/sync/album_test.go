package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/njoerd114/picasync/internal/model"
)

var testLogger = slog.Default()

type albumFixture struct {
	remote *mockRemote
	lib    *mockLibrary
	trash  *mockTrash
	disk   *mockDisk
	marker mockMarker
	dates  mockDates
	bin    *RecycleBin
	st     *SyncState
}

func newAlbumFixture() *albumFixture {
	lib := newMockLibrary()
	f := &albumFixture{
		remote: newMockRemote(),
		lib:    lib,
		trash:  &mockTrash{lib: lib},
		disk:   &mockDisk{free: []bool{true}},
		marker: mockMarker{},
		dates:  mockDates{},
		st:     NewSyncState(nil),
	}
	f.bin = NewRecycleBin(&model.Album{ID: "bin", Title: RecycleBinTitle}, f.trash, nil, testLogger)
	return f
}

func (f *albumFixture) reconciler(album *model.Album, policy Policy) *AlbumReconciler {
	deps := AlbumCollaborators{Library: f.lib, Dates: f.dates, Disk: f.disk, Marker: f.marker}
	return NewAlbumReconciler(album, FolderForAlbum(album), deps, f.bin, f.st, policy, testLogger)
}

// ---------------------------------------------------------------------------
// Deduplication
// ---------------------------------------------------------------------------

func TestDedupePhotos_KeepsGreatestID(t *testing.T) {
	photos := []*model.Photo{
		{ID: "5", Title: "a.jpg"},
		{ID: "12", Title: "a.jpg"},
		{ID: "7", Title: "b.jpg"},
	}

	kept, discarded := DedupePhotos(photos)
	if discarded != 1 {
		t.Errorf("discarded = %d, want 1", discarded)
	}
	if len(kept) != 2 {
		t.Fatalf("kept = %d, want 2", len(kept))
	}
	if kept[0].ID != "12" {
		t.Errorf("kept a.jpg id = %q, want %q", kept[0].ID, "12")
	}
	if kept[1].ID != "7" {
		t.Errorf("kept b.jpg id = %q, want %q", kept[1].ID, "7")
	}
}

func TestDedupePhotos_CaseInsensitive(t *testing.T) {
	photos := []*model.Photo{
		{ID: "100", Title: "IMG_1.JPG"},
		{ID: "101", Title: "img_1.jpg"},
	}
	kept, discarded := DedupePhotos(photos)
	if discarded != 1 || len(kept) != 1 || kept[0].ID != "101" {
		t.Errorf("DedupePhotos = %v (discarded %d), want single id 101", kept, discarded)
	}
}

func TestCompareIDs(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"12", "5", 1},
		{"5", "12", -1},
		{"007", "7", 0},
		{"abc", "abd", -1},
		{"9", "x1", -1},
	}
	for _, tt := range tests {
		if got := compareIDs(tt.a, tt.b); got != tt.want {
			t.Errorf("compareIDs(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Uploads
// ---------------------------------------------------------------------------

func TestProcess_NewFolder_CreatesAlbumAndUploads(t *testing.T) {
	f := newAlbumFixture()
	f.lib.addFile("Trip", "a.jpg", base, "aaa")
	f.lib.addFile("Trip", "b.jpg", base.Add(time.Minute), "bbb")
	shot := time.Date(2023, 8, 1, 10, 0, 0, 0, time.UTC)
	f.dates["b.jpg"] = shot

	album := &model.Album{Title: "Trip"}
	stats, err := f.reconciler(album, allPolicies()).Process(context.Background(), f.remote, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Uploaded != 2 {
		t.Errorf("Uploaded = %d, want 2", stats.Uploaded)
	}
	if len(f.remote.created) != 1 || f.remote.created[0] != "Trip" {
		t.Errorf("created albums = %v, want [Trip]", f.remote.created)
	}
	if !album.Exists() {
		t.Error("album ID not set after lazy creation")
	}

	// Local mtimes follow the remote update time.
	if got := f.lib.file("Trip", "a.jpg").modTime; !got.Equal(f.remote.now) {
		t.Errorf("a.jpg mtime = %v, want %v", got, f.remote.now)
	}

	// Album date comes from the newest capture or modification date.
	if got := f.remote.dated["Trip"]; !got.Equal(shot) && !got.Equal(f.remote.now) {
		t.Errorf("album date = %v, want a capture or file date", got)
	}
	if c := f.st.Counters(); c.Uploaded != 2 {
		t.Errorf("state uploaded = %d, want 2", c.Uploaded)
	}
}

func TestProcess_LocalNewer_ReplacesRemote(t *testing.T) {
	f := newAlbumFixture()
	album := &model.Album{ID: "alb-1", Title: "Trip"}
	f.remote.addPhoto(album, &model.Photo{ID: "1", Title: "a.jpg", Updated: base}, "old")
	f.lib.addFile("Trip", "a.jpg", base.Add(time.Hour), "new")

	stats, err := f.reconciler(album, allPolicies()).Process(context.Background(), f.remote, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Uploaded != 1 {
		t.Errorf("Uploaded = %d, want 1", stats.Uploaded)
	}
	if len(f.remote.replaced) != 1 || len(f.remote.uploaded) != 0 {
		t.Errorf("replaced = %v, uploaded = %v, want one replacement", f.remote.replaced, f.remote.uploaded)
	}
	if got := string(f.remote.content["1"]); got != "new" {
		t.Errorf("remote content = %q, want %q", got, "new")
	}
}

func TestProcess_InstantUpload_NoAlbumDate(t *testing.T) {
	f := newAlbumFixture()
	album := &model.Album{ID: "iu", Title: InstantUploadTitle, Name: instantUploadName, Type: model.AlbumTypeInstantUpload}
	f.lib.addFile(FolderForAlbum(album), "phone.jpg", base, "x")

	stats, err := f.reconciler(album, allPolicies()).Process(context.Background(), f.remote, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Uploaded != 1 {
		t.Errorf("Uploaded = %d, want 1", stats.Uploaded)
	}
	if len(f.remote.dated) != 0 {
		t.Errorf("album date set for instant-upload album: %v", f.remote.dated)
	}
}

func TestProcess_UploadFailure_ContinuesAlbum(t *testing.T) {
	f := newAlbumFixture()
	f.lib.addFile("Trip", "a.jpg", base, "a")
	f.lib.addFile("Trip", "b.jpg", base, "b")
	f.remote.uploadErrs["a.jpg"] = errors.New("server said no")

	stats, err := f.reconciler(&model.Album{Title: "Trip"}, allPolicies()).Process(context.Background(), f.remote, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Uploaded != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 uploaded and 1 failed", stats)
	}
}

func TestProcess_AuthFailure_Escalates(t *testing.T) {
	f := newAlbumFixture()
	f.lib.addFile("Trip", "a.jpg", base, "a")
	f.lib.addFile("Trip", "b.jpg", base, "b")
	f.remote.uploadErrs["a.jpg"] = fmt.Errorf("upload: %w", model.ErrAuthExpired)

	_, err := f.reconciler(&model.Album{Title: "Trip"}, allPolicies()).Process(context.Background(), f.remote, time.Time{})
	if !errors.Is(err, model.ErrAuthExpired) {
		t.Fatalf("err = %v, want ErrAuthExpired", err)
	}
	if len(f.remote.uploaded) != 0 {
		t.Errorf("uploaded = %v, want none after auth failure", f.remote.uploaded)
	}
}

// ---------------------------------------------------------------------------
// Downloads
// ---------------------------------------------------------------------------

func TestProcess_RemoteOnly_Downloads(t *testing.T) {
	f := newAlbumFixture()
	album := &model.Album{ID: "alb-1", Title: "Trip"}
	updated := base.Add(-48 * time.Hour)
	f.remote.addPhoto(album, &model.Photo{ID: "1", Title: "b.jpg", Updated: updated}, "remote bytes")

	stats, err := f.reconciler(album, allPolicies()).Process(context.Background(), f.remote, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Downloaded != 1 {
		t.Errorf("Downloaded = %d, want 1", stats.Downloaded)
	}

	got := f.lib.file("Trip", "b.jpg")
	if got == nil {
		t.Fatal("b.jpg not written")
	}
	if string(got.data) != "remote bytes" {
		t.Errorf("content = %q, want %q", got.data, "remote bytes")
	}
	if !got.modTime.Equal(updated) {
		t.Errorf("mtime = %v, want %v", got.modTime, updated)
	}
	if mod, _, _ := f.lib.FolderModTime("Trip"); !mod.Equal(updated) {
		t.Errorf("folder mtime = %v, want %v", mod, updated)
	}
}

func TestProcess_DiskGuard_StopsDownloads(t *testing.T) {
	f := newAlbumFixture()
	f.disk.free = []bool{true, false}
	album := &model.Album{ID: "alb-1", Title: "Trip"}
	for i := range 3 {
		name := fmt.Sprintf("p%d.jpg", i)
		f.remote.addPhoto(album, &model.Photo{ID: fmt.Sprint(i + 1), Title: name, Updated: base}, name)
	}

	stats, err := f.reconciler(album, allPolicies()).Process(context.Background(), f.remote, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Downloaded != 1 {
		t.Errorf("Downloaded = %d, want 1", stats.Downloaded)
	}
	if stats.Failed != 0 {
		t.Errorf("Failed = %d, want 0", stats.Failed)
	}
	if f.disk.calls != 2 {
		t.Errorf("disk checks = %d, want 2", f.disk.calls)
	}
}

func TestProcess_VideosExcluded(t *testing.T) {
	f := newAlbumFixture()
	album := &model.Album{ID: "alb-1", Title: "Trip"}
	video := &model.Photo{ID: "1", Title: "clip.mp4", Updated: base, Media: []model.MediaContent{
		{URL: "http://x/thumb.jpg", Medium: "image"},
		{URL: "http://x/clip.mp4", Medium: "video"},
	}}
	f.remote.addPhoto(album, video, "video")
	f.remote.addPhoto(album, &model.Photo{ID: "2", Title: "pic.jpg", Updated: base}, "pic")

	p := allPolicies()
	p.ExcludeVideos = true
	stats, err := f.reconciler(album, p).Process(context.Background(), f.remote, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Downloaded != 1 {
		t.Errorf("Downloaded = %d, want 1", stats.Downloaded)
	}
	if f.lib.file("Trip", "clip.mp4") != nil {
		t.Error("video downloaded although videos are excluded")
	}
}

func TestProcess_UnchangedPair_NoTransfer(t *testing.T) {
	f := newAlbumFixture()
	album := &model.Album{ID: "alb-1", Title: "Trip"}
	f.remote.addPhoto(album, &model.Photo{ID: "1", Title: "A.JPG", Updated: base}, "x")
	f.lib.addFile("Trip", "a.jpg", base.Add(3*time.Second), "x")

	stats, err := f.reconciler(album, allPolicies()).Process(context.Background(), f.remote, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats != (AlbumStats{}) {
		t.Errorf("stats = %+v, want zero", stats)
	}
}

func TestProcess_AgeThreshold_SkipsOldItems(t *testing.T) {
	f := newAlbumFixture()
	album := &model.Album{ID: "alb-1", Title: "Trip"}
	f.remote.addPhoto(album, &model.Photo{ID: "1", Title: "old.jpg", Updated: base.Add(-time.Hour)}, "old")
	f.remote.addPhoto(album, &model.Photo{ID: "2", Title: "new.jpg", Updated: base.Add(time.Hour)}, "new")

	stats, err := f.reconciler(album, allPolicies()).Process(context.Background(), f.remote, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Downloaded != 1 || f.lib.file("Trip", "new.jpg") == nil {
		t.Errorf("Downloaded = %d, want only new.jpg", stats.Downloaded)
	}
}

func TestProcess_Cancelled_StopsBeforeTransfers(t *testing.T) {
	f := newAlbumFixture()
	album := &model.Album{ID: "alb-1", Title: "Trip"}
	f.remote.addPhoto(album, &model.Photo{ID: "1", Title: "a.jpg", Updated: base}, "a")
	f.st.Start()
	f.st.RequestCancel()

	stats, err := f.reconciler(album, allPolicies()).Process(context.Background(), f.remote, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Downloaded != 0 {
		t.Errorf("Downloaded = %d, want 0 after cancellation", stats.Downloaded)
	}
}

// ---------------------------------------------------------------------------
// Recycling
// ---------------------------------------------------------------------------

func TestProcess_RecycledKeysAreSkipped(t *testing.T) {
	f := newAlbumFixture()
	binAlbum := f.bin.Album()
	f.remote.addPhoto(binAlbum, &model.Photo{ID: "90", Title: "gone.jpg", UniqueID: "uid-gone"}, "")
	if err := f.bin.Load(context.Background(), f.remote); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	album := &model.Album{ID: "alb-1", Title: "Trip"}
	f.remote.addPhoto(album, &model.Photo{ID: "1", Title: "gone.jpg", UniqueID: "uid-gone", Updated: base}, "x")

	stats, err := f.reconciler(album, allPolicies()).Process(context.Background(), f.remote, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Downloaded != 0 {
		t.Errorf("Downloaded = %d, want 0 for a recycled photo", stats.Downloaded)
	}
}

func TestProcess_MarkedForDeletion_Recycles(t *testing.T) {
	f := newAlbumFixture()
	album := &model.Album{ID: "alb-1", Title: "Trip"}
	f.remote.addPhoto(album, &model.Photo{ID: "1", Title: "bad.jpg", UniqueID: "uid-bad", Updated: base}, "x")
	f.lib.addFile("Trip", "bad.jpg", base.Add(time.Hour), "x")
	f.lib.addFile("Trip", "good.jpg", base, "y")
	f.marker["Trip"] = []string{"BAD.jpg"}

	stats, err := f.reconciler(album, allPolicies()).Process(context.Background(), f.remote, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Recycled != 1 {
		t.Errorf("Recycled = %d, want 1", stats.Recycled)
	}
	if stats.Uploaded != 1 {
		t.Errorf("Uploaded = %d, want 1 (good.jpg only)", stats.Uploaded)
	}
	if len(f.remote.moved) != 1 || f.remote.moved[0] != "bad.jpg" {
		t.Errorf("moved = %v, want [bad.jpg]", f.remote.moved)
	}
	if len(f.trash.trashed) != 1 || f.trash.trashed[0] != "Trip/bad.jpg" {
		t.Errorf("trashed = %v, want [Trip/bad.jpg]", f.trash.trashed)
	}
	if !f.bin.Contains("uid-bad") {
		t.Error("recycled key missing from deleted index")
	}
}
