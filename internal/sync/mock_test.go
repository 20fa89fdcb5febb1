package sync

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/njoerd114/picasync/internal/model"
	"github.com/njoerd114/picasync/internal/state"
)

// --- Mock Remote --------------------------------------------------------------

type mockRemote struct {
	mu      sync.Mutex
	albums  []*model.Album
	photos  map[string][]*model.Photo // album ID → photos
	content map[string][]byte         // photo ID → bytes
	nextID  int
	now     time.Time

	// albumErrs queues errors returned by ListAlbums.
	albumErrs []error
	// photoErrs queues errors returned by ListPhotos, keyed by album title.
	photoErrs  map[string][]error
	uploadErrs map[string]error // file name → error

	listed     []string // album titles passed to ListPhotos
	created    []string
	uploaded   []string
	replaced   []string
	moved      []string
	downloaded []string
	dated      map[string]time.Time
}

func newMockRemote(albums ...*model.Album) *mockRemote {
	return &mockRemote{
		albums:     albums,
		photos:     make(map[string][]*model.Photo),
		content:    make(map[string][]byte),
		now:        time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		photoErrs:  make(map[string][]error),
		uploadErrs: make(map[string]error),
		dated:      make(map[string]time.Time),
	}
}

func (m *mockRemote) addPhoto(album *model.Album, p *model.Photo, data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.AlbumID = album.ID
	m.photos[album.ID] = append(m.photos[album.ID], p)
	m.content[p.ID] = []byte(data)
}

func (m *mockRemote) failPhotos(title string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photoErrs[title] = append(m.photoErrs[title], errs...)
}

func (m *mockRemote) ListAlbums(_ context.Context) ([]*model.Album, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.albumErrs) > 0 {
		err := m.albumErrs[0]
		m.albumErrs = m.albumErrs[1:]
		return nil, err
	}
	return slices.Clone(m.albums), nil
}

func (m *mockRemote) ListPhotos(_ context.Context, album *model.Album) ([]*model.Photo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listed = append(m.listed, album.Title)
	if q := m.photoErrs[album.Title]; len(q) > 0 {
		m.photoErrs[album.Title] = q[1:]
		return nil, q[0]
	}
	return slices.Clone(m.photos[album.ID]), nil
}

func (m *mockRemote) CreateAlbum(_ context.Context, album *model.Album) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	album.ID = fmt.Sprintf("album-%d", m.nextID)
	album.Updated = m.now
	m.albums = append(m.albums, album)
	m.created = append(m.created, album.Title)
	return nil
}

func (m *mockRemote) UploadPhoto(_ context.Context, album *model.Album, name string, r io.Reader, _ int64) (*model.Photo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.uploadErrs[name]; err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.nextID++
	p := &model.Photo{
		ID:      fmt.Sprintf("%d", 1000+m.nextID),
		AlbumID: album.ID,
		Title:   name,
		Updated: m.now,
	}
	m.photos[album.ID] = append(m.photos[album.ID], p)
	m.content[p.ID] = data
	m.uploaded = append(m.uploaded, name)
	return p, nil
}

func (m *mockRemote) ReplacePhoto(_ context.Context, photo *model.Photo, name string, r io.Reader, _ int64) (*model.Photo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.uploadErrs[name]; err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	photo.Updated = m.now
	m.content[photo.ID] = data
	m.replaced = append(m.replaced, name)
	return photo, nil
}

func (m *mockRemote) MovePhoto(_ context.Context, photo *model.Photo, dest *model.Album) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.photos[photo.AlbumID]
	m.photos[photo.AlbumID] = slices.DeleteFunc(slices.Clone(src), func(p *model.Photo) bool { return p.ID == photo.ID })
	photo.AlbumID = dest.ID
	m.photos[dest.ID] = append(m.photos[dest.ID], photo)
	m.moved = append(m.moved, photo.Title)
	return nil
}

func (m *mockRemote) SetAlbumDate(_ context.Context, album *model.Album, date time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dated[album.Title] = date
	return nil
}

func (m *mockRemote) DownloadPhoto(_ context.Context, photo *model.Photo, w io.Writer) (int64, error) {
	m.mu.Lock()
	data := m.content[photo.ID]
	m.downloaded = append(m.downloaded, photo.Title)
	m.mu.Unlock()

	n, err := w.Write(data)
	return int64(n), err
}

func (m *mockRemote) listedTitles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.listed)
}

// --- Mock Connector -----------------------------------------------------------

type mockConnector struct {
	mu     sync.Mutex
	client RemoteClient
	errs   []error // returned in order before the client is handed out
	calls  int

	invalidations int
}

func (m *mockConnector) Connect(_ context.Context, interactive bool) (RemoteClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if interactive {
		return nil, fmt.Errorf("interactive login not expected")
	}
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return m.client, nil
}

func (m *mockConnector) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidations++
}

func (m *mockConnector) invalidationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidations
}

func (m *mockConnector) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Mock Library -------------------------------------------------------------

type mockFile struct {
	modTime time.Time
	data    []byte
}

type mockLibrary struct {
	mu         sync.Mutex
	folders    map[string]time.Time            // folder → mtime
	files      map[string]map[string]*mockFile // folder → name → file
	exclusions []string
	writeErr   map[string]error // file name → error
}

func newMockLibrary() *mockLibrary {
	return &mockLibrary{
		folders:  make(map[string]time.Time),
		files:    make(map[string]map[string]*mockFile),
		writeErr: make(map[string]error),
	}
}

func (m *mockLibrary) addFolder(folder string, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folders[folder] = modTime
	if m.files[folder] == nil {
		m.files[folder] = make(map[string]*mockFile)
	}
}

func (m *mockLibrary) addFile(folder, name string, modTime time.Time, data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[folder]; !ok {
		m.folders[folder] = modTime
		m.files[folder] = make(map[string]*mockFile)
	}
	m.files[folder][name] = &mockFile{modTime: modTime, data: []byte(data)}
}

func (m *mockLibrary) file(folder, name string) *mockFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[folder][name]
}

func (m *mockLibrary) Subfolders() ([]model.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Folder
	for name, mod := range m.folders {
		if strings.Contains(name, "/") {
			continue
		}
		out = append(out, model.Folder{Name: name, ModTime: mod})
	}
	slices.SortFunc(out, func(a, b model.Folder) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *mockLibrary) FolderModTime(folder string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mod, ok := m.folders[folder]
	return mod, ok, nil
}

func (m *mockLibrary) ListFiles(folder string) ([]model.LocalFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.LocalFile
	for name, f := range m.files[folder] {
		out = append(out, model.LocalFile{Name: name, ModTime: f.modTime, Size: int64(len(f.data))})
	}
	slices.SortFunc(out, func(a, b model.LocalFile) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *mockLibrary) Open(folder, name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[folder][name]
	if !ok {
		return nil, fmt.Errorf("open %s: file does not exist", path.Join(folder, name))
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (m *mockLibrary) WriteFile(folder, name string, modTime time.Time, fill func(io.Writer) error) (int64, error) {
	m.mu.Lock()
	err := m.writeErr[name]
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	if err := fill(&buf); err != nil {
		return 0, err
	}
	m.addFile(folder, name, modTime, buf.String())
	return int64(buf.Len()), nil
}

func (m *mockLibrary) SetModTime(folder, name string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[folder][name]
	if !ok {
		return fmt.Errorf("%s: not found", name)
	}
	f.modTime = t
	return nil
}

func (m *mockLibrary) TouchFolder(folder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest time.Time
	for _, f := range m.files[folder] {
		if f.modTime.After(newest) {
			newest = f.modTime
		}
	}
	m.folders[folder] = newest
	return nil
}

func (m *mockLibrary) ReadExclusions() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.exclusions), nil
}

func (m *mockLibrary) Checksum(folder, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[folder][name]
	if !ok {
		return "", fmt.Errorf("%s: not found", name)
	}
	sum := md5.Sum(f.data)
	return hex.EncodeToString(sum[:]), nil
}

// --- Small collaborators ----------------------------------------------------

type mockTrash struct {
	mu      sync.Mutex
	lib     *mockLibrary
	trashed []string
}

func (m *mockTrash) MoveToTrash(folder, name string) error {
	m.mu.Lock()
	m.trashed = append(m.trashed, path.Join(folder, name))
	m.mu.Unlock()

	if m.lib != nil {
		m.lib.mu.Lock()
		delete(m.lib.files[folder], name)
		m.lib.mu.Unlock()
	}
	return nil
}

type mockDisk struct {
	mu    sync.Mutex
	free  []bool // answers in order; the last one repeats
	calls int
}

func (m *mockDisk) HasFreeSpace(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := min(m.calls, len(m.free)-1)
	m.calls++
	return m.free[i], nil
}

type mockMarker map[string][]string

func (m mockMarker) MarkedForDeletion(folder string) ([]string, error) {
	return m[folder], nil
}

type mockDates map[string]time.Time // name → capture date

func (m mockDates) CaptureDate(_, name string) (time.Time, error) {
	if d, ok := m[name]; ok {
		return d, nil
	}
	return time.Time{}, fmt.Errorf("%s: no exif date", name)
}

type mockHistory struct {
	mu       sync.Mutex
	cycles   []*state.Cycle
	recycled []*state.RecycledPhoto
}

func (m *mockHistory) RecordCycle(_ context.Context, c *state.Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, c)
	return nil
}

func (m *mockHistory) RecordRecycled(_ context.Context, p *state.RecycledPhoto) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recycled = append(m.recycled, p)
	return nil
}

func (m *mockHistory) lastCycle() *state.Cycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.cycles) == 0 {
		return nil
	}
	return m.cycles[len(m.cycles)-1]
}

type mockSink struct {
	mu       sync.Mutex
	statuses []Status
}

func (m *mockSink) SyncStatus(st Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, st)
}

func (m *mockSink) last() (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.statuses) == 0 {
		return Status{}, false
	}
	return m.statuses[len(m.statuses)-1], true
}

func (m *mockHistory) cycleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cycles)
}
