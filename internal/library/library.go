// Package library gives the sync engine access to the local album folders
// under the sync root: one subfolder per album, with "Auto Backup/<title>"
// folders for instant-upload albums. Files are read and written through a
// go-billy filesystem rooted at the sync root.
package library

import (
	"bufio"
	"crypto/md5" //nolint:gosec // the remote service reports MD5 checksums
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/njoerd114/picasync/internal/model"
)

const (
	// ExclusionFile lists album titles, one per line, that are never synced.
	ExclusionFile = "exclude.txt"

	tmpSuffix = ".tmp"
)

// Library reads and writes the album folders below one root directory.
// Create one with [New] or [NewWithFilesystem].
type Library struct {
	root   string
	fs     billy.Filesystem
	ignore []string
	log    *slog.Logger
}

// New returns a Library for the directory root. Files whose name matches one
// of the doublestar ignore patterns are invisible to [Library.ListFiles].
func New(root string, ignore []string, logger *slog.Logger) (*Library, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root folder %q: %w", root, err)
	}
	return NewWithFilesystem(abs, osfs.New(abs), ignore, logger)
}

// NewWithFilesystem returns a Library over a caller-supplied filesystem that
// is rooted at root.
func NewWithFilesystem(root string, fsys billy.Filesystem, ignore []string, logger *slog.Logger) (*Library, error) {
	patterns := make([]string, 0, len(ignore))
	for _, p := range ignore {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
		patterns = append(patterns, p)
	}
	return &Library{root: root, fs: fsys, ignore: patterns, log: logger}, nil
}

// Root returns the absolute sync root.
func (l *Library) Root() string { return l.root }

// Path returns the OS path of name inside folder.
func (l *Library) Path(folder, name string) string {
	return filepath.Join(l.root, filepath.FromSlash(folder), name)
}

// Subfolders returns the visible directories directly under the root.
func (l *Library) Subfolders() ([]model.Folder, error) {
	infos, err := l.fs.ReadDir("/")
	if err != nil {
		return nil, fmt.Errorf("reading root folder: %w", err)
	}
	var folders []model.Folder
	for _, fi := range infos {
		if !fi.IsDir() || hidden(fi.Name()) {
			continue
		}
		folders = append(folders, model.Folder{Name: fi.Name(), ModTime: fi.ModTime()})
	}
	return folders, nil
}

// FolderModTime reports the folder's modification time and whether it exists.
func (l *Library) FolderModTime(folder string) (time.Time, bool, error) {
	fi, err := l.fs.Stat(folder)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("stat folder %q: %w", folder, err)
	}
	if !fi.IsDir() {
		return time.Time{}, false, fmt.Errorf("%q is not a folder", folder)
	}
	return fi.ModTime(), true, nil
}

// ListFiles returns the regular files of folder that are neither hidden nor
// ignored. A missing folder has no files.
func (l *Library) ListFiles(folder string) ([]model.LocalFile, error) {
	infos, err := l.fs.ReadDir(folder)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading folder %q: %w", folder, err)
	}
	var files []model.LocalFile
	for _, fi := range infos {
		if !fi.Mode().IsRegular() || hidden(fi.Name()) || l.ignored(fi.Name()) {
			continue
		}
		files = append(files, model.LocalFile{
			Name:    fi.Name(),
			ModTime: fi.ModTime(),
			Size:    fi.Size(),
		})
	}
	return files, nil
}

func (l *Library) ignored(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range l.ignore {
		if ok, _ := doublestar.Match(p, lower); ok {
			return true
		}
	}
	return false
}

// Open opens a file for reading.
func (l *Library) Open(folder, name string) (io.ReadCloser, error) {
	f, err := l.fs.Open(l.fs.Join(folder, name))
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path.Join(folder, name), err)
	}
	return f, nil
}

// WriteFile creates or replaces folder/name. fill writes the content into a
// temporary file that is renamed into place once complete, then the file is
// stamped with modTime. The folder is created when missing.
func (l *Library) WriteFile(folder, name string, modTime time.Time, fill func(io.Writer) error) (int64, error) {
	if err := l.fs.MkdirAll(folder, 0o755); err != nil {
		return 0, fmt.Errorf("creating folder %q: %w", folder, err)
	}
	final := l.fs.Join(folder, name)
	tmp := final + tmpSuffix

	f, err := l.fs.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("creating %q: %w", tmp, err)
	}
	cw := &countingWriter{w: f}
	err = fill(cw)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = l.fs.Remove(tmp)
		return cw.n, fmt.Errorf("writing %q: %w", final, err)
	}

	if err := l.fs.Rename(tmp, final); err != nil {
		_ = l.fs.Remove(tmp)
		return cw.n, fmt.Errorf("renaming %q into place: %w", final, err)
	}
	if err := l.SetModTime(folder, name, modTime); err != nil {
		return cw.n, err
	}
	l.log.Debug("file written", "folder", folder, "name", name, "bytes", cw.n)
	return cw.n, nil
}

// SetModTime sets both access and modification time of folder/name to t.
func (l *Library) SetModTime(folder, name string, t time.Time) error {
	if err := l.chtimes(l.fs.Join(folder, name), t); err != nil {
		return fmt.Errorf("setting mtime of %q: %w", path.Join(folder, name), err)
	}
	return nil
}

// TouchFolder sets the folder's mtime to the newest file mtime inside it.
// Empty folders are left alone.
func (l *Library) TouchFolder(folder string) error {
	files, err := l.ListFiles(folder)
	if err != nil {
		return err
	}
	var newest time.Time
	for _, f := range files {
		if f.ModTime.After(newest) {
			newest = f.ModTime
		}
	}
	if newest.IsZero() {
		return nil
	}
	if err := l.chtimes(folder, newest); err != nil {
		return fmt.Errorf("setting mtime of folder %q: %w", folder, err)
	}
	return nil
}

// chtimes uses the filesystem's own support when present and falls back to
// the OS path otherwise.
func (l *Library) chtimes(rel string, t time.Time) error {
	if ch, ok := l.fs.(billy.Change); ok {
		return ch.Chtimes(rel, t, t)
	}
	return os.Chtimes(filepath.Join(l.root, filepath.FromSlash(rel)), t, t)
}

// ReadExclusions returns the non-empty, trimmed lines of the exclusion file,
// or nil when the file does not exist.
func (l *Library) ReadExclusions() ([]string, error) {
	f, err := l.fs.Open(ExclusionFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening exclusion file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading exclusion file: %w", err)
	}
	return lines, nil
}

// Checksum returns the hex MD5 digest of folder/name.
func (l *Library) Checksum(folder, name string) (string, error) {
	f, err := l.Open(folder, name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // matches the remote checksum format
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %q: %w", path.Join(folder, name), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
