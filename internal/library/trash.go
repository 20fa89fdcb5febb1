package library

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/adrg/xdg"
)

// Trash moves files into a freedesktop.org trash directory
// ($XDG_DATA_HOME/Trash by default) so file managers can restore them.
type Trash struct {
	lib *Library
	dir string
	log *slog.Logger
	now func() time.Time
}

// NewTrash returns a Trash for files of lib. An empty dir selects the user's
// home trash.
func NewTrash(lib *Library, dir string, logger *slog.Logger) *Trash {
	if dir == "" {
		dir = filepath.Join(xdg.DataHome, "Trash")
	}
	return &Trash{lib: lib, dir: dir, log: logger, now: time.Now}
}

// Dir returns the trash directory.
func (t *Trash) Dir() string { return t.dir }

// MoveToTrash moves folder/name into the trash and writes its .trashinfo
// record. A file that no longer exists is not an error.
func (t *Trash) MoveToTrash(folder, name string) error {
	src := t.lib.Path(folder, name)
	if _, err := os.Lstat(src); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	filesDir := filepath.Join(t.dir, "files")
	infoDir := filepath.Join(t.dir, "info")
	for _, d := range []string{filesDir, infoDir} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("creating trash folder: %w", err)
		}
	}

	// The .trashinfo file is created exclusively and doubles as the
	// reservation of the trashed name.
	base := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	var info *os.File
	for i := 1; ; i++ {
		f, err := os.OpenFile(filepath.Join(infoDir, base+".trashinfo"), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			info = f
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("creating trash record: %w", err)
		}
		base = fmt.Sprintf("%s.%d%s", stem, i, ext)
	}

	_, err := fmt.Fprintf(info, "[Trash Info]\nPath=%s\nDeletionDate=%s\n",
		escapeTrashPath(src), t.now().Format("2006-01-02T15:04:05"))
	if cerr := info.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(info.Name())
		return fmt.Errorf("writing trash record: %w", err)
	}

	if err := moveFile(src, filepath.Join(filesDir, base)); err != nil {
		_ = os.Remove(info.Name())
		return fmt.Errorf("moving %q to trash: %w", src, err)
	}
	t.log.Info("moved to trash", "folder", folder, "name", name, "trashed_as", base)
	return nil
}

// escapeTrashPath percent-encodes each path segment.
func escapeTrashPath(p string) string {
	parts := strings.Split(filepath.ToSlash(p), "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

// moveFile renames src to dst, copying across filesystems when needed.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
