package library

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rwcarlsen/goexif/exif"
)

// ErrNoCaptureDate is returned when a file carries no usable EXIF date.
var ErrNoCaptureDate = errors.New("no exif capture date")

const exifCacheSize = 4096

// ExifDates reads capture dates from EXIF headers. Results are cached per
// path and modification time, so an unchanged file is decoded once.
type ExifDates struct {
	lib   *Library
	cache *lru.Cache[string, time.Time]
}

// NewExifDates returns an ExifDates reading files from lib.
func NewExifDates(lib *Library) (*ExifDates, error) {
	cache, err := lru.New[string, time.Time](exifCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating exif cache: %w", err)
	}
	return &ExifDates{lib: lib, cache: cache}, nil
}

// CaptureDate returns the EXIF DateTimeOriginal (or DateTime) of
// folder/name, or [ErrNoCaptureDate].
func (e *ExifDates) CaptureDate(folder, name string) (time.Time, error) {
	rel := path.Join(folder, name)
	fi, err := e.lib.fs.Stat(rel)
	if err != nil {
		return time.Time{}, fmt.Errorf("stat %q: %w", rel, err)
	}
	key := rel + "@" + strconv.FormatInt(fi.ModTime().UnixNano(), 10)
	if t, ok := e.cache.Get(key); ok {
		if t.IsZero() {
			return t, ErrNoCaptureDate
		}
		return t, nil
	}

	t, err := e.decode(folder, name)
	if err != nil && !errors.Is(err, ErrNoCaptureDate) {
		return time.Time{}, err
	}
	e.cache.Add(key, t)
	return t, err
}

func (e *ExifDates) decode(folder, name string) (time.Time, error) {
	f, err := e.lib.Open(folder, name)
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return time.Time{}, ErrNoCaptureDate
	}
	t, err := x.DateTime()
	if err != nil || t.IsZero() {
		return time.Time{}, ErrNoCaptureDate
	}
	return t, nil
}
