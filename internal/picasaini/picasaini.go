// Package picasaini reads the per-folder metadata files written by the Picasa
// desktop application (.picasa.ini or Picasa.ini). Each file has one
// "[filename]" section per photo plus the service sections "[Picasa]" and
// "[encoding]". The sync engine uses it to find photos the user tagged for
// deletion with a keyword containing "delete".
package picasaini

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// FileNames are the metadata file names, in lookup order.
var FileNames = []string{".picasa.ini", "Picasa.ini"}

const deleteKeyword = "delete"

var (
	sectionRe  = regexp.MustCompile(`^\[(.+)\]$`)
	propertyRe = regexp.MustCompile(`^([A-Za-z0-9\-]+)=(.*)$`)
)

// Photo holds the per-photo properties of one section.
type Photo struct {
	Starred  bool
	Keywords []string
}

// MarkedForDeletion reports whether any keyword contains "delete",
// ignoring case.
func (p *Photo) MarkedForDeletion() bool {
	return slices.ContainsFunc(p.Keywords, func(k string) bool {
		return strings.Contains(strings.ToLower(k), deleteKeyword)
	})
}

// Index is a parsed metadata file.
type Index struct {
	// AlbumName is the [Picasa] name property, empty when absent.
	AlbumName string
	Photos    map[string]*Photo
}

// Parse reads a metadata file. Unknown properties and lines outside any
// section are ignored.
func Parse(r io.Reader) (*Index, error) {
	idx := &Index{Photos: make(map[string]*Photo)}
	var (
		section string
		photo   *Photo
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if m := sectionRe.FindStringSubmatch(line); m != nil {
			section = m[1]
			photo = nil
			continue
		}
		m := propertyRe.FindStringSubmatch(line)
		if m == nil || section == "" {
			continue
		}
		key, value := m[1], m[2]

		switch section {
		case "Picasa":
			if key == "name" {
				idx.AlbumName = value
			}
			continue
		case "encoding":
			continue
		}
		if photo == nil {
			photo = idx.photo(section)
		}
		switch key {
		case "star":
			photo.Starred = value == "yes"
		case "keywords":
			for _, k := range strings.Split(value, ",") {
				if k = strings.TrimSpace(k); k != "" {
					photo.Keywords = append(photo.Keywords, k)
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading picasa ini: %w", err)
	}
	return idx, nil
}

func (idx *Index) photo(name string) *Photo {
	p, ok := idx.Photos[name]
	if !ok {
		p = &Photo{}
		idx.Photos[name] = p
	}
	return p
}

// MarkedForDeletion returns the sorted names of photos tagged for deletion.
func (idx *Index) MarkedForDeletion() []string {
	var names []string
	for name, p := range idx.Photos {
		if p.MarkedForDeletion() {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Starred returns the sorted names of starred photos.
func (idx *Index) Starred() []string {
	var names []string
	for name, p := range idx.Photos {
		if p.Starred {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Marker looks up deletion marks in the album folders of one root.
type Marker struct {
	fs  billy.Filesystem
	log *slog.Logger
}

// NewMarker returns a Marker over fsys, which must be rooted at the sync root.
func NewMarker(fsys billy.Filesystem, logger *slog.Logger) *Marker {
	return &Marker{fs: fsys, log: logger}
}

// Load parses the metadata file of folder. A folder without one yields
// (nil, nil).
func (m *Marker) Load(folder string) (*Index, error) {
	for _, name := range FileNames {
		p := m.fs.Join(folder, name)
		f, err := m.fs.Open(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("opening %q: %w", p, err)
		}
		idx, err := Parse(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		return idx, nil
	}
	return nil, nil
}

// MarkedForDeletion returns the files of folder tagged for deletion.
func (m *Marker) MarkedForDeletion(folder string) ([]string, error) {
	idx, err := m.Load(folder)
	if err != nil || idx == nil {
		return nil, err
	}
	names := idx.MarkedForDeletion()
	if len(names) > 0 {
		m.log.Debug("photos marked for deletion", "folder", folder, "count", len(names))
	}
	return names, nil
}
