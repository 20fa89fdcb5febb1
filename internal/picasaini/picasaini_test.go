package picasaini

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `[Picasa]
name=Summer in Rome
[encoding]
utf8=1
keywords=delete
[IMG_0001.JPG]
star=yes
keywords=rome,To Delete
[IMG_0002.JPG]
keywords=colosseum, trip
[IMG_0003.JPG]
rotate=rotate(1)
keywords=DELETE
[IMG_0004.JPG]
star=no
`

func TestParse(t *testing.T) {
	idx, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "Summer in Rome", idx.AlbumName)
	assert.Len(t, idx.Photos, 4, "service sections are not photos")
	assert.Equal(t, []string{"colosseum", "trip"}, idx.Photos["IMG_0002.JPG"].Keywords)
	assert.Equal(t, []string{"IMG_0001.JPG", "IMG_0003.JPG"}, idx.MarkedForDeletion())
	assert.Equal(t, []string{"IMG_0001.JPG"}, idx.Starred())
}

func TestParseIgnoresNoise(t *testing.T) {
	idx, err := Parse(strings.NewReader("keywords=delete\n; comment\n\n[a.jpg]\nnot a property\n  keywords = x\n"))
	require.NoError(t, err)
	assert.Empty(t, idx.MarkedForDeletion())
	assert.Empty(t, idx.AlbumName)
}

func TestPhotoMarkedForDeletion(t *testing.T) {
	assert.True(t, (&Photo{Keywords: []string{"Deleted later"}}).MarkedForDeletion())
	assert.False(t, (&Photo{Keywords: []string{"del"}}).MarkedForDeletion())
	assert.False(t, (&Photo{}).MarkedForDeletion())
}

func newMarker(t *testing.T) (*Marker, billy.Filesystem) {
	t.Helper()
	fsys := memfs.New()
	return NewMarker(fsys, slog.New(slog.NewTextHandler(io.Discard, nil))), fsys
}

func TestMarkerReadsHiddenIni(t *testing.T) {
	m, fsys := newMarker(t)
	require.NoError(t, util.WriteFile(fsys, "Rome/.picasa.ini", []byte(sample), 0o644))

	names, err := m.MarkedForDeletion("Rome")
	require.NoError(t, err)
	assert.Equal(t, []string{"IMG_0001.JPG", "IMG_0003.JPG"}, names)
}

func TestMarkerReadsLegacyIni(t *testing.T) {
	m, fsys := newMarker(t)
	require.NoError(t, util.WriteFile(fsys, "Auto Backup/Phone/Picasa.ini", []byte("[x.jpg]\nkeywords=delete\n"), 0o644))

	names, err := m.MarkedForDeletion("Auto Backup/Phone")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.jpg"}, names)
}

func TestMarkerWithoutIni(t *testing.T) {
	m, fsys := newMarker(t)
	require.NoError(t, fsys.MkdirAll("Empty", 0o755))

	names, err := m.MarkedForDeletion("Empty")
	require.NoError(t, err)
	assert.Nil(t, names)

	idx, err := m.Load("Missing")
	require.NoError(t, err)
	assert.Nil(t, idx)
}
