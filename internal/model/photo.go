// Package model defines shared types used across the sync engine and adapters.
package model

import (
	"strconv"
	"strings"
	"time"
)

// AlbumType distinguishes device-originated instant-upload albums from
// regular albums. Values match the remote service's gphoto:albumType tag.
type AlbumType string

const (
	// AlbumTypeNormal is any album without an albumType tag.
	AlbumTypeNormal AlbumType = ""
	// AlbumTypeInstantUpload marks the auto-backup album. It supports the
	// combined auto-backup policy and no remote date correction.
	AlbumTypeInstantUpload AlbumType = "InstantUpload"
)

// Album is the normalised representation of a remote album.
type Album struct {
	// ID is the remote album id. Empty until the album exists remotely.
	ID string

	// Name is the URL-safe album name (gphoto:name).
	Name string

	// Title is the display title, mapped 1:1 to a local folder name.
	Title string

	// Description is the album summary text.
	Description string

	// Type is the album-type tag.
	Type AlbumType

	// Updated is the last time the album or any of its photos changed remotely.
	Updated time.Time

	// Timestamp is the album date shown to users (gphoto:timestamp).
	Timestamp time.Time
}

// IsInstantUpload reports whether the album is the auto-backup album.
func (a *Album) IsInstantUpload() bool {
	return a.Type == AlbumTypeInstantUpload
}

// Exists reports whether the album has been created remotely.
func (a *Album) Exists() bool {
	return a.ID != ""
}

// MediaContent is one stream of a remote photo. Still images carry one,
// videos carry a poster frame plus one or more encodings.
type MediaContent struct {
	URL    string
	Type   string
	Medium string
	Width  int
	Height int
}

// Photo is the normalised representation of a remote photo or video.
type Photo struct {
	// ID is the opaque remote photo id.
	ID string

	// AlbumID is the id of the album the photo currently lives in.
	AlbumID string

	// Title is the filename as uploaded.
	Title string

	// Updated is the last remote modification time. Used for last-write-wins.
	Updated time.Time

	// Timestamp is the capture time recorded by the remote service.
	Timestamp time.Time

	// Checksum is the optional remote-supplied checksum. It is not guaranteed
	// to be populated or to change when content changes.
	Checksum string

	// UniqueID is the EXIF image unique id, if the remote service reported one.
	UniqueID string

	// Size is the content length in bytes, or 0 if unknown.
	Size int64

	// EditURL is the link used to update or move the photo.
	EditURL string

	// EditMediaURL is the link used to replace the photo's bytes.
	EditMediaURL string

	Media []MediaContent
}

// IsVideo reports whether the photo carries more than one media stream.
func (p *Photo) IsVideo() bool {
	return len(p.Media) > 1
}

// DownloadURL picks the stream to fetch. Videos list a poster frame first
// followed by encodings of increasing quality; the third stream is the
// high-quality encoding when present.
func (p *Photo) DownloadURL() string {
	switch n := len(p.Media); {
	case n > 2:
		return p.Media[2].URL
	case n == 2:
		return p.Media[1].URL
	case n == 1:
		return p.Media[0].URL
	default:
		return ""
	}
}

// UniqueKey returns the identity used to recognise the same logical photo
// across listings: the EXIF unique id when present, otherwise the filename
// combined with the capture timestamp in milliseconds.
func UniqueKey(p *Photo) string {
	if p.UniqueID != "" {
		return p.UniqueID
	}
	return FallbackKey(p.Title, p.Timestamp)
}

// FallbackKey builds the filename/timestamp composite used when no EXIF unique
// id is available.
func FallbackKey(filename string, ts time.Time) string {
	return filename + "_" + strconv.FormatInt(ts.UnixMilli(), 10)
}

// NormalizeName returns the case-insensitive identity of a filename.
func NormalizeName(name string) string {
	return strings.ToLower(name)
}
