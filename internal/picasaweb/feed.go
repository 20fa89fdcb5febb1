package picasaweb

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/njoerd114/picasync/internal/model"
)

const (
	nsAtom   = "http://www.w3.org/2005/Atom"
	nsGPhoto = "http://schemas.google.com/photos/2007"
	nsMedia  = "http://search.yahoo.com/mrss/"
	nsExif   = "http://schemas.google.com/photos/exif/2007"

	schemeKind = "http://schemas.google.com/g/2005#kind"
	kindAlbum  = nsGPhoto + "#album"
	kindPhoto  = nsGPhoto + "#photo"

	albumTypeInstantUpload = "InstantUpload"
)

// errSkipEntry is returned by parseEntry for entry kinds the sync engine
// never needs (tags, comments, users).
var errSkipEntry = errors.New("entry kind not handled")

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type atomFeed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	Links   []atomLink  `xml:"http://www.w3.org/2005/Atom link"`
	Entries []atomEntry `xml:"http://www.w3.org/2005/Atom entry"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
	Href string `xml:"href,attr"`
}

type atomCategory struct {
	Scheme string `xml:"scheme,attr"`
	Term   string `xml:"term,attr"`
}

type atomEntry struct {
	XMLName    xml.Name       `xml:"http://www.w3.org/2005/Atom entry"`
	ID         string         `xml:"http://www.w3.org/2005/Atom id"`
	Title      string         `xml:"http://www.w3.org/2005/Atom title"`
	Summary    string         `xml:"http://www.w3.org/2005/Atom summary"`
	Updated    string         `xml:"http://www.w3.org/2005/Atom updated"`
	Categories []atomCategory `xml:"http://www.w3.org/2005/Atom category"`
	Links      []atomLink     `xml:"http://www.w3.org/2005/Atom link"`

	GPhotoID  string `xml:"http://schemas.google.com/photos/2007 id"`
	Name      string `xml:"http://schemas.google.com/photos/2007 name"`
	AlbumType string `xml:"http://schemas.google.com/photos/2007 albumType"`
	AlbumID   string `xml:"http://schemas.google.com/photos/2007 albumid"`
	Timestamp string `xml:"http://schemas.google.com/photos/2007 timestamp"`
	Checksum  string `xml:"http://schemas.google.com/photos/2007 checksum"`
	Size      string `xml:"http://schemas.google.com/photos/2007 size"`

	Group *mediaGroup `xml:"http://search.yahoo.com/mrss/ group"`
	Exif  *exifTags   `xml:"http://schemas.google.com/photos/exif/2007 tags"`
}

type mediaGroup struct {
	Content []mediaContent `xml:"http://search.yahoo.com/mrss/ content"`
}

type mediaContent struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Medium string `xml:"medium,attr"`
	Width  int    `xml:"width,attr"`
	Height int    `xml:"height,attr"`
}

type exifTags struct {
	ImageUniqueID string `xml:"http://schemas.google.com/photos/exif/2007 imageUniqueID"`
}

func (e *atomEntry) kind() string {
	for _, c := range e.Categories {
		if c.Scheme == schemeKind {
			return c.Term
		}
	}
	return ""
}

func (e *atomEntry) link(rel string) string {
	return findLink(e.Links, rel)
}

func findLink(links []atomLink, rel string) string {
	for _, l := range links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Parsed entries
// ---------------------------------------------------------------------------

// Entry is one parsed feed entry. The set of implementations is closed:
// [*AlbumEntry] and [*PhotoEntry].
type Entry interface {
	entry()
}

// AlbumEntry is an album feed entry.
type AlbumEntry struct {
	Album   *model.Album
	EditURL string
}

// PhotoEntry is a photo or video feed entry.
type PhotoEntry struct {
	Photo *model.Photo
}

func (*AlbumEntry) entry() {}
func (*PhotoEntry) entry() {}

// Page is one decoded feed page.
type Page struct {
	Entries []Entry
	Next    string
}

// decodeFeed parses one feed page. Entries of unhandled kinds are dropped.
func decodeFeed(data []byte) (*Page, error) {
	var f atomFeed
	if err := xml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	page := &Page{Next: findLink(f.Links, "next")}
	for i := range f.Entries {
		e, err := parseEntry(&f.Entries[i])
		if errors.Is(err, errSkipEntry) {
			continue
		}
		if err != nil {
			return nil, err
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

// decodeEntry parses a single entry document, as returned by POST and PUT.
func decodeEntry(data []byte) (Entry, error) {
	var raw atomEntry
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return parseEntry(&raw)
}

func parseEntry(raw *atomEntry) (Entry, error) {
	switch raw.kind() {
	case kindAlbum:
		return parseAlbum(raw)
	case kindPhoto:
		return parsePhoto(raw)
	default:
		return nil, errSkipEntry
	}
}

func parseAlbum(raw *atomEntry) (*AlbumEntry, error) {
	updated, err := parseUpdated(raw.Updated)
	if err != nil {
		return nil, fmt.Errorf("album %q: %w", raw.Title, err)
	}
	a := &model.Album{
		ID:          raw.GPhotoID,
		Name:        raw.Name,
		Title:       raw.Title,
		Description: raw.Summary,
		Updated:     updated,
		Timestamp:   parseMillis(raw.Timestamp),
	}
	if raw.AlbumType == albumTypeInstantUpload {
		a.Type = model.AlbumTypeInstantUpload
	}
	return &AlbumEntry{Album: a, EditURL: raw.link("edit")}, nil
}

func parsePhoto(raw *atomEntry) (*PhotoEntry, error) {
	updated, err := parseUpdated(raw.Updated)
	if err != nil {
		return nil, fmt.Errorf("photo %q: %w", raw.Title, err)
	}
	p := &model.Photo{
		AlbumID:      raw.AlbumID,
		Title:        raw.Title,
		Updated:      updated,
		Timestamp:    parseMillis(raw.Timestamp),
		Checksum:     raw.Checksum,
		EditURL:      raw.link("edit"),
		EditMediaURL: raw.link("edit-media"),
	}
	p.ID = photoIDFromLink(p.EditURL)
	if p.ID == "" {
		p.ID = raw.GPhotoID
	}
	if raw.Size != "" {
		p.Size, _ = strconv.ParseInt(raw.Size, 10, 64)
	}
	if raw.Exif != nil {
		p.UniqueID = raw.Exif.ImageUniqueID
	}
	if raw.Group != nil {
		for _, c := range raw.Group.Content {
			p.Media = append(p.Media, model.MediaContent{
				URL:    c.URL,
				Type:   c.Type,
				Medium: c.Medium,
				Width:  c.Width,
				Height: c.Height,
			})
		}
	}
	return &PhotoEntry{Photo: p}, nil
}

// photoIDFromLink extracts the id following "photoid/" in an entry link.
func photoIDFromLink(href string) string {
	_, rest, ok := strings.Cut(href, "photoid/")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func parseUpdated(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse updated %q: %w", s, err)
	}
	return t, nil
}

// parseMillis parses a gphoto:timestamp. Unparseable values yield zero.
func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ---------------------------------------------------------------------------
// Outgoing entries
// ---------------------------------------------------------------------------

type textNode struct {
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

type entryPayload struct {
	XMLName     xml.Name     `xml:"entry"`
	Xmlns       string       `xml:"xmlns,attr"`
	XmlnsGPhoto string       `xml:"xmlns:gphoto,attr"`
	Title       textNode     `xml:"title"`
	Summary     *textNode    `xml:"summary,omitempty"`
	Access      string       `xml:"gphoto:access,omitempty"`
	Timestamp   string       `xml:"gphoto:timestamp,omitempty"`
	AlbumID     string       `xml:"gphoto:albumid,omitempty"`
	Category    atomCategory `xml:"category"`
}

func newPayload(kind, title string) *entryPayload {
	return &entryPayload{
		Xmlns:       nsAtom,
		XmlnsGPhoto: nsGPhoto,
		Title:       textNode{Type: "text", Value: title},
		Category:    atomCategory{Scheme: schemeKind, Term: kind},
	}
}

func albumPayload(a *model.Album) *entryPayload {
	p := newPayload(kindAlbum, a.Title)
	p.Access = "private"
	if a.Description != "" {
		p.Summary = &textNode{Type: "text", Value: a.Description}
	}
	if !a.Timestamp.IsZero() {
		p.Timestamp = strconv.FormatInt(a.Timestamp.UnixMilli(), 10)
	}
	return p
}

func (p *entryPayload) marshal() ([]byte, error) {
	body, err := xml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
