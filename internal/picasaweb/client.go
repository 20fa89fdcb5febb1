// Package picasaweb is a client for the Picasa Web Albums GData feed API. It
// lists albums and photos (following feed pagination), creates albums,
// uploads, replaces, moves and downloads photos. Responses are decoded into
// [model.Album] and [model.Photo]; failures are classified by
// [handleAPIError] into the sync engine's error taxonomy.
package picasaweb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/imroc/req/v3"

	"github.com/njoerd114/picasync/internal/model"
)

const (
	// DefaultBaseURL is the feed root of the authenticated user.
	DefaultBaseURL = "https://picasaweb.google.com/data/feed/api/user/default"

	pageSize    = 1000
	contentAtom = "application/atom+xml"

	// maxBufferedUpload is the largest upload sent with a known length.
	// Larger bodies are streamed and never retried.
	maxBufferedUpload = 64 << 20
)

// TokenSource yields the bearer token for a request. It is asked before every
// attempt so a refreshed token is picked up without rebuilding the Client.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken is a TokenSource that always returns token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// Client talks to the feed API with a bearer token. Create one with
// [NewClient].
type Client struct {
	// http carries feed and metadata calls, each bounded by the timeout.
	http *req.Client
	// media carries uploads and downloads. They have no overall deadline
	// and fail only when no bytes move for idle.
	media   *req.Client
	idle    time.Duration
	baseURL string
	log     *slog.Logger
}

// NewClient creates a Client for baseURL that authenticates with tokens.
// timeout bounds every metadata request and is the longest a media transfer
// may go without progress.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration, logger *slog.Logger) *Client {
	hc := req.C().
		SetTimeout(timeout).
		SetUserAgent("picasync").
		SetCommonHeader("GData-Version", "2").
		SetCommonRetryCount(2).
		SetCommonRetryFixedInterval(time.Second).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			if err != nil {
				return model.IsNetworkError(err)
			}
			return resp.GetStatusCode() >= 500
		}).
		OnBeforeRequest(func(_ *req.Client, r *req.Request) error {
			token, err := tokens(r.Context())
			if err != nil {
				return err
			}
			r.SetBearerAuthToken(token)
			return nil
		})

	media := hc.Clone().
		SetTimeout(0).
		SetDial((&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext).
		SetTLSHandshakeTimeout(timeout)
	media.GetTransport().SetResponseHeaderTimeout(timeout)

	return &Client{
		http:    hc,
		media:   media,
		idle:    timeout,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     logger,
	}
}

// ListAlbums returns every album of the user.
func (c *Client) ListAlbums(ctx context.Context) ([]*model.Album, error) {
	entries, err := c.listAll(ctx, c.feedURL("", "album"), "list albums")
	if err != nil {
		return nil, err
	}
	albums := make([]*model.Album, 0, len(entries))
	for _, e := range entries {
		if a, ok := e.(*AlbumEntry); ok {
			albums = append(albums, a.Album)
		}
	}
	return albums, nil
}

// ListPhotos returns every photo and video of album.
func (c *Client) ListPhotos(ctx context.Context, album *model.Album) ([]*model.Photo, error) {
	if !album.Exists() {
		return nil, nil
	}
	entries, err := c.listAll(ctx, c.feedURL(c.albumPath(album), "photo"), "list photos")
	if err != nil {
		return nil, err
	}
	photos := make([]*model.Photo, 0, len(entries))
	for _, e := range entries {
		if p, ok := e.(*PhotoEntry); ok {
			if p.Photo.AlbumID == "" {
				p.Photo.AlbumID = album.ID
			}
			photos = append(photos, p.Photo)
		}
	}
	return photos, nil
}

// listAll follows "next" links until the feed is exhausted.
func (c *Client) listAll(ctx context.Context, first, op string) ([]Entry, error) {
	var all []Entry
	pages := 0
	for next := first; next != ""; {
		resp, err := c.http.R().
			SetContext(ctx).
			Get(next)
		if err := handleAPIError(resp, err, op); err != nil {
			return nil, err
		}
		page, err := decodeFeed(resp.Bytes())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		all = append(all, page.Entries...)
		pages++
		next = page.Next
	}
	c.log.Debug("feed listed", "op", op, "pages", pages, "entries", len(all))
	return all, nil
}

// CreateAlbum creates album as a private album and stores the assigned ID
// and update time on it.
func (c *Client) CreateAlbum(ctx context.Context, album *model.Album) error {
	body, err := albumPayload(album).marshal()
	if err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetContentType(contentAtom).
		SetBodyBytes(body).
		Post(c.baseURL)
	if err := handleAPIError(resp, err, "create album"); err != nil {
		return err
	}

	entry, err := decodeEntry(resp.Bytes())
	if err != nil {
		return fmt.Errorf("create album: %w", err)
	}
	created, ok := entry.(*AlbumEntry)
	if !ok {
		return fmt.Errorf("create album: response is not an album entry")
	}
	album.ID = created.Album.ID
	album.Name = created.Album.Name
	album.Updated = created.Album.Updated
	return nil
}

// UploadPhoto adds a new photo named name to album.
func (c *Client) UploadPhoto(ctx context.Context, album *model.Album, name string, r io.Reader, size int64) (*model.Photo, error) {
	if !album.Exists() {
		return nil, fmt.Errorf("upload %q: album %q has no remote id", name, album.Title)
	}
	return c.sendMedia(ctx, http.MethodPost, c.baseURL+c.albumPath(album), name, r, size,
		map[string]string{"Slug": name}, "upload photo")
}

// ReplacePhoto replaces the bytes of an existing photo.
func (c *Client) ReplacePhoto(ctx context.Context, photo *model.Photo, name string, r io.Reader, size int64) (*model.Photo, error) {
	if photo.EditMediaURL == "" {
		return nil, fmt.Errorf("replace %q: photo has no edit-media link", name)
	}
	return c.sendMedia(ctx, http.MethodPut, photo.EditMediaURL, name, r, size,
		map[string]string{"If-Match": "*"}, "replace photo")
}

// MovePhoto moves photo into dest.
func (c *Client) MovePhoto(ctx context.Context, photo *model.Photo, dest *model.Album) error {
	if photo.EditURL == "" {
		return fmt.Errorf("move %q: photo has no edit link", photo.Title)
	}
	p := newPayload(kindPhoto, photo.Title)
	p.AlbumID = dest.ID
	body, err := p.marshal()
	if err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetContentType(contentAtom).
		SetHeader("If-Match", "*").
		SetBodyBytes(body).
		Put(photo.EditURL)
	if err := handleAPIError(resp, err, "move photo"); err != nil {
		return err
	}
	photo.AlbumID = dest.ID
	return nil
}

// SetAlbumDate sets the album's display date.
func (c *Client) SetAlbumDate(ctx context.Context, album *model.Album, date time.Time) error {
	if !album.Exists() {
		return fmt.Errorf("set album date: album %q has no remote id", album.Title)
	}
	p := newPayload(kindAlbum, album.Title)
	p.Timestamp = fmt.Sprint(date.UnixMilli())
	body, err := p.marshal()
	if err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetContentType(contentAtom).
		SetHeader("If-Match", "*").
		SetBodyBytes(body).
		Put(c.entryURL(album))
	if err := handleAPIError(resp, err, "set album date"); err != nil {
		return err
	}
	album.Timestamp = date
	return nil
}

// DownloadPhoto streams the photo's best stream into w and returns the
// number of bytes written.
func (c *Client) DownloadPhoto(ctx context.Context, photo *model.Photo, w io.Writer) (int64, error) {
	src := photo.DownloadURL()
	if src == "" {
		return 0, fmt.Errorf("download %q: photo has no media content", photo.Title)
	}
	ctx, guard := newStallGuard(ctx, c.idle)
	defer guard.stop()

	resp, err := c.media.R().
		SetContext(ctx).
		SetRetryCount(0).
		DisableAutoReadResponse().
		Get(src)
	if err := handleAPIError(resp, guard.err(ctx, err), "download photo"); err != nil {
		if resp != nil && resp.Response != nil {
			_ = resp.Body.Close()
		}
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.Copy(w, guard.reader(resp.Body))
	if err != nil {
		return n, fmt.Errorf("download %q: %w", photo.Title, guard.err(ctx, err))
	}
	c.log.Debug("photo downloaded", "title", photo.Title, "size", humanize.Bytes(uint64(n)))
	return n, nil
}

// sendMedia uploads r to target. Bodies of known, moderate size are buffered
// so the request carries a Content-Length and may be retried.
func (c *Client) sendMedia(ctx context.Context, method, target, name string, r io.Reader, size int64, headers map[string]string, op string) (*model.Photo, error) {
	var buf []byte
	buffered := size >= 0 && size <= maxBufferedUpload
	if buffered {
		var b bytes.Buffer
		b.Grow(int(size))
		if _, err := io.Copy(&b, r); err != nil {
			return nil, fmt.Errorf("reading %q: %w", name, err)
		}
		buf = b.Bytes()
	}

	ctx, guard := newStallGuard(ctx, c.idle)
	defer guard.stop()

	request := c.media.R().
		SetContext(ctx).
		SetContentType(contentType(name)).
		SetHeaders(headers)
	if !buffered {
		request.SetRetryCount(0).SetBody(guard.reader(r))
	} else {
		request.SetBodyBytes(buf)
		request.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(guard.reader(bytes.NewReader(buf))), nil
		}
	}
	resp, err := request.Send(method, target)
	return c.photoResponse(resp, guard.err(ctx, err), op)
}

func (c *Client) photoResponse(resp *req.Response, err error, op string) (*model.Photo, error) {
	if err := handleAPIError(resp, err, op); err != nil {
		return nil, err
	}
	entry, err := decodeEntry(resp.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p, ok := entry.(*PhotoEntry)
	if !ok {
		return nil, fmt.Errorf("%s: response is not a photo entry", op)
	}
	return p.Photo, nil
}

func (c *Client) albumPath(album *model.Album) string {
	return "/albumid/" + url.PathEscape(album.ID)
}

func (c *Client) entryURL(album *model.Album) string {
	return strings.Replace(c.baseURL, "/feed/", "/entry/", 1) + c.albumPath(album)
}

func (c *Client) feedURL(p, kind string) string {
	q := url.Values{}
	q.Set("kind", kind)
	q.Set("max-results", fmt.Sprint(pageSize))
	if kind == "photo" {
		q.Set("imgmax", "d")
	}
	return c.baseURL + p + "?" + q.Encode()
}

// contentType guesses the upload MIME type from the file extension.
func contentType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}
