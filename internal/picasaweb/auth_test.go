package picasaweb

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njoerd114/picasync/internal/config"
	"github.com/njoerd114/picasync/internal/model"
)

type tokenServer struct {
	srv   *httptest.Server
	mu    sync.Mutex
	forms []url.Values
}

func newTokenServer(t *testing.T, status int, body string) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		ts.mu.Lock()
		ts.forms = append(ts.forms, r.PostForm)
		ts.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *tokenServer) calls() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.forms)
}

func remoteConfig(tokenURL string) config.RemoteConfig {
	return config.RemoteConfig{
		BaseURL:      "http://feed.invalid/data/feed/api/user/default",
		TokenURL:     tokenURL,
		ClientID:     "cid",
		ClientSecret: "secret",
		RefreshToken: "refresh-me",
		Timeout:      2 * time.Second,
	}
}

func TestConnectRefreshesAndCachesToken(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"at-1","expires_in":3600,"token_type":"Bearer"}`)
	auth := NewAuthenticator(remoteConfig(ts.srv.URL), testLogger())

	c, err := auth.Connect(t.Context(), false)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "http://feed.invalid/data/feed/api/user/default", c.baseURL)

	require.Equal(t, 1, ts.calls())
	form := ts.forms[0]
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "cid", form.Get("client_id"))
	assert.Equal(t, "secret", form.Get("client_secret"))
	assert.Equal(t, "refresh-me", form.Get("refresh_token"))

	_, err = auth.Connect(t.Context(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, ts.calls(), "cached token reused")

	auth.Forget()
	_, err = auth.Connect(t.Context(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, ts.calls())
}

func TestConnectRefreshesNearExpiry(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"at","expires_in":120}`)
	auth := NewAuthenticator(remoteConfig(ts.srv.URL), testLogger())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return now }

	_, err := auth.Connect(t.Context(), false)
	require.NoError(t, err)

	now = now.Add(90 * time.Second)
	_, err = auth.Connect(t.Context(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, ts.calls())
}

func TestConnectRejectedGrantIsAuthExpired(t *testing.T) {
	ts := newTokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Token has been revoked."}`)
	auth := NewAuthenticator(remoteConfig(ts.srv.URL), testLogger())

	_, err := auth.Connect(t.Context(), false)
	require.ErrorIs(t, err, model.ErrAuthExpired)
	assert.ErrorContains(t, err, "invalid_grant")
	assert.Equal(t, 1, ts.calls(), "rejected grants are not retried")
}

func TestConnectWithoutRefreshToken(t *testing.T) {
	cfg := remoteConfig("http://token.invalid")
	cfg.RefreshToken = ""
	auth := NewAuthenticator(cfg, testLogger())

	_, err := auth.Connect(t.Context(), false)
	assert.ErrorIs(t, err, model.ErrAuthExpired)

	_, err = auth.Connect(t.Context(), true)
	assert.ErrorIs(t, err, ErrInteractiveUnsupported)
}

func TestConnectEmptyAccessToken(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"expires_in":3600}`)
	auth := NewAuthenticator(remoteConfig(ts.srv.URL), testLogger())

	_, err := auth.Connect(t.Context(), false)
	assert.ErrorContains(t, err, "no access token")
	assert.Equal(t, 1, ts.calls())
}

func TestClientPicksUpRefreshedToken(t *testing.T) {
	var (
		mu     sync.Mutex
		issued int
		seen   []string
	)
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		issued++
		n := issued
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"at-%d","expires_in":3600}`, n)
	}))
	t.Cleanup(tokens.Close)
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		writeXML(w, http.StatusOK, feedXML(""))
	}))
	t.Cleanup(feed.Close)

	cfg := remoteConfig(tokens.URL)
	cfg.BaseURL = feed.URL + "/feed/api/user/default"
	auth := NewAuthenticator(cfg, testLogger())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return now }

	c, err := auth.Connect(t.Context(), false)
	require.NoError(t, err)
	_, err = c.ListAlbums(t.Context())
	require.NoError(t, err)

	// The same client keeps working once the first token has expired.
	now = now.Add(2 * time.Hour)
	_, err = c.ListAlbums(t.Context())
	require.NoError(t, err)

	// Forget forces a new token even while the cached one is still valid.
	auth.Forget()
	_, err = c.ListAlbums(t.Context())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, issued)
	assert.Equal(t, []string{"Bearer at-1", "Bearer at-2", "Bearer at-3"}, seen)
}

func TestClientSurfacesRevokedRefreshToken(t *testing.T) {
	ts := newTokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	feed := newFakeService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no feed request expected without a token")
	})
	cfg := remoteConfig(ts.srv.URL)
	cfg.BaseURL = feed.srv.URL + "/feed/api/user/default"
	auth := NewAuthenticator(cfg, testLogger())

	c := NewClient(cfg.BaseURL, auth.Token, time.Second, testLogger())
	_, err := c.ListAlbums(t.Context())
	require.ErrorIs(t, err, model.ErrAuthExpired)
	assert.False(t, model.IsNetworkError(err))
	assert.Empty(t, feed.requests())
}
