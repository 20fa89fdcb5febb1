package picasaweb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/imroc/req/v3"

	"github.com/njoerd114/picasync/internal/config"
	"github.com/njoerd114/picasync/internal/model"
)

// ErrInteractiveUnsupported is returned when an interactive login is
// requested. Credentials are provisioned through the setup wizard.
var ErrInteractiveUnsupported = errors.New("interactive sign-in is not supported; run `picasync setup`")

// tokenSkew renews an access token this long before it expires.
const tokenSkew = time.Minute

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type tokenError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// Authenticator exchanges the configured refresh token for access tokens and
// hands out [Client] values bound to them.
type Authenticator struct {
	cfg  config.RemoteConfig
	http *req.Client
	log  *slog.Logger
	now  func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewAuthenticator returns an Authenticator for cfg.
func NewAuthenticator(cfg config.RemoteConfig, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		cfg:  cfg,
		http: req.C().SetTimeout(cfg.Timeout).SetUserAgent("picasync"),
		log:  logger,
		now:  time.Now,
	}
}

// Connect checks that an access token can be obtained and returns a Client
// that asks the Authenticator for the current token before every request,
// so the Client outlives any single token. Non-interactive callers get
// [model.ErrAuthExpired] when no refresh token is configured or the token
// endpoint rejects it.
func (a *Authenticator) Connect(ctx context.Context, interactive bool) (*Client, error) {
	if _, err := a.accessToken(ctx, interactive); err != nil {
		return nil, err
	}
	return NewClient(a.cfg.BaseURL, a.Token, a.cfg.Timeout, a.log), nil
}

// Token is a [TokenSource] backed by the refresh token. It never prompts.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	return a.accessToken(ctx, false)
}

// Forget drops the cached access token so the next request or Connect
// refreshes it.
func (a *Authenticator) Forget() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = ""
	a.expires = time.Time{}
}

func (a *Authenticator) accessToken(ctx context.Context, interactive bool) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.now().Add(tokenSkew).Before(a.expires) {
		return a.token, nil
	}
	if a.cfg.RefreshToken == "" {
		if interactive {
			return "", ErrInteractiveUnsupported
		}
		return "", fmt.Errorf("no refresh token configured: %w", model.ErrAuthExpired)
	}

	var tok tokenResponse
	err := Retry(ctx, tokenAttempts, func() error {
		var e error
		tok, e = a.refresh(ctx)
		return e
	})
	if err != nil {
		return "", err
	}

	a.token = tok.AccessToken
	a.expires = a.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	a.log.Debug("access token refreshed", "expires_in", tok.ExpiresIn)
	return a.token, nil
}

// refresh performs one refresh-token grant. Rejected grants are permanent.
func (a *Authenticator) refresh(ctx context.Context) (tokenResponse, error) {
	var (
		tok    tokenResponse
		tokErr tokenError
	)
	resp, err := a.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"client_id":     a.cfg.ClientID,
			"client_secret": a.cfg.ClientSecret,
			"refresh_token": a.cfg.RefreshToken,
		}).
		SetSuccessResult(&tok).
		SetErrorResult(&tokErr).
		Post(a.cfg.TokenURL)
	if err != nil {
		err = handleAPIError(resp, err, "refresh token")
		if model.IsNetworkError(err) {
			return tok, err
		}
		return tok, Permanent(err)
	}

	switch code := resp.GetStatusCode(); {
	case code == http.StatusBadRequest || code == http.StatusUnauthorized:
		return tok, Permanent(fmt.Errorf("refresh token rejected (%s): %w", tokErr.Code, model.ErrAuthExpired))
	case code >= http.StatusBadRequest:
		apiErr := handleAPIError(resp, nil, "refresh token")
		if code >= http.StatusInternalServerError {
			return tok, apiErr
		}
		return tok, Permanent(apiErr)
	}
	if tok.AccessToken == "" {
		return tok, Permanent(errors.New("refresh token: response carries no access token"))
	}
	return tok, nil
}
