package picasaweb

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"

	"github.com/njoerd114/picasync/internal/model"
)

// APIError is a non-success response that is neither an auth failure nor a
// transport failure.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// maxErrorBody bounds the response text kept in an [APIError].
const maxErrorBody = 256

// handleAPIError maps a request outcome onto the sync error taxonomy:
// transport failures become [model.ErrNetworkUnavailable], 401 and 403
// become [model.ErrAuthExpired] and any other error status an [*APIError].
func handleAPIError(resp *req.Response, requestErr error, op string) error {
	if requestErr != nil {
		if errors.Is(requestErr, context.Canceled) || !model.IsNetworkError(requestErr) {
			return fmt.Errorf("%s: %w", op, requestErr)
		}
		return fmt.Errorf("%w: %s: %w", model.ErrNetworkUnavailable, op, requestErr)
	}

	code := resp.GetStatusCode()
	if code < http.StatusBadRequest {
		return nil
	}
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w (status %d)", op, model.ErrAuthExpired, code)
	default:
		body := resp.String()
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &APIError{Op: op, StatusCode: code, Body: body}
	}
}
