package setup

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/njoerd114/picasync/internal/config"
	"github.com/njoerd114/picasync/internal/library"
	"github.com/njoerd114/picasync/internal/model"
	"github.com/njoerd114/picasync/internal/picasaweb"
)

// RemoteSummary describes what the configured account can see.
type RemoteSummary struct {
	Albums        int
	InstantUpload bool
}

// VerifyRemote exchanges the refresh token for an access token and lists the
// account's albums.
func VerifyRemote(ctx context.Context, rc config.RemoteConfig, logger *slog.Logger) (*RemoteSummary, error) {
	client, err := picasaweb.NewAuthenticator(rc, logger).Connect(ctx, false)
	if err != nil {
		return nil, err
	}
	albums, err := client.ListAlbums(ctx)
	if err != nil {
		return nil, err
	}
	sum := &RemoteSummary{Albums: len(albums)}
	for _, a := range albums {
		if a.IsInstantUpload() {
			sum.InstantUpload = true
		}
	}
	return sum, nil
}

// ScanRoot creates root when missing and returns its existing album folders.
func ScanRoot(root string, logger *slog.Logger) ([]model.Folder, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating root folder %q: %w", root, err)
	}
	lib, err := library.New(root, nil, logger)
	if err != nil {
		return nil, err
	}
	return lib.Subfolders()
}
