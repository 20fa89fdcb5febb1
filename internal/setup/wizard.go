package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/adrg/xdg"

	"github.com/njoerd114/picasync/internal/config"
)

// syncModes are the choices offered for the transfer direction.
var syncModes = []string{
	"Two-way: upload and download",
	"Download only: keep a local copy of the web albums",
	"Upload only: publish local folders",
}

// Wizard walks the user through first-run configuration.
type Wizard struct {
	prompt  *Prompter
	w       io.Writer
	cfgPath string
	logger  *slog.Logger

	verify     func(ctx context.Context, rc config.RemoteConfig, logger *slog.Logger) (*RemoteSummary, error)
	newService func(goos, cfgPath string) (installer, error)
}

type installer interface {
	Install() error
	Path() string
}

// NewWizard returns a Wizard that writes its result to cfgPath.
func NewWizard(r io.Reader, w io.Writer, cfgPath string, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt:  NewPrompter(r, w),
		w:       w,
		cfgPath: cfgPath,
		logger:  logger,
		verify:  VerifyRemote,
		newService: func(goos, cfgPath string) (installer, error) {
			return NewService(goos, cfgPath)
		},
	}
}

func (wiz *Wizard) say(format string, args ...any) {
	_, _ = fmt.Fprintf(wiz.w, format, args...)
}

// Run asks the questions, verifies the account, writes the config and offers
// to install the background service.
func (wiz *Wizard) Run(ctx context.Context) error {
	wiz.say("\npicasync setup\n\n")

	if _, err := os.Stat(wiz.cfgPath); err == nil {
		wiz.say("  A configuration already exists at %s\n", wiz.cfgPath)
		if !wiz.prompt.Confirm("Replace it?", false) {
			wiz.say("\n  Keeping the existing configuration.\n")
			return wiz.offerService()
		}
		wiz.say("\n")
	}

	cfg := config.Default()

	wiz.say("Step 1/4: Local albums\n")
	cfg.RootFolder = wiz.prompt.String("Sync folder", filepath.Join(xdg.UserDirs.Pictures, "picasync"))
	folders, err := ScanRoot(cfg.RootFolder, wiz.logger)
	if err != nil {
		return err
	}
	wiz.say("  %d album folder(s) found\n\n", len(folders))

	wiz.say("Step 2/4: Web Albums account\n")
	cfg.Remote.ClientID = wiz.prompt.String("OAuth client ID", "")
	cfg.Remote.ClientSecret = wiz.prompt.Secret("OAuth client secret")
	cfg.Remote.RefreshToken = wiz.prompt.Secret("Refresh token")
	wiz.say("  Checking the account...")
	sum, err := wiz.verify(ctx, cfg.Remote, wiz.logger)
	if err != nil {
		wiz.say(" failed\n")
		return fmt.Errorf("verifying account: %w", err)
	}
	wiz.say(" ok, %d album(s)", sum.Albums)
	if sum.InstantUpload {
		wiz.say(" including Instant Upload")
	}
	wiz.say("\n\n")

	wiz.say("Step 3/4: Sync options\n")
	cfg.PollInterval = wiz.prompt.Duration("Sync every", cfg.PollInterval, time.Minute, 24*time.Hour)
	cfg.SyncDateRangeDays = wiz.prompt.Int("Only sync albums changed in the last N days (0 = all)", cfg.SyncDateRangeDays)
	mode, err := wiz.prompt.Select("Direction", syncModes)
	if err != nil {
		return fmt.Errorf("choosing sync direction: %w", err)
	}
	applyMode(cfg, mode)
	cfg.ExcludeVideos = wiz.prompt.Confirm("Skip videos?", cfg.ExcludeVideos)
	wiz.say("\n")

	wiz.say("Step 4/4: Save\n")
	if err := cfg.Write(wiz.cfgPath); err != nil {
		return err
	}
	if _, err := config.Load(wiz.cfgPath); err != nil {
		return fmt.Errorf("written configuration does not load: %w", err)
	}
	wiz.say("  Configuration written to %s\n\n", wiz.cfgPath)

	return wiz.offerService()
}

// applyMode sets the transfer flags for the chosen direction.
func applyMode(cfg *config.Config, mode int) {
	down := mode != 2
	up := mode != 1
	cfg.DownloadNew, cfg.DownloadChanged, cfg.AutoBackupDownload = down, down, down
	cfg.UploadNew, cfg.UploadChanged, cfg.AutoBackupUpload = up, up, up
}

func (wiz *Wizard) offerService() error {
	if !wiz.prompt.Confirm("Run picasync in the background at login?", true) {
		wiz.say("\n  Start it manually with: picasync daemon\n\n")
		return nil
	}
	svc, err := wiz.newService(runtime.GOOS, wiz.cfgPath)
	if err != nil {
		return err
	}
	if err := svc.Install(); err != nil {
		return fmt.Errorf("installing service: %w", err)
	}
	wiz.say("\n  Service installed at %s and started.\n", svc.Path())
	wiz.say("  Check progress with: picasync status\n\n")
	return nil
}
