package setup

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/adrg/xdg"
)

var (
	//go:embed systemd.tmpl
	systemdTemplate string

	//go:embed launchd.tmpl
	launchdTemplate string
)

const (
	// UnitName is the systemd user unit.
	UnitName = "picasync.service"

	// LaunchdLabel is the launchd job label.
	LaunchdLabel = "io.github.njoerd114.picasync"
)

// Service installs picasync as a per-user background service: a systemd user
// unit on Linux and a LaunchAgent on macOS.
type Service struct {
	GOOS       string
	Home       string
	Binary     string
	ConfigPath string

	// run executes a service-manager command; replaced in tests.
	run func(name string, args ...string) ([]byte, error)
}

// NewService describes the running executable as a service for the current
// user, started with configPath.
func NewService(goos, configPath string) (*Service, error) {
	if goos != "linux" && goos != "darwin" {
		return nil, fmt.Errorf("service install is not supported on %s", goos)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving executable: %w", err)
	}
	if self, err = filepath.EvalSymlinks(self); err != nil {
		return nil, fmt.Errorf("resolving executable symlinks: %w", err)
	}
	return &Service{
		GOOS:       goos,
		Home:       home,
		Binary:     self,
		ConfigPath: configPath,
		run:        runCommand,
	}, nil
}

func runCommand(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput() //nolint:gosec // fixed service-manager binaries
}

// Path returns where the unit or plist file is written.
func (s *Service) Path() string {
	if s.GOOS == "darwin" {
		return filepath.Join(s.Home, "Library", "LaunchAgents", LaunchdLabel+".plist")
	}
	return filepath.Join(xdg.ConfigHome, "systemd", "user", UnitName)
}

// LogDir returns where the service's output goes. On Linux it is the journal.
func (s *Service) LogDir() string {
	if s.GOOS == "darwin" {
		return filepath.Join(s.Home, "Library", "Logs", "picasync")
	}
	return ""
}

// Render returns the unit or plist content.
func (s *Service) Render() ([]byte, error) {
	src := systemdTemplate
	if s.GOOS == "darwin" {
		src = launchdTemplate
	}
	tmpl, err := template.New("service").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing service template: %w", err)
	}
	data := struct {
		Label, Binary, ConfigPath, LogDir string
	}{LaunchdLabel, s.Binary, s.ConfigPath, s.LogDir()}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering service template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the service file and starts the service.
func (s *Service) Install() error {
	content, err := s.Render()
	if err != nil {
		return err
	}
	dest := s.Path()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}

	if s.GOOS == "darwin" {
		if err := os.MkdirAll(s.LogDir(), 0o755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		_ = s.exec("launchctl", "unload", dest)
		return s.exec("launchctl", "load", dest)
	}
	if err := s.exec("systemctl", "--user", "daemon-reload"); err != nil {
		return err
	}
	return s.exec("systemctl", "--user", "enable", "--now", UnitName)
}

// Uninstall stops the service and removes its file. A service that was never
// installed is not an error.
func (s *Service) Uninstall() error {
	dest := s.Path()
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return nil
	}
	if s.GOOS == "darwin" {
		_ = s.exec("launchctl", "unload", dest)
	} else {
		_ = s.exec("systemctl", "--user", "disable", "--now", UnitName)
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", dest, err)
	}
	if s.GOOS != "darwin" {
		_ = s.exec("systemctl", "--user", "daemon-reload")
	}
	return nil
}

func (s *Service) exec(name string, args ...string) error {
	out, err := s.run(name, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %s: %w", name, strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return nil
}
