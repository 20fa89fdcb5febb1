// Package config loads and validates the picasync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// RootFolder is the local directory holding one subfolder per album.
	RootFolder string `yaml:"root_folder"`

	// PollInterval controls how often a sync cycle runs when no manual
	// trigger arrives. Minimum 1m, maximum 24h. Defaults to 5m if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// SyncDateRangeDays bounds each cycle to albums and photos changed within
	// the last N days. Zero disables the bound.
	SyncDateRangeDays int `yaml:"sync_date_range_days"`

	// ExcludeVideos skips remote items carrying more than one media stream.
	ExcludeVideos bool `yaml:"exclude_videos"`

	// ExcludeDropBox skips the remote "Drop Box" album.
	ExcludeDropBox bool `yaml:"exclude_drop_box"`

	DownloadNew     bool `yaml:"download_new"`
	DownloadChanged bool `yaml:"download_changed"`
	UploadNew       bool `yaml:"upload_new"`
	UploadChanged   bool `yaml:"upload_changed"`

	// AutoBackupDownload and AutoBackupUpload replace the four flags above
	// for the instant-upload album.
	AutoBackupDownload bool `yaml:"auto_backup_download"`
	AutoBackupUpload   bool `yaml:"auto_backup_upload"`

	// UseChecksums enables the checksum short-circuit when the remote side
	// reports one. Off by default: remote checksums are unreliable.
	UseChecksums bool `yaml:"use_checksums"`

	// IgnoreFiles lists doublestar patterns for local files that are never
	// uploaded, matched against the file name.
	IgnoreFiles []string `yaml:"ignore_files"`

	// Remote configures the photo service endpoint and credentials.
	Remote RemoteConfig `yaml:"remote"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// RemoteConfig holds the photo service settings.
type RemoteConfig struct {
	// BaseURL is the user feed root, e.g.
	// "https://picasaweb.google.com/data/feed/api/user/default".
	BaseURL string `yaml:"base_url"`

	// TokenURL is the OAuth2 token endpoint used for refresh-token exchange.
	TokenURL string `yaml:"token_url"`

	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`

	// Timeout bounds every HTTP request. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "picasync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

const (
	defaultBaseURL  = "https://picasaweb.google.com/data/feed/api/user/default"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
)

// Default returns a Config with every optional field at its default. Load
// decodes the file on top of it, so keys missing from YAML keep these values.
func Default() *Config {
	return &Config{
		PollInterval:       5 * time.Minute,
		SyncDateRangeDays:  365,
		ExcludeVideos:      true,
		DownloadNew:        true,
		DownloadChanged:    true,
		UploadNew:          true,
		UploadChanged:      true,
		AutoBackupDownload: true,
		AutoBackupUpload:   true,
		IgnoreFiles:        []string{"*.tmp", "picasa.ini", "Thumbs.db", ".DS_Store"},
		Remote: RemoteConfig{
			BaseURL:  defaultBaseURL,
			TokenURL: defaultTokenURL,
			Timeout:  10 * time.Second,
		},
	}
}

// DefaultPath returns the default config file path:
// $XDG_CONFIG_HOME/picasync/config.yaml.
func DefaultPath() (string, error) {
	path, err := xdg.ConfigFile(filepath.Join("picasync", "config.yaml"))
	if err != nil {
		return "", fmt.Errorf("resolving config path: %w", err)
	}
	return path, nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Write persists the configuration to path with owner-only permissions,
// creating parent directories as needed.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// MaxAge converts the sync date range to a duration. Zero means unbounded.
func (c *Config) MaxAge() time.Duration {
	return time.Duration(c.SyncDateRangeDays) * 24 * time.Hour
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.RootFolder == "" {
		return fmt.Errorf("root_folder is required")
	}
	root, err := expandHome(c.RootFolder)
	if err != nil {
		return err
	}
	c.RootFolder = root

	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.PollInterval < time.Minute {
		return fmt.Errorf("poll_interval %v is too short (minimum 1m)", c.PollInterval)
	}
	if c.PollInterval > 24*time.Hour {
		return fmt.Errorf("poll_interval %v is too long (maximum 24h)", c.PollInterval)
	}

	if c.SyncDateRangeDays < 0 {
		return fmt.Errorf("sync_date_range_days must not be negative")
	}

	for _, pattern := range c.IgnoreFiles {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("ignore_files contains an empty pattern")
		}
	}

	if err := c.Remote.validate(); err != nil {
		return err
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func (r *RemoteConfig) validate() error {
	if r.BaseURL == "" {
		r.BaseURL = defaultBaseURL
	}
	if err := checkHTTPURL("remote.base_url", r.BaseURL); err != nil {
		return err
	}
	if r.TokenURL == "" {
		r.TokenURL = defaultTokenURL
	}
	if err := checkHTTPURL("remote.token_url", r.TokenURL); err != nil {
		return err
	}
	if r.RefreshToken == "" {
		return fmt.Errorf("remote.refresh_token is required (run 'picasync setup')")
	}
	if r.Timeout == 0 {
		r.Timeout = 10 * time.Second
	}
	if r.Timeout < time.Second {
		return fmt.Errorf("remote.timeout %v is too short (minimum 1s)", r.Timeout)
	}
	return nil
}

func checkHTTPURL(key, raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s %q must be a valid http or https URL", key, raw)
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return filepath.Clean(path), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
