// Package config handles updater configuration loading and location resolution.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adamancini/appupdater/internal/types"
)

// Default values.
const (
	DefaultDescriptorPath = "details.xml"
	DefaultLogPath        = "updater_log.txt"
	DefaultLockFileName   = "updater_running.lock"
	DefaultRegistryURL    = "https://api.github.com"
	DefaultAssetExt       = ".iflapp"
	DefaultArchiveName    = "update.zip"
	DefaultBackupDir      = "backup"
	DefaultBackupKeep     = 5

	DefaultPollInterval    = 60 * time.Second
	DefaultOfflineRetry    = 5 * time.Second
	DefaultProbeTimeout    = 4 * time.Second
	DefaultReleaseTimeout  = 8 * time.Second
	DefaultDownloadTimeout = 30 * time.Second
	DefaultRetryMax        = 3
	DefaultRetryInitial    = 500 * time.Millisecond
)

// Config is the explicit configuration handed to every component.
type Config struct {
	DescriptorPath string `yaml:"descriptor_path" toml:"descriptor_path" json:"descriptor_path"`
	InstallDir     string `yaml:"install_dir" toml:"install_dir" json:"install_dir"`
	LockPath       string `yaml:"lock_path" toml:"lock_path" json:"lock_path"`

	Log      LogConfig      `yaml:"log" toml:"log" json:"log"`
	Registry RegistryConfig `yaml:"registry" toml:"registry" json:"registry"`
	Poll     PollConfig     `yaml:"poll" toml:"poll" json:"poll"`
	Timeouts TimeoutConfig  `yaml:"timeouts" toml:"timeouts" json:"timeouts"`
	Retry    RetryConfig    `yaml:"retry" toml:"retry" json:"retry"`
	Install  InstallConfig  `yaml:"install" toml:"install" json:"install"`
}

// LogConfig configures the log sink.
type LogConfig struct {
	Path       string `yaml:"path" toml:"path" json:"path"`
	Level      string `yaml:"level" toml:"level" json:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups" json:"max_backups"`
}

// RegistryConfig points at the release registry.
type RegistryConfig struct {
	BaseURL  string `yaml:"base_url" toml:"base_url" json:"base_url"`
	Token    string `yaml:"token,omitempty" toml:"token,omitempty" json:"token,omitempty"` // Optional, for rate limiting
	AssetExt string `yaml:"asset_ext" toml:"asset_ext" json:"asset_ext"`
}

// PollConfig controls the background poller.
type PollConfig struct {
	Interval     time.Duration `yaml:"interval" toml:"interval" json:"interval"`
	OfflineRetry time.Duration `yaml:"offline_retry" toml:"offline_retry" json:"offline_retry"`
}

// TimeoutConfig bounds each network call.
type TimeoutConfig struct {
	Probe    time.Duration `yaml:"probe" toml:"probe" json:"probe"`
	Release  time.Duration `yaml:"release" toml:"release" json:"release"`
	Download time.Duration `yaml:"download" toml:"download" json:"download"`
}

// RetryConfig is the backoff policy for idempotent registry GETs.
type RetryConfig struct {
	Max     int           `yaml:"max" toml:"max" json:"max"`
	Initial time.Duration `yaml:"initial" toml:"initial" json:"initial"`
}

// InstallConfig controls what happens once an update is found.
type InstallConfig struct {
	Mode        types.InstallMode `yaml:"mode" toml:"mode" json:"mode"`
	ArchiveName string            `yaml:"archive_name" toml:"archive_name" json:"archive_name"`
	BackupDir   string            `yaml:"backup_dir" toml:"backup_dir" json:"backup_dir"`
	BackupKeep  int               `yaml:"backup_keep" toml:"backup_keep" json:"backup_keep"`
	// ScriptDir is where installer scripts are written. Empty means the OS temp dir.
	ScriptDir string `yaml:"script_dir,omitempty" toml:"script_dir,omitempty" json:"script_dir,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DescriptorPath: DefaultDescriptorPath,
		InstallDir:     ".",
		LockPath:       filepath.Join(os.TempDir(), DefaultLockFileName),
		Log: LogConfig{
			Path:  DefaultLogPath,
			Level: "info",
		},
		Registry: RegistryConfig{
			BaseURL:  DefaultRegistryURL,
			AssetExt: DefaultAssetExt,
		},
		Poll: PollConfig{
			Interval:     DefaultPollInterval,
			OfflineRetry: DefaultOfflineRetry,
		},
		Timeouts: TimeoutConfig{
			Probe:    DefaultProbeTimeout,
			Release:  DefaultReleaseTimeout,
			Download: DefaultDownloadTimeout,
		},
		Retry: RetryConfig{
			Max:     DefaultRetryMax,
			Initial: DefaultRetryInitial,
		},
		Install: InstallConfig{
			Mode:        types.InstallModePrompt,
			ArchiveName: DefaultArchiveName,
			BackupDir:   DefaultBackupDir,
			BackupKeep:  DefaultBackupKeep,
		},
	}
}

// FindConfig searches for a config file. An empty result with a nil error
// means no file exists and defaults apply.
func FindConfig(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("specified config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	// Check UPDATER_CONFIG environment variable
	if envPath := os.Getenv("UPDATER_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	fileNames := []string{
		"updater.yaml",
		"updater.yml",
		"updater.toml",
		"updater.json",
	}

	for _, name := range fileNames {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}

	return "", nil
}

// Load reads and parses a config file from the given path, layering it over
// the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	format := DetectFormat(path, content)
	if format == FormatUnknown || format == FormatXML {
		return nil, fmt.Errorf("unable to detect config format for %s", path)
	}

	if err := parse(content, format, cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ResolveInInstallDir joins a relative path onto the install directory.
func (c *Config) ResolveInInstallDir(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.InstallDir, path)
}
