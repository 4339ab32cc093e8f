package cmd

import (
	"fmt"
	"io"

	"github.com/adamancini/appupdater/internal/config"
	"github.com/adamancini/appupdater/internal/logging"
	"github.com/adamancini/appupdater/internal/output"
)

// loadConfig resolves and loads the config file named by the global flags,
// then configures logging from it.
func loadConfig() (*config.Config, error) {
	path, err := config.FindConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if err := logging.Init(loggingOptions(cfg, verbose, quiet)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loggingOptions maps the config and global flags onto logging options.
// Quiet silences the console copy only; the log file keeps its level.
func loggingOptions(cfg *config.Config, verbose, quiet bool) logging.Options {
	opts := logging.Options{
		Level:      cfg.Log.Level,
		Path:       cfg.ResolveInInstallDir(cfg.Log.Path),
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}
	if cfg.Log.Path == "console" {
		opts.Path = "console"
	}
	if verbose {
		opts.Level = "debug"
	}
	if quiet {
		opts.Console = io.Discard
	}
	return opts
}

// newWriter builds an output writer for the --output flag.
func newWriter(w io.Writer) (*output.Writer, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	return output.NewWriter(w, format), nil
}

// scriptLogPath is the log file a generated script appends to. A console-only
// configuration still needs a file, since the script outlives the updater.
func scriptLogPath(cfg *config.Config) string {
	if cfg.Log.Path == "" || cfg.Log.Path == "console" {
		return cfg.ResolveInInstallDir(config.DefaultLogPath)
	}
	return cfg.ResolveInInstallDir(cfg.Log.Path)
}

// formatSize formats a byte size as a human-readable string.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
