package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/adamancini/appupdater/internal/types"
)

// Format represents the file format of a structured document.
type Format int

const (
	FormatUnknown Format = iota
	FormatYAML
	FormatTOML
	FormatJSON
	FormatXML
)

// String returns the name of the format.
func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatTOML:
		return "toml"
	case FormatJSON:
		return "json"
	case FormatXML:
		return "xml"
	default:
		return "unknown"
	}
}

// DetectFormat determines the file format based on extension or content.
// The application descriptor reader shares it.
func DetectFormat(path string, content []byte) Format {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	case ".json":
		return FormatJSON
	case ".xml":
		return FormatXML
	}

	// Content sniffing for extensionless files
	return sniffFormat(content)
}

// sniffFormat attempts to detect format from content.
func sniffFormat(content []byte) Format {
	trimmed := strings.TrimSpace(string(content))

	if strings.HasPrefix(trimmed, "<") {
		return FormatXML
	}

	// JSON starts with { or [
	if strings.HasPrefix(trimmed, "{") {
		return FormatJSON
	}

	// TOML typically has [sections] or key = value with = sign
	// YAML uses key: value with : sign
	if strings.Contains(trimmed, "=") || strings.HasPrefix(trimmed, "[") {
		lines := strings.Split(trimmed, "\n")
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if strings.Contains(line, "=") || strings.HasPrefix(line, "[") {
				return FormatTOML
			}
			// If we see : without =, it's likely YAML
			if strings.Contains(line, ":") {
				return FormatYAML
			}
		}
	}

	// Default to YAML if we see colons
	if strings.Contains(trimmed, ":") {
		return FormatYAML
	}

	return FormatUnknown
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns in content.
func expandEnvVars(content []byte) []byte {
	return envVarPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		parts := envVarPattern.FindSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		value := os.Getenv(string(parts[1]))
		if value == "" && len(parts) >= 3 && len(parts[2]) > 0 {
			value = string(parts[2])
		}

		return []byte(value)
	})
}

// rawConfig is an intermediate representation for parsing. Durations are
// interface{} because they may be written as "90s" or as integer seconds,
// and the three decoders disagree on numeric types. Pointers distinguish an
// explicit zero from an absent key.
type rawConfig struct {
	DescriptorPath string `yaml:"descriptor_path" toml:"descriptor_path" json:"descriptor_path"`
	InstallDir     string `yaml:"install_dir" toml:"install_dir" json:"install_dir"`
	LockPath       string `yaml:"lock_path" toml:"lock_path" json:"lock_path"`

	Log struct {
		Path       string `yaml:"path" toml:"path" json:"path"`
		Level      string `yaml:"level" toml:"level" json:"level"`
		MaxSizeMB  *int   `yaml:"max_size_mb" toml:"max_size_mb" json:"max_size_mb"`
		MaxBackups *int   `yaml:"max_backups" toml:"max_backups" json:"max_backups"`
	} `yaml:"log" toml:"log" json:"log"`

	Registry struct {
		BaseURL  string `yaml:"base_url" toml:"base_url" json:"base_url"`
		Token    string `yaml:"token" toml:"token" json:"token"`
		AssetExt string `yaml:"asset_ext" toml:"asset_ext" json:"asset_ext"`
	} `yaml:"registry" toml:"registry" json:"registry"`

	Poll struct {
		Interval     interface{} `yaml:"interval" toml:"interval" json:"interval"`
		OfflineRetry interface{} `yaml:"offline_retry" toml:"offline_retry" json:"offline_retry"`
	} `yaml:"poll" toml:"poll" json:"poll"`

	Timeouts struct {
		Probe    interface{} `yaml:"probe" toml:"probe" json:"probe"`
		Release  interface{} `yaml:"release" toml:"release" json:"release"`
		Download interface{} `yaml:"download" toml:"download" json:"download"`
	} `yaml:"timeouts" toml:"timeouts" json:"timeouts"`

	Retry struct {
		Max     *int        `yaml:"max" toml:"max" json:"max"`
		Initial interface{} `yaml:"initial" toml:"initial" json:"initial"`
	} `yaml:"retry" toml:"retry" json:"retry"`

	Install struct {
		Mode        string `yaml:"mode" toml:"mode" json:"mode"`
		ArchiveName string `yaml:"archive_name" toml:"archive_name" json:"archive_name"`
		BackupDir   string `yaml:"backup_dir" toml:"backup_dir" json:"backup_dir"`
		BackupKeep  *int   `yaml:"backup_keep" toml:"backup_keep" json:"backup_keep"`
		ScriptDir   string `yaml:"script_dir" toml:"script_dir" json:"script_dir"`
	} `yaml:"install" toml:"install" json:"install"`
}

// parse decodes content according to format and overlays it on cfg.
func parse(content []byte, format Format, cfg *Config) error {
	// Expand environment variables first
	content = expandEnvVars(content)

	var raw rawConfig

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(content, &raw); err != nil {
			return fmt.Errorf("YAML parse error: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(content, &raw); err != nil {
			return fmt.Errorf("TOML parse error: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(content, &raw); err != nil {
			return fmt.Errorf("JSON parse error: %w", err)
		}
	default:
		return fmt.Errorf("unknown file format")
	}

	return raw.apply(cfg)
}

func (raw *rawConfig) apply(cfg *Config) error {
	setString(&cfg.DescriptorPath, raw.DescriptorPath)
	setString(&cfg.InstallDir, raw.InstallDir)
	setString(&cfg.LockPath, raw.LockPath)

	setString(&cfg.Log.Path, raw.Log.Path)
	setString(&cfg.Log.Level, raw.Log.Level)
	setInt(&cfg.Log.MaxSizeMB, raw.Log.MaxSizeMB)
	setInt(&cfg.Log.MaxBackups, raw.Log.MaxBackups)

	setString(&cfg.Registry.BaseURL, raw.Registry.BaseURL)
	setString(&cfg.Registry.Token, raw.Registry.Token)
	setString(&cfg.Registry.AssetExt, raw.Registry.AssetExt)

	durations := []struct {
		field string
		value interface{}
		dst   *time.Duration
	}{
		{"poll.interval", raw.Poll.Interval, &cfg.Poll.Interval},
		{"poll.offline_retry", raw.Poll.OfflineRetry, &cfg.Poll.OfflineRetry},
		{"timeouts.probe", raw.Timeouts.Probe, &cfg.Timeouts.Probe},
		{"timeouts.release", raw.Timeouts.Release, &cfg.Timeouts.Release},
		{"timeouts.download", raw.Timeouts.Download, &cfg.Timeouts.Download},
		{"retry.initial", raw.Retry.Initial, &cfg.Retry.Initial},
	}
	for _, d := range durations {
		if d.value == nil {
			continue
		}
		parsed, err := parseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.field, err)
		}
		*d.dst = parsed
	}

	setInt(&cfg.Retry.Max, raw.Retry.Max)

	if raw.Install.Mode != "" {
		cfg.Install.Mode = types.InstallMode(strings.ToLower(raw.Install.Mode))
	}
	setString(&cfg.Install.ArchiveName, raw.Install.ArchiveName)
	setString(&cfg.Install.BackupDir, raw.Install.BackupDir)
	setInt(&cfg.Install.BackupKeep, raw.Install.BackupKeep)
	setString(&cfg.Install.ScriptDir, raw.Install.ScriptDir)

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// parseDuration accepts a Go duration string ("90s", "1m") or a number of
// seconds in any of the numeric types the decoders produce.
func parseDuration(v interface{}) (time.Duration, error) {
	switch d := v.(type) {
	case string:
		s := strings.TrimSpace(d)
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", d)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case uint64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("invalid duration value of type %T", v)
	}
}
