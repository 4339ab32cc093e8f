package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// MinPollInterval is the shortest poll interval accepted; shorter values are
// rejected here and clamped by the poller.
const MinPollInterval = 5 * time.Second

// ValidationError represents a single configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration and reports every problem at once.
func Validate(c *Config) error {
	var errors []string

	add := func(err error) {
		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	add(validateRegistry(c.Registry))
	add(validateLog(c.Log))

	if err := c.Install.Mode.Validate(); err != nil {
		add(ValidationError{Field: "install.mode", Message: err.Error()})
	}
	if name := c.Install.ArchiveName; name == "" || strings.ContainsAny(name, `/\`) {
		add(ValidationError{Field: "install.archive_name", Message: fmt.Sprintf("invalid archive name '%s' (must be a bare file name)", name)})
	}
	if c.Install.BackupKeep < 0 {
		add(ValidationError{Field: "install.backup_keep", Message: "must not be negative"})
	}
	if c.Retry.Max < 0 {
		add(ValidationError{Field: "retry.max", Message: "must not be negative"})
	}
	if c.DescriptorPath == "" {
		add(ValidationError{Field: "descriptor_path", Message: "descriptor_path is required"})
	}

	durations := []struct {
		field string
		value time.Duration
	}{
		{"poll.offline_retry", c.Poll.OfflineRetry},
		{"timeouts.probe", c.Timeouts.Probe},
		{"timeouts.release", c.Timeouts.Release},
		{"timeouts.download", c.Timeouts.Download},
		{"retry.initial", c.Retry.Initial},
	}
	for _, d := range durations {
		if d.value <= 0 {
			add(ValidationError{Field: d.field, Message: "must be a positive duration"})
		}
	}
	if c.Poll.Interval < MinPollInterval {
		add(ValidationError{Field: "poll.interval", Message: fmt.Sprintf("must be at least %s", MinPollInterval)})
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func validateRegistry(r RegistryConfig) error {
	u, err := url.Parse(r.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ValidationError{
			Field:   "registry.base_url",
			Message: fmt.Sprintf("invalid URL '%s' (must be http or https)", r.BaseURL),
		}
	}

	if !strings.HasPrefix(r.AssetExt, ".") {
		return ValidationError{
			Field:   "registry.asset_ext",
			Message: fmt.Sprintf("invalid extension '%s' (must start with '.')", r.AssetExt),
		}
	}

	return nil
}

func validateLog(l LogConfig) error {
	if _, err := log.ParseLevel(l.Level); err != nil {
		return ValidationError{
			Field:   "log.level",
			Message: err.Error(),
		}
	}

	if l.MaxSizeMB < 0 {
		return ValidationError{
			Field:   "log.max_size_mb",
			Message: "must not be negative",
		}
	}

	return nil
}
