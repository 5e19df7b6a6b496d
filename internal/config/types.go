package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is logsentry's full configuration.
//
// The file may be YAML or JSON; both are decoded strictly (unknown keys
// are rejected) so typos surface at startup instead of being silently
// ignored.
type Config struct {
	Log   LogConfig   `json:"log"`
	Email EmailConfig `json:"email"`

	Logging LoggingConfig  `json:"logging,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Digest  *DigestConfig  `json:"digest,omitempty"`
}

// LogConfig identifies the watched log file.
type LogConfig struct {
	// ID is a human-readable label used in alert mail bodies.
	ID   string `json:"id"`
	Path string `json:"path"`
}

// EmailConfig holds the SMTP transport settings and the alert thresholds.
//
// CountThreshold is the number of change events that must accumulate
// before an alert may fire. TimeThreshold is the minimum number of
// milliseconds between two alerts; 0 means no minimum interval.
type EmailConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// SMTP is the server endpoint, "host" or "host:port" (port 587 assumed).
	SMTP           string `json:"smtp"`
	Target         string `json:"target"`
	CountThreshold int    `json:"count_threshold"`
	TimeThreshold  int64  `json:"time_threshold"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the optional alert-history persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./logsentry_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DigestConfig controls the optional scheduled alert summary email.
//
// Schedule accepts a cron expression ("0 8 * * *", "@daily") or a Go
// duration string ("6h"). Window bounds how far back the summary looks
// (default 24h). The digest requires storage to be enabled.
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Window   string `json:"window,omitempty"`
}

// Validate checks the invariants the monitor depends on. Violations are
// fatal at startup.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Log.ID) == "" {
		errs = append(errs, errors.New("log.id is required"))
	}
	if strings.TrimSpace(c.Log.Path) == "" {
		errs = append(errs, errors.New("log.path is required"))
	}
	if strings.TrimSpace(c.Email.Username) == "" {
		errs = append(errs, errors.New("email.username is required"))
	}
	if strings.TrimSpace(c.Email.SMTP) == "" {
		errs = append(errs, errors.New("email.smtp is required"))
	}
	if strings.TrimSpace(c.Email.Target) == "" {
		errs = append(errs, errors.New("email.target is required"))
	}
	if c.Email.CountThreshold < 1 {
		errs = append(errs, fmt.Errorf("email.count_threshold must be >= 1 (got %d)", c.Email.CountThreshold))
	}
	if c.Email.TimeThreshold < 0 {
		errs = append(errs, fmt.Errorf("email.time_threshold must be >= 0 (got %d)", c.Email.TimeThreshold))
	}
	if c.Storage != nil {
		if _, err := DurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Digest != nil && c.Digest.Enabled {
		if strings.TrimSpace(c.Digest.Schedule) == "" {
			errs = append(errs, errors.New("digest.schedule is required when digest.enabled"))
		}
		if _, err := DurationField("digest.window", c.Digest.Window); err != nil {
			errs = append(errs, err)
		}
		if c.Storage == nil || strings.EqualFold(strings.TrimSpace(c.Storage.Driver), "none") || strings.TrimSpace(c.Storage.Driver) == "" {
			errs = append(errs, errors.New("digest requires storage to be enabled"))
		}
	}
	return errors.Join(errs...)
}

// DurationField parses an optional Go duration string from the config.
// Empty means zero; negative values are rejected. key names the config
// field in errors ("storage.busy_timeout").
func DurationField(key, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration: %w", key, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", key, raw)
	}
	return d, nil
}

// DurationOrDefault is DurationField with a fallback for empty values.
func DurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := DurationField(key, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
