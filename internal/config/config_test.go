package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `log:
  id: backend
  path: /var/log/backend/error.log
email:
  username: bot@example.com
  password: hunter2
  smtp: smtp.example.com:587
  target: oncall@example.com
  count_threshold: 3
  time_threshold: 5000
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.ID != "backend" {
		t.Fatalf("Log.ID = %q", cfg.Log.ID)
	}
	if cfg.Email.CountThreshold != 3 || cfg.Email.TimeThreshold != 5000 {
		t.Fatalf("thresholds = %d/%d, want 3/5000", cfg.Email.CountThreshold, cfg.Email.TimeThreshold)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() did not return the committed config")
	}
}

func TestLoadJSONEquivalent(t *testing.T) {
	t.Parallel()
	js := `{
  "log": {"id": "backend", "path": "/var/log/backend/error.log"},
  "email": {
    "username": "bot@example.com",
    "password": "hunter2",
    "smtp": "smtp.example.com:587",
    "target": "oncall@example.com",
    "count_threshold": 3,
    "time_threshold": 5000
  }
}`
	m := NewManager(writeConfig(t, "config.json", js))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Path != "/var/log/backend/error.log" {
		t.Fatalf("Log.Path = %q", cfg.Log.Path)
	}
}

func TestUnknownKeysRejected(t *testing.T) {
	t.Parallel()
	bad := validYAML + "unknown_section:\n  x: 1\n"
	m := NewManager(writeConfig(t, "config.yaml", bad))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}

	// A typo inside a known section must also be caught.
	bad = strings.Replace(validYAML, "count_threshold", "cout_threshold", 1)
	m = NewManager(writeConfig(t, "config.yaml", bad))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestYAMLToJSONStringifiesKeys(t *testing.T) {
	t.Parallel()
	// YAML allows non-string map keys, which json.Marshal cannot
	// represent; the re-encoding must stringify them instead of failing.
	j, err := yamlToJSON([]byte("1: one\n2:\n  - a\n  - b\n"))
	if err != nil {
		t.Fatalf("yamlToJSON: %v", err)
	}
	if got, want := string(j), `{"1":"one","2":["a","b"]}`; got != want {
		t.Fatalf("yamlToJSON = %s, want %s", got, want)
	}
}

func TestDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty is zero", raw: ""},
		{name: "whitespace is zero", raw: "   "},
		{name: "plain", raw: "5s", want: 5 * time.Second},
		{name: "trimmed", raw: " 250ms ", want: 250 * time.Millisecond},
		{name: "negative", raw: "-1s", wantErr: true},
		{name: "not a duration", raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DurationField("email.window", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DurationField(%q): expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("DurationField(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("DurationField(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDurationOrDefault(t *testing.T) {
	t.Parallel()

	if got, err := DurationOrDefault("digest.window", "", time.Hour); err != nil || got != time.Hour {
		t.Fatalf("empty = %s, %v; want fallback 1h", got, err)
	}
	if got, err := DurationOrDefault("digest.window", "30m", time.Hour); err != nil || got != 30*time.Minute {
		t.Fatalf("set = %s, %v; want 30m", got, err)
	}
	if _, err := DurationOrDefault("digest.window", "bogus", time.Hour); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestMissingFileIsError(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Log: LogConfig{ID: "backend", Path: "/var/log/x.log"},
			Email: EmailConfig{
				Username:       "bot@example.com",
				SMTP:           "smtp.example.com",
				Target:         "oncall@example.com",
				CountThreshold: 1,
				TimeThreshold:  0,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid minimal", mutate: func(c *Config) {}},
		{name: "zero time threshold is allowed", mutate: func(c *Config) { c.Email.TimeThreshold = 0 }},
		{name: "missing log id", mutate: func(c *Config) { c.Log.ID = "" }, wantErr: true},
		{name: "missing log path", mutate: func(c *Config) { c.Log.Path = "" }, wantErr: true},
		{name: "missing smtp", mutate: func(c *Config) { c.Email.SMTP = "" }, wantErr: true},
		{name: "missing target", mutate: func(c *Config) { c.Email.Target = "" }, wantErr: true},
		{name: "zero count threshold", mutate: func(c *Config) { c.Email.CountThreshold = 0 }, wantErr: true},
		{name: "negative time threshold", mutate: func(c *Config) { c.Email.TimeThreshold = -1 }, wantErr: true},
		{
			name: "bad storage busy_timeout",
			mutate: func(c *Config) {
				c.Storage = &StorageConfig{Driver: "file", Path: "./s", BusyTimeout: "soon"}
			},
			wantErr: true,
		},
		{
			name: "digest without storage",
			mutate: func(c *Config) {
				c.Digest = &DigestConfig{Enabled: true, Schedule: "@daily"}
			},
			wantErr: true,
		},
		{
			name: "digest with storage",
			mutate: func(c *Config) {
				c.Storage = &StorageConfig{Driver: "file", Path: "./s"}
				c.Digest = &DigestConfig{Enabled: true, Schedule: "@daily"}
			},
		},
		{
			name: "digest enabled without schedule",
			mutate: func(c *Config) {
				c.Storage = &StorageConfig{Driver: "file", Path: "./s"}
				c.Digest = &DigestConfig{Enabled: true}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}
