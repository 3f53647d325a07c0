package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dl-alexandre/drivews/internal/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DefaultProfile != "default" {
		t.Errorf("Expected default profile 'default', got '%s'", cfg.DefaultProfile)
	}
	if cfg.Workers != 8 {
		t.Errorf("Expected 8 workers, got %d", cfg.Workers)
	}
	if cfg.MaxDepth != 0 {
		t.Errorf("Expected unlimited depth, got %d", cfg.MaxDepth)
	}
	if len(cfg.TrackedFolders) != 1 || cfg.TrackedFolders[0] != "Documents" {
		t.Errorf("Expected tracked folders [Documents], got %v", cfg.TrackedFolders)
	}
	if cfg.RemoteBackend != RemoteBackendDrive {
		t.Errorf("Expected drive backend, got %s", cfg.RemoteBackend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{name: "valid default config", mutate: func(*Config) {}},
		{
			name:     "invalid output format",
			mutate:   func(c *Config) { c.DefaultOutputFormat = types.OutputFormat("yaml") },
			errorMsg: "invalid output format",
		},
		{
			name:     "zero workers",
			mutate:   func(c *Config) { c.Workers = 0 },
			errorMsg: "workers must be between 1 and 64",
		},
		{
			name:     "negative depth",
			mutate:   func(c *Config) { c.MaxDepth = -1 },
			errorMsg: "max depth must be non-negative",
		},
		{
			name:     "dir backend without dir",
			mutate:   func(c *Config) { c.RemoteBackend = RemoteBackendDir },
			errorMsg: "remoteDir is required",
		},
		{
			name: "dir backend with dir",
			mutate: func(c *Config) {
				c.RemoteBackend = RemoteBackendDir
				c.RemoteDir = "/srv/drive"
			},
		},
		{
			name:     "unknown backend",
			mutate:   func(c *Config) { c.RemoteBackend = "icloud" },
			errorMsg: "invalid remote backend",
		},
		{
			name:     "max retries too high",
			mutate:   func(c *Config) { c.MaxRetries = 11 },
			errorMsg: "max retries must be between 0 and 10",
		},
		{
			name:     "retry base delay too low",
			mutate:   func(c *Config) { c.RetryBaseDelay = 50 },
			errorMsg: "retry base delay must be between 100ms and 60000ms",
		},
		{
			name:     "request timeout out of range",
			mutate:   func(c *Config) { c.RequestTimeout = 3700 },
			errorMsg: "request timeout must be between 1 and 3600 seconds",
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.LogLevel = "loud" },
			errorMsg: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("Expected error containing '%s', got nil", tt.errorMsg)
			} else if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestConfigDurationGetters(t *testing.T) {
	cfg := &Config{RetryBaseDelay: 1000, RequestTimeout: 60}

	if d := cfg.GetRetryBaseDelay(); d != time.Second {
		t.Errorf("Expected retry base delay 1s, got %v", d)
	}
	if d := cfg.GetRequestTimeout(); d != time.Minute {
		t.Errorf("Expected request timeout 60s, got %v", d)
	}
}

func TestConfigSaveAndLoad(t *testing.T) {
	t.Setenv(EnvPrefix+"CONFIG_DIR", t.TempDir())

	cfg := DefaultConfig()
	cfg.DefaultProfile = "work"
	cfg.Workers = 4
	cfg.RemoteBackend = RemoteBackendDir
	cfg.RemoteDir = "/srv/mirror"
	cfg.ExcludePatterns = []string{"*.bak"}
	if err := cfg.Save(""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	path, err := GetConfigPath()
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" || loaded.Workers != 4 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.RemoteDir != "/srv/mirror" || len(loaded.ExcludePatterns) != 1 {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d", cfg.Workers)
	}
}

func TestLoad_RejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"DEFAULT_PROFILE", "env-profile")
	t.Setenv(EnvPrefix+"OUTPUT_FORMAT", "table")
	t.Setenv(EnvPrefix+"WORKERS", "16")
	t.Setenv(EnvPrefix+"MAX_DEPTH", "3")
	t.Setenv(EnvPrefix+"EXCLUDE", "*.bak, build/")
	t.Setenv(EnvPrefix+"TRACKED_FOLDERS", "Documents,Desktop")
	t.Setenv(EnvPrefix+"REMOTE_HASHLESS", "yes")
	t.Setenv(EnvPrefix+"MAX_RETRIES", "7")
	t.Setenv(EnvPrefix+"LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.loadFromEnv()

	if cfg.DefaultProfile != "env-profile" {
		t.Errorf("Expected profile 'env-profile', got '%s'", cfg.DefaultProfile)
	}
	if cfg.DefaultOutputFormat != types.OutputFormatTable {
		t.Errorf("Expected output format 'table', got '%s'", cfg.DefaultOutputFormat)
	}
	if cfg.Workers != 16 || cfg.MaxDepth != 3 {
		t.Errorf("Expected workers 16 depth 3, got %d %d", cfg.Workers, cfg.MaxDepth)
	}
	if len(cfg.ExcludePatterns) != 2 || cfg.ExcludePatterns[1] != "build/" {
		t.Errorf("ExcludePatterns = %v", cfg.ExcludePatterns)
	}
	if len(cfg.TrackedFolders) != 2 {
		t.Errorf("TrackedFolders = %v", cfg.TrackedFolders)
	}
	if !cfg.RemoteHashless {
		t.Error("Expected remote hashless")
	}
	if cfg.MaxRetries != 7 || cfg.LogLevel != "debug" {
		t.Errorf("MaxRetries=%d LogLevel=%s", cfg.MaxRetries, cfg.LogLevel)
	}
}

func TestGetAndSet(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		key   string
		value string
		want  string
	}{
		{"workers", "12", "12"},
		{"defaultProfile", "home", "home"},
		{"colorOutput", "off", "false"},
		{"trackedFolders", "Documents, Photos", `["Documents","Photos"]`},
		{"remoteDir", "/mnt/cloud", "/mnt/cloud"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if err := cfg.Set(tt.key, tt.value); err != nil {
				t.Fatalf("Set(%s) error = %v", tt.key, err)
			}
			got, err := cfg.Get(tt.key)
			if err != nil {
				t.Fatalf("Get(%s) error = %v", tt.key, err)
			}
			if got != tt.want {
				t.Errorf("Get(%s) = %s, want %s", tt.key, got, tt.want)
			}
		})
	}

	if err := cfg.Set("workers", "0"); err == nil {
		t.Error("expected validation error for workers=0")
	}
	if cfg.Workers != 12 {
		t.Errorf("failed Set must not change config, workers = %d", cfg.Workers)
	}
	if err := cfg.Set("nope", "1"); err == nil {
		t.Error("expected unknown key error")
	}
	if err := cfg.Set("workers", "many"); err == nil {
		t.Error("expected number parse error")
	}
}

func TestParseBool(t *testing.T) {
	for _, in := range []string{"true", "1", "YES", " on "} {
		if !parseBool(in) {
			t.Errorf("parseBool(%q) = false", in)
		}
	}
	for _, in := range []string{"false", "0", "", "nope"} {
		if parseBool(in) {
			t.Errorf("parseBool(%q) = true", in)
		}
	}
}
