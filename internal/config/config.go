package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/drivews/internal/types"
	"github.com/dl-alexandre/drivews/internal/utils"
)

const (
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"
	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "DRIVEWS_"
)

// RemoteBackend names a remote collaborator implementation.
type RemoteBackend string

const (
	// RemoteBackendDrive talks to Google Drive.
	RemoteBackendDrive RemoteBackend = "drive"
	// RemoteBackendDir treats a directory tree as the remote.
	RemoteBackendDir RemoteBackend = "dir"
)

// Config holds application configuration
type Config struct {
	// DefaultProfile is the credential profile used when --profile is not set
	DefaultProfile string `json:"defaultProfile"`

	// DefaultOutputFormat is the default output format (json, table)
	DefaultOutputFormat types.OutputFormat `json:"defaultOutputFormat"`

	// Workers is the download pool width
	Workers int `json:"workers"`

	// MaxDepth limits the local walk; 0 means unlimited
	MaxDepth int `json:"maxDepth"`

	// ExcludePatterns are added to the built-in exclusions
	ExcludePatterns []string `json:"excludePatterns,omitempty"`

	// TrackedFolders are synced when no folder is given
	TrackedFolders []string `json:"trackedFolders"`

	// RemoteBackend selects the remote implementation (drive, dir)
	RemoteBackend RemoteBackend `json:"remoteBackend"`

	// RemoteDir is the root of the dir backend
	RemoteDir string `json:"remoteDir,omitempty"`

	// RemoteHashless makes the dir backend omit content hashes
	RemoteHashless bool `json:"remoteHashless,omitempty"`

	// DriveRootID is the Drive folder mapped to the workspace root
	DriveRootID string `json:"driveRootId,omitempty"`

	// OAuthClientID and OAuthClientSecret identify the Drive OAuth client
	OAuthClientID     string `json:"oauthClientId,omitempty"`
	OAuthClientSecret string `json:"oauthClientSecret,omitempty"`

	// MaxRetries is the maximum number of retries for transfers
	MaxRetries int `json:"maxRetries"`

	// RetryBaseDelay is the base delay for exponential backoff in milliseconds
	RetryBaseDelay int `json:"retryBaseDelay"`

	// RequestTimeout is the per-request timeout in seconds
	RequestTimeout int `json:"requestTimeout"`

	// LogLevel sets the logging verbosity (quiet, normal, verbose, debug)
	LogLevel string `json:"logLevel"`

	// ColorOutput enables color in console logs
	ColorOutput bool `json:"colorOutput"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultProfile:      "default",
		DefaultOutputFormat: types.OutputFormatJSON,
		Workers:             utils.DefaultWorkers,
		MaxDepth:            utils.DefaultMaxDepth,
		TrackedFolders:      []string{utils.DefaultTrackedFolder},
		RemoteBackend:       RemoteBackendDrive,
		DriveRootID:         "root",
		MaxRetries:          utils.DefaultMaxRetries,
		RetryBaseDelay:      utils.DefaultRetryDelayMs,
		RequestTimeout:      60,
		LogLevel:            "normal",
		ColorOutput:         true,
	}
}

// Load loads configuration with precedence: env vars > config file > defaults.
// An explicit path overrides the default config location.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFromFile(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv(EnvPrefix + "DEFAULT_PROFILE"); v != "" {
		c.DefaultProfile = v
	}
	if v := os.Getenv(EnvPrefix + "OUTPUT_FORMAT"); v != "" {
		c.DefaultOutputFormat = types.OutputFormat(v)
	}
	if v := os.Getenv(EnvPrefix + "WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers = n
		}
	}
	if v := os.Getenv(EnvPrefix + "MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxDepth = n
		}
	}
	if v := os.Getenv(EnvPrefix + "EXCLUDE"); v != "" {
		c.ExcludePatterns = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "TRACKED_FOLDERS"); v != "" {
		c.TrackedFolders = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "REMOTE_BACKEND"); v != "" {
		c.RemoteBackend = RemoteBackend(v)
	}
	if v := os.Getenv(EnvPrefix + "REMOTE_DIR"); v != "" {
		c.RemoteDir = v
	}
	if v := os.Getenv(EnvPrefix + "REMOTE_HASHLESS"); v != "" {
		c.RemoteHashless = parseBool(v)
	}
	if v := os.Getenv(EnvPrefix + "DRIVE_ROOT_ID"); v != "" {
		c.DriveRootID = v
	}
	if v := os.Getenv(EnvPrefix + "OAUTH_CLIENT_ID"); v != "" {
		c.OAuthClientID = v
	}
	if v := os.Getenv(EnvPrefix + "OAUTH_CLIENT_SECRET"); v != "" {
		c.OAuthClientSecret = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_RETRIES"); v != "" {
		if retries, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = retries
		}
	}
	if v := os.Getenv(EnvPrefix + "RETRY_BASE_DELAY"); v != "" {
		if delay, err := strconv.Atoi(v); err == nil {
			c.RetryBaseDelay = delay
		}
	}
	if v := os.Getenv(EnvPrefix + "REQUEST_TIMEOUT"); v != "" {
		if timeout, err := strconv.Atoi(v); err == nil {
			c.RequestTimeout = timeout
		}
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "COLOR_OUTPUT"); v != "" {
		c.ColorOutput = parseBool(v)
	}
}

// Save writes the configuration to path, or to the default location.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DefaultOutputFormat != types.OutputFormatJSON &&
		c.DefaultOutputFormat != types.OutputFormatTable {
		return fmt.Errorf("invalid output format: %s (must be 'json' or 'table')", c.DefaultOutputFormat)
	}

	if c.Workers < 1 || c.Workers > 64 {
		return fmt.Errorf("workers must be between 1 and 64, got: %d", c.Workers)
	}

	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must be non-negative, got: %d", c.MaxDepth)
	}

	switch c.RemoteBackend {
	case RemoteBackendDrive:
	case RemoteBackendDir:
		if c.RemoteDir == "" {
			return fmt.Errorf("remoteDir is required for the %q backend", RemoteBackendDir)
		}
	default:
		return fmt.Errorf("invalid remote backend: %s (must be 'drive' or 'dir')", c.RemoteBackend)
	}

	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max retries must be between 0 and 10, got: %d", c.MaxRetries)
	}

	if c.RetryBaseDelay < 100 || c.RetryBaseDelay > 60000 {
		return fmt.Errorf("retry base delay must be between 100ms and 60000ms, got: %d", c.RetryBaseDelay)
	}

	if c.RequestTimeout < 1 || c.RequestTimeout > 3600 {
		return fmt.Errorf("request timeout must be between 1 and 3600 seconds, got: %d", c.RequestTimeout)
	}

	validLogLevels := []string{"quiet", "normal", "verbose", "debug"}
	isValid := false
	for _, level := range validLogLevels {
		if c.LogLevel == level {
			isValid = true
			break
		}
	}
	if !isValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// GetRetryBaseDelay returns the retry base delay as a duration
func (c *Config) GetRetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelay) * time.Millisecond
}

// GetRequestTimeout returns the request timeout as a duration
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// Get returns the JSON-encoded value of a top-level key.
func (c *Config) Get(key string) (string, error) {
	fields, err := c.asMap()
	if err != nil {
		return "", err
	}
	raw, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %s", key)
	}
	return strings.Trim(string(raw), `"`), nil
}

// Set assigns a top-level key from its string form. List keys take a
// comma-separated value.
func (c *Config) Set(key, value string) error {
	fields, err := c.asMap()
	if err != nil {
		return err
	}
	current, ok := fields[key]
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}

	var encoded json.RawMessage
	switch {
	case len(current) > 0 && current[0] == '[', string(current) == "null":
		encoded, err = json.Marshal(splitList(value))
	case len(current) > 0 && current[0] == '"':
		encoded, err = json.Marshal(value)
	case string(current) == "true" || string(current) == "false":
		encoded, err = json.Marshal(parseBool(value))
	default:
		n, convErr := strconv.Atoi(value)
		if convErr != nil {
			return fmt.Errorf("config key %s expects a number: %w", key, convErr)
		}
		encoded, err = json.Marshal(n)
	}
	if err != nil {
		return err
	}
	fields[key] = encoded

	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	var next Config
	if err := json.Unmarshal(data, &next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// Keys lists the settable config keys.
func (c *Config) Keys() []string {
	fields, err := c.asMap()
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Config) asMap() (map[string]json.RawMessage, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for _, key := range []string{"excludePatterns", "remoteDir", "remoteHashless", "driveRootId", "oauthClientId", "oauthClientSecret"} {
		if _, ok := fields[key]; !ok {
			fields[key] = emptyValueFor(key)
		}
	}
	return fields, nil
}

func emptyValueFor(key string) json.RawMessage {
	switch key {
	case "excludePatterns":
		return json.RawMessage("[]")
	case "remoteHashless":
		return json.RawMessage("false")
	default:
		return json.RawMessage(`""`)
	}
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigFileName), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "drivews"), nil
}

// parseBool parses a boolean value from a string
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
