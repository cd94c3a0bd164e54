package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// GoogleCredentials represents the structure of Google OAuth credentials JSON file.
type GoogleCredentials struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

// LoadGoogleCredentials loads Google OAuth credentials from a JSON file.
func LoadGoogleCredentials(path string) (clientID, clientSecret string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds GoogleCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", "", fmt.Errorf("failed to parse credentials file: %w", err)
	}

	// Try "installed" first (for desktop apps), then "web"
	if creds.Installed.ClientID != "" {
		return creds.Installed.ClientID, creds.Installed.ClientSecret, nil
	}
	if creds.Web.ClientID != "" {
		return creds.Web.ClientID, creds.Web.ClientSecret, nil
	}

	return "", "", fmt.Errorf("no client_id found in credentials file (expected 'installed' or 'web' section)")
}

// Config holds the configuration for the calscribe tool.
type Config struct {
	GoogleCredentialsPath string `json:"google_credentials_path,omitempty"`
	TokenPath             string `json:"token_path,omitempty"`
	StateDir              string `json:"state_dir,omitempty"`  // Where dedupe and batch state files live
	Identity              string `json:"identity,omitempty"`   // Scopes state files to one account
	CalendarName          string `json:"calendar_name,omitempty"`
	DefaultTimeZone       string `json:"default_time_zone,omitempty"`
	ConflictPolicy        string `json:"conflict_policy,omitempty"` // "skip", "update", or "error"
	PreserveDescription   bool   `json:"preserve_description,omitempty"`
	RetryAttempts         int    `json:"retry_attempts,omitempty"`
	RetryDelayMS          int    `json:"retry_delay_ms,omitempty"`
	RequestTimeoutSec     int    `json:"request_timeout_sec,omitempty"`
}

// Overrides carries command-line flag values. Zero values mean "not set".
type Overrides struct {
	GoogleCredentialsPath string
	TokenPath             string
	StateDir              string
	Identity              string
	CalendarName          string
	DefaultTimeZone       string
	ConflictPolicy        string
	PreserveDescription   bool
}

// LoadConfigFromFile loads configuration from a JSON file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadConfig loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags
// 2. Environment variables
// 3. Config file
// 4. Defaults
// Returns an error if any required value is missing or invalid.
func LoadConfig(configFile string, flags Overrides) (*Config, error) {
	var config Config

	// Step 1: Load from config file if provided
	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	// Step 2: Override with environment variables
	if v := os.Getenv("GOOGLE_CREDENTIALS_PATH"); v != "" {
		config.GoogleCredentialsPath = v
	}
	if v := os.Getenv("CALSCRIBE_TOKEN_PATH"); v != "" {
		config.TokenPath = v
	}
	if v := os.Getenv("CALSCRIBE_STATE_DIR"); v != "" {
		config.StateDir = v
	}
	if v := os.Getenv("CALSCRIBE_IDENTITY"); v != "" {
		config.Identity = v
	}
	if v := os.Getenv("CALSCRIBE_CALENDAR"); v != "" {
		config.CalendarName = v
	}
	if v := os.Getenv("CALSCRIBE_TIMEZONE"); v != "" {
		config.DefaultTimeZone = v
	}
	if v := os.Getenv("CALSCRIBE_POLICY"); v != "" {
		config.ConflictPolicy = v
	}
	if v := os.Getenv("CALSCRIBE_PRESERVE_DESCRIPTION"); v != "" {
		preserve, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CALSCRIBE_PRESERVE_DESCRIPTION value: %w", err)
		}
		config.PreserveDescription = preserve
	}
	if v := os.Getenv("CALSCRIBE_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CALSCRIBE_RETRY_ATTEMPTS value: %w", err)
		}
		config.RetryAttempts = n
	}
	if v := os.Getenv("CALSCRIBE_RETRY_DELAY_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CALSCRIBE_RETRY_DELAY_MS value: %w", err)
		}
		config.RetryDelayMS = n
	}
	if v := os.Getenv("CALSCRIBE_REQUEST_TIMEOUT_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CALSCRIBE_REQUEST_TIMEOUT_SEC value: %w", err)
		}
		config.RequestTimeoutSec = n
	}

	// Step 3: Override with command-line flags (highest priority)
	if flags.GoogleCredentialsPath != "" {
		config.GoogleCredentialsPath = flags.GoogleCredentialsPath
	}
	if flags.TokenPath != "" {
		config.TokenPath = flags.TokenPath
	}
	if flags.StateDir != "" {
		config.StateDir = flags.StateDir
	}
	if flags.Identity != "" {
		config.Identity = flags.Identity
	}
	if flags.CalendarName != "" {
		config.CalendarName = flags.CalendarName
	}
	if flags.DefaultTimeZone != "" {
		config.DefaultTimeZone = flags.DefaultTimeZone
	}
	if flags.ConflictPolicy != "" {
		config.ConflictPolicy = flags.ConflictPolicy
	}
	if flags.PreserveDescription {
		config.PreserveDescription = true
	}

	// Step 4: Apply defaults and validate
	if config.GoogleCredentialsPath == "" {
		return nil, fmt.Errorf("google_credentials_path must be provided via --credentials flag, GOOGLE_CREDENTIALS_PATH environment variable, or config file")
	}
	if config.StateDir == "" {
		config.StateDir = defaultStateDir()
	}
	if config.TokenPath == "" {
		config.TokenPath = filepath.Join(config.StateDir, "token.json")
	}
	if config.Identity == "" {
		config.Identity = "default"
	}
	if config.CalendarName == "" {
		config.CalendarName = "primary"
	}
	switch config.ConflictPolicy {
	case "":
		config.ConflictPolicy = "skip"
	case "skip", "update", "error":
	default:
		return nil, fmt.Errorf("conflict_policy must be 'skip', 'update', or 'error', got '%s'", config.ConflictPolicy)
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelayMS <= 0 {
		config.RetryDelayMS = 500
	}
	if config.RequestTimeoutSec <= 0 {
		config.RequestTimeoutSec = 30
	}

	return &config, nil
}

// defaultStateDir places state under the user config dir, falling back to
// the working directory when the home lookup fails.
func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".calscribe"
	}
	return filepath.Join(dir, "calscribe")
}
