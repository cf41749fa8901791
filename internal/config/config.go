package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppVersion is shown in the header and by `papermind version`.
const AppVersion = "v1.0.0"

// Config holds all papermind client configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Backend ingestion/query service
	Backend BackendConfig `yaml:"backend"`

	// Local persistence (token store, conversation database, logs)
	Storage StorageConfig `yaml:"storage"`

	// Interactive UI
	UI UIConfig `yaml:"ui"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig selects the backend origin.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// StorageConfig locates client state on disk.
type StorageConfig struct {
	// Dir holds storage.json, the conversation database and logs.
	// Every papermind process pointed at the same Dir shares one session.
	Dir      string `yaml:"dir"`
	Database string `yaml:"database"`
}

// UIConfig configures the interactive chat.
type UIConfig struct {
	// Theme used when no preference has been stored yet: "light", "dark", or
	// "auto" to follow the terminal background.
	Theme string `yaml:"theme"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "papermind",
		Version: AppVersion,
		Backend: BackendConfig{
			BaseURL: "http://127.0.0.1:8000",
			Timeout: "60s",
		},
		Storage: StorageConfig{
			Dir:      DefaultHome(),
			Database: "conversations.db",
		},
		UI: UIConfig{
			Theme: "light",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultHome returns ~/.papermind, or .papermind when the home directory is
// unknown.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".papermind"
	}
	return filepath.Join(home, ".papermind")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultHome(), "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if u := os.Getenv("PAPERMIND_API_URL"); u != "" {
		c.Backend.BaseURL = u
	}
	if dir := os.Getenv("PAPERMIND_HOME"); dir != "" {
		c.Storage.Dir = dir
	}
	if os.Getenv("PAPERMIND_DEBUG") == "1" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
	if os.Getenv("PAPERMIND_DARK_MODE") == "1" {
		c.UI.Theme = "dark"
	}
}

// Validate checks the settings the client cannot run without.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid backend.base_url %q: %w", c.Backend.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid backend.base_url %q: scheme must be http or https", c.Backend.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid backend.base_url %q: missing host", c.Backend.BaseURL)
	}
	if _, err := c.BackendTimeout(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Storage.Dir) == "" {
		return fmt.Errorf("storage.dir must not be empty")
	}
	return nil
}

// BackendTimeout parses backend.timeout; empty means 60s.
func (c *Config) BackendTimeout() (time.Duration, error) {
	if c.Backend.Timeout == "" {
		return 60 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Backend.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid backend.timeout %q: %w", c.Backend.Timeout, err)
	}
	return d, nil
}

// DatabasePath returns the absolute conversation database path.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Storage.Database) {
		return c.Storage.Database
	}
	return filepath.Join(c.Storage.Dir, c.Storage.Database)
}

// TokenStorePath returns the shared key/value file.
func (c *Config) TokenStorePath() string {
	return filepath.Join(c.Storage.Dir, "storage.json")
}
