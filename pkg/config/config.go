// Package config loads client and server settings.
//
// The client reads an optional YAML file and lets TIMELINE_* environment variables
// override it; command flags are applied on top by the caller. The server is
// configured from the environment only.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "TIMELINE"

type Client struct {
	ServerURL string        `yaml:"server_url" envconfig:"SERVER_URL"`
	CachePath string        `yaml:"cache_path" envconfig:"CACHE_PATH"`
	Debounce  time.Duration `yaml:"debounce" envconfig:"DEBOUNCE"`
}

// DefaultClient points at a local server and keeps the cache under the user config dir.
func DefaultClient() Client {
	return Client{
		ServerURL: "http://127.0.0.1:8080",
		CachePath: filepath.Join(configDir(), "cache.sqlite3"),
		Debounce:  700 * time.Millisecond,
	}
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "timeline")
	}
	return filepath.Join(dir, "timeline")
}

// DefaultClientPath is where LoadClient looks when no path is given.
func DefaultClientPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// LoadClient reads path, which may be missing, then applies the environment.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if path == "" {
		path = DefaultClientPath()
	}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to process environment variables: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Client) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.CachePath == "" {
		return fmt.Errorf("cache_path is required")
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %s", c.Debounce)
	}
	return nil
}

// LogPath is the file the terminal editor logs to.
func (c Client) LogPath() string {
	return filepath.Join(filepath.Dir(c.CachePath), "debug.log")
}

// Save writes the config as YAML, creating the directory if needed.
func (c Client) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

type Server struct {
	Addr     string `envconfig:"ADDR" default:":8080"`
	DBPath   string `envconfig:"DB_PATH" default:"timeline.sqlite3"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

func LoadServer() (*Server, error) {
	var cfg Server
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if _, err := cfg.Level(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Server) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return l, fmt.Errorf("invalid LOG_LEVEL %q: %w", s.LogLevel, err)
	}
	return l, nil
}
