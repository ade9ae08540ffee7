package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultTypingTimeout is the typing inactivity window used when the config
// does not override it.
const DefaultTypingTimeout = 1500 * time.Millisecond

// Config represents the global ~/.pairtalk/config.toml.
type Config struct {
	DefaultSession  string `toml:"default_session"`
	DBPath          string `toml:"db_path"`
	TypingTimeoutMS int    `toml:"typing_timeout_ms"`
}

// TypingTimeout returns the configured typing inactivity window.
func (c *Config) TypingTimeout() time.Duration {
	if c == nil || c.TypingTimeoutMS <= 0 {
		return DefaultTypingTimeout
	}
	return time.Duration(c.TypingTimeoutMS) * time.Millisecond
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
