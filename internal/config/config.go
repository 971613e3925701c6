// Package config reads and writes the TOML configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration.
type Config struct {
	Logging      LoggingConfig      `toml:"logging"`
	Database     DatabaseConfig     `toml:"database"`
	Watch        WatchConfig        `toml:"watch"`
	AI           AIConfig           `toml:"ai"`
	Delivery     DeliveryConfig     `toml:"delivery"`
	Sweep        SweepConfig        `toml:"sweep"`
	Git          GitConfig          `toml:"git"`
	Repositories []RepositoryConfig `toml:"repositories"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// WatchConfig extends the built-in ignore rules.
type WatchConfig struct {
	IgnoreDirs       []string `toml:"ignore_dirs"`
	IgnoreExtensions []string `toml:"ignore_extensions"`
}

// AIConfig points the delivery client at the analysis backend.
type AIConfig struct {
	BaseURL         string `toml:"base_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	MaxAttempts     int    `toml:"max_attempts"`
	BaseWaitSeconds int    `toml:"base_wait_seconds"`
	UserEmail       string `toml:"user_email"`
}

func (c AIConfig) Timeout() time.Duration  { return time.Duration(c.TimeoutSeconds) * time.Second }
func (c AIConfig) BaseWait() time.Duration { return time.Duration(c.BaseWaitSeconds) * time.Second }

type DeliveryConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

// SweepConfig drives the periodic re-delivery of pending changes.
type SweepConfig struct {
	Schedule string `toml:"schedule"` // cron spec, e.g. "@every 1m"
	Limit    int    `toml:"limit"`
}

type GitConfig struct {
	Client string `toml:"client"` // "exec" or "gogit"
	Bin    string `toml:"bin"`
}

// RepositoryConfig seeds a watched repository at startup.
type RepositoryConfig struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Path: "gentestai.db"},
		AI: AIConfig{
			BaseURL:         "http://localhost:8000",
			TimeoutSeconds:  30,
			MaxAttempts:     3,
			BaseWaitSeconds: 2,
			UserEmail:       "watcher@localhost",
		},
		Delivery: DeliveryConfig{Workers: 2, QueueSize: 256},
		Sweep:    SweepConfig{Schedule: "@every 1m", Limit: 50},
		Git:      GitConfig{Client: "exec", Bin: "git"},
	}
}

// Read decodes a Config, layering the file over the defaults.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFromFile reads a Config from path. A missing file yields the defaults.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Write encodes cfg as TOML.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// Init writes a default config file at path, refusing to overwrite.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()
	return Write(f, Default())
}

func (c *Config) validate() error {
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.AI.BaseURL == "" {
		return fmt.Errorf("ai.base_url must not be empty")
	}
	if c.AI.MaxAttempts < 1 {
		return fmt.Errorf("ai.max_attempts must be at least 1, got %d", c.AI.MaxAttempts)
	}
	if c.Delivery.Workers < 1 {
		return fmt.Errorf("delivery.workers must be at least 1, got %d", c.Delivery.Workers)
	}
	if c.Delivery.QueueSize < 1 {
		return fmt.Errorf("delivery.queue_size must be at least 1, got %d", c.Delivery.QueueSize)
	}
	switch c.Git.Client {
	case "exec", "gogit":
	default:
		return fmt.Errorf("git.client must be exec or gogit, got %q", c.Git.Client)
	}
	for i, repo := range c.Repositories {
		if repo.Path == "" {
			return fmt.Errorf("repositories[%d].path must not be empty", i)
		}
	}
	return nil
}
