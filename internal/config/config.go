// Package config loads the application configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	LongPoll LongPollConfig `yaml:"long_poll"`
	Model    ModelConfig    `yaml:"model"`
	Presence PresenceConfig `yaml:"presence"`
	Backoff  BackoffConfig  `yaml:"backoff"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// PathsConfig locates the on-disk collaborators.
type PathsConfig struct {
	// SessionsDir holds one TOML record per account session.
	SessionsDir string `yaml:"sessions_dir"`

	// DossiersDir holds one JSON record per conversation partner.
	DossiersDir string `yaml:"dossiers_dir"`

	// ReportFile is the append-only CSV audit log.
	ReportFile string `yaml:"report_file"`
}

// LongPollConfig tunes the event stream.
type LongPollConfig struct {
	// Wait is the server hold time in seconds for one poll.
	Wait int `yaml:"wait"`
}

// ModelConfig selects the completion model.
type ModelConfig struct {
	Name            string `yaml:"name"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

// PresenceConfig tunes the online-mark refresh loop.
type PresenceConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// BackoffConfig tunes retry delays across the application.
type BackoffConfig struct {
	Base time.Duration `yaml:"base"`
	Cap  time.Duration `yaml:"cap"`
}

// LoggingConfig tunes the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses the configuration file. Environment variable
// references in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Paths.SessionsDir == "" {
		cfg.Paths.SessionsDir = "sessions"
	}
	if cfg.Paths.DossiersDir == "" {
		cfg.Paths.DossiersDir = "dossiers"
	}
	if cfg.Paths.ReportFile == "" {
		cfg.Paths.ReportFile = filepath.Join("reports", "report.csv")
	}
	if cfg.LongPoll.Wait == 0 {
		cfg.LongPoll.Wait = 25
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = "gpt-4o-mini"
	}
	if cfg.Model.MaxOutputTokens == 0 {
		cfg.Model.MaxOutputTokens = 150
	}
	if cfg.Presence.Interval == 0 {
		cfg.Presence.Interval = 5 * time.Minute
	}
	if cfg.Backoff.Base == 0 {
		cfg.Backoff.Base = time.Second
	}
	if cfg.Backoff.Cap == 0 {
		cfg.Backoff.Cap = time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9090"
	}
}
