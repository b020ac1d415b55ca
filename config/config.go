package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/qprotocol/qmem/retention"
)

// Config holds the tunable knobs of a store instance.
type Config struct {
	// Directory is where container files ("<trace_id>.qmem") live.
	Directory string `yaml:"directory"`
	// RetainCount bounds the snapshot log; zero means the default policy.
	RetainCount int `yaml:"retain_count"`
	// Compression snappy-compresses persisted containers.
	Compression bool `yaml:"compression"`
	// FileLock serializes cooperating writers via flock.
	FileLock bool `yaml:"file_lock"`
	// RespectFailures treats a prior failure receipt as cached.
	RespectFailures bool `yaml:"respect_failures"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFormat is json or text.
	LogFormat string `yaml:"log_format"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Directory:   ".",
		RetainCount: retention.DefaultRetainCount,
		LogLevel:    "info",
		LogFormat:   "json",
	}
}

// Load reads and validates a YAML configuration file. Unset fields keep
// their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if c.Directory == "" {
		return fmt.Errorf("directory must not be empty")
	}
	if c.RetainCount < 0 {
		return fmt.Errorf("retain_count must be non-negative, got %d", c.RetainCount)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}
