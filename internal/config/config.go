// Package config loads and validates olekit's configuration. Everything
// has a working default; a config file only overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Limits  LimitsConfig  `yaml:"limits"`
	Extract ExtractConfig `yaml:"extract"`
	Log     LogConfig     `yaml:"log"`
	Workers int           `yaml:"workers"`
}

// LimitsConfig bounds parser work on hostile inputs.
type LimitsConfig struct {
	// MaxInputBytes caps the size of a file read into memory. 0 means
	// no cap.
	MaxInputBytes int64 `yaml:"max_input_bytes"`
	// MaxDirEntries caps directory entries parsed per container.
	MaxDirEntries int `yaml:"max_dir_entries"`
	// MaxChainLength caps sector chain walks. 0 leaves only cycle
	// detection in force.
	MaxChainLength int `yaml:"max_chain_length"`
}

// ExtractConfig controls embedded object extraction.
type ExtractConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // empty logs to stderr
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxInputBytes: 1 << 30, // 1 GiB
			MaxDirEntries: 1 << 16,
		},
		Extract: ExtractConfig{
			OutputDir: "extracted",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Workers: 4,
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(fs afero.Fs, path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Limits.MaxInputBytes < 0 {
		return fmt.Errorf("limits.max_input_bytes must not be negative, got %d", c.Limits.MaxInputBytes)
	}
	if c.Limits.MaxDirEntries < 1 {
		return fmt.Errorf("limits.max_dir_entries must be at least 1, got %d", c.Limits.MaxDirEntries)
	}
	if c.Limits.MaxChainLength < 0 {
		return fmt.Errorf("limits.max_chain_length must not be negative, got %d", c.Limits.MaxChainLength)
	}
	if c.Extract.OutputDir == "" {
		return fmt.Errorf("extract.output_dir must not be empty")
	}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	return nil
}
