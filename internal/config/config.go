// Package config loads cortex settings from CORTEX_* environment variables.
package config

import (
	"fmt"
	"strconv"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name.
const Prefix = "cortex"

// Config holds all process-wide cortex configuration.
type Config struct {
	Log LogConfig `envconfig:"LOG"`
	IPC IPCConfig `envconfig:"IPC"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"warn"`
	Development bool   `envconfig:"DEV" default:"false"`
}

// IPCConfig holds creation permissions, as octal strings.
type IPCConfig struct {
	SegmentMode   string `envconfig:"SEGMENT_MODE" default:"0666"`
	SemaphoreMode string `envconfig:"SEMAPHORE_MODE" default:"0600"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := Verify(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "warn",
			Development: false,
		},
		IPC: IPCConfig{
			SegmentMode:   "0666",
			SemaphoreMode: "0600",
		},
	}
}

// Verify rejects permission strings that are not octal or exceed 0777.
func Verify(cfg *Config) error {
	if _, err := ParseMode(cfg.IPC.SegmentMode); err != nil {
		return fmt.Errorf("segment mode: %w", err)
	}
	if _, err := ParseMode(cfg.IPC.SemaphoreMode); err != nil {
		return fmt.Errorf("semaphore mode: %w", err)
	}
	return nil
}

// SegmentPerm returns the segment creation permission bits.
func (c *Config) SegmentPerm() uint32 {
	m, _ := ParseMode(c.IPC.SegmentMode)
	return m
}

// SemaphorePerm returns the semaphore creation permission bits.
func (c *Config) SemaphorePerm() uint32 {
	m, _ := ParseMode(c.IPC.SemaphoreMode)
	return m
}

// ParseMode parses an octal permission string such as "0660".
func ParseMode(s string) (uint32, error) {
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", s, err)
	}
	if m > 0o777 {
		return 0, fmt.Errorf("invalid mode %q: only permission bits are allowed", s)
	}
	return uint32(m), nil
}
