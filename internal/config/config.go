// Package config holds the process configuration. It is constructed once in
// main and passed by reference into the worker loop, rate limiter and
// scheduler; there is no process-wide singleton.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"contentflow/internal/domain"
)

// PlatformLimits are the rate ceilings for one platform.
type PlatformLimits struct {
	MaxPerHour  int           `yaml:"max_per_hour"`
	MaxPerDay   int           `yaml:"max_per_day"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// RetryConfig selects the backoff policy applied to retryable failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Exponential bool          `yaml:"exponential"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type Config struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	RetryPollInterval time.Duration `yaml:"retry_poll_interval"`
	MaxConcurrent     int           `yaml:"max_concurrent"`
	TaskTimeout       time.Duration `yaml:"task_timeout"`

	// BufferMinutes is the minimum spacing between same customer/platform
	// tasks enforced at scheduling time.
	BufferMinutes int           `yaml:"buffer_minutes"`
	SlotStep      time.Duration `yaml:"slot_step"`

	Retry RetryConfig `yaml:"retry"`

	Platforms map[domain.Platform]PlatformLimits `yaml:"platforms"`

	// Handlers maps entity types to webhook endpoints.
	Handlers map[domain.EntityType]string `yaml:"handlers"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		PollInterval:      10 * time.Second,
		RetryPollInterval: 30 * time.Second,
		MaxConcurrent:     8,
		TaskTimeout:       60 * time.Second,
		BufferMinutes:     15,
		SlotStep:          15 * time.Minute,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   15 * time.Minute,
			Exponential: false,
			MaxDelay:    4 * time.Hour,
		},
		Platforms: map[domain.Platform]PlatformLimits{
			domain.PlatformReddit:   {MaxPerHour: 5, MaxPerDay: 20, MinInterval: 10 * time.Minute},
			domain.PlatformQuora:    {MaxPerHour: 3, MaxPerDay: 10, MinInterval: 15 * time.Minute},
			domain.PlatformForum:    {MaxPerHour: 10, MaxPerDay: 50, MinInterval: 5 * time.Minute},
			domain.PlatformLinkedIn: {MaxPerHour: 2, MaxPerDay: 5, MinInterval: 30 * time.Minute},
		},
		Handlers: map[domain.EntityType]string{},
	}
}

// Load reads a YAML file over the defaults. A missing path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.RetryPollInterval <= 0 {
		return fmt.Errorf("retry_poll_interval must be positive")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout must be positive")
	}
	if c.BufferMinutes < 0 {
		return fmt.Errorf("buffer_minutes must not be negative")
	}
	if c.SlotStep <= 0 {
		return fmt.Errorf("slot_step must be positive")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative")
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be positive")
	}
	for p, lim := range c.Platforms {
		if !p.Valid() {
			return fmt.Errorf("unknown platform %q", p)
		}
		if lim.MaxPerHour <= 0 || lim.MaxPerDay <= 0 {
			return fmt.Errorf("platform %s: ceilings must be positive", p)
		}
		if lim.MaxPerDay < lim.MaxPerHour {
			return fmt.Errorf("platform %s: max_per_day below max_per_hour", p)
		}
	}
	return nil
}

// Buffer returns the scheduling buffer as a duration.
func (c *Config) Buffer() time.Duration {
	return time.Duration(c.BufferMinutes) * time.Minute
}
