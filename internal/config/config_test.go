package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentflow/internal/domain"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 8, cfg.MaxConcurrent)
	assert.Equal(t, 15, cfg.BufferMinutes)
	assert.Equal(t, 15*time.Minute, cfg.Buffer())
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Len(t, cfg.Platforms, 4)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
poll_interval: 5s
max_concurrent: 2
buffer_minutes: 30
retry:
  max_attempts: 5
  base_delay: 1m
  exponential: true
  max_delay: 1h
platforms:
  reddit:
    max_per_hour: 2
    max_per_day: 8
    min_interval: 20m
handlers:
  reddit_post: http://localhost:9000/publish
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 2, cfg.MaxConcurrent)
	assert.Equal(t, 30, cfg.BufferMinutes)
	assert.Equal(t, RetryConfig{MaxAttempts: 5, BaseDelay: time.Minute, Exponential: true, MaxDelay: time.Hour}, cfg.Retry)
	assert.Equal(t, PlatformLimits{MaxPerHour: 2, MaxPerDay: 8, MinInterval: 20 * time.Minute}, cfg.Platforms[domain.PlatformReddit])
	// Untouched platforms keep their defaults.
	assert.Equal(t, Default().Platforms[domain.PlatformQuora], cfg.Platforms[domain.PlatformQuora])
	assert.Equal(t, "http://localhost:9000/publish", cfg.Handlers[domain.EntityRedditPost])

	// Values the file does not mention stay at defaults.
	assert.Equal(t, 30*time.Second, cfg.RetryPollInterval)
	assert.Equal(t, 60*time.Second, cfg.TaskTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"zero poll interval", "poll_interval: 0s"},
		{"negative concurrency", "max_concurrent: -1"},
		{"negative buffer", "buffer_minutes: -5"},
		{"zero slot step", "slot_step: 0s"},
		{"unknown platform", "platforms:\n  myspace:\n    max_per_hour: 1\n    max_per_day: 2"},
		{"daily below hourly", "platforms:\n  reddit:\n    max_per_hour: 10\n    max_per_day: 5"},
		{"zero base delay", "retry:\n  max_attempts: 3\n  base_delay: 0s"},
		{"bad yaml", "platforms: [not a map"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.raw), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
