package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Positive(t, cfg.EffectiveWorkers())
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.FailureWindow)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	data := []byte("workers: 2\nframe_interval: 33ms\nlog_level: debug\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 33*time.Millisecond, cfg.FrameInterval)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Untouched knobs keep their defaults.
	assert.Equal(t, Default().BackgroundSlots, cfg.BackgroundSlots)
	assert.Equal(t, Default().FailureThreshold, cfg.FailureThreshold)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("background_slots: 0\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"zero background slots", func(c *Config) { c.BackgroundSlots = 0 }},
		{"zero frame interval", func(c *Config) { c.FrameInterval = 0 }},
		{"zero failure threshold", func(c *Config) { c.FailureThreshold = 0 }},
		{"zero failure window", func(c *Config) { c.FailureWindow = 0 }},
		{"negative lock timeout", func(c *Config) { c.LockTimeout = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEffectiveWorkersAuto(t *testing.T) {
	cfg := Default()
	cfg.Workers = 0
	assert.Positive(t, cfg.EffectiveWorkers())

	cfg.Workers = 6
	assert.Equal(t, 6, cfg.EffectiveWorkers())
}
