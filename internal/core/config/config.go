package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime tuning knobs for the simulation core.
type Config struct {
	// Workers is the size of the shared thread-pool used for pool and hybrid
	// system updates. Zero means GOMAXPROCS.
	Workers int `yaml:"workers"`

	// BackgroundSlots bounds how many background systems may run at once.
	// A background update is skipped, not queued, when all slots are busy.
	BackgroundSlots int `yaml:"background_slots"`

	// FrameInterval is the target duration of one simulation frame.
	FrameInterval time.Duration `yaml:"frame_interval"`

	// FailureThreshold is the number of failed updates within FailureWindow
	// after which a system is auto-disabled.
	FailureThreshold int           `yaml:"failure_threshold"`
	FailureWindow    time.Duration `yaml:"failure_window"`

	// LockTimeout is the default bound for try-variant component lock
	// acquisition. Blocking acquisition ignores it.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// StrictChecks makes internal invariant violations fatal instead of
	// logged no-ops.
	StrictChecks bool `yaml:"strict_checks"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Workers:          runtime.GOMAXPROCS(0),
		BackgroundSlots:  2,
		FrameInterval:    16670 * time.Microsecond,
		FailureThreshold: 5,
		FailureWindow:    30 * time.Second,
		LockTimeout:      100 * time.Millisecond,
		StrictChecks:     false,
		LogLevel:         "info",
	}
}

// Load reads a YAML config file and merges it over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// UnmarshalYAML decodes the file form of the config. Durations are written as
// strings ("16.67ms", "30s"); absent keys keep whatever value the target
// already holds, which is how Load layers a file over the defaults.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig struct {
		Workers          *int    `yaml:"workers"`
		BackgroundSlots  *int    `yaml:"background_slots"`
		FrameInterval    *string `yaml:"frame_interval"`
		FailureThreshold *int    `yaml:"failure_threshold"`
		FailureWindow    *string `yaml:"failure_window"`
		LockTimeout      *string `yaml:"lock_timeout"`
		StrictChecks     *bool   `yaml:"strict_checks"`
		LogLevel         *string `yaml:"log_level"`
	}

	var raw rawConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if raw.Workers != nil {
		c.Workers = *raw.Workers
	}
	if raw.BackgroundSlots != nil {
		c.BackgroundSlots = *raw.BackgroundSlots
	}
	if raw.FailureThreshold != nil {
		c.FailureThreshold = *raw.FailureThreshold
	}
	if raw.StrictChecks != nil {
		c.StrictChecks = *raw.StrictChecks
	}
	if raw.LogLevel != nil {
		c.LogLevel = *raw.LogLevel
	}
	if err := setDuration(&c.FrameInterval, raw.FrameInterval, "frame_interval"); err != nil {
		return err
	}
	if err := setDuration(&c.FailureWindow, raw.FailureWindow, "failure_window"); err != nil {
		return err
	}
	return setDuration(&c.LockTimeout, raw.LockTimeout, "lock_timeout")
}

func setDuration(dst *time.Duration, src *string, name string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}

// Validate checks the configuration for values the runtime cannot operate with.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.BackgroundSlots < 1 {
		return fmt.Errorf("background_slots must be >= 1, got %d", c.BackgroundSlots)
	}
	if c.FrameInterval <= 0 {
		return fmt.Errorf("frame_interval must be positive, got %s", c.FrameInterval)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.FailureWindow <= 0 {
		return fmt.Errorf("failure_window must be positive, got %s", c.FailureWindow)
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("lock_timeout must be >= 0, got %s", c.LockTimeout)
	}
	return nil
}

// EffectiveWorkers resolves the zero-means-auto worker count.
func (c *Config) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	return workers
}
