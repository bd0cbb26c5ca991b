package mining

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the mining thresholds.
type Config struct {
	MinWindowRecords    int `toml:"min_window_records"`
	MinPatternFrequency int `toml:"min_pattern_frequency"`
	MaxSamples          int `toml:"max_samples"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	MinWindowRecords    string
	MinPatternFrequency string
	MaxSamples          string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.MinWindowRecords != 0 {
		c.MinWindowRecords = overlay.MinWindowRecords
	}
	if overlay.MinPatternFrequency != 0 {
		c.MinPatternFrequency = overlay.MinPatternFrequency
	}
	if overlay.MaxSamples != 0 {
		c.MaxSamples = overlay.MaxSamples
	}
}

func (c *Config) loadDefaults() {
	if c.MinWindowRecords <= 0 {
		c.MinWindowRecords = 100
	}
	if c.MinPatternFrequency <= 0 {
		c.MinPatternFrequency = 10
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = 20
	}
}

func (c *Config) loadEnv(env *Env) {
	for name, dst := range map[string]*int{
		env.MinWindowRecords:    &c.MinWindowRecords,
		env.MinPatternFrequency: &c.MinPatternFrequency,
		env.MaxSamples:          &c.MaxSamples,
	} {
		if name == "" {
			continue
		}
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
}

func (c *Config) validate() error {
	if c.MinWindowRecords < 1 {
		return fmt.Errorf("min_window_records must be positive")
	}
	if c.MinPatternFrequency < 1 {
		return fmt.Errorf("min_pattern_frequency must be positive")
	}
	if c.MaxSamples < 1 {
		return fmt.Errorf("max_samples must be positive")
	}
	return nil
}
