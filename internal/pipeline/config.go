package pipeline

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config controls the background rule-upgrade loop.
type Config struct {
	Enabled        bool    `toml:"enabled"`
	Interval       string  `toml:"interval"`
	Window         string  `toml:"window"`
	EvalSet        string  `toml:"eval_set"`
	AutoCanary     bool    `toml:"auto_canary"`
	CanaryFraction float64 `toml:"canary_fraction"`
}

// Env maps config fields to environment variable names.
type Env struct {
	Enabled        string
	Interval       string
	Window         string
	EvalSet        string
	AutoCanary     string
	CanaryFraction string
}

func (c *Config) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	return d
}

func (c *Config) WindowDuration() time.Duration {
	d, _ := time.ParseDuration(c.Window)
	return d
}

func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay. Booleans are taken from the
// overlay only when set to true.
func (c *Config) Merge(overlay *Config) {
	if overlay.Enabled {
		c.Enabled = true
	}
	if overlay.Interval != "" {
		c.Interval = overlay.Interval
	}
	if overlay.Window != "" {
		c.Window = overlay.Window
	}
	if overlay.EvalSet != "" {
		c.EvalSet = overlay.EvalSet
	}
	if overlay.AutoCanary {
		c.AutoCanary = true
	}
	if overlay.CanaryFraction != 0 {
		c.CanaryFraction = overlay.CanaryFraction
	}
}

func (c *Config) loadDefaults() {
	if c.Interval == "" {
		c.Interval = "1h"
	}
	if c.Window == "" {
		c.Window = "168h"
	}
	if c.EvalSet == "" {
		c.EvalSet = "default"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Enabled != "" {
		if v := os.Getenv(env.Enabled); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				c.Enabled = b
			}
		}
	}
	if env.Interval != "" {
		if v := os.Getenv(env.Interval); v != "" {
			c.Interval = v
		}
	}
	if env.Window != "" {
		if v := os.Getenv(env.Window); v != "" {
			c.Window = v
		}
	}
	if env.EvalSet != "" {
		if v := os.Getenv(env.EvalSet); v != "" {
			c.EvalSet = v
		}
	}
	if env.AutoCanary != "" {
		if v := os.Getenv(env.AutoCanary); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				c.AutoCanary = b
			}
		}
	}
	if env.CanaryFraction != "" {
		if v := os.Getenv(env.CanaryFraction); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.CanaryFraction = f
			}
		}
	}
}

func (c *Config) validate() error {
	if d, err := time.ParseDuration(c.Interval); err != nil || d <= 0 {
		return fmt.Errorf("invalid interval: %q", c.Interval)
	}
	if d, err := time.ParseDuration(c.Window); err != nil || d <= 0 {
		return fmt.Errorf("invalid window: %q", c.Window)
	}
	if c.CanaryFraction < 0 || c.CanaryFraction > 1 {
		return fmt.Errorf("canary_fraction must be within [0,1], got %v", c.CanaryFraction)
	}
	return nil
}
