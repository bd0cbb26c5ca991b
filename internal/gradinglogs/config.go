package gradinglogs

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config controls the journal's local queue and retry schedule.
type Config struct {
	RetryInitial string `toml:"retry_initial"`
	RetryMax     string `toml:"retry_max"`
	MaxPending   int    `toml:"max_pending"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	RetryInitial string
	RetryMax     string
	MaxPending   string
}

// RetryInitialDuration returns RetryInitial as a time.Duration.
func (c *Config) RetryInitialDuration() time.Duration {
	d, _ := time.ParseDuration(c.RetryInitial)
	return d
}

// RetryMaxDuration returns RetryMax as a time.Duration.
func (c *Config) RetryMaxDuration() time.Duration {
	d, _ := time.ParseDuration(c.RetryMax)
	return d
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
	if overlay.RetryInitial != "" {
		c.RetryInitial = overlay.RetryInitial
	}
	if overlay.RetryMax != "" {
		c.RetryMax = overlay.RetryMax
	}
	if overlay.MaxPending != 0 {
		c.MaxPending = overlay.MaxPending
	}
}

func (c *Config) loadDefaults() {
	if c.RetryInitial == "" {
		c.RetryInitial = "500ms"
	}
	if c.RetryMax == "" {
		c.RetryMax = "30s"
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 10000
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.RetryInitial != "" {
		if v := os.Getenv(env.RetryInitial); v != "" {
			c.RetryInitial = v
		}
	}
	if env.RetryMax != "" {
		if v := os.Getenv(env.RetryMax); v != "" {
			c.RetryMax = v
		}
	}
	if env.MaxPending != "" {
		if v := os.Getenv(env.MaxPending); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.MaxPending = n
			}
		}
	}
}

func (c *Config) validate() error {
	initial, err := time.ParseDuration(c.RetryInitial)
	if err != nil || initial <= 0 {
		return fmt.Errorf("invalid retry_initial: %q", c.RetryInitial)
	}
	limit, err := time.ParseDuration(c.RetryMax)
	if err != nil || limit < initial {
		return fmt.Errorf("invalid retry_max: %q", c.RetryMax)
	}
	if c.MaxPending < 1 {
		return fmt.Errorf("max_pending must be positive")
	}
	return nil
}
