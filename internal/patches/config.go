package patches

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config controls patch generation.
type Config struct {
	Cooldown    string `toml:"cooldown"`
	MaxExamples int    `toml:"max_examples"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Cooldown    string
	MaxExamples string
}

// CooldownDuration returns Cooldown as a time.Duration.
func (c *Config) CooldownDuration() time.Duration {
	d, _ := time.ParseDuration(c.Cooldown)
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
	if overlay.Cooldown != "" {
		c.Cooldown = overlay.Cooldown
	}
	if overlay.MaxExamples != 0 {
		c.MaxExamples = overlay.MaxExamples
	}
}

func (c *Config) loadDefaults() {
	if c.Cooldown == "" {
		c.Cooldown = "24h"
	}
	if c.MaxExamples <= 0 {
		c.MaxExamples = 5
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Cooldown != "" {
		if v := os.Getenv(env.Cooldown); v != "" {
			c.Cooldown = v
		}
	}
	if env.MaxExamples != "" {
		if v := os.Getenv(env.MaxExamples); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.MaxExamples = n
			}
		}
	}
}

func (c *Config) validate() error {
	if d, err := time.ParseDuration(c.Cooldown); err != nil || d < 0 {
		return fmt.Errorf("invalid cooldown: %q", c.Cooldown)
	}
	if c.MaxExamples < 1 {
		return fmt.Errorf("max_examples must be positive")
	}
	return nil
}
