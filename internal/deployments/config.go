package deployments

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the canary policy. A canary breaches when, with at least
// MinSamples signals observed since it started, its error rate exceeds the
// baseline's by more than MaxDelta or reaches MaxErrorRate outright.
type Config struct {
	Window           string  `toml:"window"`
	Tick             string  `toml:"tick"`
	MinSamples       int     `toml:"min_samples"`
	MaxDelta         float64 `toml:"max_delta"`
	MaxErrorRate     float64 `toml:"max_error_rate"`
	DefaultFraction  float64 `toml:"default_fraction"`
	RollbackAttempts int     `toml:"rollback_attempts"`
	RollbackBackoff  string  `toml:"rollback_backoff"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Window           string
	Tick             string
	MinSamples       string
	MaxDelta         string
	MaxErrorRate     string
	DefaultFraction  string
	RollbackAttempts string
	RollbackBackoff  string
}

// WindowDuration returns Window as a time.Duration.
func (c *Config) WindowDuration() time.Duration {
	d, _ := time.ParseDuration(c.Window)
	return d
}

// TickDuration returns Tick as a time.Duration.
func (c *Config) TickDuration() time.Duration {
	d, _ := time.ParseDuration(c.Tick)
	return d
}

// RollbackBackoffDuration returns RollbackBackoff as a time.Duration.
func (c *Config) RollbackBackoffDuration() time.Duration {
	d, _ := time.ParseDuration(c.RollbackBackoff)
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
	if overlay.Window != "" {
		c.Window = overlay.Window
	}
	if overlay.Tick != "" {
		c.Tick = overlay.Tick
	}
	if overlay.MinSamples != 0 {
		c.MinSamples = overlay.MinSamples
	}
	if overlay.MaxDelta != 0 {
		c.MaxDelta = overlay.MaxDelta
	}
	if overlay.MaxErrorRate != 0 {
		c.MaxErrorRate = overlay.MaxErrorRate
	}
	if overlay.DefaultFraction != 0 {
		c.DefaultFraction = overlay.DefaultFraction
	}
	if overlay.RollbackAttempts != 0 {
		c.RollbackAttempts = overlay.RollbackAttempts
	}
	if overlay.RollbackBackoff != "" {
		c.RollbackBackoff = overlay.RollbackBackoff
	}
}

func (c *Config) loadDefaults() {
	if c.Window == "" {
		c.Window = "10m"
	}
	if c.Tick == "" {
		c.Tick = "5s"
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 50
	}
	if c.MaxDelta == 0 {
		c.MaxDelta = 0.05
	}
	if c.MaxErrorRate == 0 {
		c.MaxErrorRate = 0.25
	}
	if c.DefaultFraction == 0 {
		c.DefaultFraction = 0.1
	}
	if c.RollbackAttempts <= 0 {
		c.RollbackAttempts = 5
	}
	if c.RollbackBackoff == "" {
		c.RollbackBackoff = "200ms"
	}
}

func (c *Config) loadEnv(env *Env) {
	str := map[string]*string{
		env.Window:          &c.Window,
		env.Tick:            &c.Tick,
		env.RollbackBackoff: &c.RollbackBackoff,
	}
	for name, dst := range str {
		if name == "" {
			continue
		}
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		env.MinSamples:       &c.MinSamples,
		env.RollbackAttempts: &c.RollbackAttempts,
	}
	for name, dst := range ints {
		if name == "" {
			continue
		}
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	floats := map[string]*float64{
		env.MaxDelta:        &c.MaxDelta,
		env.MaxErrorRate:    &c.MaxErrorRate,
		env.DefaultFraction: &c.DefaultFraction,
	}
	for name, dst := range floats {
		if name == "" {
			continue
		}
		if v := os.Getenv(name); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
}

func (c *Config) validate() error {
	window, err := time.ParseDuration(c.Window)
	if err != nil || window <= 0 {
		return fmt.Errorf("invalid window: %q", c.Window)
	}
	tick, err := time.ParseDuration(c.Tick)
	if err != nil || tick <= 0 || tick > window {
		return fmt.Errorf("invalid tick: %q", c.Tick)
	}
	if d, err := time.ParseDuration(c.RollbackBackoff); err != nil || d < 0 {
		return fmt.Errorf("invalid rollback_backoff: %q", c.RollbackBackoff)
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("min_samples must be positive")
	}
	if c.MaxDelta <= 0 || c.MaxErrorRate <= 0 || c.MaxErrorRate > 1 {
		return fmt.Errorf("max_delta and max_error_rate must be within (0,1]")
	}
	if c.DefaultFraction <= 0 || c.DefaultFraction > 1 {
		return fmt.Errorf("default_fraction must be within (0,1]")
	}
	if c.RollbackAttempts < 1 {
		return fmt.Errorf("rollback_attempts must be positive")
	}
	return nil
}
