package grading

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config controls batch sizing, fan-out bounds, and scoring call limits.
type Config struct {
	BatchSize            int     `toml:"batch_size"`
	MaxConcurrentBatches int     `toml:"max_concurrent_batches"`
	PageTimeout          string  `toml:"page_timeout"`
	RateLimit            float64 `toml:"rate_limit"`
	RateBurst            int     `toml:"rate_burst"`
	ReviewThreshold      float64 `toml:"review_threshold"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	BatchSize            string
	MaxConcurrentBatches string
	PageTimeout          string
	RateLimit            string
	RateBurst            string
	ReviewThreshold      string
}

// PageTimeoutDuration returns PageTimeout as a time.Duration.
func (c *Config) PageTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.PageTimeout)
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
	if overlay.BatchSize != 0 {
		c.BatchSize = overlay.BatchSize
	}
	if overlay.MaxConcurrentBatches != 0 {
		c.MaxConcurrentBatches = overlay.MaxConcurrentBatches
	}
	if overlay.PageTimeout != "" {
		c.PageTimeout = overlay.PageTimeout
	}
	if overlay.RateLimit != 0 {
		c.RateLimit = overlay.RateLimit
	}
	if overlay.RateBurst != 0 {
		c.RateBurst = overlay.RateBurst
	}
	if overlay.ReviewThreshold != 0 {
		c.ReviewThreshold = overlay.ReviewThreshold
	}
}

func (c *Config) loadDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = MaxBatchSize
	}
	if c.MaxConcurrentBatches <= 0 {
		c.MaxConcurrentBatches = 1
	}
	if c.PageTimeout == "" {
		c.PageTimeout = "60s"
	}
	if c.RateBurst <= 0 {
		c.RateBurst = MaxBatchSize
	}
	if c.ReviewThreshold == 0 {
		c.ReviewThreshold = 0.7
	}
}

func (c *Config) loadEnv(env *Env) {
	atoi := func(name string, dst *int) {
		if name == "" {
			return
		}
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	atof := func(name string, dst *float64) {
		if name == "" {
			return
		}
		if v := os.Getenv(name); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	atoi(env.BatchSize, &c.BatchSize)
	atoi(env.MaxConcurrentBatches, &c.MaxConcurrentBatches)
	atoi(env.RateBurst, &c.RateBurst)
	atof(env.RateLimit, &c.RateLimit)
	atof(env.ReviewThreshold, &c.ReviewThreshold)
	if env.PageTimeout != "" {
		if v := os.Getenv(env.PageTimeout); v != "" {
			c.PageTimeout = v
		}
	}
}

func (c *Config) validate() error {
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch_size must be between 1 and %d", MaxBatchSize)
	}
	if c.MaxConcurrentBatches < 1 {
		return fmt.Errorf("max_concurrent_batches must be positive")
	}
	if d, err := time.ParseDuration(c.PageTimeout); err != nil || d <= 0 {
		return fmt.Errorf("invalid page_timeout: %q", c.PageTimeout)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be at least 1 when rate_limit is set")
	}
	if c.ReviewThreshold < 0 || c.ReviewThreshold > 1 {
		return fmt.Errorf("review_threshold must be within [0, 1]")
	}
	return nil
}
