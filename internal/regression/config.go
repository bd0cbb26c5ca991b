package regression

import (
	"fmt"
	"os"
	"strconv"
)

// Config controls regression replays.
type Config struct {
	ScoreTolerance  float64 `toml:"score_tolerance"`
	ReviewThreshold float64 `toml:"review_threshold"`
	Concurrency     int     `toml:"concurrency"`
	EvalSetPrefix   string  `toml:"eval_set_prefix"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	ScoreTolerance  string
	ReviewThreshold string
	Concurrency     string
	EvalSetPrefix   string
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
	if overlay.ScoreTolerance != 0 {
		c.ScoreTolerance = overlay.ScoreTolerance
	}
	if overlay.ReviewThreshold != 0 {
		c.ReviewThreshold = overlay.ReviewThreshold
	}
	if overlay.Concurrency != 0 {
		c.Concurrency = overlay.Concurrency
	}
	if overlay.EvalSetPrefix != "" {
		c.EvalSetPrefix = overlay.EvalSetPrefix
	}
}

func (c *Config) loadDefaults() {
	if c.ScoreTolerance == 0 {
		c.ScoreTolerance = 0.01
	}
	if c.ReviewThreshold == 0 {
		c.ReviewThreshold = 0.7
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.EvalSetPrefix == "" {
		c.EvalSetPrefix = "evalsets"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.ScoreTolerance != "" {
		if v := os.Getenv(env.ScoreTolerance); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.ScoreTolerance = f
			}
		}
	}
	if env.ReviewThreshold != "" {
		if v := os.Getenv(env.ReviewThreshold); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.ReviewThreshold = f
			}
		}
	}
	if env.Concurrency != "" {
		if v := os.Getenv(env.Concurrency); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.Concurrency = n
			}
		}
	}
	if env.EvalSetPrefix != "" {
		if v := os.Getenv(env.EvalSetPrefix); v != "" {
			c.EvalSetPrefix = v
		}
	}
}

func (c *Config) validate() error {
	if c.ScoreTolerance < 0 {
		return fmt.Errorf("score_tolerance must not be negative")
	}
	if c.ReviewThreshold < 0 || c.ReviewThreshold > 1 {
		return fmt.Errorf("review_threshold must be within [0,1]")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive")
	}
	return nil
}
