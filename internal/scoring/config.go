package scoring

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config points the scorer at the remote scoring capability.
type Config struct {
	Endpoint     string  `toml:"endpoint"`
	APIKey       string  `toml:"api_key"`
	Timeout      string  `toml:"timeout"`
	RateLimit    float64 `toml:"rate_limit"`
	RateBurst    int     `toml:"rate_burst"`
	MaxBodyBytes int64   `toml:"max_body_bytes"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Endpoint     string
	APIKey       string
	Timeout      string
	RateLimit    string
	RateBurst    string
	MaxBodyBytes string
}

func (c *Config) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
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
	if overlay.Endpoint != "" {
		c.Endpoint = overlay.Endpoint
	}
	if overlay.APIKey != "" {
		c.APIKey = overlay.APIKey
	}
	if overlay.Timeout != "" {
		c.Timeout = overlay.Timeout
	}
	if overlay.RateLimit != 0 {
		c.RateLimit = overlay.RateLimit
	}
	if overlay.RateBurst != 0 {
		c.RateBurst = overlay.RateBurst
	}
	if overlay.MaxBodyBytes != 0 {
		c.MaxBodyBytes = overlay.MaxBodyBytes
	}
}

func (c *Config) loadDefaults() {
	if c.Timeout == "" {
		c.Timeout = "45s"
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 10
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Endpoint != "" {
		if v := os.Getenv(env.Endpoint); v != "" {
			c.Endpoint = v
		}
	}
	if env.APIKey != "" {
		if v := os.Getenv(env.APIKey); v != "" {
			c.APIKey = v
		}
	}
	if env.Timeout != "" {
		if v := os.Getenv(env.Timeout); v != "" {
			c.Timeout = v
		}
	}
	if env.RateLimit != "" {
		if v := os.Getenv(env.RateLimit); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.RateLimit = f
			}
		}
	}
	if env.RateBurst != "" {
		if v := os.Getenv(env.RateBurst); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.RateBurst = n
			}
		}
	}
	if env.MaxBodyBytes != "" {
		if v := os.Getenv(env.MaxBodyBytes); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				c.MaxBodyBytes = n
			}
		}
	}
}

func (c *Config) validate() error {
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid scoring endpoint: %q", c.Endpoint)
		}
	}
	if d, err := time.ParseDuration(c.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("invalid timeout: %q", c.Timeout)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must be non-negative, got %v", c.RateLimit)
	}
	return nil
}
