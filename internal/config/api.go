package config

import (
	"fmt"
	"os"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/auth"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/formatting"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/pagination"
)

const defaultMaxBodySize = 64 * 1024 * 1024

var paginationEnv = &pagination.ConfigEnv{
	DefaultPageSize: "GRADEOS_PAGINATION_DEFAULT_PAGE_SIZE",
	MaxPageSize:     "GRADEOS_PAGINATION_MAX_PAGE_SIZE",
}

var authEnv = &auth.Env{
	Enabled:    "GRADEOS_AUTH_ENABLED",
	IssuerURL:  "GRADEOS_AUTH_ISSUER_URL",
	ClientID:   "GRADEOS_AUTH_CLIENT_ID",
	ActorClaim: "GRADEOS_AUTH_ACTOR_CLAIM",
}

// APIConfig holds API routing, request limits, pagination, and the
// authentication applied to mutating operator routes.
type APIConfig struct {
	BasePath    string            `toml:"base_path"`
	MaxBodySize string            `toml:"max_body_size"`
	Pagination  pagination.Config `toml:"pagination"`
	Auth        auth.Config       `toml:"auth"`
}

// MaxBodySizeBytes returns MaxBodySize in bytes, falling back to 64MB when
// the value does not parse.
func (c *APIConfig) MaxBodySizeBytes() int64 {
	size, err := formatting.ParseBytes(c.MaxBodySize)
	if err != nil {
		return defaultMaxBodySize
	}
	return size
}

// Finalize applies defaults, environment variable overrides, and validation
// for the API config and its nested pagination and auth configs.
func (c *APIConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.Pagination.Finalize(paginationEnv); err != nil {
		return fmt.Errorf("pagination: %w", err)
	}
	if err := c.Auth.Finalize(authEnv); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay across nested configs.
func (c *APIConfig) Merge(overlay *APIConfig) {
	if overlay.BasePath != "" {
		c.BasePath = overlay.BasePath
	}
	if overlay.MaxBodySize != "" {
		c.MaxBodySize = overlay.MaxBodySize
	}
	c.Pagination.Merge(&overlay.Pagination)
	c.Auth.Merge(&overlay.Auth)
}

func (c *APIConfig) loadDefaults() {
	if c.BasePath == "" {
		c.BasePath = "/api"
	}
	if c.MaxBodySize == "" {
		c.MaxBodySize = "64MB"
	}
}

func (c *APIConfig) loadEnv() {
	if v := os.Getenv("GRADEOS_API_BASE_PATH"); v != "" {
		c.BasePath = v
	}
	if v := os.Getenv("GRADEOS_API_MAX_BODY_SIZE"); v != "" {
		c.MaxBodySize = v
	}
}
