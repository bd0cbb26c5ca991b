// Package config loads the service configuration from config.toml, an
// optional per-environment overlay, and GRADEOS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/database"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvGradeOSEnv             = "GRADEOS_ENV"
	EnvGradeOSStore           = "GRADEOS_STORE"
	EnvGradeOSLogLevel        = "GRADEOS_LOG_LEVEL"
	EnvGradeOSLogFormat       = "GRADEOS_LOG_FORMAT"
	EnvGradeOSShutdownTimeout = "GRADEOS_SHUTDOWN_TIMEOUT"
	EnvGradeOSVersion         = "GRADEOS_VERSION"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

var databaseEnv = &database.Env{
	Host:            "GRADEOS_DB_HOST",
	Port:            "GRADEOS_DB_PORT",
	Name:            "GRADEOS_DB_NAME",
	User:            "GRADEOS_DB_USER",
	Password:        "GRADEOS_DB_PASSWORD",
	SSLMode:         "GRADEOS_DB_SSL_MODE",
	MaxOpenConns:    "GRADEOS_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "GRADEOS_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "GRADEOS_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "GRADEOS_DB_CONN_TIMEOUT",
	AutoMigrate:     "GRADEOS_DB_AUTO_MIGRATE",
}

var storageEnv = &storage.Env{
	Provider:         "GRADEOS_STORAGE_PROVIDER",
	ContainerName:    "GRADEOS_STORAGE_CONTAINER_NAME",
	ConnectionString: "GRADEOS_STORAGE_CONNECTION_STRING",
	ServiceURL:       "GRADEOS_STORAGE_SERVICE_URL",
}

// Config is the root of config.toml.
type Config struct {
	Server          ServerConfig    `toml:"server"`
	Database        database.Config `toml:"database"`
	Storage         storage.Config  `toml:"storage"`
	API             APIConfig       `toml:"api"`
	Domain          DomainConfig    `toml:"domain"`
	Store           string          `toml:"store"`
	LogLevel        string          `toml:"log_level"`
	LogFormat       string          `toml:"log_format"`
	ShutdownTimeout string          `toml:"shutdown_timeout"`
	Version         string          `toml:"version"`
}

// Load layers config.toml, then config.<GRADEOS_ENV>.toml, then GRADEOS_*
// variables over built-in defaults. Both files are optional, but keys that
// match no field are rejected so typos fail startup.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := decodeFile(BaseConfigFile, cfg); err != nil {
		return nil, err
	}

	if env := os.Getenv(EnvGradeOSEnv); env != "" {
		overlay := &Config{}
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if err := decodeFile(path, overlay); err != nil {
			return nil, err
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}
	return cfg, nil
}

// decodeFile leaves dst untouched when path does not exist.
func decodeFile(path string, dst *Config) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f).DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("parse %s: unknown keys:\n%s", path, strict.String())
		}
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Env is the GRADEOS_ENV value, or "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvGradeOSEnv); env != "" {
		return env
	}
	return "local"
}

// Persistent reports whether domain state lives in PostgreSQL.
func (c *Config) Persistent() bool {
	return c.Store == StorePostgres
}

func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Level parses LogLevel, falling back to info for unknown names.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Logger builds the process logger in the configured format and level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}
	if c.LogFormat == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (c *Config) Merge(overlay *Config) {
	for dst, v := range map[*string]string{
		&c.Store:           overlay.Store,
		&c.LogLevel:        overlay.LogLevel,
		&c.LogFormat:       overlay.LogFormat,
		&c.ShutdownTimeout: overlay.ShutdownTimeout,
		&c.Version:         overlay.Version,
	} {
		if v != "" {
			*dst = v
		}
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.API.Merge(&overlay.API)
	c.Domain.Merge(&overlay.Domain)
}

func (c *Config) finalize() error {
	for dst, d := range map[*string]struct{ env, def string }{
		&c.Store:           {EnvGradeOSStore, StorePostgres},
		&c.LogLevel:        {EnvGradeOSLogLevel, "info"},
		&c.LogFormat:       {EnvGradeOSLogFormat, LogFormatText},
		&c.ShutdownTimeout: {EnvGradeOSShutdownTimeout, "30s"},
		&c.Version:         {EnvGradeOSVersion, "0.1.0"},
	} {
		if v := os.Getenv(d.env); v != "" {
			*dst = v
		} else if *dst == "" {
			*dst = d.def
		}
	}

	c.Store = strings.ToLower(c.Store)
	c.LogFormat = strings.ToLower(c.LogFormat)
	switch {
	case c.Store != StorePostgres && c.Store != StoreMemory:
		return fmt.Errorf("unknown store %q", c.Store)
	case c.LogFormat != LogFormatText && c.LogFormat != LogFormatJSON:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	if d, err := time.ParseDuration(c.ShutdownTimeout); err != nil || d <= 0 {
		return fmt.Errorf("invalid shutdown_timeout %q", c.ShutdownTimeout)
	}

	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if c.Persistent() {
		if err := c.Database.Finalize(databaseEnv); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return c.Domain.Finalize()
}
