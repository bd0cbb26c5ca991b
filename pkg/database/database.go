// Package database provides PostgreSQL connection management with lifecycle coordination.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/lifecycle"
)

const pingInterval = 250 * time.Millisecond

// Migrator applies schema migrations before the connection is reported ready.
type Migrator func(ctx context.Context, cfg *Config) error

// System manages database connections and lifecycle coordination.
type System interface {
	// Connection returns the underlying database connection pool.
	Connection() *sql.DB
	// Start registers startup and shutdown hooks with the lifecycle coordinator.
	Start(lc *lifecycle.Coordinator) error
	// Ready reports whether the startup ping (and migrations, if any) succeeded.
	Ready() bool
}

type database struct {
	cfg         *Config
	conn        *sql.DB
	logger      *slog.Logger
	connTimeout time.Duration
	migrate     Migrator
	ready       atomic.Bool
}

// New builds the connection pool without dialing. The first connection is
// made by the startup ping registered in Start; when AutoMigrate is set,
// migrate runs after that ping succeeds.
func New(cfg *Config, logger *slog.Logger, migrate Migrator) (System, error) {
	cc, err := cfg.ConnConfig()
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db := stdlib.OpenDB(*cc)

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())

	return &database{
		cfg:         cfg,
		conn:        db,
		logger:      logger.With("system", "database"),
		connTimeout: cfg.ConnTimeoutDuration(),
		migrate:     migrate,
	}, nil
}

func (d *database) Connection() *sql.DB {
	return d.conn
}

func (d *database) Ready() bool {
	return d.ready.Load()
}

// Start pings until the connect timeout elapses, runs migrations when
// enabled, and only then reports ready. The pool closes on shutdown.
func (d *database) Start(lc *lifecycle.Coordinator) error {
	lc.OnStartup(func() {
		if err := d.awaitConnection(lc.Context()); err != nil {
			d.logger.Error("database unreachable", "error", err)
			return
		}

		if d.cfg.AutoMigrate && d.migrate != nil {
			if err := d.migrate(lc.Context(), d.cfg); err != nil {
				d.logger.Error("migrations failed", "error", err)
				return
			}
			d.logger.Info("migrations applied")
		}

		d.ready.Store(true)
		d.logger.Info("database ready", "host", d.cfg.Host, "name", d.cfg.Name)
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		d.ready.Store(false)
		if err := d.conn.Close(); err != nil {
			d.logger.Error("close pool", "error", err)
			return
		}
		d.logger.Info("database pool closed")
	})

	return nil
}

func (d *database) awaitConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.connTimeout)
	defer cancel()

	t := time.NewTicker(pingInterval)
	defer t.Stop()

	for {
		err := d.conn.PingContext(ctx)
		if err == nil {
			return nil
		}
		d.logger.Debug("ping failed, retrying", "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("ping: %w", err)
		case <-t.C:
		}
	}
}
