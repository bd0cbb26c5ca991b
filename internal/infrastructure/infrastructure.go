// Package infrastructure wires the process-wide systems every domain module
// shares: lifecycle, logger, PostgreSQL and blob storage.
package infrastructure

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/QWERTYjc/GradeOS-sub003/internal/config"
	"github.com/QWERTYjc/GradeOS-sub003/internal/migrations"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/database"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/lifecycle"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/storage"
)

// Infrastructure is built once per process. Database is nil in memory store
// mode.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Storage   storage.System
}

// New constructs every system without contacting any backend.
func New(cfg *config.Config) (*Infrastructure, error) {
	logger := cfg.Logger(os.Stderr).With("service", "gradeos", "env", cfg.Env())

	infra := &Infrastructure{
		Lifecycle: lifecycle.New(),
		Logger:    logger,
	}

	if cfg.Persistent() {
		db, err := database.New(&cfg.Database, logger, migrations.Up)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		infra.Database = db
	}

	blobs, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	infra.Storage = blobs

	return infra, nil
}

// Start registers startup and shutdown hooks for each system.
func (i *Infrastructure) Start() error {
	type starter interface {
		Start(*lifecycle.Coordinator) error
	}

	systems := map[string]starter{"storage": i.Storage}
	if i.Database != nil {
		systems["database"] = i.Database
	}
	for name, sys := range systems {
		if err := sys.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
	}
	return nil
}

// Ready is true once the database, if any, has pinged and migrated.
func (i *Infrastructure) Ready() bool {
	return i.Database == nil || i.Database.Ready()
}
