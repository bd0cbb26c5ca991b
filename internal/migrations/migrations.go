// Package migrations embeds the schema and applies it with golang-migrate.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/database"
)

//go:embed sql/*.sql
var files embed.FS

// New opens a migrator for the database at url.
func New(url string) (*migrate.Migrate, error) {
	source, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// Up applies every pending migration. It satisfies database.Migrator so
// the server can migrate on startup.
func Up(ctx context.Context, cfg *database.Config) error {
	m, err := New(cfg.URL())
	if err != nil {
		return err
	}
	defer m.Close()

	done := make(chan error, 1)
	go func() { done <- m.Up() }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		return nil
	case <-ctx.Done():
		m.GracefulStop <- true
		<-done
		return ctx.Err()
	}
}

var _ database.Migrator = Up
