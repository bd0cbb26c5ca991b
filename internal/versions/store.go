package versions

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists the version sequence, the active pointer, and deployments.
type Store interface {
	NextVersion(ctx context.Context) (int64, error)
	Active(ctx context.Context) (int64, error)
	// Swap replaces the active version only if it still equals expected.
	Swap(ctx context.Context, expected, next int64) error
	Insert(ctx context.Context, d Deployment) error
	Stamp(ctx context.Context, id uuid.UUID, s Stamp, at time.Time) (*Deployment, error)
	Find(ctx context.Context, id uuid.UUID) (*Deployment, error)
	Live(ctx context.Context) ([]Deployment, error)
	// History returns up to limit deployments, newest first.
	History(ctx context.Context, limit int) ([]Deployment, error)
}
