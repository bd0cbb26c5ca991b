package gradinglogs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/pagination"
)

// Store is the durable backing for the journal.
type Store interface {
	// Insert writes a new log. Returns ErrDuplicate if the id already exists.
	Insert(ctx context.Context, l GradingLog) error
	// Override sets the override fields of an existing log.
	Override(ctx context.Context, id uuid.UUID, cmd OverrideCommand, at time.Time) (*GradingLog, error)
	Find(ctx context.Context, id uuid.UUID) (*GradingLog, error)
	List(ctx context.Context, page pagination.Request, filters Filters) (*pagination.Page[GradingLog], error)
	// Overridden returns overridden logs with overridden_at >= since, oldest first.
	Overridden(ctx context.Context, since time.Time) ([]GradingLog, error)
}
