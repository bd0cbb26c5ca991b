package patches

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/pagination"
)

// Store persists rule patches. Create fails with ErrDuplicate when an
// unresolved patch already exists for the same source pattern.
type Store interface {
	Create(ctx context.Context, p RulePatch) error
	Find(ctx context.Context, id uuid.UUID) (*RulePatch, error)
	FindByVersion(ctx context.Context, version int64) (*RulePatch, error)
	List(ctx context.Context, page pagination.Request, filters Filters) (*pagination.Page[RulePatch], error)
	// LatestForPattern returns the newest patch created for a pattern.
	LatestForPattern(ctx context.Context, patternID string) (*RulePatch, error)
	// WithStatus returns the patches in status, lowest version first.
	WithStatus(ctx context.Context, status Status) ([]RulePatch, error)
	// SetStatus moves a patch to next only if its status is still from.
	SetStatus(ctx context.Context, id uuid.UUID, from, next Status, at time.Time) (*RulePatch, error)
}
