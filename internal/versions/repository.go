package versions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/query"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/repository"
)

type repo struct {
	db *sql.DB
}

// NewRepository creates a PostgreSQL-backed Store. Versions come from the
// rule_version_seq sequence and the pointer lives in the single-row
// active_version table.
func NewRepository(db *sql.DB) Store {
	return &repo{db: db}
}

func (r *repo) NextVersion(ctx context.Context) (int64, error) {
	v, err := repository.QueryValue[int64](ctx, r.db, "SELECT nextval('rule_version_seq')")
	if err != nil {
		return 0, fmt.Errorf("allocate version: %w", err)
	}
	return v, nil
}

func (r *repo) Active(ctx context.Context) (int64, error) {
	v, err := repository.QueryValue[int64](ctx, r.db, "SELECT version FROM active_version WHERE id = 1")
	if err != nil {
		return 0, fmt.Errorf("read active version: %w", err)
	}
	return v, nil
}

func (r *repo) Swap(ctx context.Context, expected, next int64) error {
	n, err := repository.ExecAffected(ctx, r.db, `
		UPDATE active_version
		SET version = $1, updated_at = now()
		WHERE id = 1 AND version = $2`,
		next, expected,
	)
	if err != nil {
		return fmt.Errorf("swap active version: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (r *repo) Insert(ctx context.Context, d Deployment) error {
	deps, err := encodeDependsOn(d.DependsOn)
	if err != nil {
		return fmt.Errorf("encode depends_on: %w", err)
	}

	q := `
		INSERT INTO deployments(
			id, patch_id, version, scope, traffic_fraction,
			previous_version, depends_on, deployed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.ExecContext(ctx, q,
		d.ID, d.PatchID, d.Version, d.Scope, d.TrafficFraction,
		d.PreviousVersion, deps, d.DeployedAt,
	)
	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrInvalidDeployment)
	}
	return nil
}

func (r *repo) Stamp(ctx context.Context, id uuid.UUID, s Stamp, at time.Time) (*Deployment, error) {
	switch s {
	case StampPromoted, StampSuperseded, StampRolledBack:
	default:
		return nil, ErrInvalidStamp
	}

	q := fmt.Sprintf(`
		UPDATE deployments
		SET %[1]s = $1
		WHERE id = $2 AND %[1]s IS NULL
		RETURNING %[2]s`, s, projection.Bare())

	d, err := repository.QueryOne(ctx, r.db, q, []any{at.UTC(), id}, scanDeployment)
	if errors.Is(err, sql.ErrNoRows) {
		if _, findErr := r.Find(ctx, id); findErr != nil {
			return nil, findErr
		}
		return nil, ErrAlreadyStamped
	}
	if err != nil {
		return nil, fmt.Errorf("stamp deployment: %w", err)
	}
	return &d, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Deployment, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	d, err := repository.QueryOne(ctx, r.db, q, args, scanDeployment)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrInvalidDeployment)
	}
	return &d, nil
}

func (r *repo) Live(ctx context.Context) ([]Deployment, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE d.promoted_at IS NULL
			AND d.superseded_at IS NULL
			AND d.rolled_back_at IS NULL
		ORDER BY d.seq`, projection.Columns(), projection.From())

	deps, err := repository.QueryMany(ctx, r.db, q, nil, scanDeployment)
	if err != nil {
		return nil, fmt.Errorf("query live deployments: %w", err)
	}
	return deps, nil
}

func (r *repo) History(ctx context.Context, limit int) ([]Deployment, error) {
	q, args := query.NewBuilder(projection, newestFirst...).BuildLimit(limit)

	deps, err := repository.QueryMany(ctx, r.db, q, args, scanDeployment)
	if err != nil {
		return nil, fmt.Errorf("query deployment history: %w", err)
	}
	return deps, nil
}
