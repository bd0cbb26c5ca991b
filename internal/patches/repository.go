package patches

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/pagination"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/query"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/repository"
)

type repo struct {
	db *sql.DB
}

// NewRepository creates a PostgreSQL-backed Store. The partial unique index
// rule_patches_unresolved_pattern enforces one unresolved patch per pattern.
func NewRepository(db *sql.DB) Store {
	return &repo{db: db}
}

func (r *repo) Create(ctx context.Context, p RulePatch) error {
	content, err := json.Marshal(p.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	deps := p.DependsOn
	if deps == nil {
		deps = []int64{}
	}
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return fmt.Errorf("encode depends_on: %w", err)
	}

	q := `
		INSERT INTO rule_patches(
			id, version, type, content, source_pattern_id,
			depends_on, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.ExecContext(ctx, q,
		p.ID, p.Version, p.Type, string(content), p.SourcePatternID,
		string(depsJSON), p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*RulePatch, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	p, err := repository.QueryOne(ctx, r.db, q, args, scanPatch)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &p, nil
}

func (r *repo) FindByVersion(ctx context.Context, version int64) (*RulePatch, error) {
	q, args := query.NewBuilder(projection).BuildSingle("Version", version)

	p, err := repository.QueryOne(ctx, r.db, q, args, scanPatch)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &p, nil
}

func (r *repo) List(
	ctx context.Context,
	page pagination.Request,
	filters Filters,
) (*pagination.Page[RulePatch], error) {
	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "SourcePatternID")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	total, err := repository.QueryValue[int](ctx, r.db, countSQL, countArgs...)
	if err != nil {
		return nil, fmt.Errorf("count patches: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanPatch)
	if err != nil {
		return nil, fmt.Errorf("query patches: %w", err)
	}

	result := pagination.NewPage(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) LatestForPattern(ctx context.Context, patternID string) (*RulePatch, error) {
	q, args := query.
		NewBuilder(projection, defaultSort).
		WhereEquals("SourcePatternID", &patternID).
		BuildLimit(1)

	p, err := repository.QueryOne(ctx, r.db, q, args, scanPatch)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &p, nil
}

func (r *repo) WithStatus(ctx context.Context, status Status) ([]RulePatch, error) {
	s := string(status)
	q, args := query.
		NewBuilder(projection, query.SortField{Field: "Version"}).
		WhereEquals("Status", &s).
		Build()

	items, err := repository.QueryMany(ctx, r.db, q, args, scanPatch)
	if err != nil {
		return nil, fmt.Errorf("query %s patches: %w", status, err)
	}
	return items, nil
}

func (r *repo) SetStatus(ctx context.Context, id uuid.UUID, from, next Status, at time.Time) (*RulePatch, error) {
	q := fmt.Sprintf(`
		UPDATE rule_patches
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING %s`, projection.Bare())

	p, err := repository.QueryOne(ctx, r.db, q, []any{next, at.UTC(), id, from}, scanPatch)
	if errors.Is(err, sql.ErrNoRows) {
		if _, findErr := r.Find(ctx, id); findErr != nil {
			return nil, findErr
		}
		return nil, ErrStatusConflict
	}
	if err != nil {
		return nil, fmt.Errorf("set patch status: %w", err)
	}
	return &p, nil
}
