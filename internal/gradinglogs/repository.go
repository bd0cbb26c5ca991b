package gradinglogs

import (
	"context"
	"database/sql"
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

// NewRepository creates a PostgreSQL-backed Store.
func NewRepository(db *sql.DB) Store {
	return &repo{db: db}
}

func (r *repo) Insert(ctx context.Context, l GradingLog) error {
	q := `
		INSERT INTO grading_logs(
			id, submission_id, page_index, rubric_id, rule_version,
			extracted_value, extraction_confidence, normalized_value, match_result,
			score, confidence, reasoning_trace, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, q,
		l.ID, l.SubmissionID, l.PageIndex, l.RubricID, l.RuleVersion,
		l.ExtractedValue, l.ExtractionConfidence, l.NormalizedValue, l.MatchResult,
		l.Score, l.Confidence, l.ReasoningTrace, l.CreatedAt,
	)
	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return nil
}

func (r *repo) Override(ctx context.Context, id uuid.UUID, cmd OverrideCommand, at time.Time) (*GradingLog, error) {
	q := fmt.Sprintf(`
		UPDATE grading_logs
		SET was_overridden = TRUE,
			override_score = $1,
			override_reason = $2,
			override_actor = $3,
			overridden_at = $4
		WHERE id = $5
		RETURNING %s`, projection.Bare())

	l, err := repository.QueryOne(ctx, r.db, q,
		[]any{cmd.Score, cmd.Reason, cmd.Actor, at.UTC(), id}, scanLog)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &l, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*GradingLog, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	l, err := repository.QueryOne(ctx, r.db, q, args, scanLog)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &l, nil
}

func (r *repo) List(
	ctx context.Context,
	page pagination.Request,
	filters Filters,
) (*pagination.Page[GradingLog], error) {
	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "SubmissionID", "RubricID", "OverrideReason")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	total, err := repository.QueryValue[int](ctx, r.db, countSQL, countArgs...)
	if err != nil {
		return nil, fmt.Errorf("count grading logs: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanLog)
	if err != nil {
		return nil, fmt.Errorf("query grading logs: %w", err)
	}

	result := pagination.NewPage(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Overridden(ctx context.Context, since time.Time) ([]GradingLog, error) {
	overridden := true
	q, args := query.
		NewBuilder(projection, query.SortField{Field: "OverriddenAt"}).
		WhereEquals("WasOverridden", &overridden).
		WhereAtLeast("OverriddenAt", &since).
		Build()

	logs, err := repository.QueryMany(ctx, r.db, q, args, scanLog)
	if err != nil {
		return nil, fmt.Errorf("query overridden logs: %w", err)
	}
	return logs, nil
}
