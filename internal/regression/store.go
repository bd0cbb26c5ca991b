package regression

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/query"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/repository"
)

// Store records regression results, at most one per patch.
type Store interface {
	Record(ctx context.Context, r Result) error
	FindByPatch(ctx context.Context, patchID uuid.UUID) (*Result, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	results map[uuid.UUID]Result
}

func NewMemory() *Memory {
	return &Memory{results: make(map[uuid.UUID]Result)}
}

func (m *Memory) Record(_ context.Context, r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[r.PatchID]; ok {
		return ErrAlreadyTested
	}
	m.results[r.PatchID] = r
	return nil
}

func (m *Memory) FindByPatch(_ context.Context, patchID uuid.UUID) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[patchID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

var projection = query.
	NewProjectionMap("public", "regression_results", "r").
	Project("id", "ID").
	Project("patch_id", "PatchID").
	Project("eval_set_id", "EvalSetID").
	Project("baseline_version", "BaselineVersion").
	Project("patch_version", "PatchVersion").
	Project("before_error_rate", "BeforeErrorRate").
	Project("before_miss_rate", "BeforeMissRate").
	Project("before_review_rate", "BeforeReviewRate").
	Project("after_error_rate", "AfterErrorRate").
	Project("after_miss_rate", "AfterMissRate").
	Project("after_review_rate", "AfterReviewRate").
	Project("sample_count", "SampleCount").
	Project("scored_count", "ScoredCount").
	Project("improvement", "Improvement").
	Project("run_at", "RunAt")

func scanResult(s repository.Scanner) (Result, error) {
	var r Result
	err := s.Scan(
		&r.ID,
		&r.PatchID,
		&r.EvalSetID,
		&r.BaselineVersion,
		&r.PatchVersion,
		&r.Before.ErrorRate,
		&r.Before.MissRate,
		&r.Before.ReviewRate,
		&r.After.ErrorRate,
		&r.After.MissRate,
		&r.After.ReviewRate,
		&r.SampleCount,
		&r.ScoredCount,
		&r.Improvement,
		&r.RunAt,
	)
	return r, err
}

type repo struct {
	db *sql.DB
}

// NewRepository creates a PostgreSQL-backed Store. A unique constraint on
// patch_id makes a second run fail with ErrAlreadyTested.
func NewRepository(db *sql.DB) Store {
	return &repo{db: db}
}

func (r *repo) Record(ctx context.Context, res Result) error {
	q := fmt.Sprintf(`
		INSERT INTO regression_results(%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		projection.Bare())

	_, err := r.db.ExecContext(ctx, q,
		res.ID, res.PatchID, res.EvalSetID, res.BaselineVersion, res.PatchVersion,
		res.Before.ErrorRate, res.Before.MissRate, res.Before.ReviewRate,
		res.After.ErrorRate, res.After.MissRate, res.After.ReviewRate,
		res.SampleCount, res.ScoredCount, res.Improvement, res.RunAt,
	)
	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrAlreadyTested)
	}
	return nil
}

func (r *repo) FindByPatch(ctx context.Context, patchID uuid.UUID) (*Result, error) {
	q, args := query.NewBuilder(projection).BuildSingle("PatchID", patchID)

	res, err := repository.QueryOne(ctx, r.db, q, args, scanResult)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrAlreadyTested)
	}
	return &res, nil
}
