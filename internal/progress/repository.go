package progress

import (
	"context"
	"database/sql"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/query"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/repository"
)

type repo struct {
	db *sql.DB
}

// NewRepository creates a PostgreSQL-backed Store over stream_events.
func NewRepository(db *sql.DB) Store {
	return &repo{db: db}
}

func (r *repo) Append(ctx context.Context, e Event) error {
	q := `
		INSERT INTO stream_events(
			stream_id, sequence_number, batch_index, rule_version,
			success_count, failure_count, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, q,
		e.StreamID, e.Sequence, e.BatchIndex, e.RuleVersion,
		e.SuccessCount, e.FailureCount, e.CompletedAt.UTC(),
	)
	if repository.IsDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

func (r *repo) Since(ctx context.Context, streamID string, after int64, limit int) ([]Event, error) {
	q, args := query.
		NewBuilder(projection, bySequence).
		WhereEquals("StreamID", streamID).
		WhereAtLeast("Sequence", after+1).
		BuildLimit(limit)

	return repository.QueryMany(ctx, r.db, q, args, scanEvent)
}
