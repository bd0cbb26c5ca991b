package progress

import (
	"github.com/QWERTYjc/GradeOS-sub003/pkg/query"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "stream_events", "s").
	Project("stream_id", "StreamID").
	Project("sequence_number", "Sequence").
	Project("batch_index", "BatchIndex").
	Project("rule_version", "RuleVersion").
	Project("success_count", "SuccessCount").
	Project("failure_count", "FailureCount").
	Project("completed_at", "CompletedAt")

var bySequence = query.SortField{Field: "Sequence"}

func scanEvent(s repository.Scanner) (Event, error) {
	var e Event
	err := s.Scan(
		&e.StreamID,
		&e.Sequence,
		&e.BatchIndex,
		&e.RuleVersion,
		&e.SuccessCount,
		&e.FailureCount,
		&e.CompletedAt,
	)
	return e, err
}
