package gradinglogs

import (
	"net/url"
	"strconv"
	"time"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/query"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "grading_logs", "g").
	Project("id", "ID").
	Project("submission_id", "SubmissionID").
	Project("page_index", "PageIndex").
	Project("rubric_id", "RubricID").
	Project("rule_version", "RuleVersion").
	Project("extracted_value", "ExtractedValue").
	Project("extraction_confidence", "ExtractionConfidence").
	Project("normalized_value", "NormalizedValue").
	Project("match_result", "MatchResult").
	Project("score", "Score").
	Project("confidence", "Confidence").
	Project("reasoning_trace", "ReasoningTrace").
	Project("created_at", "CreatedAt").
	Project("was_overridden", "WasOverridden").
	Project("override_score", "OverrideScore").
	Project("override_reason", "OverrideReason").
	Project("override_actor", "OverrideActor").
	Project("overridden_at", "OverriddenAt")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for log queries.
// Nil fields are ignored.
type Filters struct {
	SubmissionID  *string    `json:"submission_id,omitempty"`
	RubricID      *string    `json:"rubric_id,omitempty"`
	RuleVersion   *int64     `json:"rule_version,omitempty"`
	WasOverridden *bool      `json:"was_overridden,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("SubmissionID", f.SubmissionID).
		WhereEquals("RubricID", f.RubricID).
		WhereEquals("RuleVersion", f.RuleVersion).
		WhereEquals("WasOverridden", f.WasOverridden).
		WhereAtLeast("CreatedAt", f.Since)
}

// Match reports whether l satisfies every set filter.
func (f Filters) Match(l GradingLog) bool {
	if f.SubmissionID != nil && l.SubmissionID != *f.SubmissionID {
		return false
	}
	if f.RubricID != nil && l.RubricID != *f.RubricID {
		return false
	}
	if f.RuleVersion != nil && l.RuleVersion != *f.RuleVersion {
		return false
	}
	if f.WasOverridden != nil && l.WasOverridden != *f.WasOverridden {
		return false
	}
	if f.Since != nil && l.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// FiltersFromQuery extracts filter values from URL query parameters.
// Malformed numeric, boolean, or time values are ignored.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if v := values.Get("submission_id"); v != "" {
		f.SubmissionID = &v
	}
	if v := values.Get("rubric_id"); v != "" {
		f.RubricID = &v
	}
	if v := values.Get("rule_version"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.RuleVersion = &n
		}
	}
	if v := values.Get("was_overridden"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f.WasOverridden = &b
		}
	}
	if v := values.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Since = &t
		}
	}

	return f
}

func scanLog(s repository.Scanner) (GradingLog, error) {
	var l GradingLog
	err := s.Scan(
		&l.ID,
		&l.SubmissionID,
		&l.PageIndex,
		&l.RubricID,
		&l.RuleVersion,
		&l.ExtractedValue,
		&l.ExtractionConfidence,
		&l.NormalizedValue,
		&l.MatchResult,
		&l.Score,
		&l.Confidence,
		&l.ReasoningTrace,
		&l.CreatedAt,
		&l.WasOverridden,
		&l.OverrideScore,
		&l.OverrideReason,
		&l.OverrideActor,
		&l.OverriddenAt,
	)
	return l, err
}
