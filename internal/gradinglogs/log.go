// Package gradinglogs implements the grading journal: an append-only record of
// every scored page plus any later human override. Writes that cannot reach
// the durable store are held in a local queue and retried in the background.
package gradinglogs

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GradingLog is the full trace of one scored page. Everything except the
// override fields is fixed at creation.
type GradingLog struct {
	ID                   uuid.UUID  `json:"id"`
	SubmissionID         string     `json:"submission_id"`
	PageIndex            int        `json:"page_index"`
	RubricID             string     `json:"rubric_id"`
	RuleVersion          int64      `json:"rule_version"`
	ExtractedValue       string     `json:"extracted_value"`
	ExtractionConfidence float64    `json:"extraction_confidence"`
	NormalizedValue      string     `json:"normalized_value"`
	MatchResult          string     `json:"match_result"`
	Score                float64    `json:"score"`
	Confidence           float64    `json:"confidence"`
	ReasoningTrace       string     `json:"reasoning_trace"`
	CreatedAt            time.Time  `json:"created_at"`
	WasOverridden        bool       `json:"was_overridden"`
	OverrideScore        *float64   `json:"override_score"`
	OverrideReason       *string    `json:"override_reason"`
	OverrideActor        *string    `json:"override_actor"`
	OverriddenAt         *time.Time `json:"overridden_at"`
}

// Entry is the caller-supplied content of a new log.
type Entry struct {
	SubmissionID         string  `json:"submission_id"`
	PageIndex            int     `json:"page_index"`
	RubricID             string  `json:"rubric_id"`
	RuleVersion          int64   `json:"rule_version"`
	ExtractedValue       string  `json:"extracted_value"`
	ExtractionConfidence float64 `json:"extraction_confidence"`
	NormalizedValue      string  `json:"normalized_value"`
	MatchResult          string  `json:"match_result"`
	Score                float64 `json:"score"`
	Confidence           float64 `json:"confidence"`
	ReasoningTrace       string  `json:"reasoning_trace"`
}

// OverrideCommand carries a human correction of a logged score.
type OverrideCommand struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
	Actor  string  `json:"actor"`
}

func (c OverrideCommand) validate() error {
	if strings.TrimSpace(c.Reason) == "" {
		return errors.Join(ErrInvalidOverride, errors.New("reason required"))
	}
	if strings.TrimSpace(c.Actor) == "" {
		return errors.Join(ErrInvalidOverride, errors.New("actor required"))
	}
	return nil
}

// SampleSet is the result of an override sample query. Sufficient reports
// whether the window held at least MinCount overridden records.
type SampleSet struct {
	Logs       []GradingLog `json:"logs"`
	MinCount   int          `json:"min_count"`
	Since      time.Time    `json:"since"`
	Sufficient bool         `json:"sufficient"`
}

func newLog(e Entry, now time.Time) GradingLog {
	return GradingLog{
		ID:                   uuid.New(),
		SubmissionID:         e.SubmissionID,
		PageIndex:            e.PageIndex,
		RubricID:             e.RubricID,
		RuleVersion:          e.RuleVersion,
		ExtractedValue:       e.ExtractedValue,
		ExtractionConfidence: e.ExtractionConfidence,
		NormalizedValue:      e.NormalizedValue,
		MatchResult:          e.MatchResult,
		Score:                e.Score,
		Confidence:           e.Confidence,
		ReasoningTrace:       e.ReasoningTrace,
		CreatedAt:            now.UTC(),
	}
}

// applyOverride sets the override fields. No other field is touched.
func applyOverride(l *GradingLog, cmd OverrideCommand, at time.Time) {
	score, reason, actor, when := cmd.Score, cmd.Reason, cmd.Actor, at.UTC()
	l.WasOverridden = true
	l.OverrideScore = &score
	l.OverrideReason = &reason
	l.OverrideActor = &actor
	l.OverriddenAt = &when
}
