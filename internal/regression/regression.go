// Package regression replays frozen evaluation sets under the active rule
// version and a candidate patch version, and gates the patch on the outcome.
package regression

import (
	"time"

	"github.com/google/uuid"
)

// epsilon absorbs floating point noise when comparing rates.
const epsilon = 1e-9

// EvalItem is one human-labeled page in an evaluation set.
type EvalItem struct {
	ID            string  `json:"id"`
	RubricID      string  `json:"rubric_id"`
	Payload       []byte  `json:"payload"`
	Context       string  `json:"context,omitempty"`
	ExpectedScore float64 `json:"expected_score"`
}

// EvalSet is a frozen, labeled dataset. Sets are written once.
type EvalSet struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Items     []EvalItem `json:"items"`
}

// Rates are fractions of the evaluation set. Error counts over-awards and
// scoring failures, miss counts under-awards, and review counts results whose
// confidence falls below the review threshold.
type Rates struct {
	ErrorRate  float64 `json:"error_rate"`
	MissRate   float64 `json:"miss_rate"`
	ReviewRate float64 `json:"review_rate"`
}

// Result is the single recorded regression run for a patch.
type Result struct {
	ID              uuid.UUID `json:"id"`
	PatchID         uuid.UUID `json:"patch_id"`
	EvalSetID       string    `json:"eval_set_id"`
	BaselineVersion int64     `json:"baseline_version"`
	PatchVersion    int64     `json:"patch_version"`
	Before          Rates     `json:"before"`
	After           Rates     `json:"after"`
	SampleCount     int       `json:"sample_count"`
	ScoredCount     int       `json:"scored_count"`
	Improvement     bool      `json:"improvement"`
	RunAt           time.Time `json:"run_at"`
}

// IsImprovement reports whether no rate got worse and at least one got
// strictly better.
func IsImprovement(r Result) bool {
	before := [3]float64{r.Before.ErrorRate, r.Before.MissRate, r.Before.ReviewRate}
	after := [3]float64{r.After.ErrorRate, r.After.MissRate, r.After.ReviewRate}

	better := false
	for i := range before {
		switch {
		case after[i] > before[i]+epsilon:
			return false
		case after[i] < before[i]-epsilon:
			better = true
		}
	}
	return better
}
