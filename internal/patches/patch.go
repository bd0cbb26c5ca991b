// Package patches stores rule patches and generates them from fixable
// failure patterns.
package patches

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Type is the kind of change a patch makes.
type Type string

const (
	TypeRule    Type = "rule"
	TypePrompt  Type = "prompt"
	TypeExample Type = "example"
)

var types = []Type{TypeRule, TypePrompt, TypeExample}

// UnmarshalJSON validates that the decoded string is a known patch type.
func (t *Type) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v := Type(raw)
	if !slices.Contains(types, v) {
		return ErrInvalidType
	}
	*t = v
	return nil
}

// Status is a patch's position in the upgrade pipeline.
type Status string

const (
	StatusCandidate  Status = "candidate"
	StatusTesting    Status = "testing"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusCanary     Status = "canary"
	StatusDeployed   Status = "deployed"
	StatusRolledBack Status = "rolled_back"
)

var transitions = map[Status][]Status{
	StatusCandidate: {StatusTesting},
	StatusTesting:   {StatusApproved, StatusRejected},
	StatusApproved:  {StatusCanary},
	StatusCanary:    {StatusDeployed, StatusRolledBack},
	StatusDeployed:  {StatusRolledBack},
}

// CanTransition reports whether a patch may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	v := Status(s)
	if _, ok := transitions[v]; ok || v == StatusRejected || v == StatusRolledBack {
		return v, nil
	}
	return "", ErrInvalidStatus
}

// Unresolved reports whether a patch in this status still occupies its
// source pattern.
func (s Status) Unresolved() bool {
	switch s {
	case StatusCandidate, StatusTesting, StatusApproved, StatusCanary:
		return true
	}
	return false
}

// Example is a worked case carried by a patch.
type Example struct {
	Input         string  `json:"input"`
	Normalized    string  `json:"normalized"`
	GradedScore   float64 `json:"graded_score"`
	ExpectedScore float64 `json:"expected_score"`
}

// Content describes the concrete change.
type Content struct {
	Target    string    `json:"target"`
	Operation string    `json:"operation"`
	Text      string    `json:"text"`
	Examples  []Example `json:"examples"`
}

// RulePatch is a versioned change addressing one failure pattern.
type RulePatch struct {
	ID              uuid.UUID `json:"id"`
	Version         int64     `json:"version"`
	Type            Type      `json:"type"`
	Content         Content   `json:"content"`
	SourcePatternID string    `json:"source_pattern_id"`
	DependsOn       []int64   `json:"depends_on"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
