// Package versions owns rule-version allocation, the active-version pointer,
// and the append-only deployment history.
package versions

import (
	"time"

	"github.com/google/uuid"
)

// Baseline is the rule version in effect before any patch is deployed.
const Baseline int64 = 0

// Scope is the traffic reach of a deployment.
type Scope string

const (
	ScopeCanary Scope = "canary"
	ScopeFull   Scope = "full"
)

// Status summarizes where a deployment record stands.
type Status string

const (
	StatusCanary     Status = "canary"
	StatusDeployed   Status = "deployed"
	StatusPromoted   Status = "promoted"
	StatusSuperseded Status = "superseded"
	StatusRolledBack Status = "rolled_back"
)

// Deployment is one entry in the history. Entries are appended and later
// receive at most one terminal timestamp each.
type Deployment struct {
	ID              uuid.UUID  `json:"id"`
	PatchID         uuid.UUID  `json:"patch_id"`
	Version         int64      `json:"version"`
	Scope           Scope      `json:"scope"`
	TrafficFraction float64    `json:"traffic_fraction"`
	PreviousVersion int64      `json:"previous_version"`
	DependsOn       []int64    `json:"depends_on"`
	DeployedAt      time.Time  `json:"deployed_at"`
	PromotedAt      *time.Time `json:"promoted_at"`
	SupersededAt    *time.Time `json:"superseded_at"`
	RolledBackAt    *time.Time `json:"rolled_back_at"`
}

// Live reports whether the deployment has no terminal timestamp.
func (d Deployment) Live() bool {
	return d.PromotedAt == nil && d.SupersededAt == nil && d.RolledBackAt == nil
}

func (d Deployment) Status() Status {
	switch {
	case d.RolledBackAt != nil:
		return StatusRolledBack
	case d.SupersededAt != nil:
		return StatusSuperseded
	case d.PromotedAt != nil:
		return StatusPromoted
	case d.Scope == ScopeCanary:
		return StatusCanary
	default:
		return StatusDeployed
	}
}

// RecordCommand describes a deployment to append.
type RecordCommand struct {
	PatchID         uuid.UUID `json:"patch_id"`
	Version         int64     `json:"version"`
	Scope           Scope     `json:"scope"`
	TrafficFraction float64   `json:"traffic_fraction"`
	PreviousVersion int64     `json:"previous_version"`
	DependsOn       []int64   `json:"depends_on"`
}

// HistoryEntry is a deployment as reported by History.
type HistoryEntry struct {
	Deployment
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Stamp names a terminal timestamp column.
type Stamp string

const (
	StampPromoted   Stamp = "promoted_at"
	StampSuperseded Stamp = "superseded_at"
	StampRolledBack Stamp = "rolled_back_at"
)

// RollbackResult reports the effect of RollbackToVersion.
type RollbackResult struct {
	Target     int64        `json:"target"`
	Previous   int64        `json:"previous"`
	RolledBack []Deployment `json:"rolled_back"`
	Restored   *Deployment  `json:"restored,omitempty"`
}

func applyStamp(d *Deployment, s Stamp, at time.Time) bool {
	var field **time.Time
	switch s {
	case StampPromoted:
		field = &d.PromotedAt
	case StampSuperseded:
		field = &d.SupersededAt
	case StampRolledBack:
		field = &d.RolledBackAt
	default:
		return false
	}
	if *field != nil {
		return false
	}
	when := at.UTC()
	*field = &when
	return true
}
