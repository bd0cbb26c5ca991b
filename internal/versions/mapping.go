package versions

import (
	"encoding/json"
	"fmt"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/query"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "deployments", "d").
	Project("id", "ID").
	Project("patch_id", "PatchID").
	Project("version", "Version").
	Project("scope", "Scope").
	Project("traffic_fraction", "TrafficFraction").
	Project("previous_version", "PreviousVersion").
	Project("depends_on", "DependsOn").
	Project("deployed_at", "DeployedAt").
	Project("promoted_at", "PromotedAt").
	Project("superseded_at", "SupersededAt").
	Project("rolled_back_at", "RolledBackAt").
	Project("seq", "Seq")

// Ties on deployed_at (a promotion's stamp and its full entry) keep the
// later insert first.
var newestFirst = []query.SortField{
	{Field: "DeployedAt", Descending: true},
	{Field: "Seq", Descending: true},
}

func scanDeployment(s repository.Scanner) (Deployment, error) {
	var (
		d    Deployment
		deps []byte
		seq  int64
	)
	err := s.Scan(
		&d.ID,
		&d.PatchID,
		&d.Version,
		&d.Scope,
		&d.TrafficFraction,
		&d.PreviousVersion,
		&deps,
		&d.DeployedAt,
		&d.PromotedAt,
		&d.SupersededAt,
		&d.RolledBackAt,
		&seq,
	)
	if err != nil {
		return d, err
	}
	if len(deps) > 0 {
		if err := json.Unmarshal(deps, &d.DependsOn); err != nil {
			return d, fmt.Errorf("decode depends_on: %w", err)
		}
	}
	return d, nil
}

func encodeDependsOn(deps []int64) (string, error) {
	if deps == nil {
		deps = []int64{}
	}
	b, err := json.Marshal(deps)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
