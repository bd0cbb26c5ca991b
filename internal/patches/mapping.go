package patches

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/query"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "rule_patches", "p").
	Project("id", "ID").
	Project("version", "Version").
	Project("type", "Type").
	Project("content", "Content").
	Project("source_pattern_id", "SourcePatternID").
	Project("depends_on", "DependsOn").
	Project("status", "Status").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var defaultSort = query.SortField{
	Field:      "Version",
	Descending: true,
}

// Filters contains optional filtering criteria for patch queries.
type Filters struct {
	Status          *Status `json:"status,omitempty"`
	Type            *Type   `json:"type,omitempty"`
	SourcePatternID *string `json:"source_pattern_id,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	var status, typ *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}
	if f.Type != nil {
		t := string(*f.Type)
		typ = &t
	}
	return b.
		WhereEquals("Status", status).
		WhereEquals("Type", typ).
		WhereEquals("SourcePatternID", f.SourcePatternID)
}

// Match reports whether p satisfies every set filter.
func (f Filters) Match(p RulePatch) bool {
	if f.Status != nil && p.Status != *f.Status {
		return false
	}
	if f.Type != nil && p.Type != *f.Type {
		return false
	}
	if f.SourcePatternID != nil && p.SourcePatternID != *f.SourcePatternID {
		return false
	}
	return true
}

// FiltersFromQuery extracts filter values from URL query parameters.
// Unknown status values are ignored.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if v := values.Get("status"); v != "" {
		if s, err := ParseStatus(v); err == nil {
			f.Status = &s
		}
	}
	if v := values.Get("type"); v != "" {
		var t Type
		if err := t.UnmarshalJSON([]byte(strconv.Quote(v))); err == nil {
			f.Type = &t
		}
	}
	if v := values.Get("source_pattern_id"); v != "" {
		f.SourcePatternID = &v
	}

	return f
}

func scanPatch(s repository.Scanner) (RulePatch, error) {
	var (
		p             RulePatch
		content, deps []byte
	)
	err := s.Scan(
		&p.ID,
		&p.Version,
		&p.Type,
		&content,
		&p.SourcePatternID,
		&deps,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(content, &p.Content); err != nil {
		return p, fmt.Errorf("decode content: %w", err)
	}
	if err := json.Unmarshal(deps, &p.DependsOn); err != nil {
		return p, fmt.Errorf("decode depends_on: %w", err)
	}
	return p, nil
}
