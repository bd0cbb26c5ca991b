// Package query builds parameterized PostgreSQL SELECTs from a projection of
// table columns onto the field names the domain code uses.
package query

import "strings"

type projected struct {
	column string
	view   string
}

// ProjectionMap binds a table (schema.table alias) to the ordered list of
// columns a store scans. Column order is the scan order.
type ProjectionMap struct {
	schema, table, alias string
	fields               []projected
	byView               map[string]string
}

func NewProjectionMap(schema, table, alias string) *ProjectionMap {
	return &ProjectionMap{
		schema: schema,
		table:  table,
		alias:  alias,
		byView: map[string]string{},
	}
}

// Project appends column under the domain name view.
func (p *ProjectionMap) Project(column, view string) *ProjectionMap {
	p.fields = append(p.fields, projected{column: column, view: view})
	p.byView[view] = p.alias + "." + column
	return p
}

func (p *ProjectionMap) Alias() string { return p.alias }

// From renders the FROM target, e.g. "public.grading_logs g".
func (p *ProjectionMap) From() string {
	return p.schema + "." + p.table + " " + p.alias
}

// Column resolves a view name to its qualified column. Unknown names are
// returned unchanged so raw expressions can still be ordered or filtered on.
func (p *ProjectionMap) Column(view string) string {
	if col, ok := p.byView[view]; ok {
		return col
	}
	return view
}

// Columns lists the qualified columns for a SELECT.
func (p *ProjectionMap) Columns() string {
	return p.join(p.alias + ".")
}

// Bare lists the unqualified columns for INSERT ... RETURNING.
func (p *ProjectionMap) Bare() string {
	return p.join("")
}

func (p *ProjectionMap) join(prefix string) string {
	var b strings.Builder
	for i, f := range p.fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(prefix)
		b.WriteString(f.column)
	}
	return b.String()
}
