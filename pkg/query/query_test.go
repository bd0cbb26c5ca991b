package query_test

import (
	"testing"
	"time"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/query"
)

func testProjection() *query.ProjectionMap {
	return query.NewProjectionMap("public", "grading_logs", "g").
		Project("id", "ID").
		Project("was_overridden", "WasOverridden").
		Project("created_at", "CreatedAt")
}

func ptr[T any](v T) *T { return &v }

func TestProjectionMap(t *testing.T) {
	p := testProjection()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"from", p.From(), "public.grading_logs g"},
		{"alias", p.Alias(), "g"},
		{"columns", p.Columns(), "g.id, g.was_overridden, g.created_at"},
		{"bare", p.Bare(), "id, was_overridden, created_at"},
		{"mapped column", p.Column("CreatedAt"), "g.created_at"},
		{"unmapped column", p.Column("other"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseSortFields(t *testing.T) {
	got := query.ParseSortFields("ID, -CreatedAt,")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Field != "ID" || got[0].Descending {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Field != "CreatedAt" || !got[1].Descending {
		t.Errorf("got[1] = %+v", got[1])
	}
	if query.ParseSortFields("") != nil {
		t.Error("empty input should return nil")
	}
}

func TestBuilderConditions(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	b := query.NewBuilder(testProjection(), query.SortField{Field: "CreatedAt", Descending: true}).
		WhereEquals("WasOverridden", ptr(true)).
		WhereEquals("ID", (*string)(nil)).
		WhereAtLeast("CreatedAt", &since).
		WhereSearch(ptr("unit"), "ID")

	sql, args := b.Build()
	want := "SELECT g.id, g.was_overridden, g.created_at FROM public.grading_logs g" +
		" WHERE g.was_overridden = $1 AND g.created_at >= $2 AND (g.id ILIKE $3)" +
		" ORDER BY g.created_at DESC"
	if sql != want {
		t.Errorf("Build() =\n%s\nwant\n%s", sql, want)
	}
	if len(args) != 3 {
		t.Fatalf("args = %v, want 3 values", args)
	}
	if args[2] != "%unit%" {
		t.Errorf("search arg = %v", args[2])
	}
}

func TestBuilderBuildPageAndCount(t *testing.T) {
	b := query.NewBuilder(testProjection()).WhereEquals("WasOverridden", ptr(false))

	count, countArgs := b.BuildCount()
	if count != "SELECT COUNT(*) FROM public.grading_logs g WHERE g.was_overridden = $1" {
		t.Errorf("BuildCount() = %q", count)
	}
	if len(countArgs) != 1 {
		t.Errorf("count args = %v", countArgs)
	}

	page, _ := b.OrderByFields([]query.SortField{{Field: "ID"}}).BuildPage(3, 20)
	want := "SELECT g.id, g.was_overridden, g.created_at FROM public.grading_logs g" +
		" WHERE g.was_overridden = $1 ORDER BY g.id ASC LIMIT 20 OFFSET 40"
	if page != want {
		t.Errorf("BuildPage() = %q", page)
	}
}

func TestBuilderBuildLimit(t *testing.T) {
	b := query.NewBuilder(testProjection(), query.SortField{Field: "CreatedAt", Descending: true})

	limited, _ := b.BuildLimit(5)
	want := "SELECT g.id, g.was_overridden, g.created_at FROM public.grading_logs g ORDER BY g.created_at DESC LIMIT 5"
	if limited != want {
		t.Errorf("BuildLimit(5) = %q", limited)
	}

	all, _ := b.BuildLimit(0)
	if all != "SELECT g.id, g.was_overridden, g.created_at FROM public.grading_logs g ORDER BY g.created_at DESC" {
		t.Errorf("BuildLimit(0) = %q", all)
	}
}

func TestBuildSingleIgnoresConditions(t *testing.T) {
	sql, args := query.NewBuilder(testProjection()).
		WhereEquals("WasOverridden", ptr(true)).
		BuildSingle("ID", "abc")

	if sql != "SELECT g.id, g.was_overridden, g.created_at FROM public.grading_logs g WHERE g.id = $1" {
		t.Errorf("BuildSingle() = %q", sql)
	}
	if len(args) != 1 || args[0] != "abc" {
		t.Errorf("args = %v", args)
	}
}
