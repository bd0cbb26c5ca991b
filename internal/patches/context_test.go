package patches_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
	"github.com/QWERTYjc/GradeOS-sub003/internal/patches"
)

func seedRuleSet(t *testing.T, store *patches.Memory) map[int64]uuid.UUID {
	t.Helper()
	ids := make(map[int64]uuid.UUID)
	for _, p := range []patches.RulePatch{
		{Version: 2, Status: patches.StatusDeployed, Content: patches.Content{Target: "normalization.units", Operation: "add_conversion", Text: "mm to m"}},
		{Version: 3, Status: patches.StatusRolledBack, Content: patches.Content{Target: "normalization.units", Operation: "add_conversion", Text: "inch to m"}},
		{Version: 4, Status: patches.StatusDeployed, Content: patches.Content{Target: "normalization.units", Operation: "add_conversion", Text: "cm to m"}, DependsOn: []int64{2}},
		{Version: 5, Status: patches.StatusCanary, Content: patches.Content{Target: "matching.synonyms", Operation: "add_synonym", Text: "velocity ~ speed"}},
	} {
		p.ID = uuid.New()
		p.Type = patches.TypeRule
		p.SourcePatternID = p.Content.Text
		if err := store.Create(context.Background(), p); err != nil {
			t.Fatal(err)
		}
		ids[p.Version] = p.ID
	}
	return ids
}

func TestContextBuilder(t *testing.T) {
	ctx := context.Background()
	store := patches.NewMemory()
	seedRuleSet(t, store)

	b := patches.NewContextBuilder(store)
	tests := []struct {
		name    string
		version int64
		want    []string
		absent  []string
	}{
		{"baseline", 0, nil, []string{"[v"}},
		{"single", 2, []string{"[v2 rule normalization.units/add_conversion]", "mm to m"}, []string{"cm to m", "velocity"}},
		{"with dependency", 4, []string{"mm to m", "cm to m"}, []string{"velocity", "inch"}},
		{"canary over other target", 5, []string{"mm to m", "cm to m", "velocity ~ speed"}, []string{"inch"}},
		{"version without patch", 9, []string{"mm to m", "cm to m"}, []string{"velocity", "inch"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.BuildContext(ctx, grading.Request{RuleVersion: tt.version})
			if err != nil {
				t.Fatal(err)
			}
			for _, s := range tt.want {
				if !strings.Contains(got, s) {
					t.Errorf("context missing %q:\n%s", s, got)
				}
			}
			for _, s := range tt.absent {
				if strings.Contains(got, s) {
					t.Errorf("context should not contain %q:\n%s", s, got)
				}
			}
		})
	}

	got, _ := b.BuildContext(ctx, grading.Request{RuleVersion: 5})
	if !(strings.Index(got, "mm to m") < strings.Index(got, "cm to m") &&
		strings.Index(got, "cm to m") < strings.Index(got, "velocity")) {
		t.Errorf("rules should render lowest version first:\n%s", got)
	}
}

func TestContextBuilderFollowsRuleSetChanges(t *testing.T) {
	ctx := context.Background()
	store := patches.NewMemory()
	ids := seedRuleSet(t, store)
	b := patches.NewContextBuilder(store)

	before, err := b.BuildContext(ctx, grading.Request{RuleVersion: 5})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(before, "cm to m") {
		t.Fatalf("context missing deployed rule:\n%s", before)
	}

	if _, err := store.SetStatus(ctx, ids[4], patches.StatusDeployed, patches.StatusRolledBack, time.Now()); err != nil {
		t.Fatal(err)
	}
	after, err := b.BuildContext(ctx, grading.Request{RuleVersion: 5})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(after, "cm to m") {
		t.Errorf("rolled back rule still rendered:\n%s", after)
	}
	if !strings.Contains(after, "mm to m") || !strings.Contains(after, "velocity") {
		t.Errorf("remaining rules missing:\n%s", after)
	}
}
