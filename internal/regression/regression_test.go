package regression_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
	"github.com/QWERTYjc/GradeOS-sub003/internal/gradinglogs"
	"github.com/QWERTYjc/GradeOS-sub003/internal/mining"
	"github.com/QWERTYjc/GradeOS-sub003/internal/patches"
	"github.com/QWERTYjc/GradeOS-sub003/internal/regression"
	"github.com/QWERTYjc/GradeOS-sub003/internal/versions"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/pagination"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestIsImprovement(t *testing.T) {
	tests := []struct {
		name          string
		before, after regression.Rates
		want          bool
	}{
		{"one down others equal", regression.Rates{0.1, 0.2, 0.3}, regression.Rates{0.1, 0.05, 0.3}, true},
		{"all down", regression.Rates{0.1, 0.2, 0.3}, regression.Rates{0.05, 0.1, 0.2}, true},
		{"all equal", regression.Rates{0.1, 0.2, 0.3}, regression.Rates{0.1, 0.2, 0.3}, false},
		{"review worse", regression.Rates{0.1, 0.2, 0.3}, regression.Rates{0.0, 0.0, 0.31}, false},
		{"error worse", regression.Rates{0.1, 0.2, 0.3}, regression.Rates{0.11, 0.0, 0.0}, false},
		{"miss worse", regression.Rates{0.1, 0.2, 0.3}, regression.Rates{0.0, 0.25, 0.0}, false},
		{"float noise is not a change", regression.Rates{0.3, 0.2, 0.1}, regression.Rates{0.1 + 0.2, 0.15, 0.1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := regression.IsImprovement(regression.Result{Before: tt.before, After: tt.after})
			if got != tt.want {
				t.Errorf("IsImprovement = %v, want %v", got, tt.want)
			}
		})
	}
}

// versionScorer under-awards the first baselineMisses items under any
// version other than patched, and the first patchedMisses under patched.
// The last item always comes back with low confidence.
type versionScorer struct {
	patched        int64
	items          int
	baselineMisses int
	patchedMisses  int
	patchedReview  int
}

func (s versionScorer) Score(ctx context.Context, req grading.Request) (grading.Score, error) {
	if err := ctx.Err(); err != nil {
		return grading.Score{}, err
	}
	misses, reviewFrom := s.baselineMisses, s.items-1
	if req.RuleVersion == s.patched {
		misses = s.patchedMisses
		reviewFrom = s.items - s.patchedReview
	}
	score := grading.Score{Value: 2, Confidence: 0.9}
	if req.PageIndex < misses {
		score.Value = 0
	}
	if req.PageIndex >= reviewFrom {
		score.Confidence = 0.4
	}
	return score, nil
}

type fixture struct {
	patches  patches.System
	versions versions.System
	tester   regression.System
	evalSets *regression.EvalSets
	logger   *slog.Logger
}

func newFixture(t *testing.T, scorer grading.Scorer) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var pcfg pagination.Config
	var patchCfg patches.Config
	var cfg regression.Config
	for _, err := range []error{pcfg.Finalize(nil), patchCfg.Finalize(nil), cfg.Finalize(nil)} {
		if err != nil {
			t.Fatal(err)
		}
	}

	vs := versions.New(versions.NewMemory(), logger)
	ps := patches.New(patches.NewMemory(), vs, patchCfg, logger, pcfg)
	sets := regression.NewEvalSets(storage.NewMemory(), cfg.EvalSetPrefix)
	tester := regression.New(regression.NewMemory(), ps, vs, scorer, sets, cfg, logger)

	return &fixture{patches: ps, versions: vs, tester: tester, evalSets: sets, logger: logger}
}

func evalSet(id string, n int) regression.EvalSet {
	items := make([]regression.EvalItem, n)
	for i := range items {
		items[i] = regression.EvalItem{
			ID:            fmt.Sprintf("item-%d", i),
			RubricID:      "physics-1",
			Payload:       []byte(fmt.Sprintf("page %d", i)),
			ExpectedScore: 2,
		}
	}
	return regression.EvalSet{ID: id, CreatedAt: time.Now().UTC(), Items: items}
}

func overrides(n int, reason string) []gradinglogs.GradingLog {
	logs := make([]gradinglogs.GradingLog, n)
	now := time.Now().UTC()
	for i := range logs {
		score := 2.0
		logs[i] = gradinglogs.GradingLog{
			ID:                   uuid.New(),
			SubmissionID:         fmt.Sprintf("sub-%d", i%7),
			PageIndex:            i,
			ExtractedValue:       fmt.Sprintf("%d mm", 1000+i),
			ExtractionConfidence: 0.92,
			NormalizedValue:      fmt.Sprintf("%d", 1000+i),
			MatchResult:          "mismatch",
			CreatedAt:            now,
			WasOverridden:        true,
			OverrideScore:        &score,
			OverrideReason:       &reason,
			OverriddenAt:         &now,
		}
	}
	return logs
}

func TestUnitConversionScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, versionScorer{patched: 1, items: 20, baselineMisses: 4, patchedMisses: 1, patchedReview: 1})

	var mcfg mining.Config
	if err := mcfg.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	patterns := mining.New(mcfg, f.logger).Analyze(overrides(100, "unit-conversion missed"))
	if len(patterns) != 1 || patterns[0].Frequency != 100 {
		t.Fatalf("patterns = %+v", patterns)
	}

	patch, err := f.patches.Generate(ctx, patterns[0])
	if err != nil || patch == nil {
		t.Fatalf("generate = %v, %v", patch, err)
	}

	if err := f.evalSets.Save(ctx, evalSet("units-v1", 20)); err != nil {
		t.Fatal(err)
	}

	result, err := f.tester.Run(ctx, patch.ID, "units-v1")
	if err != nil {
		t.Fatal(err)
	}

	approx := func(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
	if !approx(result.Before.MissRate, 0.20) || !approx(result.After.MissRate, 0.05) {
		t.Errorf("miss rate %.2f -> %.2f, want 0.20 -> 0.05", result.Before.MissRate, result.After.MissRate)
	}
	if !approx(result.Before.ErrorRate, result.After.ErrorRate) || !approx(result.Before.ReviewRate, result.After.ReviewRate) {
		t.Errorf("error/review changed: %+v -> %+v", result.Before, result.After)
	}
	if !result.Improvement || !regression.IsImprovement(*result) {
		t.Error("expected an improvement")
	}
	if result.BaselineVersion != versions.Baseline || result.PatchVersion != patch.Version {
		t.Errorf("versions = %d / %d", result.BaselineVersion, result.PatchVersion)
	}

	got, _ := f.patches.Find(ctx, patch.ID)
	if got.Status != patches.StatusApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}

	if _, err := f.tester.Run(ctx, patch.ID, "units-v1"); !errors.Is(err, regression.ErrAlreadyTested) {
		t.Errorf("second run err = %v, want ErrAlreadyTested", err)
	}
}

func candidate(t *testing.T, f *fixture) *patches.RulePatch {
	t.Helper()
	p, err := f.patches.Generate(context.Background(), mining.FailurePattern{
		ID:        "normalization:format_variant",
		Type:      "format_variant",
		Bucket:    mining.BucketNormalization,
		Frequency: 12,
	})
	if err != nil || p == nil {
		t.Fatalf("generate = %v, %v", p, err)
	}
	return p
}

func TestRunRejectsTradeOff(t *testing.T) {
	ctx := context.Background()
	// Fewer misses but two more low-confidence results.
	f := newFixture(t, versionScorer{patched: 1, items: 10, baselineMisses: 3, patchedMisses: 0, patchedReview: 3})
	p := candidate(t, f)
	if err := f.evalSets.Save(ctx, evalSet("fmt", 10)); err != nil {
		t.Fatal(err)
	}

	result, err := f.tester.Run(ctx, p.ID, "fmt")
	if err != nil {
		t.Fatal(err)
	}
	if result.Improvement {
		t.Errorf("trade-off counted as improvement: %+v -> %+v", result.Before, result.After)
	}
	got, _ := f.patches.Find(ctx, p.ID)
	if got.Status != patches.StatusRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, grading.Request) (grading.Score, error) {
	return grading.Score{}, errors.New("capability unavailable")
}

func TestRunCountsScoringErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, failingScorer{})
	p := candidate(t, f)
	if err := f.evalSets.Save(ctx, evalSet("fmt", 5)); err != nil {
		t.Fatal(err)
	}

	result, err := f.tester.Run(ctx, p.ID, "fmt")
	if err != nil {
		t.Fatal(err)
	}
	if result.After.ErrorRate != 1 || result.ScoredCount != 0 || result.Improvement {
		t.Errorf("result = %+v", result)
	}
}

func TestRunPreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, versionScorer{patched: 1, items: 4, baselineMisses: 1})
	p := candidate(t, f)

	if _, err := f.tester.Run(ctx, p.ID, "missing"); !errors.Is(err, regression.ErrEvalSetNotFound) {
		t.Fatalf("missing eval set err = %v", err)
	}
	if got, _ := f.patches.Find(ctx, p.ID); got.Status != patches.StatusCandidate {
		t.Errorf("status after missing eval set = %s", got.Status)
	}

	if _, err := f.tester.Run(ctx, uuid.New(), "missing"); !errors.Is(err, patches.ErrNotFound) {
		t.Errorf("unknown patch err = %v", err)
	}

	if err := f.evalSets.Save(ctx, evalSet("four", 4)); err != nil {
		t.Fatal(err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := f.tester.Run(cancelled, p.ID, "four"); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled run err = %v", err)
	}
	if got, _ := f.patches.Find(ctx, p.ID); got.Status != patches.StatusTesting {
		t.Fatalf("interrupted run left status %s", got.Status)
	}

	result, err := f.tester.Run(ctx, p.ID, "four")
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if !result.Improvement {
		t.Errorf("resumed result = %+v", result)
	}

	if _, err := f.tester.Run(ctx, p.ID, "four"); !errors.Is(err, regression.ErrAlreadyTested) {
		t.Errorf("err = %v", err)
	}
}

func TestEvalSetsAreWriteOnce(t *testing.T) {
	ctx := context.Background()
	sets := regression.NewEvalSets(storage.NewMemory(), "evalsets")

	if err := sets.Save(ctx, evalSet("golden", 3)); err != nil {
		t.Fatal(err)
	}
	if err := sets.Save(ctx, evalSet("golden", 5)); !errors.Is(err, regression.ErrEvalSetExists) {
		t.Fatalf("overwrite err = %v", err)
	}

	got, err := sets.Load(ctx, "golden")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Items) != 3 {
		t.Errorf("items = %d, want 3", len(got.Items))
	}

	for _, id := range []string{"", "../x", "a/b"} {
		if err := sets.Save(ctx, evalSet(id, 1)); !errors.Is(err, regression.ErrInvalidEvalSet) {
			t.Errorf("id %q: err = %v", id, err)
		}
	}
	if err := sets.Save(ctx, regression.EvalSet{ID: "empty"}); !errors.Is(err, regression.ErrInvalidEvalSet) {
		t.Errorf("empty set err = %v", err)
	}
}
