package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/QWERTYjc/GradeOS-sub003/internal/deployments"
	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
	"github.com/QWERTYjc/GradeOS-sub003/internal/gradinglogs"
	"github.com/QWERTYjc/GradeOS-sub003/internal/mining"
	"github.com/QWERTYjc/GradeOS-sub003/internal/patches"
	"github.com/QWERTYjc/GradeOS-sub003/internal/pipeline"
	"github.com/QWERTYjc/GradeOS-sub003/internal/regression"
	"github.com/QWERTYjc/GradeOS-sub003/internal/versions"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/lifecycle"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/pagination"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// patchedScorer misses the first four eval items except under the patched
// version, where it misses only the first.
type patchedScorer struct {
	patched int64
}

func (s patchedScorer) Score(_ context.Context, req grading.Request) (grading.Score, error) {
	misses := 4
	if req.RuleVersion == s.patched {
		misses = 1
	}
	if req.PageIndex < misses {
		return grading.Score{Value: 0, Confidence: 0.9}, nil
	}
	return grading.Score{Value: 2, Confidence: 0.9}, nil
}

type fixture struct {
	logs     *gradinglogs.Memory
	journal  gradinglogs.System
	versions versions.System
	patches  patches.System
	evalSets *regression.EvalSets
	deployer deployments.System
	logger   *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var (
		pcfg     pagination.Config
		logCfg   gradinglogs.Config
		patchCfg patches.Config
		regCfg   regression.Config
		depCfg   deployments.Config
	)
	for _, err := range []error{
		pcfg.Finalize(nil), logCfg.Finalize(nil), patchCfg.Finalize(nil),
		regCfg.Finalize(nil), depCfg.Finalize(nil),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}

	logs := gradinglogs.NewMemory()
	vs := versions.New(versions.NewMemory(), logger)
	ps := patches.New(patches.NewMemory(), vs, patchCfg, logger, pcfg)
	sets := regression.NewEvalSets(storage.NewMemory(), regCfg.EvalSetPrefix)

	return &fixture{
		logs:     logs,
		journal:  gradinglogs.New(logs, logCfg, logger, pcfg),
		versions: vs,
		patches:  ps,
		evalSets: sets,
		deployer: deployments.New(ps, vs, depCfg, logger),
		logger:   logger,
	}
}

func (f *fixture) pipeline(t *testing.T, cfg pipeline.Config) pipeline.System {
	t.Helper()
	if err := cfg.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	var mcfg mining.Config
	var regCfg regression.Config
	if err := mcfg.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	if err := regCfg.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	tester := regression.New(regression.NewMemory(), f.patches, f.versions, patchedScorer{patched: 1}, f.evalSets, regCfg, f.logger)
	return pipeline.New(f.journal, mining.New(mcfg, f.logger), f.patches, tester, f.deployer, cfg, f.logger)
}

func (f *fixture) override(t *testing.T, n int, reason string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	for i := range n {
		score := 2.0
		l := gradinglogs.GradingLog{
			ID:                   uuid.New(),
			SubmissionID:         fmt.Sprintf("sub-%d", i%9),
			PageIndex:            i,
			RubricID:             "physics-1",
			ExtractedValue:       fmt.Sprintf("%d mm", 200+i),
			ExtractionConfidence: 0.95,
			NormalizedValue:      fmt.Sprintf("%d", 200+i),
			MatchResult:          "mismatch",
			CreatedAt:            now,
			WasOverridden:        true,
			OverrideScore:        &score,
			OverrideReason:       &reason,
			OverriddenAt:         &now,
		}
		if err := f.logs.Insert(ctx, l); err != nil {
			t.Fatal(err)
		}
	}
}

func (f *fixture) saveEvalSet(t *testing.T, id string) {
	t.Helper()
	items := make([]regression.EvalItem, 20)
	for i := range items {
		items[i] = regression.EvalItem{
			ID:            fmt.Sprintf("item-%d", i),
			RubricID:      "physics-1",
			Payload:       []byte(fmt.Sprintf("page %d", i)),
			ExpectedScore: 2,
		}
	}
	set := regression.EvalSet{ID: id, CreatedAt: time.Now().UTC(), Items: items}
	if err := f.evalSets.Save(context.Background(), set); err != nil {
		t.Fatal(err)
	}
}

func TestRunOnceCarriesPatternToCanary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.override(t, 100, "unit-conversion missed")
	f.saveEvalSet(t, "default")

	p := f.pipeline(t, pipeline.Config{AutoCanary: true, CanaryFraction: 0.2})
	report, err := p.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if report.Sampled != 100 || !report.Sufficient {
		t.Errorf("sampled %d sufficient %v", report.Sampled, report.Sufficient)
	}
	if len(report.Patterns) != 1 || report.Patterns[0].Frequency != 100 {
		t.Fatalf("patterns = %+v", report.Patterns)
	}
	if len(report.Generated) != 1 || len(report.Results) != 1 || !report.Results[0].Improvement {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Canaries) != 1 || report.Canaries[0].TrafficFraction != 0.2 {
		t.Fatalf("canaries = %+v", report.Canaries)
	}

	patch, _ := f.patches.Find(ctx, report.Generated[0])
	if patch.Status != patches.StatusCanary {
		t.Errorf("patch status = %s", patch.Status)
	}
	if c, ok := f.deployer.Current(); !ok || c.PatchID != patch.ID {
		t.Error("deployer has no canary for the patch")
	}

	again, err := p.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Generated) != 0 || len(again.Results) != 0 || len(again.Canaries) != 0 {
		t.Errorf("second run repeated work: %+v", again)
	}

	last, err := p.Last()
	if err != nil || !last.StartedAt.Equal(again.StartedAt) {
		t.Errorf("last = %+v, %v", last, err)
	}
}

func TestRunOnceInsufficientWindow(t *testing.T) {
	f := newFixture(t)
	f.override(t, 99, "unit-conversion missed")

	p := f.pipeline(t, pipeline.Config{})
	if _, err := p.Last(); !errors.Is(err, pipeline.ErrNoRun) {
		t.Errorf("last before run err = %v", err)
	}

	report, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Sufficient || len(report.Patterns) != 0 || len(report.Generated) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestRunOnceResumesUntestedCandidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.override(t, 100, "unit-conversion missed")

	p := f.pipeline(t, pipeline.Config{EvalSet: "units"})
	first, err := p.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Generated) != 1 || len(first.Results) != 0 {
		t.Fatalf("first = %+v", first)
	}
	id := first.Generated[0]
	if _, ok := first.Errors[id.String()]; !ok {
		t.Errorf("missing eval set not reported: %v", first.Errors)
	}
	patch, _ := f.patches.Find(ctx, id)
	if patch.Status != patches.StatusCandidate {
		t.Fatalf("status = %s, want candidate", patch.Status)
	}

	f.saveEvalSet(t, "units")
	second, err := p.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Generated) != 0 || len(second.Results) != 1 || second.Results[0].PatchID != id {
		t.Fatalf("second = %+v", second)
	}
	patch, _ = f.patches.Find(ctx, id)
	if patch.Status != patches.StatusApproved {
		t.Errorf("status = %s, want approved", patch.Status)
	}
}

type blockingSampler struct {
	entered chan struct{}
	release chan struct{}
}

func (b blockingSampler) OverrideSamples(ctx context.Context, minCount int, _ time.Duration) (gradinglogs.SampleSet, error) {
	close(b.entered)
	<-b.release
	return gradinglogs.SampleSet{MinCount: minCount}, nil
}

type noPatches struct{}

func (noPatches) Generate(context.Context, mining.FailurePattern) (*patches.RulePatch, error) {
	return nil, nil
}

func (noPatches) WithStatus(context.Context, patches.Status) ([]patches.RulePatch, error) {
	return nil, nil
}

func TestRunOnceRejectsOverlap(t *testing.T) {
	var cfg pipeline.Config
	var mcfg mining.Config
	_ = cfg.Finalize(nil)
	_ = mcfg.Finalize(nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sampler := blockingSampler{entered: make(chan struct{}), release: make(chan struct{})}
	p := pipeline.New(sampler, mining.New(mcfg, logger), noPatches{}, nil, nil, cfg, logger)

	done := make(chan error, 1)
	go func() {
		_, err := p.RunOnce(context.Background())
		done <- err
	}()
	<-sampler.entered

	if _, err := p.RunOnce(context.Background()); !errors.Is(err, pipeline.ErrRunInProgress) {
		t.Errorf("overlapping run err = %v", err)
	}
	close(sampler.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestStartRunsOnInterval(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, pipeline.Config{Enabled: true, Interval: "5ms"})

	lc := lifecycle.New()
	if err := p.Start(lc); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := p.Last(); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := p.Last(); err != nil {
		t.Error("loop never ran")
	}

	if err := lc.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     pipeline.Config
		wantErr bool
	}{
		{"defaults", pipeline.Config{}, false},
		{"bad interval", pipeline.Config{Interval: "soon"}, true},
		{"fraction above one", pipeline.Config{CanaryFraction: 1.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Finalize(nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	t.Setenv("GRADEOS_PIPELINE_AUTO_CANARY", "true")
	cfg := pipeline.Config{}
	if err := cfg.Finalize(&pipeline.Env{AutoCanary: "GRADEOS_PIPELINE_AUTO_CANARY"}); err != nil {
		t.Fatal(err)
	}
	if !cfg.AutoCanary || cfg.EvalSet != "default" {
		t.Errorf("cfg = %+v", cfg)
	}
}
