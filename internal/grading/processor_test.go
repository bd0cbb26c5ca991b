package grading_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
	"github.com/QWERTYjc/GradeOS-sub003/internal/gradinglogs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedScorer fails the pages in fail, panics on the pages in panics, and
// blocks until cancellation on the pages in hang.
type scriptedScorer struct {
	fail   map[int]bool
	panics map[int]bool
	hang   map[int]bool
	calls  atomic.Int32
}

func (s *scriptedScorer) Score(ctx context.Context, req grading.Request) (grading.Score, error) {
	s.calls.Add(1)
	switch {
	case s.fail[req.PageIndex]:
		return grading.Score{}, fmt.Errorf("scoring capability error on page %d", req.PageIndex)
	case s.panics[req.PageIndex]:
		panic("malformed output")
	case s.hang[req.PageIndex]:
		<-ctx.Done()
		return grading.Score{}, ctx.Err()
	}
	return grading.Score{
		Value:          float64(req.PageIndex % 5),
		Confidence:     0.9,
		ReasoningTrace: "ok",
		Detail:         fmt.Sprintf(`{"rule_version":%d}`, req.RuleVersion),
	}, nil
}

type countingResolver struct {
	calls   atomic.Int32
	version atomic.Int64
}

func (r *countingResolver) Resolve(context.Context, string) (grading.Resolution, error) {
	r.calls.Add(1)
	return grading.Resolution{Version: r.version.Add(1)}, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []grading.BatchEvent
}

func (o *recordingObserver) Publish(_ context.Context, e grading.BatchEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
	return nil
}

type recordingJournal struct {
	mu       sync.Mutex
	versions map[int64]int
}

func (j *recordingJournal) Log(_ context.Context, e gradinglogs.Entry) (uuid.UUID, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.versions == nil {
		j.versions = make(map[int64]int)
	}
	j.versions[e.RuleVersion]++
	return uuid.New(), nil
}

type signalCounter struct {
	mu     sync.Mutex
	failed int
	total  int
}

func (s *signalCounter) Observe(_ int64, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if failed {
		s.failed++
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newProcessor(t *testing.T, deps grading.Deps, cfg grading.Config) *grading.Processor {
	t.Helper()
	if deps.Resolver == nil {
		deps.Resolver = &countingResolver{}
	}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return grading.NewProcessor(deps, cfg, discard())
}

func submission(n int) grading.Submission {
	pages := make([][]byte, n)
	for i := range pages {
		pages[i] = []byte(fmt.Sprintf("page-%d", i))
	}
	return grading.Submission{ID: "sub-1", RubricID: "rubric-1", Pages: pages}
}

func TestPartition(t *testing.T) {
	for n := 0; n <= 35; n++ {
		items := make([]int, n)
		for i := range items {
			items[i] = i
		}

		groups := grading.Partition(items, grading.MaxBatchSize)

		total, next := 0, 0
		for gi, g := range groups {
			if len(g) == 0 || len(g) > grading.MaxBatchSize {
				t.Fatalf("n=%d group %d has %d items", n, gi, len(g))
			}
			for _, v := range g {
				if v != next {
					t.Fatalf("n=%d order broken at %d: got %d", n, next, v)
				}
				next++
			}
			total += len(g)
		}
		if total != n {
			t.Errorf("n=%d: sum of group sizes = %d", n, total)
		}
	}
}

func TestProcessBatchesAndFaultTolerance(t *testing.T) {
	tests := []struct {
		name      string
		pages     int
		fail      map[int]bool
		wantSizes []int
	}{
		{"23 pages with page 15 failing", 23, map[int]bool{15: true}, []int{10, 10, 3}},
		{"every page failing", 7, map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true, 5: true, 6: true}, []int{7}},
		{"exact multiple", 20, nil, []int{10, 10}},
		{"single page", 1, nil, []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProcessor(t, grading.Deps{Scorer: &scriptedScorer{fail: tt.fail}}, grading.Config{})

			result, err := p.Process(context.Background(), submission(tt.pages))
			if err != nil {
				t.Fatalf("Process: %v", err)
			}

			if len(result.Batches) != len(tt.wantSizes) {
				t.Fatalf("batches = %d, want %d", len(result.Batches), len(tt.wantSizes))
			}
			for i, b := range result.Batches {
				if b.Index != i || len(b.Pages) != tt.wantSizes[i] {
					t.Errorf("batch %d: index %d size %d, want size %d", i, b.Index, len(b.Pages), tt.wantSizes[i])
				}
				if b.SuccessCount+b.FailureCount != len(b.Pages) {
					t.Errorf("batch %d totals do not cover its pages", i)
				}
			}

			if len(result.Pages) != tt.pages {
				t.Fatalf("page results = %d, want %d", len(result.Pages), tt.pages)
			}
			for i, pr := range result.Pages {
				if pr.PageIndex != i {
					t.Errorf("result %d has page index %d", i, pr.PageIndex)
				}
				wantFailed := tt.fail[i]
				if (pr.Status == grading.StatusFailed) != wantFailed {
					t.Errorf("page %d status = %s", i, pr.Status)
				}
				if wantFailed && pr.Error == "" {
					t.Errorf("failed page %d has no error payload", i)
				}
			}

			if result.SuccessCount+result.FailureCount != tt.pages {
				t.Errorf("totals = %d + %d", result.SuccessCount, result.FailureCount)
			}
			if result.FailureCount != len(tt.fail) {
				t.Errorf("FailureCount = %d, want %d", result.FailureCount, len(tt.fail))
			}
		})
	}
}

func TestScenarioBatchTwoKeepsAllResults(t *testing.T) {
	p := newProcessor(t, grading.Deps{Scorer: &scriptedScorer{fail: map[int]bool{15: true}}}, grading.Config{})

	result, err := p.Process(context.Background(), submission(23))
	if err != nil {
		t.Fatal(err)
	}

	var inBatch, failed int
	for _, pr := range result.Pages {
		if pr.BatchIndex == 1 {
			inBatch++
			if pr.Status == grading.StatusFailed {
				failed++
			}
		}
	}
	if inBatch != 10 || failed != 1 {
		t.Errorf("batch 1: %d results, %d failed; want 10 and 1", inBatch, failed)
	}
}

func TestPanicsAndTimeoutsBecomeFailedPages(t *testing.T) {
	scorer := &scriptedScorer{panics: map[int]bool{1: true}, hang: map[int]bool{3: true}}
	p := newProcessor(t, grading.Deps{Scorer: scorer}, grading.Config{PageTimeout: "20ms"})

	result, err := p.Process(context.Background(), submission(5))
	if err != nil {
		t.Fatal(err)
	}

	for i, pr := range result.Pages {
		want := grading.StatusOK
		if i == 1 || i == 3 {
			want = grading.StatusFailed
		}
		if pr.Status != want {
			t.Errorf("page %d: status %s, want %s (%s)", i, pr.Status, want, pr.Error)
		}
	}
}

func TestVersionResolvedOncePerSubmission(t *testing.T) {
	resolver := &countingResolver{}
	journal := &recordingJournal{}
	p := newProcessor(t, grading.Deps{
		Scorer:   &scriptedScorer{},
		Resolver: resolver,
		Journal:  journal,
	}, grading.Config{MaxConcurrentBatches: 3})

	result, err := p.Process(context.Background(), submission(25))
	if err != nil {
		t.Fatal(err)
	}

	if got := resolver.calls.Load(); got != 1 {
		t.Errorf("resolver calls = %d, want 1", got)
	}
	if len(journal.versions) != 1 || journal.versions[result.RuleVersion] != 25 {
		t.Errorf("logged versions = %v, want all 25 under %d", journal.versions, result.RuleVersion)
	}
	for _, b := range result.Batches {
		if b.RuleVersion != result.RuleVersion {
			t.Errorf("batch %d version %d, want %d", b.Index, b.RuleVersion, result.RuleVersion)
		}
	}
	for _, pr := range result.Pages {
		if pr.LogID == nil {
			t.Errorf("page %d has no log id", pr.PageIndex)
		}
	}
}

func TestBatchEventSequence(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			observer := &recordingObserver{}
			p := newProcessor(t, grading.Deps{Scorer: &scriptedScorer{}, Observer: observer},
				grading.Config{MaxConcurrentBatches: concurrency})

			result, err := p.Process(context.Background(), submission(30))
			if err != nil {
				t.Fatal(err)
			}

			if len(observer.events) != 3 {
				t.Fatalf("events = %d, want 3", len(observer.events))
			}
			for i, e := range observer.events {
				if e.Sequence != int64(i+1) {
					t.Errorf("event %d sequence = %d", i, e.Sequence)
				}
				if e.StreamID != result.StreamID {
					t.Errorf("event %d stream = %s", i, e.StreamID)
				}
			}
			if result.LastSequence != 3 {
				t.Errorf("LastSequence = %d", result.LastSequence)
			}
		})
	}
}

func TestRetryBatch(t *testing.T) {
	scorer := &scriptedScorer{fail: map[int]bool{15: true}}
	observer := &recordingObserver{}
	p := newProcessor(t, grading.Deps{Scorer: scorer, Observer: observer}, grading.Config{})
	sub := submission(23)

	first, err := p.Process(context.Background(), sub)
	if err != nil {
		t.Fatal(err)
	}
	if first.FailureCount != 1 {
		t.Fatalf("FailureCount = %d", first.FailureCount)
	}

	scorer.fail = nil
	retried, err := p.RetryBatch(context.Background(), sub, first, 1)
	if err != nil {
		t.Fatalf("RetryBatch: %v", err)
	}

	if retried.FailureCount != 0 || retried.SuccessCount != 23 {
		t.Errorf("after retry: %d ok, %d failed", retried.SuccessCount, retried.FailureCount)
	}
	if retried.RuleVersion != first.RuleVersion {
		t.Errorf("retry changed rule version %d -> %d", first.RuleVersion, retried.RuleVersion)
	}
	if retried.LastSequence != 4 || retried.Batches[1].Sequence != 4 {
		t.Errorf("retry sequence = %d", retried.LastSequence)
	}
	if first.Pages[15].Status != grading.StatusFailed {
		t.Error("RetryBatch mutated the previous result")
	}

	if _, err := p.RetryBatch(context.Background(), sub, first, 7); !errors.Is(err, grading.ErrInvalidBatch) {
		t.Errorf("out of range err = %v", err)
	}
}

func TestRetryBatchRejectsInconsistentResult(t *testing.T) {
	p := newProcessor(t, grading.Deps{Scorer: &scriptedScorer{}}, grading.Config{})
	sub := submission(3)
	ok := func(i, b int) grading.PageResult {
		return grading.PageResult{PageIndex: i, BatchIndex: b, Status: grading.StatusOK}
	}

	tests := []struct {
		name string
		prev *grading.Result
	}{
		{"missing result", nil},
		{"short page list", &grading.Result{
			Batches: []grading.Batch{{Pages: []int{0, 1, 2}}},
			Pages:   []grading.PageResult{ok(0, 0)},
		}},
		{"page outside submission", &grading.Result{
			Batches: []grading.Batch{{Pages: []int{0, 1, 5}}},
			Pages:   []grading.PageResult{ok(0, 0), ok(1, 0), ok(2, 0)},
		}},
		{"negative page", &grading.Result{
			Batches: []grading.Batch{{Pages: []int{-1, 1, 2}}},
			Pages:   []grading.PageResult{ok(0, 0), ok(1, 0), ok(2, 0)},
		}},
		{"page in two batches", &grading.Result{
			Batches: []grading.Batch{{Pages: []int{0, 1}}, {Pages: []int{1, 2}}},
			Pages:   []grading.PageResult{ok(0, 0), ok(1, 0), ok(2, 1)},
		}},
		{"page in no batch", &grading.Result{
			Batches: []grading.Batch{{Pages: []int{0, 1}}},
			Pages:   []grading.PageResult{ok(0, 0), ok(1, 0), ok(2, 0)},
		}},
		{"batch index out of range", &grading.Result{
			Batches: []grading.Batch{{Pages: []int{0, 1, 2}}},
			Pages:   []grading.PageResult{ok(0, 0), ok(1, 0), ok(2, 4)},
		}},
		{"page index mismatch", &grading.Result{
			Batches: []grading.Batch{{Pages: []int{0, 1, 2}}},
			Pages:   []grading.PageResult{ok(0, 0), ok(2, 0), ok(1, 0)},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.RetryBatch(context.Background(), sub, tt.prev, 0)
			if !errors.Is(err, grading.ErrInvalidBatch) {
				t.Fatalf("err = %v, want ErrInvalidBatch", err)
			}
			if got := grading.MapHTTPStatus(err); got != 400 {
				t.Errorf("status = %d, want 400", got)
			}
		})
	}
}

func TestSignalsCoverEveryPage(t *testing.T) {
	signals := &signalCounter{}
	p := newProcessor(t, grading.Deps{
		Scorer:  &scriptedScorer{fail: map[int]bool{2: true, 4: true}},
		Signals: signals,
	}, grading.Config{})

	if _, err := p.Process(context.Background(), submission(12)); err != nil {
		t.Fatal(err)
	}
	if signals.total != 12 || signals.failed != 2 {
		t.Errorf("signals total=%d failed=%d", signals.total, signals.failed)
	}
}

func TestProcessErrors(t *testing.T) {
	p := newProcessor(t, grading.Deps{Scorer: &scriptedScorer{}}, grading.Config{})
	if _, err := p.Process(context.Background(), grading.Submission{ID: "empty"}); !errors.Is(err, grading.ErrEmptySubmission) {
		t.Errorf("err = %v, want ErrEmptySubmission", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     grading.Config
		wantErr bool
	}{
		{"defaults", grading.Config{}, false},
		{"batch too large", grading.Config{BatchSize: 11}, true},
		{"bad timeout", grading.Config{PageTimeout: "soon"}, true},
		{"negative rate", grading.Config{RateLimit: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Finalize(nil); (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigRateBurstFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		burst   string
		rate    float64
		wantErr bool
	}{
		{"zero burst with rate limit", "0", 5, true},
		{"negative burst with rate limit", "-2", 5, true},
		{"zero burst without rate limit", "0", 0, false},
		{"positive burst", "3", 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GRADEOS_TEST_RATE_BURST", tt.burst)
			cfg := grading.Config{RateLimit: tt.rate}
			err := cfg.Finalize(&grading.Env{RateBurst: "GRADEOS_TEST_RATE_BURST"})
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type versionContext struct{}

func (versionContext) BuildContext(_ context.Context, req grading.Request) (string, error) {
	if req.RuleVersion == 0 {
		return "", nil
	}
	return fmt.Sprintf("rules v%d", req.RuleVersion), nil
}

type echoScorer struct {
	seen []string
}

func (e *echoScorer) Score(_ context.Context, req grading.Request) (grading.Score, error) {
	e.seen = append(e.seen, req.Context)
	return grading.Score{Value: 1, Confidence: 1}, nil
}

func TestWithRuleContext(t *testing.T) {
	echo := &echoScorer{}
	s := grading.WithRuleContext(echo, versionContext{})

	for _, req := range []grading.Request{
		{RuleVersion: 0, Context: "item"},
		{RuleVersion: 3},
		{RuleVersion: 3, Context: "item"},
	} {
		if _, err := s.Score(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{"item", "rules v3", "rules v3\n\nitem"}
	if diff := cmp.Diff(want, echo.seen); diff != "" {
		t.Errorf("contexts (-want +got):\n%s", diff)
	}
}
