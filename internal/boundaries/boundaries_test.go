package boundaries_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/QWERTYjc/GradeOS-sub003/internal/boundaries"
	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
)

func page(index int, detail string) grading.PageResult {
	return grading.PageResult{PageIndex: index, Status: grading.StatusOK, Detail: detail}
}

func failed(index int) grading.PageResult {
	return grading.PageResult{PageIndex: index, Status: grading.StatusFailed, Error: "timeout"}
}

func marked(index int, key string, questions ...int) grading.PageResult {
	qs := make([]string, len(questions))
	for i, q := range questions {
		qs[i] = fmt.Sprint(q)
	}
	return page(index, fmt.Sprintf(`{"student_key":%q,"question_numbers":[%s]}`, key, strings.Join(qs, ",")))
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name           string
		pages          []grading.PageResult
		wantBoundaries []boundaries.Boundary
		wantUnassigned []int
	}{
		{
			name: "markers and sequence agree",
			pages: []grading.PageResult{
				marked(0, "s1", 1), marked(1, "s1", 2),
				marked(2, "s2", 1), marked(3, "s2", 2),
			},
			wantBoundaries: []boundaries.Boundary{
				{StudentKey: "s1", StartPage: 0, EndPage: 1, Confidence: 1},
				{StudentKey: "s2", StartPage: 2, EndPage: 3, Confidence: 1},
			},
			wantUnassigned: []int{},
		},
		{
			name: "marker only",
			pages: []grading.PageResult{
				marked(0, "s1"), marked(1, "s2"),
			},
			wantBoundaries: []boundaries.Boundary{
				{StudentKey: "s1", StartPage: 0, EndPage: 0, Confidence: 0.9},
				{StudentKey: "s2", StartPage: 1, EndPage: 1, Confidence: 0.9},
			},
			wantUnassigned: []int{},
		},
		{
			name: "marker change without sequence restart",
			pages: []grading.PageResult{
				marked(0, "s1", 1, 2), marked(1, "s2", 3),
			},
			wantBoundaries: []boundaries.Boundary{
				{StudentKey: "s1", StartPage: 0, EndPage: 0, Confidence: 1},
				{StudentKey: "s2", StartPage: 1, EndPage: 1, Confidence: 0.7, NeedsConfirmation: true},
			},
			wantUnassigned: []int{},
		},
		{
			name: "sequence restart only",
			pages: []grading.PageResult{
				page(0, `{"question_numbers":[1,2]}`),
				page(1, `{"question_numbers":[3]}`),
				page(2, "```json\n{\"question_numbers\":[1]}\n```"),
			},
			wantBoundaries: []boundaries.Boundary{
				{StudentKey: "unknown-1", StartPage: 0, EndPage: 1, Confidence: 0.6, NeedsConfirmation: true},
				{StudentKey: "unknown-2", StartPage: 2, EndPage: 2, Confidence: 0.6, NeedsConfirmation: true},
			},
			wantUnassigned: []int{},
		},
		{
			name: "same marker with sequence restart",
			pages: []grading.PageResult{
				marked(0, "s1", 1), marked(1, "s1", 2), marked(2, "s1", 1),
			},
			wantBoundaries: []boundaries.Boundary{
				{StudentKey: "s1", StartPage: 0, EndPage: 2, Confidence: 0.7, NeedsConfirmation: true},
			},
			wantUnassigned: []int{},
		},
		{
			name: "failed pages inside, before, between, and after",
			pages: []grading.PageResult{
				failed(0),
				marked(1, "s1", 1), failed(2), marked(3, "s1", 3),
				failed(4),
				marked(5, "s2", 1),
				failed(6),
			},
			wantBoundaries: []boundaries.Boundary{
				{StudentKey: "s1", StartPage: 1, EndPage: 3, Confidence: 1},
				{StudentKey: "s2", StartPage: 5, EndPage: 5, Confidence: 1},
			},
			wantUnassigned: []int{0, 4, 6},
		},
		{
			name:           "nothing scored",
			pages:          []grading.PageResult{failed(0), failed(1)},
			wantBoundaries: []boundaries.Boundary{},
			wantUnassigned: []int{0, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := boundaries.Detect(tt.pages)
			if diff := cmp.Diff(tt.wantBoundaries, got.Boundaries); diff != "" {
				t.Errorf("boundaries (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantUnassigned, got.Unassigned); diff != "" {
				t.Errorf("unassigned (-want +got):\n%s", diff)
			}
		})
	}
}

// TestDetectInvariants runs randomized inputs through Detect and checks that
// boundaries never overlap, stay ordered, cover each page at most once, and
// flag exactly the low-confidence ones.
func TestDetectInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	keys := []string{"", "s1", "s2", "s3"}

	for iter := range 500 {
		n := 1 + rng.IntN(30)
		pages := make([]grading.PageResult, n)
		for i := range pages {
			switch rng.IntN(5) {
			case 0:
				pages[i] = failed(i)
			case 1:
				pages[i] = page(i, "not json")
			default:
				pages[i] = marked(i, keys[rng.IntN(len(keys))], 1+rng.IntN(6))
			}
		}

		got := boundaries.Detect(pages)

		seen := make(map[int]bool)
		prevEnd := -1
		for _, b := range got.Boundaries {
			if b.StartPage > b.EndPage {
				t.Fatalf("iter %d: start %d > end %d", iter, b.StartPage, b.EndPage)
			}
			if b.StartPage <= prevEnd {
				t.Fatalf("iter %d: boundary starting %d overlaps previous ending %d", iter, b.StartPage, prevEnd)
			}
			prevEnd = b.EndPage
			if b.NeedsConfirmation != (b.Confidence < boundaries.ConfirmationThreshold) {
				t.Fatalf("iter %d: confidence %.2f with needs_confirmation=%v", iter, b.Confidence, b.NeedsConfirmation)
			}
			for p := b.StartPage; p <= b.EndPage; p++ {
				seen[p] = true
			}
		}
		for _, p := range got.Unassigned {
			if seen[p] {
				t.Fatalf("iter %d: page %d both assigned and unassigned", iter, p)
			}
			seen[p] = true
		}
		if len(seen) != n {
			t.Fatalf("iter %d: %d of %d pages accounted for", iter, len(seen), n)
		}
	}
}

// markerScorer reports a student change at page 12 and fails page 15.
type markerScorer struct{}

func (markerScorer) Score(_ context.Context, req grading.Request) (grading.Score, error) {
	if req.PageIndex == 15 {
		return grading.Score{}, fmt.Errorf("scoring error on page 15")
	}
	key, question := "student-a", req.PageIndex+1
	if req.PageIndex >= 12 {
		key, question = "student-b", req.PageIndex-11
	}
	return grading.Score{
		Value:      1,
		Confidence: 0.95,
		Detail:     fmt.Sprintf(`{"student_key":%q,"question_numbers":[%d]}`, key, question),
	}, nil
}

type fixedResolver struct{}

func (fixedResolver) Resolve(context.Context, string) (grading.Resolution, error) {
	return grading.Resolution{Version: 1}, nil
}

func TestScenarioTwentyThreePages(t *testing.T) {
	var cfg grading.Config
	if err := cfg.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	p := grading.NewProcessor(grading.Deps{Scorer: markerScorer{}, Resolver: fixedResolver{}}, cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	pages := make([][]byte, 23)
	for i := range pages {
		pages[i] = []byte{byte(i)}
	}
	result, err := p.Process(context.Background(), grading.Submission{ID: "exam-7", Pages: pages})
	if err != nil {
		t.Fatal(err)
	}

	sizes := make([]int, len(result.Batches))
	for i, b := range result.Batches {
		sizes[i] = len(b.Pages)
	}
	if diff := cmp.Diff([]int{10, 10, 3}, sizes); diff != "" {
		t.Errorf("batch sizes (-want +got):\n%s", diff)
	}
	if b := result.Batches[1]; b.SuccessCount != 9 || b.FailureCount != 1 {
		t.Errorf("batch 1 = %d ok / %d failed", b.SuccessCount, b.FailureCount)
	}

	got := boundaries.Detect(result.Pages)
	want := []boundaries.Boundary{
		{StudentKey: "student-a", StartPage: 0, EndPage: 11, Confidence: 1},
		{StudentKey: "student-b", StartPage: 12, EndPage: 22, Confidence: 1},
	}
	if diff := cmp.Diff(want, got.Boundaries); diff != "" {
		t.Errorf("boundaries (-want +got):\n%s", diff)
	}
	if len(got.Unassigned) != 0 {
		t.Errorf("unassigned = %v", got.Unassigned)
	}
}
