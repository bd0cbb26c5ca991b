// Package grading runs a submission's pages through the scoring capability in
// fixed-size parallel batches. Page failures are recorded in the page's result
// and never abort the batch or the submission.
package grading

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxBatchSize is the upper bound on pages scored in one parallel group.
const MaxBatchSize = 10

// Status is the terminal outcome of scoring one page.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Submission is an ordered list of opaque page payloads graded against one rubric.
// Page indices are positions in Pages.
type Submission struct {
	ID         string   `json:"id"`
	RubricID   string   `json:"rubric_id"`
	Pages      [][]byte `json:"pages"`
	RoutingKey string   `json:"routing_key,omitempty"`
}

func (s Submission) routingKey() string {
	if s.RoutingKey != "" {
		return s.RoutingKey
	}
	return s.ID
}

// Request is one call to the scoring capability.
type Request struct {
	SubmissionID string `json:"submission_id"`
	PageIndex    int    `json:"page_index"`
	Payload      []byte `json:"payload"`
	RubricID     string `json:"rubric_id"`
	RuleVersion  int64  `json:"rule_version"`
	Context      string `json:"context,omitempty"`
}

// Score is the scoring capability's answer for one page. Only Value,
// Confidence, and ReasoningTrace are required; the extraction fields feed the
// grading log when the capability reports them.
type Score struct {
	Value                float64 `json:"score"`
	Confidence           float64 `json:"confidence"`
	ReasoningTrace       string  `json:"reasoning_trace"`
	ExtractedValue       string  `json:"extracted_value,omitempty"`
	ExtractionConfidence float64 `json:"extraction_confidence,omitempty"`
	NormalizedValue      string  `json:"normalized_value,omitempty"`
	MatchResult          string  `json:"match_result,omitempty"`
	Detail               string  `json:"detail,omitempty"`
}

// Scorer is the opaque per-page scoring capability.
type Scorer interface {
	Score(ctx context.Context, req Request) (Score, error)
}

// ContextBuilder supplies rule-version-specific context for a page.
type ContextBuilder interface {
	BuildContext(ctx context.Context, req Request) (string, error)
}

// WithRuleContext returns a Scorer that prefixes each request's context with
// the context built for its rule version. Callers outside the Processor use
// it so replays see the same rules live grading does.
func WithRuleContext(s Scorer, b ContextBuilder) Scorer {
	return ruleContextScorer{scorer: s, builder: b}
}

type ruleContextScorer struct {
	scorer  Scorer
	builder ContextBuilder
}

func (r ruleContextScorer) Score(ctx context.Context, req Request) (Score, error) {
	rules, err := r.builder.BuildContext(ctx, req)
	if err != nil {
		return Score{}, fmt.Errorf("build context: %w", err)
	}
	switch {
	case rules == "":
	case req.Context == "":
		req.Context = rules
	default:
		req.Context = rules + "\n\n" + req.Context
	}
	return r.scorer.Score(ctx, req)
}

// Resolution is the rule version a submission is graded under.
type Resolution struct {
	Version      int64      `json:"version"`
	Canary       bool       `json:"canary"`
	DeploymentID *uuid.UUID `json:"deployment_id,omitempty"`
}

// VersionResolver picks the rule version for a routing key.
type VersionResolver interface {
	Resolve(ctx context.Context, routingKey string) (Resolution, error)
}

// SignalSink receives the live per-page error signal for a rule version.
type SignalSink interface {
	Observe(version int64, failed bool)
}

// Observer receives one event per completed batch.
type Observer interface {
	Publish(ctx context.Context, event BatchEvent) error
}

// BatchEvent summarizes a completed batch. Sequence increases by one per
// event within a stream.
type BatchEvent struct {
	StreamID     string    `json:"stream_id"`
	Sequence     int64     `json:"sequence"`
	BatchIndex   int       `json:"batch_index"`
	RuleVersion  int64     `json:"rule_version"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Batch is one fixed-size group of pages scored together.
type Batch struct {
	Index        int   `json:"batch_index"`
	Pages        []int `json:"pages"`
	RuleVersion  int64 `json:"rule_version"`
	SuccessCount int   `json:"success_count"`
	FailureCount int   `json:"failure_count"`
	Sequence     int64 `json:"sequence"`
}

// PageResult is present for every page. Failed pages carry Error.
type PageResult struct {
	PageIndex      int        `json:"page_index"`
	BatchIndex     int        `json:"batch_index"`
	Status         Status     `json:"status"`
	Score          float64    `json:"score"`
	Confidence     float64    `json:"confidence"`
	ReasoningTrace string     `json:"reasoning_trace,omitempty"`
	Detail         string     `json:"detail,omitempty"`
	Error          string     `json:"error,omitempty"`
	LogID          *uuid.UUID `json:"log_id,omitempty"`
}

// Result is the complete outcome of grading a submission.
type Result struct {
	SubmissionID string       `json:"submission_id"`
	StreamID     string       `json:"stream_id"`
	RuleVersion  int64        `json:"rule_version"`
	Canary       bool         `json:"canary"`
	Batches      []Batch      `json:"batches"`
	Pages        []PageResult `json:"pages"`
	SuccessCount int          `json:"success_count"`
	FailureCount int          `json:"failure_count"`
	LastSequence int64        `json:"last_sequence"`
}

// Partition splits items into ordered groups of at most size.
// A non-positive size yields a single group.
func Partition[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}

	groups := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		groups = append(groups, items[start:end:end])
	}
	return groups
}

// matches checks that r is a complete result for sub: one page result per
// page at its own index, and batches that cover every page exactly once.
func (r *Result) matches(sub Submission) error {
	if len(r.Pages) != len(sub.Pages) {
		return fmt.Errorf("%w: result has %d pages, submission %d", ErrInvalidBatch, len(r.Pages), len(sub.Pages))
	}
	owner := make([]int, len(r.Pages))
	for i := range owner {
		owner[i] = -1
	}
	for bi, b := range r.Batches {
		for _, pi := range b.Pages {
			if pi < 0 || pi >= len(owner) {
				return fmt.Errorf("%w: batch %d names page %d", ErrInvalidBatch, bi, pi)
			}
			if owner[pi] != -1 {
				return fmt.Errorf("%w: page %d in batches %d and %d", ErrInvalidBatch, pi, owner[pi], bi)
			}
			owner[pi] = bi
		}
	}
	for i, p := range r.Pages {
		if owner[i] < 0 || p.PageIndex != i || p.BatchIndex != owner[i] {
			return fmt.Errorf("%w: page result %d does not match its batch", ErrInvalidBatch, i)
		}
	}
	return nil
}

func (r *Result) recount() {
	r.SuccessCount, r.FailureCount = 0, 0
	for i := range r.Batches {
		r.Batches[i].SuccessCount, r.Batches[i].FailureCount = 0, 0
	}
	for _, p := range r.Pages {
		b := &r.Batches[p.BatchIndex]
		if p.Status == StatusOK {
			r.SuccessCount++
			b.SuccessCount++
		} else {
			r.FailureCount++
			b.FailureCount++
		}
	}
}
