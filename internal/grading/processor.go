package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/QWERTYjc/GradeOS-sub003/internal/gradinglogs"
)

var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gradeos",
		Subsystem: "grading",
		Name:      "pages_total",
		Help:      "Scored pages by terminal status.",
	}, []string{"status"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gradeos",
		Subsystem: "grading",
		Name:      "batch_duration_seconds",
		Help:      "Wall time to score one batch.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// Journal records scored pages.
type Journal interface {
	Log(ctx context.Context, entry gradinglogs.Entry) (uuid.UUID, error)
}

// Deps are the collaborators of a Processor. Scorer and Resolver are
// required; the rest may be nil.
type Deps struct {
	Scorer   Scorer
	Resolver VersionResolver
	Journal  Journal
	Signals  SignalSink
	Observer Observer
	Context  ContextBuilder
}

// Processor grades submissions in parallel batches.
type Processor struct {
	deps    Deps
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewProcessor creates a Processor. cfg must be finalized.
func NewProcessor(deps Deps, cfg Config, logger *slog.Logger) *Processor {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Processor{
		deps:    deps,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.RateBurst),
		logger:  logger.With("system", "grading"),
	}
}

type run struct {
	sub        Submission
	resolution Resolution
	streamID   string
	seq        *atomic.Int64
	emit       sync.Mutex
}

// Process grades every page of sub under one resolved rule version and
// returns a result for every page. The only errors are an empty submission
// and a failed version resolution; page failures are reported per page.
func (p *Processor) Process(ctx context.Context, sub Submission) (*Result, error) {
	if len(sub.Pages) == 0 {
		return nil, ErrEmptySubmission
	}

	res, err := p.deps.Resolver.Resolve(ctx, sub.routingKey())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolve, err)
	}

	indices := make([]int, len(sub.Pages))
	for i := range indices {
		indices[i] = i
	}
	groups := Partition(indices, p.cfg.BatchSize)

	result := &Result{
		SubmissionID: sub.ID,
		StreamID:     uuid.NewString(),
		RuleVersion:  res.Version,
		Canary:       res.Canary,
		Batches:      make([]Batch, len(groups)),
		Pages:        make([]PageResult, len(sub.Pages)),
	}

	r := &run{sub: sub, resolution: res, streamID: result.StreamID, seq: new(atomic.Int64)}

	p.logger.Info("grading submission",
		"submission_id", sub.ID,
		"pages", len(sub.Pages),
		"batches", len(groups),
		"rule_version", res.Version,
		"canary", res.Canary,
	)

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrentBatches)
	for bi, pages := range groups {
		g.Go(func() error {
			batch := p.runBatch(ctx, r, bi, pages, result.Pages)
			result.Batches[bi] = batch
			return nil
		})
	}
	g.Wait()

	result.recount()
	result.LastSequence = r.seq.Load()

	p.logger.Info("submission graded",
		"submission_id", sub.ID,
		"stream_id", result.StreamID,
		"success", result.SuccessCount,
		"failed", result.FailureCount,
	)
	return result, nil
}

// RetryBatch rescores one batch of a previous result under the same rule
// version and returns an updated copy. The batch's event continues the
// previous result's stream sequence.
func (p *Processor) RetryBatch(ctx context.Context, sub Submission, prev *Result, batchIndex int) (*Result, error) {
	if prev == nil {
		return nil, fmt.Errorf("%w: no previous result", ErrInvalidBatch)
	}
	if batchIndex < 0 || batchIndex >= len(prev.Batches) {
		return nil, ErrInvalidBatch
	}
	if err := prev.matches(sub); err != nil {
		return nil, err
	}

	result := &Result{
		SubmissionID: prev.SubmissionID,
		StreamID:     prev.StreamID,
		RuleVersion:  prev.RuleVersion,
		Canary:       prev.Canary,
		Batches:      slices.Clone(prev.Batches),
		Pages:        slices.Clone(prev.Pages),
	}
	for i := range result.Batches {
		result.Batches[i].Pages = slices.Clone(prev.Batches[i].Pages)
	}

	seq := new(atomic.Int64)
	seq.Store(prev.LastSequence)
	r := &run{
		sub:        sub,
		resolution: Resolution{Version: prev.RuleVersion, Canary: prev.Canary},
		streamID:   prev.StreamID,
		seq:        seq,
	}

	pages := result.Batches[batchIndex].Pages
	result.Batches[batchIndex] = p.runBatch(ctx, r, batchIndex, pages, result.Pages)
	result.recount()
	result.LastSequence = seq.Load()
	return result, nil
}

// runBatch scores pages concurrently and writes each outcome into out at its
// page index. Every goroutine returns nil so no failure cancels a sibling.
func (p *Processor) runBatch(ctx context.Context, r *run, index int, pages []int, out []PageResult) Batch {
	start := time.Now()

	var g errgroup.Group
	for _, pi := range pages {
		g.Go(func() error {
			out[pi] = p.scorePage(ctx, r, index, pi)
			return nil
		})
	}
	g.Wait()
	batchDuration.Observe(time.Since(start).Seconds())

	batch := Batch{
		Index:       index,
		Pages:       pages,
		RuleVersion: r.resolution.Version,
	}
	for _, pi := range pages {
		if out[pi].Status == StatusOK {
			batch.SuccessCount++
		} else {
			batch.FailureCount++
		}
	}
	// sequence assignment and publication are serialized so observers see
	// events in sequence order when batches run concurrently
	r.emit.Lock()
	defer r.emit.Unlock()
	batch.Sequence = r.seq.Add(1)

	if p.deps.Observer != nil {
		event := BatchEvent{
			StreamID:     r.streamID,
			Sequence:     batch.Sequence,
			BatchIndex:   index,
			RuleVersion:  batch.RuleVersion,
			SuccessCount: batch.SuccessCount,
			FailureCount: batch.FailureCount,
			CompletedAt:  time.Now().UTC(),
		}
		if err := p.deps.Observer.Publish(context.WithoutCancel(ctx), event); err != nil {
			p.logger.Warn("batch event not published",
				"stream_id", r.streamID,
				"sequence", batch.Sequence,
				"error", err,
			)
		}
	}

	return batch
}

func (p *Processor) scorePage(ctx context.Context, r *run, batchIndex, pageIndex int) (pr PageResult) {
	pr = PageResult{PageIndex: pageIndex, BatchIndex: batchIndex}

	defer func() {
		if v := recover(); v != nil {
			pr.Status = StatusFailed
			pr.Error = fmt.Sprintf("scorer panic: %v", v)
		}
		pagesTotal.WithLabelValues(string(pr.Status)).Inc()
		if p.deps.Signals != nil {
			failed := pr.Status == StatusFailed || pr.Confidence < p.cfg.ReviewThreshold
			p.deps.Signals.Observe(r.resolution.Version, failed)
		}
	}()

	score, err := p.score(ctx, r, pageIndex)
	if err != nil {
		pr.Status = StatusFailed
		pr.Error = err.Error()
		return pr
	}

	pr.Status = StatusOK
	pr.Score = score.Value
	pr.Confidence = score.Confidence
	pr.ReasoningTrace = score.ReasoningTrace
	pr.Detail = score.Detail

	if p.deps.Journal != nil {
		id, err := p.deps.Journal.Log(context.WithoutCancel(ctx), gradinglogs.Entry{
			SubmissionID:         r.sub.ID,
			PageIndex:            pageIndex,
			RubricID:             r.sub.RubricID,
			RuleVersion:          r.resolution.Version,
			ExtractedValue:       score.ExtractedValue,
			ExtractionConfidence: score.ExtractionConfidence,
			NormalizedValue:      score.NormalizedValue,
			MatchResult:          score.MatchResult,
			Score:                score.Value,
			Confidence:           score.Confidence,
			ReasoningTrace:       score.ReasoningTrace,
		})
		if err != nil {
			p.logger.Error("grading log rejected",
				"submission_id", r.sub.ID,
				"page_index", pageIndex,
				"error", err,
			)
		} else {
			pr.LogID = &id
		}
	}

	return pr
}

func (p *Processor) score(ctx context.Context, r *run, pageIndex int) (Score, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PageTimeoutDuration())
	defer cancel()

	if err := p.limiter.Wait(ctx); err != nil {
		return Score{}, fmt.Errorf("rate limit: %w", err)
	}

	req := Request{
		SubmissionID: r.sub.ID,
		PageIndex:    pageIndex,
		Payload:      r.sub.Pages[pageIndex],
		RubricID:     r.sub.RubricID,
		RuleVersion:  r.resolution.Version,
	}

	if p.deps.Context != nil {
		c, err := p.deps.Context.BuildContext(ctx, req)
		if err != nil {
			return Score{}, fmt.Errorf("build context: %w", err)
		}
		req.Context = c
	}

	score, err := p.deps.Scorer.Score(ctx, req)
	if err != nil {
		return Score{}, err
	}
	if ctx.Err() != nil {
		return Score{}, ctx.Err()
	}
	if score.Confidence < 0 || score.Confidence > 1 {
		return Score{}, errors.New("malformed score: confidence outside [0, 1]")
	}
	return score, nil
}
