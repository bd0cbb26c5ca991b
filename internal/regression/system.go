package regression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
	"github.com/QWERTYjc/GradeOS-sub003/internal/patches"
)

// ActiveVersion reads the rule version currently serving traffic.
type ActiveVersion interface {
	Active(ctx context.Context) (int64, error)
}

// EvalSource supplies frozen evaluation sets.
type EvalSource interface {
	Load(ctx context.Context, id string) (*EvalSet, error)
	Save(ctx context.Context, set EvalSet) error
}

// System is the regression tester.
type System interface {
	Handler() *Handler

	// Run replays the evaluation set under the active version and the
	// patch version, records the result, and moves the patch to approved
	// or rejected. A patch left in testing by an interrupted run may be
	// run again.
	Run(ctx context.Context, patchID uuid.UUID, evalSetID string) (*Result, error)
	Find(ctx context.Context, patchID uuid.UUID) (*Result, error)
	EvalSets() EvalSource
}

type tester struct {
	store    Store
	patches  patches.System
	versions ActiveVersion
	scorer   grading.Scorer
	evalSets EvalSource
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func New(
	store Store,
	patches patches.System,
	versions ActiveVersion,
	scorer grading.Scorer,
	evalSets EvalSource,
	cfg Config,
	logger *slog.Logger,
) System {
	return &tester{
		store:    store,
		patches:  patches,
		versions: versions,
		scorer:   scorer,
		evalSets: evalSets,
		cfg:      cfg,
		logger:   logger.With("system", "regression"),
		now:      time.Now,
	}
}

func (t *tester) Handler() *Handler {
	return NewHandler(t, t.logger)
}

func (t *tester) EvalSets() EvalSource {
	return t.evalSets
}

func (t *tester) Find(ctx context.Context, patchID uuid.UUID) (*Result, error) {
	return t.store.FindByPatch(ctx, patchID)
}

func (t *tester) Run(ctx context.Context, patchID uuid.UUID, evalSetID string) (*Result, error) {
	if _, err := t.store.FindByPatch(ctx, patchID); err == nil {
		return nil, ErrAlreadyTested
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	patch, err := t.patches.Find(ctx, patchID)
	if err != nil {
		return nil, err
	}
	if patch.Status != patches.StatusCandidate && patch.Status != patches.StatusTesting {
		return nil, fmt.Errorf("%w: status %s", ErrNotCandidate, patch.Status)
	}

	set, err := t.evalSets.Load(ctx, evalSetID)
	if err != nil {
		return nil, err
	}

	if patch.Status == patches.StatusCandidate {
		if patch, err = t.patches.Transition(ctx, patchID, patches.StatusCandidate, patches.StatusTesting); err != nil {
			return nil, err
		}
	}

	baseline, err := t.versions.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("read active version: %w", err)
	}

	before, _, err := t.replay(ctx, set, baseline)
	if err != nil {
		return nil, err
	}
	after, scored, err := t.replay(ctx, set, patch.Version)
	if err != nil {
		return nil, err
	}

	result := Result{
		ID:              uuid.New(),
		PatchID:         patchID,
		EvalSetID:       set.ID,
		BaselineVersion: baseline,
		PatchVersion:    patch.Version,
		Before:          before,
		After:           after,
		SampleCount:     len(set.Items),
		ScoredCount:     scored,
		RunAt:           t.now().UTC(),
	}
	result.Improvement = IsImprovement(result)

	if err := t.store.Record(ctx, result); err != nil {
		return nil, err
	}

	next := patches.StatusRejected
	if result.Improvement {
		next = patches.StatusApproved
	}
	if _, err := t.patches.Transition(ctx, patchID, patches.StatusTesting, next); err != nil {
		return &result, fmt.Errorf("record verdict: %w", err)
	}

	t.logger.Info("regression complete",
		"patch", patchID, "version", patch.Version, "baseline", baseline,
		"eval_set", set.ID, "samples", result.SampleCount,
		"before", before, "after", after, "verdict", next)
	return &result, nil
}

// replay scores every item under version and returns the rates and the
// number of items scored without error. Item failures count toward the
// error rate; only cancellation of ctx aborts the replay.
func (t *tester) replay(ctx context.Context, set *EvalSet, version int64) (Rates, int, error) {
	type outcome struct {
		failed bool
		score  grading.Score
	}
	outcomes := make([]outcome, len(set.Items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Concurrency)
	for i, item := range set.Items {
		g.Go(func() error {
			score, err := t.scorer.Score(gctx, grading.Request{
				SubmissionID: set.ID,
				PageIndex:    i,
				Payload:      item.Payload,
				RubricID:     item.RubricID,
				RuleVersion:  version,
				Context:      item.Context,
			})
			outcomes[i] = outcome{failed: err != nil, score: score}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Rates{}, 0, fmt.Errorf("replay under version %d: %w", version, err)
	}

	var errs, misses, reviews, scored int
	for i, o := range outcomes {
		if o.failed {
			errs++
			continue
		}
		scored++
		expected := set.Items[i].ExpectedScore
		switch {
		case o.score.Value > expected+t.cfg.ScoreTolerance:
			errs++
		case o.score.Value < expected-t.cfg.ScoreTolerance:
			misses++
		}
		if o.score.Confidence < t.cfg.ReviewThreshold {
			reviews++
		}
	}

	n := float64(len(set.Items))
	if n == 0 {
		return Rates{}, 0, nil
	}
	return Rates{
		ErrorRate:  float64(errs) / n,
		MissRate:   float64(misses) / n,
		ReviewRate: float64(reviews) / n,
	}, scored, nil
}
