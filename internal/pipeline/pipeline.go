// Package pipeline runs the rule-upgrade loop: it samples recent overrides,
// mines them into failure patterns, generates candidate patches, and
// regression-tests them, optionally handing approved patches to the canary
// deployer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/QWERTYjc/GradeOS-sub003/internal/deployments"
	"github.com/QWERTYjc/GradeOS-sub003/internal/gradinglogs"
	"github.com/QWERTYjc/GradeOS-sub003/internal/mining"
	"github.com/QWERTYjc/GradeOS-sub003/internal/patches"
	"github.com/QWERTYjc/GradeOS-sub003/internal/regression"
	"github.com/QWERTYjc/GradeOS-sub003/internal/versions"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/lifecycle"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gradeos_pipeline_runs_total",
		Help: "Rule-upgrade pipeline runs, by outcome.",
	}, []string{"outcome"})
	patchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gradeos_pipeline_patches_total",
		Help: "Patches handled by the pipeline, by resulting status.",
	}, []string{"status"})
)

// Sampler supplies overridden logs.
type Sampler interface {
	OverrideSamples(ctx context.Context, minCount int, window time.Duration) (gradinglogs.SampleSet, error)
}

// Patches is the part of the patch generator the pipeline drives.
type Patches interface {
	Generate(ctx context.Context, pattern mining.FailurePattern) (*patches.RulePatch, error)
	WithStatus(ctx context.Context, status patches.Status) ([]patches.RulePatch, error)
}

// Tester runs a patch against an eval set.
type Tester interface {
	Run(ctx context.Context, patchID uuid.UUID, evalSetID string) (*regression.Result, error)
}

// Deployer starts canaries for approved patches.
type Deployer interface {
	DeployCanary(ctx context.Context, patchID uuid.UUID, fraction float64) (*versions.Deployment, error)
	Watch(deploymentID uuid.UUID) bool
}

// Report describes one pipeline run.
type Report struct {
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	Sampled    int                     `json:"sampled"`
	Sufficient bool                    `json:"sufficient"`
	Patterns   []mining.FailurePattern `json:"patterns"`
	Generated  []uuid.UUID             `json:"generated"`
	Results    []regression.Result     `json:"results"`
	Canaries   []versions.Deployment   `json:"canaries"`
	Errors     map[string]string       `json:"errors,omitempty"`
}

func (r *Report) fail(key string, err error) {
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[key] = err.Error()
}

// System is the rule-upgrade loop.
type System interface {
	Handler(guard func(http.Handler) http.Handler) *Handler
	Start(lc *lifecycle.Coordinator) error
	// RunOnce performs a single cycle. It returns ErrRunInProgress when a
	// cycle is already running.
	RunOnce(ctx context.Context) (*Report, error)
	Last() (*Report, error)
}

type loop struct {
	samples  Sampler
	miner    *mining.Miner
	patches  Patches
	tester   Tester
	deployer Deployer
	cfg      Config
	logger   *slog.Logger

	running sync.Mutex
	mu      sync.RWMutex
	last    *Report
}

// New creates the pipeline. deployer may be nil when auto_canary is off.
func New(
	samples Sampler,
	miner *mining.Miner,
	patches Patches,
	tester Tester,
	deployer Deployer,
	cfg Config,
	logger *slog.Logger,
) System {
	return &loop{
		samples:  samples,
		miner:    miner,
		patches:  patches,
		tester:   tester,
		deployer: deployer,
		cfg:      cfg,
		logger:   logger.With("system", "pipeline"),
	}
}

func (l *loop) Handler(guard func(http.Handler) http.Handler) *Handler {
	return NewHandler(l, l.logger, guard)
}

// Start schedules RunOnce on the configured interval. Grading never waits on
// a cycle.
func (l *loop) Start(lc *lifecycle.Coordinator) error {
	if !l.cfg.Enabled {
		l.logger.Info("pipeline loop disabled")
		return nil
	}
	lc.Every(l.cfg.IntervalDuration(), func(ctx context.Context) {
		if _, err := l.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) && ctx.Err() == nil {
			l.logger.Error("pipeline run failed", "error", err)
		}
	})
	l.logger.Info("pipeline loop scheduled", "interval", l.cfg.Interval, "window", l.cfg.Window)
	return nil
}

func (l *loop) Last() (*Report, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.last == nil {
		return nil, ErrNoRun
	}
	r := *l.last
	return &r, nil
}

func (l *loop) RunOnce(ctx context.Context) (*Report, error) {
	if !l.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer l.running.Unlock()

	report := &Report{
		StartedAt: time.Now().UTC(),
		Patterns:  []mining.FailurePattern{},
		Generated: []uuid.UUID{},
		Results:   []regression.Result{},
		Canaries:  []versions.Deployment{},
	}
	defer func() {
		report.FinishedAt = time.Now().UTC()
		l.mu.Lock()
		l.last = report
		l.mu.Unlock()
	}()

	set, err := l.samples.OverrideSamples(ctx, l.miner.MinWindowRecords(), l.cfg.WindowDuration())
	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("sample overrides: %w", err)
	}
	report.Sampled = len(set.Logs)
	report.Sufficient = set.Sufficient

	if set.Sufficient {
		report.Patterns = mining.Forwardable(l.miner.Analyze(set.Logs))
		for _, pattern := range report.Patterns {
			p, err := l.patches.Generate(ctx, pattern)
			if err != nil {
				report.fail(pattern.ID, err)
				l.logger.Warn("patch generation failed", "pattern", pattern.ID, "error", err)
				continue
			}
			if p != nil {
				report.Generated = append(report.Generated, p.ID)
				patchesTotal.WithLabelValues(string(patches.StatusCandidate)).Inc()
			}
		}
	}

	if err := l.test(ctx, report); err != nil {
		runsTotal.WithLabelValues("error").Inc()
		return report, err
	}
	if l.cfg.AutoCanary && l.deployer != nil {
		if err := l.canary(ctx, report); err != nil {
			runsTotal.WithLabelValues("error").Inc()
			return report, err
		}
	}

	outcome := "ok"
	if !set.Sufficient {
		outcome = "insufficient"
	}
	runsTotal.WithLabelValues(outcome).Inc()

	l.logger.Info("pipeline run complete",
		"sampled", report.Sampled,
		"sufficient", report.Sufficient,
		"patterns", len(report.Patterns),
		"generated", len(report.Generated),
		"tested", len(report.Results),
		"canaries", len(report.Canaries))
	return report, nil
}

// test runs every candidate, plus every patch an interrupted run left in
// testing, against the configured eval set.
func (l *loop) test(ctx context.Context, report *Report) error {
	var pending []patches.RulePatch
	for _, status := range []patches.Status{patches.StatusTesting, patches.StatusCandidate} {
		ps, err := l.patches.WithStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("list %s patches: %w", status, err)
		}
		pending = append(pending, ps...)
	}

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := l.tester.Run(ctx, p.ID, l.cfg.EvalSet)
		if err != nil {
			report.fail(p.ID.String(), err)
			l.logger.Warn("regression run failed", "patch", p.ID, "eval_set", l.cfg.EvalSet, "error", err)
			continue
		}
		report.Results = append(report.Results, *res)

		status := patches.StatusRejected
		if res.Improvement {
			status = patches.StatusApproved
		}
		patchesTotal.WithLabelValues(string(status)).Inc()
	}
	return nil
}

// canary deploys approved patches, lowest version first, until one canary
// is in flight.
func (l *loop) canary(ctx context.Context, report *Report) error {
	approved, err := l.patches.WithStatus(ctx, patches.StatusApproved)
	if err != nil {
		return fmt.Errorf("list approved patches: %w", err)
	}

	for _, p := range approved {
		dep, err := l.deployer.DeployCanary(ctx, p.ID, l.cfg.CanaryFraction)
		if errors.Is(err, deployments.ErrCanaryInFlight) || errors.Is(err, deployments.ErrRoutingHalted) {
			l.logger.Info("canary slot unavailable", "patch", p.ID, "reason", err)
			return nil
		}
		if err != nil {
			report.fail(p.ID.String(), err)
			l.logger.Warn("canary deployment failed", "patch", p.ID, "error", err)
			continue
		}
		report.Canaries = append(report.Canaries, *dep)
		patchesTotal.WithLabelValues(string(patches.StatusCanary)).Inc()
		l.deployer.Watch(dep.ID)
		return nil
	}
	return nil
}
