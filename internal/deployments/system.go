// Package deployments runs the canary state machine: it routes a fraction of
// traffic to an approved patch version, watches live error signals, rolls
// the canary back automatically on breach, and promotes it on request.
package deployments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
	"github.com/QWERTYjc/GradeOS-sub003/internal/gradinglogs"
	"github.com/QWERTYjc/GradeOS-sub003/internal/patches"
	"github.com/QWERTYjc/GradeOS-sub003/internal/versions"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/lifecycle"
)

var (
	rollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gradeos_canary_rollbacks_total",
		Help: "Canary and full deployments rolled back, by trigger and outcome.",
	}, []string{"trigger", "outcome"})
	routedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gradeos_canary_routed_total",
		Help: "Submissions routed by the deployer, by route.",
	}, []string{"route"})
	haltedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gradeos_canary_routing_halted",
		Help: "1 while canary routing is halted after a failed rollback.",
	})
)

// Trigger records who started a rollback.
type Trigger string

const (
	TriggerMonitor  Trigger = "monitor"
	TriggerOperator Trigger = "operator"
)

// Canary is the in-flight canary as seen by routing.
type Canary struct {
	Deployment versions.Deployment `json:"deployment"`
	PatchID    uuid.UUID           `json:"patch_id"`
	Baseline   int64               `json:"baseline"`
	Evaluation Evaluation          `json:"evaluation"`
}

// Evaluation compares canary and baseline signals since the canary started.
type Evaluation struct {
	Canary   Stats  `json:"canary"`
	Baseline Stats  `json:"baseline"`
	Breached bool   `json:"breached"`
	Reason   string `json:"reason,omitempty"`
}

// Outcome is how a monitoring window ended.
type Outcome string

const (
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomeHealthy    Outcome = "healthy"
	OutcomeEnded      Outcome = "ended"
)

// MonitorReport summarizes one monitoring window.
type MonitorReport struct {
	DeploymentID uuid.UUID  `json:"deployment_id"`
	Outcome      Outcome    `json:"outcome"`
	Evaluation   Evaluation `json:"evaluation"`
}

// Versions is the part of the version manager the deployer drives.
type Versions interface {
	Active(ctx context.Context) (int64, error)
	Swap(ctx context.Context, expected, next int64) error
	RecordDeployment(ctx context.Context, cmd versions.RecordCommand) (*versions.Deployment, error)
	Mark(ctx context.Context, id uuid.UUID, s versions.Stamp) (*versions.Deployment, error)
	Find(ctx context.Context, id uuid.UUID) (*versions.Deployment, error)
	Live(ctx context.Context) ([]versions.Deployment, error)
	RollbackToVersion(ctx context.Context, target int64) (*versions.RollbackResult, error)
}

// System is the patch deployer. It implements grading.VersionResolver and
// grading.SignalSink.
type System interface {
	Handler(guard func(http.Handler) http.Handler) *Handler
	Start(lc *lifecycle.Coordinator) error

	DeployCanary(ctx context.Context, patchID uuid.UUID, fraction float64) (*versions.Deployment, error)
	Resolve(ctx context.Context, routingKey string) (grading.Resolution, error)
	Observe(version int64, failed bool)
	OverrideListener() gradinglogs.OverrideListener

	// Monitor evaluates the canary for one window and rolls it back on
	// breach. It never promotes.
	Monitor(ctx context.Context, deploymentID uuid.UUID) (*MonitorReport, error)
	// Watch schedules Monitor for the deployment on the background loop.
	Watch(deploymentID uuid.UUID) bool
	Promote(ctx context.Context, deploymentID uuid.UUID) (*versions.Deployment, error)
	Rollback(ctx context.Context, deploymentID uuid.UUID) (*versions.Deployment, error)
	RollbackToVersion(ctx context.Context, target int64) (*versions.RollbackResult, error)

	Current() (*Canary, bool)
	Halted() bool
	ClearHalt()
}

type deployer struct {
	patches  patches.System
	versions Versions
	cfg      Config
	logger   *slog.Logger
	signals  *signals
	watch    chan uuid.UUID
	now      func() time.Time

	mu     sync.RWMutex
	canary *Canary
	halted bool

	// serializes state-changing operations on the canary
	op sync.Mutex
}

func New(
	patches patches.System,
	versions Versions,
	cfg Config,
	logger *slog.Logger,
) System {
	return &deployer{
		patches:  patches,
		versions: versions,
		cfg:      cfg,
		logger:   logger.With("system", "deployments"),
		signals:  newSignals(cfg.WindowDuration()),
		watch:    make(chan uuid.UUID, 1),
		now:      time.Now,
	}
}

func (d *deployer) Handler(guard func(http.Handler) http.Handler) *Handler {
	return NewHandler(d, d.logger, guard)
}

// Start restores a live canary from the deployment history and runs the
// monitor loop until shutdown.
func (d *deployer) Start(lc *lifecycle.Coordinator) error {
	lc.OnStartup(func() {
		if err := d.restore(lc.Context()); err != nil {
			d.logger.Error("restore canary state failed", "error", err)
		}
	})

	lc.Background(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-d.watch:
				if _, err := d.Monitor(ctx, id); err != nil && ctx.Err() == nil {
					d.logger.Error("canary monitor failed", "deployment", id, "error", err)
				}
			}
		}
	})
	return nil
}

func (d *deployer) restore(ctx context.Context) error {
	live, err := d.versions.Live(ctx)
	if err != nil {
		return err
	}
	for _, dep := range live {
		if dep.Scope != versions.ScopeCanary {
			continue
		}
		d.mu.Lock()
		d.canary = &Canary{Deployment: dep, PatchID: dep.PatchID, Baseline: dep.PreviousVersion}
		d.mu.Unlock()
		d.logger.Info("canary restored", "deployment", dep.ID, "version", dep.Version)
		d.Watch(dep.ID)
		return nil
	}
	return nil
}

func (d *deployer) DeployCanary(ctx context.Context, patchID uuid.UUID, fraction float64) (*versions.Deployment, error) {
	if fraction == 0 {
		fraction = d.cfg.DefaultFraction
	}
	if fraction <= 0 || fraction > 1 || math.IsNaN(fraction) {
		return nil, ErrInvalidFraction
	}

	d.op.Lock()
	defer d.op.Unlock()

	if d.Halted() {
		return nil, ErrRoutingHalted
	}
	if c, ok := d.Current(); ok {
		return nil, fmt.Errorf("%w: deployment %s", ErrCanaryInFlight, c.Deployment.ID)
	}

	p, err := d.patches.Find(ctx, patchID)
	if err != nil {
		return nil, err
	}
	if p.Status != patches.StatusApproved {
		return nil, fmt.Errorf("%w: status %s", ErrNotApproved, p.Status)
	}

	active, err := d.versions.Active(ctx)
	if err != nil {
		return nil, err
	}
	if p.Version <= active {
		return nil, fmt.Errorf("%w: version %d, active %d", ErrStaleVersion, p.Version, active)
	}
	if _, err := d.patches.Transition(ctx, patchID, patches.StatusApproved, patches.StatusCanary); err != nil {
		return nil, err
	}

	dep, err := d.versions.RecordDeployment(ctx, versions.RecordCommand{
		PatchID:         patchID,
		Version:         p.Version,
		Scope:           versions.ScopeCanary,
		TrafficFraction: fraction,
		PreviousVersion: active,
		DependsOn:       p.DependsOn,
	})
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.canary = &Canary{Deployment: *dep, PatchID: patchID, Baseline: active}
	d.mu.Unlock()

	d.logger.Info("canary deployed",
		"deployment", dep.ID, "patch", patchID, "version", p.Version,
		"fraction", fraction, "baseline", active)
	return dep, nil
}

// Resolve returns the rule version a submission runs under. Keys inside the
// canary fraction get the canary version unless routing is halted.
func (d *deployer) Resolve(ctx context.Context, routingKey string) (grading.Resolution, error) {
	d.mu.RLock()
	c, halted := d.canary, d.halted
	d.mu.RUnlock()

	if c != nil && !halted && routeToCanary(routingKey, c.Deployment.TrafficFraction) {
		routedTotal.WithLabelValues("canary").Inc()
		id := c.Deployment.ID
		return grading.Resolution{Version: c.Deployment.Version, Canary: true, DeploymentID: &id}, nil
	}

	active, err := d.versions.Active(ctx)
	if err != nil {
		return grading.Resolution{}, err
	}
	routedTotal.WithLabelValues("active").Inc()
	return grading.Resolution{Version: active}, nil
}

func (d *deployer) Observe(version int64, failed bool) {
	d.signals.observe(version, failed, d.now())
}

// OverrideListener turns human corrections into failure signals for the
// version that produced the corrected score.
func (d *deployer) OverrideListener() gradinglogs.OverrideListener {
	return func(_ context.Context, l gradinglogs.GradingLog) {
		if l.OverrideScore != nil && math.Abs(*l.OverrideScore-l.Score) > 1e-9 {
			d.Observe(l.RuleVersion, true)
		}
	}
}

func (d *deployer) Current() (*Canary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.canary == nil {
		return nil, false
	}
	c := *d.canary
	c.Evaluation = d.evaluate(c)
	return &c, true
}

func (d *deployer) Halted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.halted
}

func (d *deployer) ClearHalt() {
	d.mu.Lock()
	d.halted = false
	d.mu.Unlock()
	haltedGauge.Set(0)
	d.logger.Warn("canary routing halt cleared by operator")
}

func (d *deployer) evaluate(c Canary) Evaluation {
	since := c.Deployment.DeployedAt
	ev := Evaluation{
		Canary:   d.signals.stats(c.Deployment.Version, since),
		Baseline: d.signals.stats(c.Baseline, since),
	}
	if ev.Canary.Samples < d.cfg.MinSamples {
		return ev
	}
	switch {
	case ev.Canary.Rate >= d.cfg.MaxErrorRate:
		ev.Breached = true
		ev.Reason = fmt.Sprintf("canary error rate %.3f reached limit %.3f", ev.Canary.Rate, d.cfg.MaxErrorRate)
	case ev.Baseline.Samples >= d.cfg.MinSamples && ev.Canary.Rate-ev.Baseline.Rate > d.cfg.MaxDelta:
		ev.Breached = true
		ev.Reason = fmt.Sprintf("canary error rate %.3f exceeds baseline %.3f by more than %.3f",
			ev.Canary.Rate, ev.Baseline.Rate, d.cfg.MaxDelta)
	}
	return ev
}

func (d *deployer) Watch(deploymentID uuid.UUID) bool {
	select {
	case d.watch <- deploymentID:
		return true
	default:
		return false
	}
}

func (d *deployer) Monitor(ctx context.Context, deploymentID uuid.UUID) (*MonitorReport, error) {
	deadline := time.NewTimer(d.cfg.WindowDuration())
	defer deadline.Stop()
	ticker := time.NewTicker(d.cfg.TickDuration())
	defer ticker.Stop()

	d.logger.Info("canary monitoring started", "deployment", deploymentID, "window", d.cfg.Window)

	for {
		c, ok := d.Current()
		if !ok || c.Deployment.ID != deploymentID {
			return &MonitorReport{DeploymentID: deploymentID, Outcome: OutcomeEnded}, nil
		}

		if c.Evaluation.Breached {
			d.logger.Warn("canary breached, rolling back",
				"deployment", deploymentID, "reason", c.Evaluation.Reason)
			if _, err := d.rollback(ctx, deploymentID, TriggerMonitor); err != nil {
				return nil, err
			}
			return &MonitorReport{DeploymentID: deploymentID, Outcome: OutcomeRolledBack, Evaluation: c.Evaluation}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			c, ok := d.Current()
			if !ok || c.Deployment.ID != deploymentID {
				return &MonitorReport{DeploymentID: deploymentID, Outcome: OutcomeEnded}, nil
			}
			if c.Evaluation.Breached {
				if _, err := d.rollback(ctx, deploymentID, TriggerMonitor); err != nil {
					return nil, err
				}
				return &MonitorReport{DeploymentID: deploymentID, Outcome: OutcomeRolledBack, Evaluation: c.Evaluation}, nil
			}
			d.logger.Info("canary window elapsed without anomaly; awaiting promote or rollback",
				"deployment", deploymentID, "samples", c.Evaluation.Canary.Samples)
			return &MonitorReport{DeploymentID: deploymentID, Outcome: OutcomeHealthy, Evaluation: c.Evaluation}, nil
		case <-ticker.C:
		}
	}
}

func (d *deployer) Promote(ctx context.Context, deploymentID uuid.UUID) (*versions.Deployment, error) {
	d.op.Lock()
	defer d.op.Unlock()

	if d.Halted() {
		return nil, ErrRoutingHalted
	}
	c, ok := d.Current()
	if !ok || c.Deployment.ID != deploymentID {
		return nil, ErrNotCanary
	}
	if c.Evaluation.Breached {
		return nil, fmt.Errorf("%w: %s", ErrUnhealthy, c.Evaluation.Reason)
	}

	active, err := d.versions.Active(ctx)
	if err != nil {
		return nil, err
	}
	live, err := d.versions.Live(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.versions.Swap(ctx, active, c.Deployment.Version); err != nil {
		return nil, err
	}

	// Stamping the canary promoted commits the promotion. Until then any
	// failure puts the active pointer back and leaves the canary in flight.
	full, err := d.versions.RecordDeployment(ctx, versions.RecordCommand{
		PatchID:         c.PatchID,
		Version:         c.Deployment.Version,
		Scope:           versions.ScopeFull,
		TrafficFraction: 1,
		PreviousVersion: active,
		DependsOn:       c.Deployment.DependsOn,
	})
	if err == nil {
		_, err = d.versions.Mark(ctx, deploymentID, versions.StampPromoted)
	}
	if err != nil {
		d.revertPromotion(ctx, c, active, full)
		return nil, fmt.Errorf("promote deployment %s: %w", deploymentID, err)
	}

	d.mu.Lock()
	d.canary = nil
	d.mu.Unlock()

	d.logger.Info("canary promoted",
		"deployment", full.ID, "version", full.Version, "previous", active)

	var errs []error
	if _, err := d.patches.Transition(ctx, c.PatchID, patches.StatusCanary, patches.StatusDeployed); err != nil {
		errs = append(errs, fmt.Errorf("mark patch %s deployed: %w", c.PatchID, err))
	}
	for _, prev := range live {
		if prev.Scope == versions.ScopeFull && prev.Version != full.Version {
			if _, err := d.versions.Mark(ctx, prev.ID, versions.StampSuperseded); err != nil &&
				!errors.Is(err, versions.ErrAlreadyStamped) {
				errs = append(errs, fmt.Errorf("supersede deployment %s: %w", prev.ID, err))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		d.logger.Error("promotion committed with incomplete bookkeeping", "deployment", full.ID, "error", err)
		return full, err
	}
	return full, nil
}

// revertPromotion undoes the pointer swap of an uncommitted promotion. The
// canary stays in flight; if the revert itself fails, rolling the canary back
// restores the pointer.
func (d *deployer) revertPromotion(ctx context.Context, c *Canary, previous int64, full *versions.Deployment) {
	ctx = context.WithoutCancel(ctx)
	if full != nil {
		if _, err := d.versions.Mark(ctx, full.ID, versions.StampRolledBack); err != nil {
			d.logger.Error("discard uncommitted full deployment failed", "deployment", full.ID, "error", err)
		}
	}
	if err := d.versions.Swap(ctx, c.Deployment.Version, previous); err != nil {
		d.logger.Error("restore active version after failed promotion failed; roll the canary back",
			"deployment", c.Deployment.ID, "version", c.Deployment.Version, "previous", previous, "error", err)
		return
	}
	d.logger.Warn("promotion reverted", "deployment", c.Deployment.ID, "active", previous)
}

func (d *deployer) Rollback(ctx context.Context, deploymentID uuid.UUID) (*versions.Deployment, error) {
	return d.rollback(ctx, deploymentID, TriggerOperator)
}

// rollback retries until the deployment is rolled back or attempts run out.
// Canary routing stops before the first attempt. If every attempt fails,
// routing is halted so no further traffic reaches a canary.
func (d *deployer) rollback(ctx context.Context, deploymentID uuid.UUID, trigger Trigger) (*versions.Deployment, error) {
	d.op.Lock()
	defer d.op.Unlock()

	d.mu.Lock()
	wasCanary := d.canary != nil && d.canary.Deployment.ID == deploymentID
	if wasCanary {
		d.canary = nil
	}
	d.mu.Unlock()

	// Rollback runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	var lastErr error
	backoff := d.cfg.RollbackBackoffDuration()
	for attempt := 1; attempt <= d.cfg.RollbackAttempts; attempt++ {
		dep, err := d.rollbackOnce(ctx, deploymentID)
		if err == nil {
			rollbacksTotal.WithLabelValues(string(trigger), "ok").Inc()
			d.logger.Warn("deployment rolled back",
				"deployment", deploymentID, "version", dep.Version,
				"trigger", trigger, "attempt", attempt)
			return dep, nil
		}
		if errors.Is(err, versions.ErrNotFound) || errors.Is(err, ErrNotLive) {
			return nil, err
		}
		lastErr = err
		d.logger.Warn("rollback attempt failed", "deployment", deploymentID, "attempt", attempt, "error", err)
		if attempt < d.cfg.RollbackAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	d.mu.Lock()
	d.halted = true
	d.mu.Unlock()
	haltedGauge.Set(1)
	rollbacksTotal.WithLabelValues(string(trigger), "failed").Inc()

	d.logger.Error("FATAL: rollback failed; canary routing halted pending operator action",
		"deployment", deploymentID, "trigger", trigger, "attempts", d.cfg.RollbackAttempts, "error", lastErr)
	return nil, fmt.Errorf("%w: deployment %s: %v", ErrRollbackFailed, deploymentID, lastErr)
}

func (d *deployer) rollbackOnce(ctx context.Context, deploymentID uuid.UUID) (*versions.Deployment, error) {
	dep, err := d.versions.Find(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if dep.Scope == versions.ScopeCanary && dep.PromotedAt == nil {
		if err := d.restorePointer(ctx, dep); err != nil {
			return nil, err
		}
	}
	if dep.RolledBackAt != nil {
		return dep, nil
	}
	if !dep.Live() {
		return nil, fmt.Errorf("%w: status %s", ErrNotLive, dep.Status())
	}

	if dep.Scope == versions.ScopeFull {
		res, err := d.versions.RollbackToVersion(ctx, dep.PreviousVersion)
		if err != nil {
			return nil, err
		}
		d.resolvePatches(ctx, res.RolledBack)
		d.retireNewer(ctx, dep.PreviousVersion)
		return d.versions.Find(ctx, deploymentID)
	}

	stamped, err := d.versions.Mark(ctx, deploymentID, versions.StampRolledBack)
	if errors.Is(err, versions.ErrAlreadyStamped) {
		return d.versions.Find(ctx, deploymentID)
	}
	if err != nil {
		return nil, err
	}
	d.resolvePatches(ctx, []versions.Deployment{*stamped})
	return stamped, nil
}

// restorePointer moves the active version off a canary that a failed
// promotion left in place, and discards any full deployment recorded for it.
func (d *deployer) restorePointer(ctx context.Context, canary *versions.Deployment) error {
	active, err := d.versions.Active(ctx)
	if err != nil {
		return err
	}
	if active != canary.Version {
		return nil
	}
	live, err := d.versions.Live(ctx)
	if err != nil {
		return err
	}
	for _, dep := range live {
		if dep.Scope != versions.ScopeFull || dep.Version != canary.Version {
			continue
		}
		if _, err := d.versions.Mark(ctx, dep.ID, versions.StampRolledBack); err != nil &&
			!errors.Is(err, versions.ErrAlreadyStamped) {
			return fmt.Errorf("discard full deployment %s: %w", dep.ID, err)
		}
	}
	if err := d.versions.Swap(ctx, canary.Version, canary.PreviousVersion); err != nil {
		return fmt.Errorf("restore active version %d: %w", canary.PreviousVersion, err)
	}
	d.logger.Warn("active version restored from canary",
		"deployment", canary.ID, "version", canary.Version, "active", canary.PreviousVersion)
	return nil
}

// resolvePatches moves the patches behind rolled-back deployments to
// rolled_back. Patches already there are left alone.
func (d *deployer) resolvePatches(ctx context.Context, rolled []versions.Deployment) {
	seen := make(map[uuid.UUID]bool)
	for _, dep := range rolled {
		if seen[dep.PatchID] {
			continue
		}
		seen[dep.PatchID] = true

		p, err := d.patches.Find(ctx, dep.PatchID)
		if err != nil {
			d.logger.Error("find rolled back patch failed", "patch", dep.PatchID, "error", err)
			continue
		}
		if !slices.Contains([]patches.Status{patches.StatusCanary, patches.StatusDeployed}, p.Status) {
			continue
		}
		if _, err := d.patches.Transition(ctx, p.ID, p.Status, patches.StatusRolledBack); err != nil {
			d.logger.Error("mark patch rolled back failed", "patch", p.ID, "error", err)
		}
	}
}

func (d *deployer) RollbackToVersion(ctx context.Context, target int64) (*versions.RollbackResult, error) {
	d.op.Lock()
	defer d.op.Unlock()

	res, err := d.versions.RollbackToVersion(ctx, target)
	if err != nil {
		return nil, err
	}
	d.resolvePatches(ctx, res.RolledBack)
	d.retireNewer(ctx, target)

	d.mu.Lock()
	if d.canary != nil && slices.ContainsFunc(res.RolledBack, func(dep versions.Deployment) bool {
		return dep.ID == d.canary.Deployment.ID
	}) {
		d.canary = nil
	}
	d.mu.Unlock()

	return res, nil
}

// retireNewer rolls back deployed patches that are no longer part of the
// active rule set once target is active: those newer than target, whose full
// deployments were superseded rather than live, and those depending on them.
func (d *deployer) retireNewer(ctx context.Context, target int64) {
	deployed, err := d.patches.WithStatus(ctx, patches.StatusDeployed)
	if err != nil {
		d.logger.Error("list deployed patches failed", "target", target, "error", err)
		return
	}

	removed := make(map[int64]bool)
	for changed := true; changed; {
		changed = false
		for _, p := range deployed {
			if removed[p.Version] {
				continue
			}
			if p.Version > target || slices.ContainsFunc(p.DependsOn, func(v int64) bool { return removed[v] }) {
				removed[p.Version] = true
				changed = true
			}
		}
	}

	for _, p := range deployed {
		if !removed[p.Version] {
			continue
		}
		if _, err := d.patches.Transition(ctx, p.ID, patches.StatusDeployed, patches.StatusRolledBack); err != nil {
			d.logger.Error("mark patch rolled back failed", "patch", p.ID, "error", err)
			continue
		}
		d.logger.Warn("patch left the active rule set", "patch", p.ID, "version", p.Version, "target", target)
	}
}
