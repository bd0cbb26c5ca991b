package versions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryLimit applies when History is called with a non-positive limit.
const DefaultHistoryLimit = 50

// System is the version manager.
type System interface {
	Handler() *Handler

	// Allocate returns a version strictly greater than any returned before.
	Allocate(ctx context.Context) (int64, error)
	Active(ctx context.Context) (int64, error)
	// Swap moves the active pointer from expected to next, or returns
	// ErrConflict when another writer got there first.
	Swap(ctx context.Context, expected, next int64) error

	RecordDeployment(ctx context.Context, cmd RecordCommand) (*Deployment, error)
	Mark(ctx context.Context, id uuid.UUID, s Stamp) (*Deployment, error)
	Find(ctx context.Context, id uuid.UUID) (*Deployment, error)
	Live(ctx context.Context) ([]Deployment, error)
	History(ctx context.Context, limit int) ([]HistoryEntry, error)
	RollbackToVersion(ctx context.Context, target int64) (*RollbackResult, error)
}

type manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, logger *slog.Logger) System {
	return &manager{
		store:  store,
		logger: logger.With("system", "versions"),
		now:    time.Now,
	}
}

func (m *manager) Handler() *Handler {
	return NewHandler(m, m.logger)
}

func (m *manager) Allocate(ctx context.Context) (int64, error) {
	v, err := m.store.NextVersion(ctx)
	if err != nil {
		return 0, err
	}
	m.logger.Debug("version allocated", "version", v)
	return v, nil
}

func (m *manager) Active(ctx context.Context) (int64, error) {
	return m.store.Active(ctx)
}

func (m *manager) Swap(ctx context.Context, expected, next int64) error {
	if err := m.store.Swap(ctx, expected, next); err != nil {
		return err
	}
	m.logger.Info("active version swapped", "from", expected, "to", next)
	return nil
}

func (m *manager) RecordDeployment(ctx context.Context, cmd RecordCommand) (*Deployment, error) {
	if cmd.Version <= Baseline {
		return nil, fmt.Errorf("%w: version must be positive", ErrInvalidDeployment)
	}
	if cmd.Scope != ScopeCanary && cmd.Scope != ScopeFull {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidDeployment, cmd.Scope)
	}
	if cmd.TrafficFraction < 0 || cmd.TrafficFraction > 1 {
		return nil, fmt.Errorf("%w: traffic fraction %v outside [0,1]", ErrInvalidDeployment, cmd.TrafficFraction)
	}

	d := Deployment{
		ID:              uuid.New(),
		PatchID:         cmd.PatchID,
		Version:         cmd.Version,
		Scope:           cmd.Scope,
		TrafficFraction: cmd.TrafficFraction,
		PreviousVersion: cmd.PreviousVersion,
		DependsOn:       slices.Clone(cmd.DependsOn),
		DeployedAt:      m.now().UTC(),
	}
	if err := m.store.Insert(ctx, d); err != nil {
		return nil, err
	}

	m.logger.Info("deployment recorded",
		"id", d.ID, "version", d.Version, "scope", d.Scope, "fraction", d.TrafficFraction)
	return &d, nil
}

func (m *manager) Mark(ctx context.Context, id uuid.UUID, s Stamp) (*Deployment, error) {
	d, err := m.store.Stamp(ctx, id, s, m.now())
	if err != nil {
		return nil, err
	}
	m.logger.Info("deployment stamped", "id", id, "version", d.Version, "stamp", s)
	return d, nil
}

func (m *manager) Find(ctx context.Context, id uuid.UUID) (*Deployment, error) {
	return m.store.Find(ctx, id)
}

func (m *manager) Live(ctx context.Context) ([]Deployment, error) {
	return m.store.Live(ctx)
}

func (m *manager) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	deps, err := m.store.History(ctx, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, len(deps))
	for i, d := range deps {
		entries[i] = HistoryEntry{
			Deployment: d,
			Status:     d.Status(),
			CreatedAt:  d.DeployedAt,
		}
	}
	return entries, nil
}

// RollbackToVersion makes target the active version. Every live deployment
// newer than target is rolled back, together with every live deployment that
// depends on one of them. When target was a patch version a fresh full
// deployment entry records its restoration.
func (m *manager) RollbackToVersion(ctx context.Context, target int64) (*RollbackResult, error) {
	active, err := m.store.Active(ctx)
	if err != nil {
		return nil, err
	}
	if target > active {
		return nil, fmt.Errorf("%w: %d is newer than active %d", ErrTargetNotRestorable, target, active)
	}

	live, err := m.store.Live(ctx)
	if err != nil {
		return nil, err
	}

	var source *Deployment
	if target != Baseline && target != active {
		source, err = m.restorable(ctx, target)
		if err != nil {
			return nil, err
		}
	}

	closure := Closure(live, target)

	if target != active {
		if err := m.store.Swap(ctx, active, target); err != nil {
			return nil, err
		}
	}

	result := &RollbackResult{Target: target, Previous: active, RolledBack: []Deployment{}}
	now := m.now()
	for _, d := range closure {
		stamped, err := m.store.Stamp(ctx, d.ID, StampRolledBack, now)
		if errors.Is(err, ErrAlreadyStamped) {
			continue
		}
		if err != nil {
			return result, fmt.Errorf("roll back deployment %s: %w", d.ID, err)
		}
		result.RolledBack = append(result.RolledBack, *stamped)
	}

	if source != nil && !slices.ContainsFunc(live, func(d Deployment) bool {
		return d.Version == target && d.Scope == ScopeFull
	}) {
		restored, err := m.RecordDeployment(ctx, RecordCommand{
			PatchID:         source.PatchID,
			Version:         target,
			Scope:           ScopeFull,
			TrafficFraction: 1,
			PreviousVersion: active,
			DependsOn:       source.DependsOn,
		})
		if err != nil {
			return result, err
		}
		result.Restored = restored
	}

	m.logger.Warn("rolled back to version",
		"target", target, "previous", active, "rolled_back", len(result.RolledBack))
	return result, nil
}

// restorable finds the full deployment of target that was not rolled back.
func (m *manager) restorable(ctx context.Context, target int64) (*Deployment, error) {
	// Full history is bounded by the number of deployments ever made.
	deps, err := m.store.History(ctx, 0)
	if err != nil {
		return nil, err
	}
	for _, d := range deps {
		if d.Version == target && d.Scope == ScopeFull {
			if d.RolledBackAt != nil {
				return nil, fmt.Errorf("%w: version %d was rolled back", ErrTargetNotRestorable, target)
			}
			return &d, nil
		}
	}
	return nil, fmt.Errorf("%w: version %d was never fully deployed", ErrTargetNotRestorable, target)
}

// Closure returns the live deployments that must be rolled back to restore
// target: those newer than target, plus, transitively, those that depend on
// a version being rolled back.
func Closure(live []Deployment, target int64) []Deployment {
	removed := make(map[int64]bool)
	in := make([]bool, len(live))

	for i, d := range live {
		if d.Version > target {
			in[i] = true
			removed[d.Version] = true
		}
	}

	for changed := true; changed; {
		changed = false
		for i, d := range live {
			if in[i] {
				continue
			}
			if slices.ContainsFunc(d.DependsOn, func(v int64) bool { return removed[v] }) {
				in[i] = true
				removed[d.Version] = true
				changed = true
			}
		}
	}

	var out []Deployment
	for i, d := range live {
		if in[i] {
			out = append(out, d)
		}
	}
	return out
}
