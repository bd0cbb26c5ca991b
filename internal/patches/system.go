package patches

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/QWERTYjc/GradeOS-sub003/internal/mining"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/pagination"
)

// Allocator hands out rule versions.
type Allocator interface {
	Allocate(ctx context.Context) (int64, error)
}

// System manages rule patches and their generation.
type System interface {
	Handler() *Handler

	// Generate builds a candidate patch for a failure pattern. It returns
	// nil without error when the pattern is not fixable, when an unresolved
	// patch already targets it, or when a patch for it was created within
	// the cooldown.
	Generate(ctx context.Context, pattern mining.FailurePattern) (*RulePatch, error)

	Find(ctx context.Context, id uuid.UUID) (*RulePatch, error)
	FindByVersion(ctx context.Context, version int64) (*RulePatch, error)
	List(ctx context.Context, page pagination.Request, filters Filters) (*pagination.Page[RulePatch], error)
	WithStatus(ctx context.Context, status Status) ([]RulePatch, error)
	// Transition moves a patch from one status to another, failing with
	// ErrStatusConflict if another writer moved it first.
	Transition(ctx context.Context, id uuid.UUID, from, to Status) (*RulePatch, error)
}

type generator struct {
	store      Store
	versions   Allocator
	cfg        Config
	logger     *slog.Logger
	pagination pagination.Config
	group      singleflight.Group
	now        func() time.Time
}

func New(
	store Store,
	versions Allocator,
	cfg Config,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &generator{
		store:      store,
		versions:   versions,
		cfg:        cfg,
		logger:     logger.With("system", "patches"),
		pagination: pagination,
		now:        time.Now,
	}
}

func (g *generator) Handler() *Handler {
	return NewHandler(g, g.logger, g.pagination)
}

func (g *generator) Generate(ctx context.Context, pattern mining.FailurePattern) (*RulePatch, error) {
	entry, ok := mining.Lookup(pattern.Type)
	if !ok || !mining.Fixable(pattern) {
		g.logger.Debug("pattern not fixable", "pattern", pattern.ID)
		return nil, nil
	}

	v, err, _ := g.group.Do(pattern.ID, func() (any, error) {
		return g.generate(ctx, pattern, entry)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RulePatch), nil
}

func (g *generator) generate(ctx context.Context, pattern mining.FailurePattern, entry mining.CatalogEntry) (*RulePatch, error) {
	latest, err := g.store.LatestForPattern(ctx, pattern.ID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("look up patches for %s: %w", pattern.ID, err)
	case latest.Status.Unresolved():
		g.logger.Info("unresolved patch already targets pattern",
			"pattern", pattern.ID, "patch", latest.ID, "status", latest.Status)
		return nil, nil
	case g.now().Sub(latest.CreatedAt) < g.cfg.CooldownDuration():
		g.logger.Info("pattern in cooldown", "pattern", pattern.ID, "patch", latest.ID)
		return nil, nil
	}

	deployed, err := g.store.WithStatus(ctx, StatusDeployed)
	if err != nil {
		return nil, err
	}
	var deps []int64
	for _, d := range deployed {
		if d.Content.Target == entry.Target {
			deps = append(deps, d.Version)
		}
	}
	slices.Sort(deps)

	version, err := g.versions.Allocate(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate version: %w", err)
	}

	now := g.now().UTC()
	p := RulePatch{
		ID:              uuid.New(),
		Version:         version,
		Type:            Type(entry.Remedy),
		Content:         g.content(pattern, entry),
		SourcePatternID: pattern.ID,
		DependsOn:       deps,
		Status:          StatusCandidate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := g.store.Create(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicate) {
			g.logger.Info("concurrent patch won for pattern", "pattern", pattern.ID, "version", version)
			return nil, nil
		}
		return nil, err
	}

	g.logger.Info("patch generated",
		"id", p.ID, "version", p.Version, "type", p.Type,
		"pattern", pattern.ID, "frequency", pattern.Frequency, "depends_on", deps)
	return &p, nil
}

func (g *generator) content(pattern mining.FailurePattern, entry mining.CatalogEntry) Content {
	examples := make([]Example, 0, min(len(pattern.Samples), g.cfg.MaxExamples))
	for _, s := range pattern.Samples {
		if len(examples) == g.cfg.MaxExamples {
			break
		}
		examples = append(examples, Example{
			Input:         s.ExtractedValue,
			Normalized:    s.NormalizedValue,
			GradedScore:   s.Score,
			ExpectedScore: s.OverrideScore,
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s: %d reviewer corrections of type %s",
		entry.Operation, entry.Target, pattern.Frequency, pattern.Type)
	if len(examples) > 0 {
		b.WriteString(", e.g.")
		for _, e := range examples[:min(3, len(examples))] {
			fmt.Fprintf(&b, " %q graded %.2f expected %.2f;", e.Input, e.GradedScore, e.ExpectedScore)
		}
	}

	return Content{
		Target:    entry.Target,
		Operation: entry.Operation,
		Text:      strings.TrimSuffix(b.String(), ";"),
		Examples:  examples,
	}
}

func (g *generator) Find(ctx context.Context, id uuid.UUID) (*RulePatch, error) {
	return g.store.Find(ctx, id)
}

func (g *generator) FindByVersion(ctx context.Context, version int64) (*RulePatch, error) {
	return g.store.FindByVersion(ctx, version)
}

func (g *generator) List(ctx context.Context, page pagination.Request, filters Filters) (*pagination.Page[RulePatch], error) {
	page.Normalize(g.pagination)
	return g.store.List(ctx, page, filters)
}

func (g *generator) WithStatus(ctx context.Context, status Status) ([]RulePatch, error) {
	return g.store.WithStatus(ctx, status)
}

func (g *generator) Transition(ctx context.Context, id uuid.UUID, from, to Status) (*RulePatch, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	p, err := g.store.SetStatus(ctx, id, from, to, g.now())
	if err != nil {
		return nil, err
	}
	g.logger.Info("patch status changed", "id", id, "version", p.Version, "from", from, "to", to)
	return p, nil
}
