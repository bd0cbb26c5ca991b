package patches

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/pagination"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	patches map[uuid.UUID]RulePatch
}

func NewMemory() *Memory {
	return &Memory{patches: make(map[uuid.UUID]RulePatch)}
}

func (m *Memory) Create(_ context.Context, p RulePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.patches {
		if existing.ID == p.ID || existing.Version == p.Version {
			return ErrDuplicate
		}
		if existing.SourcePatternID == p.SourcePatternID && existing.Status.Unresolved() {
			return ErrDuplicate
		}
	}
	p.DependsOn = slices.Clone(p.DependsOn)
	m.patches[p.ID] = p
	return nil
}

func (m *Memory) Find(_ context.Context, id uuid.UUID) (*RulePatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.patches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) FindByVersion(_ context.Context, version int64) (*RulePatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.patches {
		if p.Version == version {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

// List returns patches by descending version. Search and sort are ignored.
func (m *Memory) List(
	_ context.Context,
	page pagination.Request,
	filters Filters,
) (*pagination.Page[RulePatch], error) {
	items := m.sorted(filters.Match)
	result := pagination.Slice(items, page)
	return &result, nil
}

func (m *Memory) LatestForPattern(_ context.Context, patternID string) (*RulePatch, error) {
	items := m.sorted(func(p RulePatch) bool { return p.SourcePatternID == patternID })
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return &items[0], nil
}

func (m *Memory) WithStatus(_ context.Context, status Status) ([]RulePatch, error) {
	items := m.sorted(func(p RulePatch) bool { return p.Status == status })
	slices.Reverse(items)
	return items, nil
}

func (m *Memory) SetStatus(_ context.Context, id uuid.UUID, from, next Status, at time.Time) (*RulePatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.patches[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != from {
		return nil, ErrStatusConflict
	}
	p.Status = next
	p.UpdatedAt = at.UTC()
	m.patches[id] = p
	return &p, nil
}

func (m *Memory) sorted(keep func(RulePatch) bool) []RulePatch {
	m.mu.RLock()
	items := make([]RulePatch, 0, len(m.patches))
	for _, p := range m.patches {
		if keep(p) {
			items = append(items, p)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(items, func(a, b RulePatch) int {
		return cmp.Compare(b.Version, a.Version)
	})
	return items
}
