package gradinglogs

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/pagination"
)

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	logs map[uuid.UUID]GradingLog
}

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{logs: make(map[uuid.UUID]GradingLog)}
}

func (m *Memory) Insert(_ context.Context, l GradingLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.logs[l.ID]; ok {
		return ErrDuplicate
	}
	m.logs[l.ID] = l
	return nil
}

func (m *Memory) Override(_ context.Context, id uuid.UUID, cmd OverrideCommand, at time.Time) (*GradingLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.logs[id]
	if !ok {
		return nil, ErrNotFound
	}
	applyOverride(&l, cmd, at)
	m.logs[id] = l
	return &l, nil
}

func (m *Memory) Find(_ context.Context, id uuid.UUID) (*GradingLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.logs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

// List returns logs newest first. Search matches submission, rubric, and
// override reason. Sort fields are ignored.
func (m *Memory) List(
	_ context.Context,
	page pagination.Request,
	filters Filters,
) (*pagination.Page[GradingLog], error) {
	m.mu.RLock()
	items := make([]GradingLog, 0, len(m.logs))
	for _, l := range m.logs {
		if filters.Match(l) && matchSearch(l, page.Search) {
			items = append(items, l)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(items, func(a, b GradingLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	result := pagination.Slice(items, page)
	return &result, nil
}

func (m *Memory) Overridden(_ context.Context, since time.Time) ([]GradingLog, error) {
	m.mu.RLock()
	items := make([]GradingLog, 0)
	for _, l := range m.logs {
		if l.WasOverridden && !l.OverriddenAt.Before(since) {
			items = append(items, l)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(items, byOverriddenAt)
	return items, nil
}

func byOverriddenAt(a, b GradingLog) int {
	return cmp.Or(a.OverriddenAt.Compare(*b.OverriddenAt), a.CreatedAt.Compare(b.CreatedAt))
}

func matchSearch(l GradingLog, search *string) bool {
	if search == nil || *search == "" {
		return true
	}
	s := strings.ToLower(*search)
	reason := ""
	if l.OverrideReason != nil {
		reason = *l.OverrideReason
	}
	for _, field := range []string{l.SubmissionID, l.RubricID, reason} {
		if strings.Contains(strings.ToLower(field), s) {
			return true
		}
	}
	return false
}
