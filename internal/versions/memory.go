package versions

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store.
type Memory struct {
	mu          sync.Mutex
	next        int64
	active      int64
	deployments []Deployment
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) NextVersion(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	return m.next, nil
}

func (m *Memory) Active(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, nil
}

func (m *Memory) Swap(_ context.Context, expected, next int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != expected {
		return ErrConflict
	}
	m.active = next
	return nil
}

func (m *Memory) Insert(_ context.Context, d Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.DependsOn = slices.Clone(d.DependsOn)
	m.deployments = append(m.deployments, d)
	return nil
}

func (m *Memory) Stamp(_ context.Context, id uuid.UUID, s Stamp, at time.Time) (*Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.index(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	d := m.deployments[i]
	switch s {
	case StampPromoted, StampSuperseded, StampRolledBack:
	default:
		return nil, ErrInvalidStamp
	}
	if !applyStamp(&d, s, at) {
		return nil, ErrAlreadyStamped
	}
	m.deployments[i] = d
	return &d, nil
}

func (m *Memory) Find(_ context.Context, id uuid.UUID) (*Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.index(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	d := m.deployments[i]
	return &d, nil
}

func (m *Memory) Live(context.Context) ([]Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Deployment
	for _, d := range m.deployments {
		if d.Live() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) History(_ context.Context, limit int) ([]Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = len(m.deployments)
	}
	out := make([]Deployment, 0, min(limit, len(m.deployments)))
	for i := len(m.deployments) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.deployments[i])
	}
	return out, nil
}

func (m *Memory) index(id uuid.UUID) int {
	return slices.IndexFunc(m.deployments, func(d Deployment) bool {
		return d.ID == id
	})
}
