// Package progress records per-batch completion events so a client can
// follow a grading run and resume from the last sequence it saw.
package progress

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
)

// Event is a stored batch completion, keyed by (StreamID, Sequence).
type Event = grading.BatchEvent

// Store is the durable backing for stream events.
type Store interface {
	// Append records an event. Returns ErrDuplicate when the stream already
	// holds that sequence.
	Append(ctx context.Context, e Event) error
	// Since returns up to limit events of the stream with a sequence greater
	// than after, in sequence order.
	Since(ctx context.Context, streamID string, after int64, limit int) ([]Event, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	streams map[string][]Event
}

func NewMemory() *Memory {
	return &Memory{streams: make(map[string][]Event)}
}

func (m *Memory) Append(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.streams[e.StreamID]
	i, found := slices.BinarySearchFunc(events, e.Sequence, func(x Event, seq int64) int {
		return cmp.Compare(x.Sequence, seq)
	})
	if found {
		return ErrDuplicate
	}
	m.streams[e.StreamID] = slices.Insert(events, i, e)
	return nil
}

func (m *Memory) Since(_ context.Context, streamID string, after int64, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, 0)
	for _, e := range m.streams[streamID] {
		if e.Sequence <= after {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}
