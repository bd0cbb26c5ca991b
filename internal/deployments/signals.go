package deployments

import (
	"hash/fnv"
	"math"
	"sync"
	"time"
)

type signal struct {
	at     time.Time
	failed bool
}

// signals keeps recent per-version error signals.
type signals struct {
	mu     sync.Mutex
	retain time.Duration
	events map[int64][]signal
}

func newSignals(retain time.Duration) *signals {
	return &signals{retain: retain, events: make(map[int64][]signal)}
}

func (s *signals) observe(version int64, failed bool, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evs := append(s.events[version], signal{at: at, failed: failed})
	cutoff := at.Add(-s.retain)
	drop := 0
	for drop < len(evs) && evs[drop].at.Before(cutoff) {
		drop++
	}
	s.events[version] = evs[drop:]
}

// Stats counts a version's signals observed at or after since.
type Stats struct {
	Samples  int     `json:"samples"`
	Failures int     `json:"failures"`
	Rate     float64 `json:"rate"`
}

func (s *signals) stats(version int64, since time.Time) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, e := range s.events[version] {
		if e.at.Before(since) {
			continue
		}
		st.Samples++
		if e.failed {
			st.Failures++
		}
	}
	if st.Samples > 0 {
		st.Rate = float64(st.Failures) / float64(st.Samples)
	}
	return st
}

// routeToCanary reports whether key falls inside the canary fraction. The
// decision depends only on the key, so a key keeps its route for the life
// of the canary.
func routeToCanary(key string, fraction float64) bool {
	if key == "" || fraction <= 0 {
		return false
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return float64(h.Sum32())/float64(math.MaxUint32+1) < fraction
}
