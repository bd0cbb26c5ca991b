package gradinglogs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/lifecycle"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/pagination"
)

var (
	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gradeos",
		Subsystem: "logs",
		Name:      "pending",
		Help:      "Grading logs queued locally awaiting a durable write.",
	})

	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gradeos",
		Subsystem: "logs",
		Name:      "writes_total",
		Help:      "Grading log writes by outcome (stored, queued, flushed, dropped).",
	}, []string{"outcome"})
)

// System defines the public contract for the grading journal.
type System interface {
	Handler(guard func(http.Handler) http.Handler) *Handler

	// Start registers the background retry loop with the lifecycle coordinator.
	Start(lc *lifecycle.Coordinator) error

	// Log records a new immutable entry and returns its id. The id is valid
	// even when the write was queued for retry.
	Log(ctx context.Context, entry Entry) (uuid.UUID, error)

	// Override applies a human correction. Returns ErrNotFound for unknown ids.
	Override(ctx context.Context, id uuid.UUID, cmd OverrideCommand) (*GradingLog, error)

	// OverrideSamples returns overridden logs within window without waiting
	// for more data.
	OverrideSamples(ctx context.Context, minCount int, window time.Duration) (SampleSet, error)

	// FlushPending attempts every queued write and returns how many reached
	// the store.
	FlushPending(ctx context.Context) (int, error)

	// Pending returns the number of queued, undelivered logs.
	Pending() int

	// Dropped returns how many logs were lost because the queue was full.
	Dropped() int

	Find(ctx context.Context, id uuid.UUID) (*GradingLog, error)
	List(ctx context.Context, page pagination.Request, filters Filters) (*pagination.Page[GradingLog], error)
}

// OverrideListener is notified after every successful override.
type OverrideListener func(ctx context.Context, l GradingLog)

type journal struct {
	store      Store
	cfg        Config
	logger     *slog.Logger
	pagination pagination.Config
	listeners  []OverrideListener
	now        func() time.Time

	mu       sync.Mutex
	queue    []GradingLog
	dropped  int
	attempts int
	nextTry  time.Time
}

// New creates a journal over store. cfg must be finalized.
func New(
	store Store,
	cfg Config,
	logger *slog.Logger,
	pagination pagination.Config,
	listeners ...OverrideListener,
) System {
	return &journal{
		store:      store,
		cfg:        cfg,
		logger:     logger.With("system", "gradinglogs"),
		pagination: pagination,
		listeners:  listeners,
		now:        time.Now,
	}
}

func (j *journal) Handler(guard func(http.Handler) http.Handler) *Handler {
	return NewHandler(j, j.logger, j.pagination, guard)
}

func (j *journal) Start(lc *lifecycle.Coordinator) error {
	lc.Every(j.cfg.RetryInitialDuration(), j.retry)

	lc.OnShutdown(func() {
		<-lc.Context().Done()

		ctx, cancel := context.WithTimeout(context.Background(), j.cfg.RetryMaxDuration())
		defer cancel()

		flushed, err := j.FlushPending(ctx)
		if remaining := j.Pending(); remaining > 0 {
			j.logger.Error("grading logs undelivered at shutdown",
				"flushed", flushed,
				"pending", remaining,
				"error", err,
			)
		}
	})
	return nil
}

func (j *journal) Log(ctx context.Context, entry Entry) (uuid.UUID, error) {
	l := newLog(entry, j.now())

	err := j.store.Insert(ctx, l)
	if err == nil {
		writesTotal.WithLabelValues("stored").Inc()
		return l.ID, nil
	}
	if errors.Is(err, ErrDuplicate) {
		return uuid.Nil, err
	}

	if qerr := j.enqueue(l); qerr != nil {
		return uuid.Nil, errors.Join(qerr, err)
	}

	j.logger.Warn("grading log queued for retry",
		"id", l.ID,
		"submission_id", l.SubmissionID,
		"page_index", l.PageIndex,
		"error", err,
	)
	writesTotal.WithLabelValues("queued").Inc()
	return l.ID, nil
}

func (j *journal) Override(ctx context.Context, id uuid.UUID, cmd OverrideCommand) (*GradingLog, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	at := j.now()

	l, err := j.store.Override(ctx, id, cmd, at)
	if errors.Is(err, ErrNotFound) {
		l, err = j.overridePending(id, cmd, at)
	}
	if err != nil {
		return nil, err
	}

	j.logger.Info("grading log overridden",
		"id", l.ID,
		"rule_version", l.RuleVersion,
		"score", l.Score,
		"override_score", cmd.Score,
		"actor", cmd.Actor,
	)

	for _, fn := range j.listeners {
		fn(ctx, *l)
	}
	return l, nil
}

func (j *journal) OverrideSamples(ctx context.Context, minCount int, window time.Duration) (SampleSet, error) {
	since := j.now().Add(-window)

	logs, err := j.store.Overridden(ctx, since)
	if err != nil {
		return SampleSet{}, err
	}

	j.mu.Lock()
	for _, l := range j.queue {
		if l.WasOverridden && !l.OverriddenAt.Before(since) {
			logs = append(logs, l)
		}
	}
	j.mu.Unlock()
	slices.SortFunc(logs, byOverriddenAt)

	return SampleSet{
		Logs:       logs,
		MinCount:   minCount,
		Since:      since,
		Sufficient: len(logs) >= minCount,
	}, nil
}

func (j *journal) FlushPending(ctx context.Context) (int, error) {
	j.mu.Lock()
	batch := slices.Clone(j.queue)
	j.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}

	snapshot := make(map[uuid.UUID]GradingLog, len(batch))
	delivered := make(map[uuid.UUID]bool, len(batch))
	var errs []error
	for _, l := range batch {
		snapshot[l.ID] = l
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		err := j.store.Insert(ctx, l)
		if err == nil || errors.Is(err, ErrDuplicate) {
			delivered[l.ID] = true
			continue
		}
		errs = append(errs, err)
	}

	j.mu.Lock()
	// an override that landed on the queued copy mid-flush is replayed below
	var lost []GradingLog
	j.queue = slices.DeleteFunc(j.queue, func(l GradingLog) bool {
		if !delivered[l.ID] {
			return false
		}
		if l.WasOverridden && !sameOverride(l, snapshot[l.ID]) {
			lost = append(lost, l)
		}
		return true
	})
	j.updateBackoff(len(errs) == 0)
	pendingGauge.Set(float64(len(j.queue)))
	j.mu.Unlock()

	for _, l := range lost {
		cmd := OverrideCommand{Score: *l.OverrideScore, Reason: *l.OverrideReason, Actor: *l.OverrideActor}
		if _, err := j.store.Override(ctx, l.ID, cmd, *l.OverriddenAt); err != nil {
			errs = append(errs, err)
		}
	}

	flushed := len(delivered)
	writesTotal.WithLabelValues("flushed").Add(float64(flushed))
	if flushed > 0 {
		j.logger.Info("grading logs flushed", "count", flushed, "pending", j.Pending())
	}
	return flushed, errors.Join(errs...)
}

func (j *journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.queue)
}

func (j *journal) Dropped() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}

func (j *journal) Find(ctx context.Context, id uuid.UUID) (*GradingLog, error) {
	l, err := j.store.Find(ctx, id)
	if errors.Is(err, ErrNotFound) {
		if queued, ok := j.queued(id); ok {
			return &queued, nil
		}
	}
	return l, err
}

func (j *journal) List(
	ctx context.Context,
	page pagination.Request,
	filters Filters,
) (*pagination.Page[GradingLog], error) {
	page.Normalize(j.pagination)
	return j.store.List(ctx, page, filters)
}

func (j *journal) enqueue(l GradingLog) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.queue) >= j.cfg.MaxPending {
		j.dropped++
		writesTotal.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
	if len(j.queue) == 0 {
		j.attempts = 0
		j.nextTry = j.now().Add(j.cfg.RetryInitialDuration())
	}
	j.queue = append(j.queue, l)
	pendingGauge.Set(float64(len(j.queue)))
	return nil
}

func (j *journal) queued(id uuid.UUID) (GradingLog, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, l := range j.queue {
		if l.ID == id {
			return l, true
		}
	}
	return GradingLog{}, false
}

func (j *journal) overridePending(id uuid.UUID, cmd OverrideCommand, at time.Time) (*GradingLog, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i := range j.queue {
		if j.queue[i].ID == id {
			applyOverride(&j.queue[i], cmd, at)
			l := j.queue[i]
			return &l, nil
		}
	}
	return nil, ErrNotFound
}

// retry runs on every tick and flushes once the backoff deadline has passed.
func (j *journal) retry(ctx context.Context) {
	j.mu.Lock()
	due := len(j.queue) > 0 && !j.now().Before(j.nextTry)
	j.mu.Unlock()

	if !due {
		return
	}
	if _, err := j.FlushPending(ctx); err != nil {
		j.logger.Warn("grading log flush incomplete", "pending", j.Pending(), "error", err)
	}
}

// updateBackoff doubles the retry delay after a failed flush, capped at
// RetryMax. Caller holds mu.
func (j *journal) updateBackoff(success bool) {
	if success {
		j.attempts = 0
	} else {
		j.attempts++
	}
	j.nextTry = j.now().Add(backoff(j.cfg.RetryInitialDuration(), j.cfg.RetryMaxDuration(), j.attempts))
}

func sameOverride(a, b GradingLog) bool {
	if a.OverriddenAt == nil || b.OverriddenAt == nil {
		return a.OverriddenAt == b.OverriddenAt
	}
	return a.OverriddenAt.Equal(*b.OverriddenAt)
}

func backoff(initial, limit time.Duration, attempts int) time.Duration {
	d := initial
	for range attempts {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}
