package progress

import (
	"context"
	"errors"
	"log/slog"
)

// System publishes batch events and serves them back by stream.
// It implements grading.Observer.
type System interface {
	Handler() *Handler
	Publish(ctx context.Context, e Event) error
	// Since returns events after the given sequence. A zero limit uses the
	// configured default.
	Since(ctx context.Context, streamID string, after int64, limit int) ([]Event, error)
}

type stream struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

func New(store Store, cfg Config, logger *slog.Logger) System {
	return &stream{
		store:  store,
		cfg:    cfg,
		logger: logger.With("system", "progress"),
	}
}

func (s *stream) Handler() *Handler {
	return NewHandler(s, s.logger)
}

// Publish stores e. Re-publishing a recorded sequence is a no-op so a
// retried batch does not fail the run.
func (s *stream) Publish(ctx context.Context, e Event) error {
	if e.StreamID == "" {
		return ErrInvalidStream
	}
	err := s.store.Append(ctx, e)
	if errors.Is(err, ErrDuplicate) {
		s.logger.Debug("stream event already recorded", "stream_id", e.StreamID, "sequence", e.Sequence)
		return nil
	}
	return err
}

func (s *stream) Since(ctx context.Context, streamID string, after int64, limit int) ([]Event, error) {
	if streamID == "" {
		return nil, ErrInvalidStream
	}
	if after < 0 {
		return nil, ErrInvalidCursor
	}
	return s.store.Since(ctx, streamID, after, s.cfg.clamp(limit))
}
