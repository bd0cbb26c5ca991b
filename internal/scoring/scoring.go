// Package scoring calls a remote scoring service over HTTP. It implements
// grading.Scorer.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/formatting"
)

var callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "gradeos_scoring_call_duration_seconds",
	Help:    "Latency of scoring service calls, by outcome.",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
}, []string{"outcome"})

// Client posts one page per call to the configured endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Client. A zero RateLimit leaves calls unthrottled.
func New(cfg Config, logger *slog.Logger) *Client {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.TimeoutDuration(),
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		limiter: rate.NewLimiter(limit, cfg.RateBurst),
		logger:  logger.With("system", "scoring"),
	}
}

// Close releases idle connections to the scoring service.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Configured reports whether an endpoint is set.
func (c *Client) Configured() bool {
	return c.cfg.Endpoint != ""
}

func (c *Client) Score(ctx context.Context, req grading.Request) (grading.Score, error) {
	if !c.Configured() {
		return grading.Score{}, ErrNoEndpoint
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return grading.Score{}, err
	}

	start := time.Now()
	score, err := c.call(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.logger.Debug("scoring call failed",
			"submission_id", req.SubmissionID, "page", req.PageIndex, "error", err)
	}
	callDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return score, err
}

func (c *Client) call(ctx context.Context, req grading.Request) (grading.Score, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return grading.Score{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return grading.Score{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return grading.Score{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		return grading.Score{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return grading.Score{}, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, bytes.TrimSpace(raw))
	}

	score, err := formatting.Parse[grading.Score](string(raw))
	if err != nil {
		return grading.Score{}, err
	}
	if err := validate(score); err != nil {
		return grading.Score{}, err
	}
	return score, nil
}

func validate(s grading.Score) error {
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return fmt.Errorf("%w: score %v", ErrInvalidScore, s.Value)
	}
	if s.Confidence < 0 || s.Confidence > 1 || math.IsNaN(s.Confidence) {
		return fmt.Errorf("%w: confidence %v", ErrInvalidScore, s.Confidence)
	}
	return nil
}
