// Package mining groups human overrides into recurring failure patterns and
// decides which of them rule, prompt, or example patches can address.
package mining

import (
	"cmp"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/QWERTYjc/GradeOS-sub003/internal/gradinglogs"
)

// lowExtractionConfidence routes uncatalogued overrides to the extraction bucket.
const lowExtractionConfidence = 0.6

// FailurePattern is a recurring class of corrected grading error. It is
// derived from logs on every analysis and never stored on its own.
type FailurePattern struct {
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	Bucket       Bucket      `json:"bucket"`
	Frequency    int         `json:"frequency"`
	SampleLogIDs []uuid.UUID `json:"sample_log_ids"`
	Samples      []Sample    `json:"samples"`
	Fixable      bool        `json:"fixable"`
	FirstSeen    time.Time   `json:"first_seen"`
	LastSeen     time.Time   `json:"last_seen"`
}

// Sample is the evidence a patch is built from.
type Sample struct {
	LogID           uuid.UUID `json:"log_id"`
	ExtractedValue  string    `json:"extracted_value"`
	NormalizedValue string    `json:"normalized_value"`
	Score           float64   `json:"score"`
	OverrideScore   float64   `json:"override_score"`
	Reason          string    `json:"reason"`
}

// Miner applies the configured thresholds to override samples.
type Miner struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Miner {
	return &Miner{cfg: cfg, logger: logger.With("system", "mining")}
}

// MinWindowRecords is the number of overrides a window must hold before
// analysis produces anything.
func (m *Miner) MinWindowRecords() int {
	return m.cfg.MinWindowRecords
}

// Analyze groups overridden logs by signature and returns the groups whose
// frequency reaches the configured minimum, most frequent first. Windows with
// fewer than MinWindowRecords overrides yield no patterns.
func (m *Miner) Analyze(logs []gradinglogs.GradingLog) []FailurePattern {
	overridden := make([]gradinglogs.GradingLog, 0, len(logs))
	for _, l := range logs {
		if l.WasOverridden && l.OverrideReason != nil && l.OverrideScore != nil {
			overridden = append(overridden, l)
		}
	}
	if len(overridden) < m.cfg.MinWindowRecords {
		m.logger.Debug("override window below threshold",
			"records", len(overridden), "min", m.cfg.MinWindowRecords)
		return []FailurePattern{}
	}

	slices.SortStableFunc(overridden, func(a, b gradinglogs.GradingLog) int {
		return cmp.Compare(overrideTime(a).UnixNano(), overrideTime(b).UnixNano())
	})

	groups := make(map[string]*FailurePattern)
	var order []string
	for _, l := range overridden {
		patternType := NormalizeType(*l.OverrideReason)
		bucket := classify(patternType, l)
		id := Signature(bucket, patternType)

		p, ok := groups[id]
		if !ok {
			p = &FailurePattern{
				ID:        id,
				Type:      patternType,
				Bucket:    bucket,
				FirstSeen: overrideTime(l),
			}
			groups[id] = p
			order = append(order, id)
		}
		p.Frequency++
		p.LastSeen = overrideTime(l)
		if len(p.SampleLogIDs) < m.cfg.MaxSamples {
			p.SampleLogIDs = append(p.SampleLogIDs, l.ID)
			p.Samples = append(p.Samples, Sample{
				LogID:           l.ID,
				ExtractedValue:  l.ExtractedValue,
				NormalizedValue: l.NormalizedValue,
				Score:           l.Score,
				OverrideScore:   *l.OverrideScore,
				Reason:          *l.OverrideReason,
			})
		}
	}

	patterns := make([]FailurePattern, 0, len(order))
	for _, id := range order {
		p := groups[id]
		if p.Frequency < m.cfg.MinPatternFrequency {
			continue
		}
		p.Fixable = Fixable(*p)
		patterns = append(patterns, *p)
	}
	slices.SortStableFunc(patterns, func(a, b FailurePattern) int {
		return cmp.Compare(b.Frequency, a.Frequency)
	})

	m.logger.Info("overrides analyzed",
		"records", len(overridden), "groups", len(order), "patterns", len(patterns))
	return patterns
}

// Forwardable filters patterns down to the fixable ones.
func Forwardable(patterns []FailurePattern) []FailurePattern {
	out := make([]FailurePattern, 0, len(patterns))
	for _, p := range patterns {
		if Fixable(p) {
			out = append(out, p)
		}
	}
	return out
}

// Fixable reports whether the pattern's type is catalogued with a remedy.
// The result depends only on the pattern type and bucket.
func Fixable(p FailurePattern) bool {
	e, ok := Lookup(p.Type)
	return ok && e.Bucket == p.Bucket && e.Fixable()
}

// Signature is the grouping key of a pattern.
func Signature(bucket Bucket, patternType string) string {
	return string(bucket) + ":" + patternType
}

// NormalizeType derives a pattern type from an override reason: the text
// before the first colon, lowercased, with runs of other characters folded
// to a single underscore.
func NormalizeType(reason string) string {
	head, _, _ := strings.Cut(reason, ":")

	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(strings.TrimSpace(head)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	if b.Len() == 0 {
		return "unspecified"
	}
	return b.String()
}

func classify(patternType string, l gradinglogs.GradingLog) Bucket {
	if e, ok := Lookup(patternType); ok {
		return e.Bucket
	}
	switch {
	case l.ExtractedValue == "" || l.ExtractionConfidence < lowExtractionConfidence:
		return BucketExtraction
	case l.NormalizedValue == "":
		return BucketNormalization
	default:
		return BucketMatching
	}
}

func overrideTime(l gradinglogs.GradingLog) time.Time {
	if l.OverriddenAt != nil {
		return *l.OverriddenAt
	}
	return l.CreatedAt
}
