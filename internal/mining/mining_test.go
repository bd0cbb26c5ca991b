package mining_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/QWERTYjc/GradeOS-sub003/internal/gradinglogs"
	"github.com/QWERTYjc/GradeOS-sub003/internal/mining"
)

func newMiner(t *testing.T) *mining.Miner {
	t.Helper()
	var cfg mining.Config
	if err := cfg.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	return mining.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func overridden(i int, reason string) gradinglogs.GradingLog {
	score, at := 2.0, base.Add(time.Duration(i)*time.Minute)
	return gradinglogs.GradingLog{
		ID:                   uuid.New(),
		SubmissionID:         "sub",
		PageIndex:            i,
		ExtractedValue:       "12 cm",
		ExtractionConfidence: 0.95,
		NormalizedValue:      "12",
		MatchResult:          "mismatch",
		Score:                0,
		CreatedAt:            base,
		WasOverridden:        true,
		OverrideScore:        &score,
		OverrideReason:       &reason,
		OverriddenAt:         &at,
	}
}

func repeat(n int, reason string) []gradinglogs.GradingLog {
	logs := make([]gradinglogs.GradingLog, n)
	for i := range logs {
		logs[i] = overridden(i, reason)
	}
	return logs
}

func TestAnalyzeWindowThreshold(t *testing.T) {
	m := newMiner(t)

	if got := m.Analyze(repeat(99, "unit-conversion missed: cm vs m")); len(got) != 0 {
		t.Fatalf("99 records produced %d patterns", len(got))
	}

	logs := repeat(100, "unit-conversion missed: cm vs m")
	got := m.Analyze(logs)
	if len(got) != 1 {
		t.Fatalf("100 records produced %d patterns, want 1", len(got))
	}

	p := got[0]
	if p.ID != "normalization:unit_conversion_missed" {
		t.Errorf("id = %q", p.ID)
	}
	if p.Frequency != 100 {
		t.Errorf("frequency = %d, want 100", p.Frequency)
	}
	if !p.Fixable {
		t.Error("unit conversion pattern should be fixable")
	}
	if len(p.SampleLogIDs) == 0 || p.SampleLogIDs[0] != logs[0].ID {
		t.Errorf("samples do not trace back to the first log: %v", p.SampleLogIDs)
	}
	if !p.FirstSeen.Equal(base) || !p.LastSeen.Equal(base.Add(99*time.Minute)) {
		t.Errorf("seen range = %v .. %v", p.FirstSeen, p.LastSeen)
	}
}

func TestAnalyzeIgnoresUnoverriddenLogs(t *testing.T) {
	logs := repeat(60, "format variant")
	for range 60 {
		logs = append(logs, gradinglogs.GradingLog{ID: uuid.New(), CreatedAt: base})
	}
	if got := newMiner(t).Analyze(logs); len(got) != 0 {
		t.Errorf("plain logs counted toward the window: %d patterns", len(got))
	}
}

func TestAnalyzeFrequencyAndFixability(t *testing.T) {
	var logs []gradinglogs.GradingLog
	logs = append(logs, repeat(70, "Format variant: 1/2 vs 0.5")...)
	logs = append(logs, repeat(25, "OCR misread")...)
	logs = append(logs, repeat(5, "rubric ambiguity")...)

	got := newMiner(t).Analyze(logs)
	if len(got) != 2 {
		t.Fatalf("patterns = %d, want 2", len(got))
	}
	if got[0].ID != "normalization:format_variant" || !got[0].Fixable {
		t.Errorf("first pattern = %s fixable=%v", got[0].ID, got[0].Fixable)
	}
	if got[1].ID != "extraction:ocr_misread" || got[1].Fixable {
		t.Errorf("second pattern = %s fixable=%v", got[1].ID, got[1].Fixable)
	}

	forwarded := mining.Forwardable(got)
	if len(forwarded) != 1 || forwarded[0].Type != "format_variant" {
		t.Errorf("forwarded = %+v", forwarded)
	}
}

func TestAnalyzeUncataloguedBuckets(t *testing.T) {
	logs := repeat(50, "wrong unit symbol")
	for i := range 50 {
		l := overridden(i, "wrong unit symbol")
		l.ExtractionConfidence = 0.3
		logs = append(logs, l)
	}

	got := newMiner(t).Analyze(logs)
	if len(got) != 2 {
		t.Fatalf("patterns = %d, want 2", len(got))
	}
	ids := map[string]bool{got[0].ID: true, got[1].ID: true}
	for _, want := range []string{"matching:wrong_unit_symbol", "extraction:wrong_unit_symbol"} {
		if !ids[want] {
			t.Errorf("missing pattern %s in %v", want, ids)
		}
	}
	for _, p := range got {
		if p.Fixable {
			t.Errorf("uncatalogued pattern %s marked fixable", p.ID)
		}
	}
}

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"unit-conversion missed", "unit_conversion_missed"},
		{"  Unit Conversion Missed: mm vs cm", "unit_conversion_missed"},
		{"synonym not matched (colour/color)", "synonym_not_matched_colour_color"},
		{"partial_credit_misjudged", "partial_credit_misjudged"},
		{"!!!", "unspecified"},
		{"", "unspecified"},
	}
	for _, tt := range tests {
		if got := mining.NormalizeType(tt.reason); got != tt.want {
			t.Errorf("NormalizeType(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}

func TestFixableIsDeterministic(t *testing.T) {
	tests := []struct {
		pattern mining.FailurePattern
		want    bool
	}{
		{mining.FailurePattern{Type: "unit_conversion_missed", Bucket: mining.BucketNormalization}, true},
		{mining.FailurePattern{Type: "synonym_not_matched", Bucket: mining.BucketMatching}, true},
		{mining.FailurePattern{Type: "handwriting_illegible", Bucket: mining.BucketExtraction}, false},
		{mining.FailurePattern{Type: "unit_conversion_missed", Bucket: mining.BucketMatching}, false},
		{mining.FailurePattern{Type: "made_up", Bucket: mining.BucketMatching}, false},
	}
	for _, tt := range tests {
		for range 3 {
			if got := mining.Fixable(tt.pattern); got != tt.want {
				t.Errorf("Fixable(%s/%s) = %v, want %v", tt.pattern.Bucket, tt.pattern.Type, got, tt.want)
			}
		}
	}
}

func TestConfigFinalize(t *testing.T) {
	t.Setenv("TEST_MIN_WINDOW", "250")

	var cfg mining.Config
	if err := cfg.Finalize(&mining.Env{MinWindowRecords: "TEST_MIN_WINDOW"}); err != nil {
		t.Fatal(err)
	}
	if cfg.MinWindowRecords != 250 || cfg.MinPatternFrequency != 10 {
		t.Errorf("config = %+v", cfg)
	}
}
