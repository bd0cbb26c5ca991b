package config

import (
	"fmt"

	"github.com/QWERTYjc/GradeOS-sub003/internal/deployments"
	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
	"github.com/QWERTYjc/GradeOS-sub003/internal/gradinglogs"
	"github.com/QWERTYjc/GradeOS-sub003/internal/mining"
	"github.com/QWERTYjc/GradeOS-sub003/internal/patches"
	"github.com/QWERTYjc/GradeOS-sub003/internal/pipeline"
	"github.com/QWERTYjc/GradeOS-sub003/internal/progress"
	"github.com/QWERTYjc/GradeOS-sub003/internal/regression"
	"github.com/QWERTYjc/GradeOS-sub003/internal/scoring"
)

var gradingEnv = &grading.Env{
	BatchSize:            "GRADEOS_GRADING_BATCH_SIZE",
	MaxConcurrentBatches: "GRADEOS_GRADING_MAX_CONCURRENT_BATCHES",
	PageTimeout:          "GRADEOS_GRADING_PAGE_TIMEOUT",
	RateLimit:            "GRADEOS_GRADING_RATE_LIMIT",
	RateBurst:            "GRADEOS_GRADING_RATE_BURST",
	ReviewThreshold:      "GRADEOS_GRADING_REVIEW_THRESHOLD",
}

var logsEnv = &gradinglogs.Env{
	RetryInitial: "GRADEOS_LOGS_RETRY_INITIAL",
	RetryMax:     "GRADEOS_LOGS_RETRY_MAX",
	MaxPending:   "GRADEOS_LOGS_MAX_PENDING",
}

var miningEnv = &mining.Env{
	MinWindowRecords:    "GRADEOS_MINING_MIN_WINDOW_RECORDS",
	MinPatternFrequency: "GRADEOS_MINING_MIN_PATTERN_FREQUENCY",
	MaxSamples:          "GRADEOS_MINING_MAX_SAMPLES",
}

var patchesEnv = &patches.Env{
	Cooldown:    "GRADEOS_PATCHES_COOLDOWN",
	MaxExamples: "GRADEOS_PATCHES_MAX_EXAMPLES",
}

var regressionEnv = &regression.Env{
	ScoreTolerance:  "GRADEOS_REGRESSION_SCORE_TOLERANCE",
	ReviewThreshold: "GRADEOS_REGRESSION_REVIEW_THRESHOLD",
	Concurrency:     "GRADEOS_REGRESSION_CONCURRENCY",
	EvalSetPrefix:   "GRADEOS_REGRESSION_EVAL_SET_PREFIX",
}

var deployEnv = &deployments.Env{
	Window:           "GRADEOS_DEPLOY_WINDOW",
	Tick:             "GRADEOS_DEPLOY_TICK",
	MinSamples:       "GRADEOS_DEPLOY_MIN_SAMPLES",
	MaxDelta:         "GRADEOS_DEPLOY_MAX_DELTA",
	MaxErrorRate:     "GRADEOS_DEPLOY_MAX_ERROR_RATE",
	DefaultFraction:  "GRADEOS_DEPLOY_DEFAULT_FRACTION",
	RollbackAttempts: "GRADEOS_DEPLOY_ROLLBACK_ATTEMPTS",
	RollbackBackoff:  "GRADEOS_DEPLOY_ROLLBACK_BACKOFF",
}

var pipelineEnv = &pipeline.Env{
	Enabled:        "GRADEOS_PIPELINE_ENABLED",
	Interval:       "GRADEOS_PIPELINE_INTERVAL",
	Window:         "GRADEOS_PIPELINE_WINDOW",
	EvalSet:        "GRADEOS_PIPELINE_EVAL_SET",
	AutoCanary:     "GRADEOS_PIPELINE_AUTO_CANARY",
	CanaryFraction: "GRADEOS_PIPELINE_CANARY_FRACTION",
}

var progressEnv = &progress.Env{
	DefaultLimit: "GRADEOS_PROGRESS_DEFAULT_LIMIT",
	MaxLimit:     "GRADEOS_PROGRESS_MAX_LIMIT",
}

var scoringEnv = &scoring.Env{
	Endpoint:     "GRADEOS_SCORING_ENDPOINT",
	APIKey:       "GRADEOS_SCORING_API_KEY",
	Timeout:      "GRADEOS_SCORING_TIMEOUT",
	RateLimit:    "GRADEOS_SCORING_RATE_LIMIT",
	RateBurst:    "GRADEOS_SCORING_RATE_BURST",
	MaxBodyBytes: "GRADEOS_SCORING_MAX_BODY_BYTES",
}

// DomainConfig groups the settings of the grading and rule-evolution systems.
type DomainConfig struct {
	Grading    grading.Config     `toml:"grading"`
	Logs       gradinglogs.Config `toml:"logs"`
	Mining     mining.Config      `toml:"mining"`
	Patches    patches.Config     `toml:"patches"`
	Regression regression.Config  `toml:"regression"`
	Deploy     deployments.Config `toml:"deploy"`
	Pipeline   pipeline.Config    `toml:"pipeline"`
	Progress   progress.Config    `toml:"progress"`
	Scoring    scoring.Config     `toml:"scoring"`
}

// Finalize finalizes every domain section against its GRADEOS_* variables.
func (c *DomainConfig) Finalize() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"grading", func() error { return c.Grading.Finalize(gradingEnv) }},
		{"logs", func() error { return c.Logs.Finalize(logsEnv) }},
		{"mining", func() error { return c.Mining.Finalize(miningEnv) }},
		{"patches", func() error { return c.Patches.Finalize(patchesEnv) }},
		{"regression", func() error { return c.Regression.Finalize(regressionEnv) }},
		{"deploy", func() error { return c.Deploy.Finalize(deployEnv) }},
		{"pipeline", func() error { return c.Pipeline.Finalize(pipelineEnv) }},
		{"progress", func() error { return c.Progress.Finalize(progressEnv) }},
		{"scoring", func() error { return c.Scoring.Finalize(scoringEnv) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// Merge overwrites non-zero fields from overlay in every section.
func (c *DomainConfig) Merge(overlay *DomainConfig) {
	c.Grading.Merge(&overlay.Grading)
	c.Logs.Merge(&overlay.Logs)
	c.Mining.Merge(&overlay.Mining)
	c.Patches.Merge(&overlay.Patches)
	c.Regression.Merge(&overlay.Regression)
	c.Deploy.Merge(&overlay.Deploy)
	c.Pipeline.Merge(&overlay.Pipeline)
	c.Progress.Merge(&overlay.Progress)
	c.Scoring.Merge(&overlay.Scoring)
}
