package api

import (
	"fmt"

	"github.com/QWERTYjc/GradeOS-sub003/internal/config"
	"github.com/QWERTYjc/GradeOS-sub003/internal/deployments"
	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
	"github.com/QWERTYjc/GradeOS-sub003/internal/gradinglogs"
	"github.com/QWERTYjc/GradeOS-sub003/internal/mining"
	"github.com/QWERTYjc/GradeOS-sub003/internal/patches"
	"github.com/QWERTYjc/GradeOS-sub003/internal/pipeline"
	"github.com/QWERTYjc/GradeOS-sub003/internal/progress"
	"github.com/QWERTYjc/GradeOS-sub003/internal/regression"
	"github.com/QWERTYjc/GradeOS-sub003/internal/scoring"
	"github.com/QWERTYjc/GradeOS-sub003/internal/versions"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/lifecycle"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Versions    versions.System
	Patches     patches.System
	Deployments deployments.System
	Logs        gradinglogs.System
	Processor   *grading.Processor
	Regression  regression.System
	Pipeline    pipeline.System
	Progress    progress.System
	Scorer      *scoring.Client
}

// NewDomain creates all domain systems from the API runtime. The scorer
// passed in overrides the HTTP scoring client when non-nil.
func NewDomain(runtime *Runtime, cfg *config.DomainConfig, scorer grading.Scorer) *Domain {
	st := newStores(runtime)
	logger := runtime.Logger

	client := scoring.New(cfg.Scoring, logger)
	if scorer == nil {
		if !client.Configured() {
			logger.Warn("scoring endpoint not configured, every page will fail")
		}
		scorer = client
	}

	vs := versions.New(st.versions, logger)
	ps := patches.New(st.patches, vs, cfg.Patches, logger, runtime.Pagination)
	deployer := deployments.New(ps, vs, cfg.Deploy, logger)
	journal := gradinglogs.New(st.logs, cfg.Logs, logger, runtime.Pagination, deployer.OverrideListener())
	stream := progress.New(st.progress, cfg.Progress, logger)
	rules := patches.NewContextBuilder(ps)

	processor := grading.NewProcessor(grading.Deps{
		Scorer:   scorer,
		Resolver: deployer,
		Journal:  journal,
		Signals:  deployer,
		Observer: stream,
		Context:  rules,
	}, cfg.Grading, logger)

	sets := regression.NewEvalSets(runtime.Storage, cfg.Regression.EvalSetPrefix)
	tester := regression.New(
		st.regression,
		ps,
		vs,
		grading.WithRuleContext(scorer, rules),
		sets,
		cfg.Regression,
		logger,
	)

	loop := pipeline.New(
		journal,
		mining.New(cfg.Mining, logger),
		ps,
		tester,
		deployer,
		cfg.Pipeline,
		logger,
	)

	return &Domain{
		Versions:    vs,
		Patches:     ps,
		Deployments: deployer,
		Logs:        journal,
		Processor:   processor,
		Regression:  tester,
		Pipeline:    loop,
		Progress:    stream,
		Scorer:      client,
	}
}

// Start registers the background loops of the domain systems.
func (d *Domain) Start(lc *lifecycle.Coordinator) error {
	starters := []struct {
		name  string
		start func(*lifecycle.Coordinator) error
	}{
		{"gradinglogs", d.Logs.Start},
		{"deployments", d.Deployments.Start},
		{"pipeline", d.Pipeline.Start},
	}
	for _, s := range starters {
		if err := s.start(lc); err != nil {
			return fmt.Errorf("%s start failed: %w", s.name, err)
		}
	}

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		d.Scorer.Close()
	})
	return nil
}
