package main

import (
	"context"
	"fmt"

	"github.com/QWERTYjc/GradeOS-sub003/internal/config"
	"github.com/QWERTYjc/GradeOS-sub003/internal/infrastructure"
)

type Server struct {
	cfg     *config.Config
	infra   *infrastructure.Infrastructure
	modules *Modules
	http    *httpServer
}

func NewServer(cfg *config.Config) (*Server, error) {
	infra, err := infrastructure.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("infrastructure: %w", err)
	}

	modules := NewModules(infra, cfg)

	return &Server{
		cfg:     cfg,
		infra:   infra,
		modules: modules,
		http:    newHTTPServer(cfg, buildRouter(infra, modules), infra.Logger),
	}, nil
}

// Run starts every subsystem, blocks until ctx is cancelled, then drains
// within the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	log := s.infra.Logger
	log.Info("starting gradeos",
		"version", s.cfg.Version,
		"env", s.cfg.Env(),
		"store", s.cfg.Store,
	)

	steps := []struct {
		name  string
		start func() error
	}{
		{"infrastructure", s.infra.Start},
		{"modules", s.modules.Start},
		{"http", func() error { return s.http.Start(s.infra.Lifecycle) }},
	}
	for _, step := range steps {
		if err := step.start(); err != nil {
			_ = s.infra.Lifecycle.Shutdown(s.cfg.ShutdownTimeoutDuration())
			return fmt.Errorf("start %s: %w", step.name, err)
		}
	}

	go func() {
		s.infra.Lifecycle.WaitForStartup()
		log.Info("startup hooks complete")
	}()

	<-ctx.Done()
	log.Info("shutting down")
	return s.infra.Lifecycle.Shutdown(s.cfg.ShutdownTimeoutDuration())
}
