// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"fmt"
	"net/http"

	"github.com/QWERTYjc/GradeOS-sub003/internal/config"
	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
	"github.com/QWERTYjc/GradeOS-sub003/internal/infrastructure"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/middleware"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/module"
)

// API is the mounted module together with the systems it serves.
type API struct {
	Module  *module.Module
	Domain  *Domain
	Runtime *Runtime
}

// Option adjusts how New assembles the API.
type Option func(*options)

type options struct {
	scorer grading.Scorer
}

// WithScorer replaces the HTTP scoring client.
func WithScorer(s grading.Scorer) Option {
	return func(o *options) { o.scorer = s }
}

// New creates the API module with all domain handlers and middleware.
func New(cfg *config.Config, infra *infrastructure.Infrastructure, opts ...Option) *API {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	runtime := NewRuntime(cfg, infra)
	domain := NewDomain(runtime, &cfg.Domain, o.scorer)

	mux := http.NewServeMux()
	registerRoutes(mux, domain, runtime)

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.Metrics())
	m.Use(middleware.Logger(runtime.Logger))
	m.Use(middleware.MaxBytes(cfg.API.MaxBodySizeBytes()))

	return &API{Module: m, Domain: domain, Runtime: runtime}
}

// Start registers the authenticator and the domain background loops.
func (a *API) Start() error {
	lc := a.Runtime.Lifecycle
	if err := a.Runtime.Auth.Start(lc); err != nil {
		return fmt.Errorf("auth start failed: %w", err)
	}
	return a.Domain.Start(lc)
}

// Ready reports whether authentication discovery has completed.
func (a *API) Ready() bool {
	return a.Runtime.Auth.Ready()
}
