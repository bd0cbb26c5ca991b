package api

import (
	"net/http"

	"github.com/QWERTYjc/GradeOS-sub003/internal/config"
	"github.com/QWERTYjc/GradeOS-sub003/internal/infrastructure"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/auth"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/pagination"
)

// Runtime extends Infrastructure with API-specific configuration and the
// authenticator guarding operator routes.
type Runtime struct {
	*infrastructure.Infrastructure
	Pagination pagination.Config
	Auth       *auth.Authenticator
}

// NewRuntime creates an API runtime with a module-scoped logger.
func NewRuntime(cfg *config.Config, infra *infrastructure.Infrastructure) *Runtime {
	logger := infra.Logger.With("module", "api")
	return &Runtime{
		Infrastructure: &infrastructure.Infrastructure{
			Lifecycle: infra.Lifecycle,
			Logger:    logger,
			Database:  infra.Database,
			Storage:   infra.Storage,
		},
		Pagination: cfg.API.Pagination,
		Auth:       auth.New(&cfg.API.Auth, logger),
	}
}

// Guard wraps mutating operator routes. It is a pass-through when
// authentication is disabled.
func (r *Runtime) Guard(next http.Handler) http.Handler {
	return r.Auth.Require(next)
}
