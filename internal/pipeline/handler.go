package pipeline

import (
	"log/slog"
	"net/http"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/handlers"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/routes"
)

type Handler struct {
	sys    System
	logger *slog.Logger
	guard  func(http.Handler) http.Handler
}

// NewHandler creates a Handler. guard wraps the run endpoint and may be nil.
func NewHandler(sys System, logger *slog.Logger, guard func(http.Handler) http.Handler) *Handler {
	return &Handler{
		sys:    sys,
		logger: logger.With("handler", "pipeline"),
		guard:  guard,
	}
}

func (h *Handler) Routes() routes.Group {
	run := routes.Group{
		Routes: []routes.Route{
			{Method: "POST", Pattern: "/run", Handler: h.Run},
		},
	}
	if h.guard != nil {
		run.Middleware = []func(http.Handler) http.Handler{h.guard}
	}

	return routes.Group{
		Prefix: "/pipeline",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/last", Handler: h.Last},
		},
		Children: []routes.Group{run},
	}
}

// Run performs one pipeline cycle synchronously and returns its report.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.sys.RunOnce(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, report)
}

func (h *Handler) Last(w http.ResponseWriter, r *http.Request) {
	report, err := h.sys.Last()
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, report)
}
