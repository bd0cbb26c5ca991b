package gradinglogs

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/auth"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/handlers"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/pagination"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/routes"
)

// Handler provides HTTP endpoints for grading log operations.
type Handler struct {
	sys        System
	logger     *slog.Logger
	pagination pagination.Config
	guard      func(http.Handler) http.Handler
}

// NewHandler creates a Handler. guard wraps the override endpoint and may be nil.
func NewHandler(
	sys System,
	logger *slog.Logger,
	pagination pagination.Config,
	guard func(http.Handler) http.Handler,
) *Handler {
	return &Handler{
		sys:        sys,
		logger:     logger.With("handler", "gradinglogs"),
		pagination: pagination,
		guard:      guard,
	}
}

// Routes returns the route group definition for grading log endpoints.
func (h *Handler) Routes() routes.Group {
	override := routes.Group{
		Routes: []routes.Route{
			{Method: "POST", Pattern: "/{id}/override", Handler: h.Override},
		},
	}
	if h.guard != nil {
		override.Middleware = []func(http.Handler) http.Handler{h.guard}
	}

	return routes.Group{
		Prefix: "/logs",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "GET", Pattern: "/pending", Handler: h.Pending},
			{Method: "POST", Pattern: "/flush", Handler: h.Flush},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find},
		},
		Children: []routes.Group{override},
	}
}

// List returns a paginated list of logs with optional query parameter filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, err := pagination.FromQuery(r.URL.Query(), h.pagination)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	filters := FiltersFromQuery(r.URL.Query())

	result, err := h.sys.List(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Find returns a single log by its UUID path parameter.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrNotFound)
		return
	}

	l, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, l)
}

// Override records a human correction. When the request is authenticated the
// token's actor replaces any actor in the body.
func (h *Handler) Override(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrNotFound)
		return
	}

	cmd, err := handlers.DecodeJSON[OverrideCommand](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	if actor, ok := auth.ActorFrom(r.Context()); ok {
		cmd.Actor = actor
	}

	l, err := h.sys.Override(r.Context(), id, cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, l)
}

// Flush drains the local queue and reports what was delivered.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	flushed, err := h.sys.FlushPending(r.Context())
	body := map[string]any{
		"flushed": flushed,
		"pending": h.sys.Pending(),
		"dropped": h.sys.Dropped(),
	}
	if err != nil {
		body["error"] = err.Error()
	}
	handlers.RespondJSON(w, http.StatusOK, body)
}

// Pending reports the logs still queued and those lost to a full queue.
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	handlers.RespondJSON(w, http.StatusOK, map[string]int{
		"pending": h.sys.Pending(),
		"dropped": h.sys.Dropped(),
	})
}
