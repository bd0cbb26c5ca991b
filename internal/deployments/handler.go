package deployments

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/handlers"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/routes"
)

// Handler provides HTTP endpoints for canary operations.
type Handler struct {
	sys    System
	logger *slog.Logger
	guard  func(http.Handler) http.Handler
}

// CanaryRequest selects an approved patch and the share of traffic it gets.
// A zero fraction uses the configured default.
type CanaryRequest struct {
	PatchID  uuid.UUID `json:"patch_id"`
	Fraction float64   `json:"fraction"`
	Monitor  bool      `json:"monitor"`
}

// RollbackToRequest names the version to restore.
type RollbackToRequest struct {
	Version int64 `json:"version"`
}

// NewHandler creates a Handler. guard wraps every mutating endpoint and may be nil.
func NewHandler(sys System, logger *slog.Logger, guard func(http.Handler) http.Handler) *Handler {
	return &Handler{
		sys:    sys,
		logger: logger.With("handler", "deployments"),
		guard:  guard,
	}
}

func (h *Handler) Routes() routes.Group {
	mutating := routes.Group{
		Routes: []routes.Route{
			{Method: "POST", Pattern: "/canary", Handler: h.DeployCanary},
			{Method: "POST", Pattern: "/rollback-to", Handler: h.RollbackTo},
			{Method: "DELETE", Pattern: "/halt", Handler: h.ClearHalt},
			{Method: "POST", Pattern: "/{id}/monitor", Handler: h.Monitor},
			{Method: "POST", Pattern: "/{id}/promote", Handler: h.Promote},
			{Method: "POST", Pattern: "/{id}/rollback", Handler: h.Rollback},
		},
	}
	if h.guard != nil {
		mutating.Middleware = []func(http.Handler) http.Handler{h.guard}
	}

	return routes.Group{
		Prefix: "/deployments",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/canary", Handler: h.Current},
		},
		Children: []routes.Group{mutating},
	}
}

// Current reports the in-flight canary with its live evaluation.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"canary": nil, "halted": h.sys.Halted()}
	if c, ok := h.sys.Current(); ok {
		body["canary"] = c
	}
	handlers.RespondJSON(w, http.StatusOK, body)
}

func (h *Handler) DeployCanary(w http.ResponseWriter, r *http.Request) {
	req, err := handlers.DecodeJSON[CanaryRequest](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	d, err := h.sys.DeployCanary(r.Context(), req.PatchID, req.Fraction)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	if req.Monitor {
		h.sys.Watch(d.ID)
	}
	handlers.RespondJSON(w, http.StatusCreated, d)
}

// Monitor schedules a monitoring window on the background loop.
func (h *Handler) Monitor(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if c, live := h.sys.Current(); !live || c.Deployment.ID != id {
		handlers.RespondError(w, h.logger, http.StatusConflict, ErrNotCanary)
		return
	}
	handlers.RespondJSON(w, http.StatusAccepted, map[string]bool{"scheduled": h.sys.Watch(id)})
}

func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	d, err := h.sys.Promote(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, d)
}

func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	d, err := h.sys.Rollback(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, d)
}

func (h *Handler) RollbackTo(w http.ResponseWriter, r *http.Request) {
	req, err := handlers.DecodeJSON[RollbackToRequest](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	res, err := h.sys.RollbackToVersion(r.Context(), req.Version)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, res)
}

func (h *Handler) ClearHalt(w http.ResponseWriter, r *http.Request) {
	h.sys.ClearHalt()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrNotCanary)
		return uuid.Nil, false
	}
	return id, true
}
