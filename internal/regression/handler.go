package regression

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/handlers"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/routes"
)

// Handler exposes regression runs and evaluation set management.
type Handler struct {
	sys    System
	logger *slog.Logger
}

// RunRequest selects the patch and evaluation set to replay.
type RunRequest struct {
	PatchID   uuid.UUID `json:"patch_id"`
	EvalSetID string    `json:"eval_set_id"`
}

func NewHandler(sys System, logger *slog.Logger) *Handler {
	return &Handler{
		sys:    sys,
		logger: logger.With("handler", "regression"),
	}
}

func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/regression",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "/run", Handler: h.Run},
			{Method: "GET", Pattern: "/{patch_id}", Handler: h.Find},
			{Method: "POST", Pattern: "/evalsets", Handler: h.SaveEvalSet},
			{Method: "GET", Pattern: "/evalsets/{id}", Handler: h.LoadEvalSet},
		},
	}
}

func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	req, err := handlers.DecodeJSON[RunRequest](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.sys.Run(r.Context(), req.PatchID, req.EvalSetID)
	if err != nil {
		handlers.RespondError(w, h.logger, statusFor(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("patch_id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrNotFound)
		return
	}

	result, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) SaveEvalSet(w http.ResponseWriter, r *http.Request) {
	set, err := handlers.DecodeJSON[EvalSet](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	if set.CreatedAt.IsZero() {
		set.CreatedAt = time.Now().UTC()
	}

	if err := h.sys.EvalSets().Save(r.Context(), set); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusCreated, map[string]any{
		"id":    set.ID,
		"items": len(set.Items),
	})
}

func (h *Handler) LoadEvalSet(w http.ResponseWriter, r *http.Request) {
	set, err := h.sys.EvalSets().Load(r.Context(), r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, set)
}
