package boundaries

import (
	"log/slog"
	"net/http"

	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/handlers"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/routes"
)

// Handler exposes boundary detection over previously graded page results.
type Handler struct {
	logger *slog.Logger
}

// DetectRequest carries the full ordered page results of one submission.
type DetectRequest struct {
	Pages []grading.PageResult `json:"pages"`
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger.With("handler", "boundaries")}
}

func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/boundaries",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "/detect", Handler: h.Detect},
		},
	}
}

func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	req, err := handlers.DecodeJSON[DetectRequest](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, Detect(req.Pages))
}
