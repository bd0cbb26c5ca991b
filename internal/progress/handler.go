package progress

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/handlers"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/routes"
)

// Handler serves stream events.
type Handler struct {
	sys    System
	logger *slog.Logger
}

func NewHandler(sys System, logger *slog.Logger) *Handler {
	return &Handler{
		sys:    sys,
		logger: logger.With("handler", "progress"),
	}
}

func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/progress",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/{stream_id}", Handler: h.Since},
		},
	}
}

// Since returns events of a stream after the ?after= sequence (default 0).
func (h *Handler) Since(w http.ResponseWriter, r *http.Request) {
	after, err := intParam(r, "after")
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidCursor)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidCursor)
		return
	}

	events, err := h.sys.Since(r.Context(), r.PathValue("stream_id"), after, int(limit))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, events)
}

func intParam(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
