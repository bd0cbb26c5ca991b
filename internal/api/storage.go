package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/handlers"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/routes"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/storage"
)

// storageHandler moves page images and evaluation-set documents in and out
// of blob storage.
type storageHandler struct {
	store  storage.System
	logger *slog.Logger
}

func newStorageHandler(store storage.System, logger *slog.Logger) *storageHandler {
	return &storageHandler{
		store:  store,
		logger: logger.With("handler", "storage"),
	}
}

func (h *storageHandler) routes(guard func(http.Handler) http.Handler) routes.Group {
	return routes.Group{
		Prefix: "/storage",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/{key...}", Handler: h.download},
			{Method: "HEAD", Pattern: "/{key...}", Handler: h.exists},
		},
		Children: []routes.Group{
			{
				Middleware: []func(http.Handler) http.Handler{guard},
				Routes: []routes.Route{
					{Method: "PUT", Pattern: "/{key...}", Handler: h.upload},
				},
			},
		},
	}
}

func (h *storageHandler) upload(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := h.store.Upload(r.Context(), key, r.Body, contentType); err != nil {
		handlers.RespondError(w, h.logger, storage.MapHTTPStatus(err), err)
		return
	}

	h.logger.Info("blob uploaded", "key", key, "content_type", contentType)
	handlers.RespondJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (h *storageHandler) exists(w http.ResponseWriter, r *http.Request) {
	ok, err := h.store.Exists(r.Context(), r.PathValue("key"))
	if err != nil {
		w.WriteHeader(storage.MapHTTPStatus(err))
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *storageHandler) download(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	body, err := h.store.Download(r.Context(), key)
	if err != nil {
		handlers.RespondError(w, h.logger, storage.MapHTTPStatus(err), err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}
