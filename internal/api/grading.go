package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/QWERTYjc/GradeOS-sub003/internal/boundaries"
	"github.com/QWERTYjc/GradeOS-sub003/internal/grading"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/handlers"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/routes"
	"github.com/QWERTYjc/GradeOS-sub003/pkg/storage"
)

// errPageSource indicates a request named both inline pages and page keys.
var errPageSource = errors.New("submission pages and page_keys are mutually exclusive")

// GradeRequest submits one document for grading. Pages are either inline
// (base64 in JSON) or blob keys previously uploaded through /storage.
type GradeRequest struct {
	Submission grading.Submission `json:"submission"`
	PageKeys   []string           `json:"page_keys,omitempty"`
}

// GradeResponse carries per-page results and the student ranges detected
// over them.
type GradeResponse struct {
	Result     *grading.Result   `json:"result"`
	Boundaries boundaries.Result `json:"boundaries"`
}

// RetryRequest rescores one batch of a previous result.
type RetryRequest struct {
	GradeRequest
	Previous   *grading.Result `json:"previous"`
	BatchIndex int             `json:"batch_index"`
}

type gradingHandler struct {
	processor *grading.Processor
	blobs     storage.System
	logger    *slog.Logger
}

func newGradingHandler(processor *grading.Processor, blobs storage.System, logger *slog.Logger) *gradingHandler {
	return &gradingHandler{
		processor: processor,
		blobs:     blobs,
		logger:    logger.With("handler", "grading"),
	}
}

func (h *gradingHandler) routes() routes.Group {
	return routes.Group{
		Prefix: "/submissions",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "", Handler: h.grade},
			{Method: "POST", Pattern: "/retry", Handler: h.retry},
		},
	}
}

func (h *gradingHandler) grade(w http.ResponseWriter, r *http.Request) {
	req, err := handlers.DecodeJSON[GradeRequest](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	sub, status, err := h.submission(r.Context(), req)
	if err != nil {
		handlers.RespondError(w, h.logger, status, err)
		return
	}

	result, err := h.processor.Process(r.Context(), sub)
	if err != nil {
		handlers.RespondError(w, h.logger, grading.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, GradeResponse{
		Result:     result,
		Boundaries: boundaries.Detect(result.Pages),
	})
}

func (h *gradingHandler) retry(w http.ResponseWriter, r *http.Request) {
	req, err := handlers.DecodeJSON[RetryRequest](r)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	if req.Previous == nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, errors.New("previous result required"))
		return
	}

	sub, status, err := h.submission(r.Context(), req.GradeRequest)
	if err != nil {
		handlers.RespondError(w, h.logger, status, err)
		return
	}

	result, err := h.processor.RetryBatch(r.Context(), sub, req.Previous, req.BatchIndex)
	if err != nil {
		handlers.RespondError(w, h.logger, grading.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, GradeResponse{
		Result:     result,
		Boundaries: boundaries.Detect(result.Pages),
	})
}

// submission resolves page keys into payloads, in key order.
func (h *gradingHandler) submission(ctx context.Context, req GradeRequest) (grading.Submission, int, error) {
	sub := req.Submission
	if len(req.PageKeys) == 0 {
		return sub, 0, nil
	}
	if len(sub.Pages) > 0 {
		return sub, http.StatusBadRequest, errPageSource
	}

	sub.Pages = make([][]byte, 0, len(req.PageKeys))
	for _, key := range req.PageKeys {
		page, err := h.download(ctx, key)
		if err != nil {
			return sub, storage.MapHTTPStatus(err), fmt.Errorf("page %s: %w", key, err)
		}
		sub.Pages = append(sub.Pages, page)
	}
	return sub, 0, nil
}

func (h *gradingHandler) download(ctx context.Context, key string) ([]byte, error) {
	rc, err := h.blobs.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
