package gradinglogs

import (
	"errors"
	"net/http"
)

// Domain errors for grading log operations.
var (
	ErrNotFound        = errors.New("grading log not found")
	ErrDuplicate       = errors.New("grading log already exists")
	ErrInvalidOverride = errors.New("invalid override")
	ErrQueueFull       = errors.New("grading log queue full")
)

// MapHTTPStatus maps grading log domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidOverride):
		return http.StatusBadRequest
	case errors.Is(err, ErrQueueFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
