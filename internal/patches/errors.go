package patches

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound          = errors.New("patch not found")
	ErrDuplicate         = errors.New("an unresolved patch already targets this pattern")
	ErrInvalidType       = errors.New("type must be rule, prompt, or example")
	ErrInvalidStatus     = errors.New("unknown patch status")
	ErrInvalidTransition = errors.New("patch status transition not allowed")
	ErrStatusConflict    = errors.New("patch status changed concurrently")
)

// MapHTTPStatus maps patch domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrStatusConflict), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidType), errors.Is(err, ErrInvalidStatus):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
