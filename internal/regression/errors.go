package regression

import (
	"errors"
	"net/http"

	"github.com/QWERTYjc/GradeOS-sub003/internal/patches"
)

var (
	ErrNotFound        = errors.New("regression result not found")
	ErrAlreadyTested   = errors.New("patch already has a regression result")
	ErrNotCandidate    = errors.New("patch is not a candidate")
	ErrEvalSetNotFound = errors.New("evaluation set not found")
	ErrEvalSetExists   = errors.New("evaluation set already exists")
	ErrInvalidEvalSet  = errors.New("invalid evaluation set")
)

// MapHTTPStatus maps regression domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrEvalSetNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyTested), errors.Is(err, ErrNotCandidate), errors.Is(err, ErrEvalSetExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidEvalSet):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func statusFor(err error) int {
	if s := MapHTTPStatus(err); s != http.StatusInternalServerError {
		return s
	}
	return patches.MapHTTPStatus(err)
}
