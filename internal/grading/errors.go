package grading

import (
	"errors"
	"net/http"
)

// Domain errors for grading operations.
var (
	ErrEmptySubmission = errors.New("submission has no pages")
	ErrInvalidBatch    = errors.New("batch index out of range")
	ErrResolve         = errors.New("rule version resolution failed")
)

// MapHTTPStatus maps grading errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrEmptySubmission), errors.Is(err, ErrInvalidBatch):
		return http.StatusBadRequest
	case errors.Is(err, ErrResolve):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
