package versions

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound            = errors.New("deployment not found")
	ErrConflict            = errors.New("active version changed concurrently")
	ErrAlreadyStamped      = errors.New("deployment already carries that timestamp")
	ErrInvalidStamp        = errors.New("unknown deployment timestamp")
	ErrTargetNotRestorable = errors.New("target version cannot be restored")
	ErrInvalidDeployment   = errors.New("invalid deployment")
)

// MapHTTPStatus maps version domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyStamped):
		return http.StatusConflict
	case errors.Is(err, ErrTargetNotRestorable),
		errors.Is(err, ErrInvalidDeployment),
		errors.Is(err, ErrInvalidStamp):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
