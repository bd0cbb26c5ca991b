package pipeline

import (
	"errors"
	"net/http"
)

var (
	ErrRunInProgress = errors.New("a pipeline run is already in progress")
	ErrNoRun         = errors.New("pipeline has not run yet")
)

func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrNoRun):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
