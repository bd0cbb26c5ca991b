package progress

import (
	"errors"
	"net/http"
)

var (
	ErrDuplicate     = errors.New("stream event already recorded")
	ErrInvalidStream = errors.New("stream id is required")
	ErrInvalidCursor = errors.New("invalid sequence cursor")
)

func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrInvalidStream) || errors.Is(err, ErrInvalidCursor) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
