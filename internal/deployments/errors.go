package deployments

import (
	"errors"
	"net/http"

	"github.com/QWERTYjc/GradeOS-sub003/internal/patches"
	"github.com/QWERTYjc/GradeOS-sub003/internal/versions"
)

var (
	ErrNotApproved     = errors.New("patch is not approved")
	ErrStaleVersion    = errors.New("patch version is not newer than the active version")
	ErrCanaryInFlight  = errors.New("a canary deployment is already in flight")
	ErrInvalidFraction = errors.New("traffic fraction must be within (0,1]")
	ErrNotCanary       = errors.New("deployment is not the live canary")
	ErrNotLive         = errors.New("deployment is no longer live")
	ErrUnhealthy       = errors.New("canary breached its error threshold")
	ErrRoutingHalted   = errors.New("canary routing is halted after a failed rollback")
	ErrRollbackFailed  = errors.New("rollback failed")
)

// MapHTTPStatus maps deployer errors, and the patch and version errors it
// passes through, to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidFraction):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotApproved),
		errors.Is(err, ErrStaleVersion),
		errors.Is(err, ErrCanaryInFlight),
		errors.Is(err, ErrNotCanary),
		errors.Is(err, ErrNotLive),
		errors.Is(err, ErrUnhealthy):
		return http.StatusConflict
	case errors.Is(err, ErrRoutingHalted), errors.Is(err, ErrRollbackFailed):
		return http.StatusServiceUnavailable
	}
	if s := versions.MapHTTPStatus(err); s != http.StatusInternalServerError {
		return s
	}
	return patches.MapHTTPStatus(err)
}
