package scoring

import "errors"

var (
	ErrNoEndpoint   = errors.New("scoring endpoint is not configured")
	ErrUpstream     = errors.New("scoring service returned an error")
	ErrInvalidScore = errors.New("scoring service returned an invalid score")
)
