// Package apperrors collects the sentinel errors named in §7 and maps them
// to the HTTP status codes the router's client-facing surface returns.
package apperrors

import (
	"errors"
	"net/http"
)

var (
	// ErrNoWorkersAvailable is returned when the registry has no live
	// worker to dispatch to.
	ErrNoWorkersAvailable = errors.New("no_workers_available")

	// ErrRequestTooLarge is returned when a prompt's block sequence
	// exceeds a worker's cache capacity.
	ErrRequestTooLarge = errors.New("request_too_large")

	// ErrWorkerUnreachable is returned when proxy-mode forwarding fails
	// to reach the chosen worker.
	ErrWorkerUnreachable = errors.New("bad_gateway")

	// ErrTimeout is returned when a caller-provided deadline expires
	// before the downstream worker responds.
	ErrTimeout = errors.New("timeout")
)

// StatusFor maps a dispatch error to the HTTP status §7 assigns it.
// Unrecognized errors map to 500.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNoWorkersAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRequestTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrWorkerUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
