package proxy

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrNoProviderAvailable means every enabled provider of the category is
	// blacklisted, or none is configured.
	ErrNoProviderAvailable = errors.New("no provider available")
	// ErrUpstreamTimeout means the upstream did not answer within the
	// applicable timeout.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrTransport covers connection, TLS and read failures.
	ErrTransport = errors.New("upstream transport error")
)

// StatusForError maps a forwarding error onto the status returned to the
// client.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrNoProviderAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// ErrorType is the machine-readable type used in JSON error bodies.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, ErrNoProviderAvailable):
		return "no_provider_available"
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return "upstream_timeout"
	default:
		return "upstream_error"
	}
}
