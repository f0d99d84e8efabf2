package weather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrCircuitOpen is wrapped by a NetworkError when the upstream circuit breaker
// rejects a call without contacting the provider.
var ErrCircuitOpen = errors.New("circuit breaker open")

// NetworkError means no HTTP response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, msg)
}

// Temporary reports whether the failure is on the provider side.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500
}

// ParseError is a 2xx response whose body is malformed or missing required fields.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse error: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying: network failures and 5xx
// responses are. 4xx responses, malformed payloads, an open circuit and a
// cancelled caller are not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return false
}

// StatusCode extracts the provider status code from err, or 0 if there is none.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
