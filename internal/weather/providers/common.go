package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

// maxBodyBytes bounds how much of a provider response we are willing to read.
const maxBodyBytes = 4 << 20

var (
	errNoHTTPClient = errors.New("http client not configured")
	errEmptyBody    = errors.New("empty response body")
)

var payloadValidator = validator.New()

// HTTPClientConfig bundles the HTTP client and circuit breaker settings.
type HTTPClientConfig struct {
	Client *http.Client

	// Breaker thresholds. Zero values fall back to defaults.
	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
	// BreakerFailures is the number of consecutive transient failures that trip the breaker.
	BreakerFailures uint32
}

func newCircuitBreaker(name string, cfg HTTPClientConfig) *gobreaker.CircuitBreaker {
	maxReq := cfg.BreakerMaxRequests
	if maxReq == 0 {
		maxReq = 5
	}
	interval := cfg.BreakerInterval
	if interval == 0 {
		interval = 1 * time.Minute
	}
	timeout := cfg.BreakerTimeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: maxReq,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Client errors, malformed payloads and calls abandoned by the caller say
		// nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return !weather.IsTransient(err)
		},
	})
}

// doRequest executes a single GET through the circuit breaker and returns the
// raw body of a 2xx response. It never retries: errors are surfaced as
// *weather.NetworkError or *weather.APIError for the caller's retry policy.
func doRequest(
	ctx context.Context,
	op string,
	client *http.Client,
	cb *gobreaker.CircuitBreaker,
	buildRequest func(ctx context.Context) (*http.Request, error),
) ([]byte, error) {
	if client == nil {
		return nil, errNoHTTPClient
	}

	req, err := buildRequest(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result, err := cb.Execute(func() (interface{}, error) {
		resp, execErr := client.Do(req)
		if execErr != nil {
			return nil, transportError(ctx, op, execErr)
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if readErr != nil {
			return nil, transportError(ctx, op, readErr)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &weather.APIError{
				StatusCode: resp.StatusCode,
				Message:    providerMessage(body),
			}
		}
		return body, nil
	})
	if err != nil {
		// If circuit is open, the provider was not contacted at all.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &weather.NetworkError{Op: op, Err: fmt.Errorf("%w: %v", weather.ErrCircuitOpen, err)}
		}
		return nil, err
	}

	body, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return body, nil
}

// transportError classifies a failed exchange. When the caller's context is
// done the call was abandoned rather than failed, so the context error is
// returned as is: it is neither retried nor counted against the breaker.
func transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return &weather.NetworkError{Op: op, Err: err}
}

// providerMessage pulls the "message" field out of an error payload. The
// provider reports "cod" as either a number or a string, so it is ignored.
func providerMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil {
		return ""
	}
	return payload.Message
}

// decodePayload unmarshals body into out and validates its required fields.
func decodePayload(op string, body []byte, out any) error {
	if len(body) == 0 {
		return &weather.ParseError{Op: op, Err: errEmptyBody}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &weather.ParseError{Op: op, Err: err}
	}
	if err := payloadValidator.Struct(out); err != nil {
		return &weather.ParseError{Op: op, Err: err}
	}
	return nil
}
