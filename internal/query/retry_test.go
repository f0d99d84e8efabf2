package query

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

func TestRetryPolicyDefaultClassification(t *testing.T) {
	p := RetryPolicy{}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", &weather.NetworkError{Op: "x", Err: errors.New("dial")}, true},
		{"server error", &weather.APIError{StatusCode: http.StatusBadGateway}, true},
		{"not found", &weather.APIError{StatusCode: http.StatusNotFound}, false},
		{"unauthorized", &weather.APIError{StatusCode: http.StatusUnauthorized}, false},
		{"parse", &weather.ParseError{Op: "x", Err: errors.New("bad")}, false},
		{"circuit open", &weather.NetworkError{Op: "x", Err: weather.ErrCircuitOpen}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.retryable(tt.err); got != tt.want {
				t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryPolicyAttemptsFloor(t *testing.T) {
	if got := (RetryPolicy{}).attempts(); got != 1 {
		t.Errorf("expected 1 attempt for zero policy, got %d", got)
	}
	if got := DefaultRetryPolicy().attempts(); got != 4 {
		t.Errorf("expected 4 attempts for default policy, got %d", got)
	}
}

func TestRunWithRetryReportsEachRetry(t *testing.T) {
	calls := 0
	var retried []uint

	got, err := runWithRetry(context.Background(), fastRetry(4), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &weather.APIError{StatusCode: http.StatusInternalServerError}
		}
		return 42, nil
	}, func(attempt uint, err error) {
		retried = append(retried, attempt)
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("expected retries for attempts [1 2], got %v", retried)
	}
}

func TestRunWithRetryCustomPredicate(t *testing.T) {
	calls := 0
	p := fastRetry(5)
	p.Retryable = func(error) bool { return false }

	_, err := runWithRetry(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		return "", &weather.NetworkError{Op: "x", Err: errors.New("reset")}
	}, nil)

	var netErr *weather.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRunWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	p := RetryPolicy{MaxAttempts: 10, InitialInterval: time.Hour, MaxInterval: time.Hour}
	errCh := make(chan error, 1)
	go func() {
		_, err := runWithRetry(ctx, p, func(ctx context.Context) (int, error) {
			calls++
			return 0, &weather.NetworkError{Op: "x", Err: errors.New("timeout")}
		}, nil)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}
