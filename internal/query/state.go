package query

import (
	"errors"
	"time"
)

// Status is the lifecycle phase of a query.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrClosed is delivered to waiters still blocked in Fetch when the cache is closed.
var ErrClosed = errors.New("query cache closed")

// State wraps the lifecycle of a single key. Data is set only when Status is
// StatusSuccess and Err only when Status is StatusError.
type State[V any] struct {
	Status Status `json:"status"`
	Data   V      `json:"data,omitempty"`
	Err    error  `json:"-"`

	// FetchedAt is when the last fetch for this key completed. It is carried
	// across a pending refetch so the previous completion time stays visible.
	FetchedAt time.Time `json:"fetchedAt"`

	// Generation increases with every request issued for the key. Results of
	// an older generation never replace a newer state.
	Generation uint64 `json:"generation"`

	// FetchID correlates log lines of a single fetch (including its retries).
	FetchID string `json:"fetchId,omitempty"`
}

func (s State[V]) IsPending() bool { return s.Status == StatusPending }
func (s State[V]) IsSuccess() bool { return s.Status == StatusSuccess }
func (s State[V]) IsError() bool   { return s.Status == StatusError }

// IsTerminal reports whether the state is the outcome of a fetch.
func (s State[V]) IsTerminal() bool {
	return s.Status == StatusSuccess || s.Status == StatusError
}

// ErrorMessage is the error text, or "" when the state is not an error.
func (s State[V]) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}
