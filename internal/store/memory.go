package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

var (
	// ErrNotFound is returned when no observation is available for a given location.
	ErrNotFound = errors.New("no weather data for location")
)

// observationHistory holds a time-ordered list of observations for a location.
type observationHistory struct {
	observations []weather.Data
}

// MemoryStore is a concurrency-safe in-memory history of current-conditions
// observations, keyed by Location.Key().
type MemoryStore struct {
	mu sync.RWMutex

	data map[string]*observationHistory

	// retention configuration
	maxHistory int           // max number of observations per location
	maxAge     time.Duration // optional max age, measured on ObservedAt

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*observationHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveSnapshot appends an observation for a location and enforces retention.
// An observation with the same ObservedAt as the newest one replaces it, since
// the provider only publishes a new reading every few minutes.
func (s *MemoryStore) SaveSnapshot(loc weather.Location, obs weather.Data) {
	key := loc.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[key]
	if !ok {
		history = &observationHistory{}
		s.data[key] = history
	}

	n := len(history.observations)
	switch {
	case n > 0 && history.observations[n-1].ObservedAt.Equal(obs.ObservedAt):
		history.observations[n-1] = obs
	case n > 0 && obs.ObservedAt.Before(history.observations[n-1].ObservedAt):
		// Out of order; keep the slice sorted.
		i := n
		for i > 0 && obs.ObservedAt.Before(history.observations[i-1].ObservedAt) {
			i--
		}
		history.observations = append(history.observations, weather.Data{})
		copy(history.observations[i+1:], history.observations[i:])
		history.observations[i] = obs
	default:
		history.observations = append(history.observations, obs)
	}

	if s.maxHistory > 0 && len(history.observations) > s.maxHistory {
		over := len(history.observations) - s.maxHistory
		history.observations = history.observations[over:]
	}

	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.observations); i++ {
			if !history.observations[i].ObservedAt.Before(cutoff) {
				break
			}
		}
		history.observations = history.observations[i:]
	}

	if len(history.observations) == 0 {
		delete(s.data, key)
	}
}

// GetLatest returns the most recent observation for a location.
func (s *MemoryStore) GetLatest(loc weather.Location) (weather.Data, error) {
	key := loc.Key()

	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[key]
	if !ok || len(history.observations) == 0 {
		return weather.Data{}, ErrNotFound
	}
	return history.observations[len(history.observations)-1], nil
}

// GetRange returns all observations for a location between from and to (inclusive).
func (s *MemoryStore) GetRange(loc weather.Location, from, to time.Time) ([]weather.Data, error) {
	key := loc.Key()

	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[key]
	if !ok || len(history.observations) == 0 {
		return nil, ErrNotFound
	}

	var result []weather.Data
	for _, obs := range history.observations {
		if !obs.ObservedAt.Before(from) && !obs.ObservedAt.After(to) {
			result = append(result, obs)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}

// Locations returns the number of locations with at least one observation.
func (s *MemoryStore) Locations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
