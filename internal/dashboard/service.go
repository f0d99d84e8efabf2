// Package dashboard composes the weather provider, the query caches and the
// observation history into the operations the HTTP layer and the scheduler use.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/i474232898/weather-dashboard/internal/query"
	"github.com/i474232898/weather-dashboard/internal/weather"
)

// Options configures both query caches of a Service.
type Options struct {
	StaleTime      time.Duration
	ErrorStaleTime time.Duration
	GCTime         time.Duration
	FetchTimeout   time.Duration
	Retry          query.RetryPolicy

	// Optional mirrors used to hydrate a cold cache.
	CurrentPersister  query.Persister[weather.Data]
	ForecastPersister query.Persister[weather.Forecast]

	Clock func() time.Time
}

// Stats is a snapshot of cache occupancy.
type Stats struct {
	CurrentEntries  int `json:"currentEntries"`
	ForecastEntries int `json:"forecastEntries"`
}

// Service owns one query cache per query kind.
type Service struct {
	provider weather.Provider
	history  weather.HistoryStore

	current  *query.Cache[weather.Query, weather.Data]
	forecast *query.Cache[weather.Query, weather.Forecast]

	unsubscribe []query.Unsubscribe
}

// NewService creates a Service. history may be nil.
func NewService(provider weather.Provider, history weather.HistoryStore, opts Options) *Service {
	s := &Service{
		provider: provider,
		history:  history,
	}

	s.current = query.New(func(ctx context.Context, q weather.Query) (weather.Data, error) {
		return provider.FetchCurrent(ctx, q.Location)
	}, query.Options[weather.Data]{
		Name:           "current",
		StaleTime:      opts.StaleTime,
		ErrorStaleTime: opts.ErrorStaleTime,
		GCTime:         opts.GCTime,
		FetchTimeout:   opts.FetchTimeout,
		Retry:          opts.Retry,
		Persister:      opts.CurrentPersister,
		Clock:          opts.Clock,
	})

	s.forecast = query.New(func(ctx context.Context, q weather.Query) (weather.Forecast, error) {
		return provider.FetchForecast(ctx, q.Location)
	}, query.Options[weather.Forecast]{
		Name:           "forecast",
		StaleTime:      opts.StaleTime,
		ErrorStaleTime: opts.ErrorStaleTime,
		GCTime:         opts.GCTime,
		FetchTimeout:   opts.FetchTimeout,
		Retry:          opts.Retry,
		Persister:      opts.ForecastPersister,
		Clock:          opts.Clock,
	})

	if history != nil {
		s.unsubscribe = append(s.unsubscribe, s.current.SubscribeAll(s.record))
	}

	log.Printf("DEBUG: dashboard service created with provider %s", provider.Name())
	return s
}

func (s *Service) record(q weather.Query, st query.State[weather.Data]) {
	if !st.IsSuccess() {
		return
	}
	s.history.SaveSnapshot(q.Location, st.Data)
}

// Current blocks until the current conditions for loc are known.
func (s *Service) Current(ctx context.Context, loc weather.Location) (weather.Data, error) {
	return s.current.Fetch(ctx, weather.CurrentQuery(loc))
}

// Forecast blocks until the forecast for loc is known.
func (s *Service) Forecast(ctx context.Context, loc weather.Location) (weather.Forecast, error) {
	return s.forecast.Fetch(ctx, weather.ForecastQuery(loc))
}

// CurrentState returns the cached state without waiting, starting a fetch
// when the entry is missing or stale.
func (s *Service) CurrentState(loc weather.Location) query.State[weather.Data] {
	return s.current.Get(weather.CurrentQuery(loc))
}

// ForecastState is CurrentState for the forecast cache.
func (s *Service) ForecastState(loc weather.Location) query.State[weather.Forecast] {
	return s.forecast.Get(weather.ForecastQuery(loc))
}

// Refresh supersedes any request in flight for loc and waits for the new
// current conditions. The forecast is refetched in the background.
func (s *Service) Refresh(ctx context.Context, loc weather.Location) (weather.Data, error) {
	s.forecast.Refetch(weather.ForecastQuery(loc))
	s.current.Refetch(weather.CurrentQuery(loc))
	return s.Current(ctx, loc)
}

// SubscribeCurrent observes every current-conditions transition.
func (s *Service) SubscribeCurrent(fn query.Listener[weather.Query, weather.Data]) query.Unsubscribe {
	return s.current.SubscribeAll(fn)
}

// Prefetch warms both caches for every location, fetching only what is
// missing or stale. Failures are logged and joined into the returned error.
func (s *Service) Prefetch(ctx context.Context, locations []weather.Location) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, loc := range locations {
		loc := loc
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.Current(ctx, loc); err != nil {
				log.Printf("prefetch current failed for %s: %v", loc.Key(), err)
				fail(fmt.Errorf("current %s: %w", loc.Key(), err))
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.Forecast(ctx, loc); err != nil {
				log.Printf("prefetch forecast failed for %s: %v", loc.Key(), err)
				fail(fmt.Errorf("forecast %s: %w", loc.Key(), err))
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Collect evicts inactive entries from both caches.
func (s *Service) Collect() int {
	return s.current.Collect() + s.forecast.Collect()
}

// Stats reports cache occupancy.
func (s *Service) Stats() Stats {
	return Stats{
		CurrentEntries:  s.current.Len(),
		ForecastEntries: s.forecast.Len(),
	}
}

// GetLatest delegates to the history store.
func (s *Service) GetLatest(loc weather.Location) (weather.Data, error) {
	if s.history == nil {
		return weather.Data{}, ErrNoHistory
	}
	return s.history.GetLatest(loc)
}

// GetRange delegates to the history store.
func (s *Service) GetRange(loc weather.Location, from, to time.Time) ([]weather.Data, error) {
	if s.history == nil {
		return nil, ErrNoHistory
	}
	return s.history.GetRange(loc, from, to)
}

// ErrNoHistory is returned by the history accessors when no store is configured.
var ErrNoHistory = errors.New("observation history is disabled")

// Close stops both caches. In-flight fetches are cancelled.
func (s *Service) Close() {
	for _, u := range s.unsubscribe {
		u()
	}
	s.current.Close()
	s.forecast.Close()
}
