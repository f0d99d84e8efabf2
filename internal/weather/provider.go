package weather

import (
	"context"
	"time"
)

// Provider abstracts the external weather service. Implementations must not
// retry; the query cache owns the retry policy.
type Provider interface {
	Name() string
	FetchCurrent(ctx context.Context, loc Location) (Data, error)
	FetchForecast(ctx context.Context, loc Location) (Forecast, error)
}

// HistoryStore is the contract the observation history store must satisfy.
type HistoryStore interface {
	SaveSnapshot(loc Location, snapshot Data)
	GetLatest(loc Location) (Data, error)
	GetRange(loc Location, from, to time.Time) ([]Data, error)
}
