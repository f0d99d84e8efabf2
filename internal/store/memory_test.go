package store

import (
	"errors"
	"testing"
	"time"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func observation(offset time.Duration, temp float64) weather.Data {
	return weather.Data{Name: "Paris", ObservedAt: base.Add(offset), Temp: temp}
}

func newTestStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	s := NewMemoryStore(maxHistory, maxAge)
	s.now = func() time.Time { return base.Add(time.Hour) }
	return s
}

func TestGetLatestUnknownLocation(t *testing.T) {
	s := newTestStore(10, 0)

	_, err := s.GetLatest(weather.CityLocation("Nowhere", ""))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveSnapshotRetainsByCount(t *testing.T) {
	s := newTestStore(3, 0)
	loc := weather.CityLocation("Paris", "FR")

	for i := 0; i < 5; i++ {
		s.SaveSnapshot(loc, observation(time.Duration(i)*time.Minute, float64(i)))
	}

	got, err := s.GetRange(loc, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(got))
	}
	if got[0].Temp != 2 || got[2].Temp != 4 {
		t.Errorf("expected the newest observations 2..4, got %v..%v", got[0].Temp, got[2].Temp)
	}
}

func TestSaveSnapshotRetainsByAge(t *testing.T) {
	s := newTestStore(0, 30*time.Minute)
	loc := weather.CityLocation("Paris", "FR")

	s.SaveSnapshot(loc, observation(0, 1))               // 60m old
	s.SaveSnapshot(loc, observation(45*time.Minute, 2)) // 15m old

	got, err := s.GetRange(loc, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Temp != 2 {
		t.Fatalf("expected only the recent observation, got %+v", got)
	}
}

func TestSaveSnapshotDropsLocationWhenEverythingExpired(t *testing.T) {
	s := newTestStore(0, time.Minute)
	loc := weather.CityLocation("Paris", "FR")

	s.SaveSnapshot(loc, observation(0, 1))

	if _, err := s.GetLatest(loc); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := s.Locations(); n != 0 {
		t.Errorf("expected no tracked locations, got %d", n)
	}
}

func TestSaveSnapshotReplacesSameObservation(t *testing.T) {
	s := newTestStore(10, 0)
	loc := weather.CityLocation("Paris", "FR")

	s.SaveSnapshot(loc, observation(0, 20))
	s.SaveSnapshot(loc, observation(0, 21))

	got, err := s.GetRange(loc, base, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Temp != 21 {
		t.Fatalf("expected a single replaced observation, got %+v", got)
	}
}

func TestSaveSnapshotKeepsOrder(t *testing.T) {
	s := newTestStore(10, 0)
	loc := weather.CityLocation("Paris", "FR")

	s.SaveSnapshot(loc, observation(10*time.Minute, 2))
	s.SaveSnapshot(loc, observation(0, 1))
	s.SaveSnapshot(loc, observation(20*time.Minute, 3))

	got, err := s.GetRange(loc, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, want := range []float64{1, 2, 3} {
		if got[i].Temp != want {
			t.Errorf("position %d: expected %v, got %v", i, want, got[i].Temp)
		}
	}

	latest, _ := s.GetLatest(loc)
	if latest.Temp != 3 {
		t.Errorf("expected latest 3, got %v", latest.Temp)
	}
}

func TestGetRangeOutsideHistory(t *testing.T) {
	s := newTestStore(10, 0)
	loc := weather.CityLocation("Paris", "FR")
	s.SaveSnapshot(loc, observation(0, 1))

	_, err := s.GetRange(loc, base.Add(time.Minute), base.Add(time.Hour))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocationKeyIsCaseInsensitive(t *testing.T) {
	s := newTestStore(10, 0)
	s.SaveSnapshot(weather.CityLocation("paris", "fr"), observation(0, 1))

	if _, err := s.GetLatest(weather.CityLocation("PARIS", "FR")); err != nil {
		t.Fatalf("expected lookup to ignore case, got %v", err)
	}
}
