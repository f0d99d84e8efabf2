package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

// Warmer is the part of the dashboard service the scheduler drives.
type Warmer interface {
	Prefetch(ctx context.Context, locations []weather.Location) error
	Collect() int
}

// Scheduler periodically prefetches the dashboard cities and collects
// inactive cache entries.
type Scheduler struct {
	scheduler        *gocron.Scheduler
	warmer           Warmer
	locations        []weather.Location
	prefetchInterval time.Duration
	gcInterval       time.Duration
	jobTimeout       time.Duration
}

// New creates a new Scheduler. A zero prefetchInterval disables prefetching.
func New(locations []weather.Location, prefetchInterval, gcInterval time.Duration, warmer Warmer) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler:        s,
		warmer:           warmer,
		locations:        locations,
		prefetchInterval: prefetchInterval,
		gcInterval:       gcInterval,
		jobTimeout:       time.Minute,
	}
}

// Start schedules the periodic jobs and starts the underlying scheduler.
// The prefetch job runs once immediately.
func (s *Scheduler) Start() error {
	if len(s.locations) == 0 || s.prefetchInterval <= 0 {
		log.Println("scheduler: no locations configured; prefetch disabled")
	} else {
		_, err := s.scheduler.Every(s.prefetchInterval).SingletonMode().Do(s.prefetch)
		if err != nil {
			return err
		}
	}

	if s.gcInterval > 0 {
		_, err := s.scheduler.Every(s.gcInterval).WaitForSchedule().Do(s.collect)
		if err != nil {
			return err
		}
	}

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) prefetch() {
	log.Println("scheduler: running prefetch job")

	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	if err := s.warmer.Prefetch(ctx, s.locations); err != nil {
		log.Printf("scheduler: prefetch finished with errors: %v", err)
		return
	}
	log.Printf("scheduler: prefetched %d locations", len(s.locations))
}

func (s *Scheduler) collect() {
	if n := s.warmer.Collect(); n > 0 {
		log.Printf("scheduler: collected %d inactive cache entries", n)
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
