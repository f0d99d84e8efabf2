package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/weather-dashboard/internal/api/http"
	"github.com/i474232898/weather-dashboard/internal/config"
	"github.com/i474232898/weather-dashboard/internal/dashboard"
	"github.com/i474232898/weather-dashboard/internal/events"
	"github.com/i474232898/weather-dashboard/internal/query"
	"github.com/i474232898/weather-dashboard/internal/scheduler"
	"github.com/i474232898/weather-dashboard/internal/store"
	"github.com/i474232898/weather-dashboard/internal/views"
	"github.com/i474232898/weather-dashboard/internal/weather"
	"github.com/i474232898/weather-dashboard/internal/weather/providers"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	provider := providers.NewOpenWeatherProvider(providers.OpenWeatherOptions{
		APIKey:  cfg.OpenWeatherAPIKey,
		BaseURL: cfg.OpenWeatherBaseURL,
		Units:   cfg.Units,
		HTTP:    providers.HTTPClientConfig{Client: httpClient},
	})

	// In-memory observation history with configured retention.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	// A fetch may use every attempt plus the longest backoff between them.
	attempts := time.Duration(cfg.RetryMaxAttempts)
	opts := dashboard.Options{
		StaleTime:      cfg.StaleTime,
		ErrorStaleTime: cfg.ErrorStaleTime,
		GCTime:         cfg.GCTime,
		FetchTimeout:   cfg.HTTPTimeout*attempts + cfg.RetryMaxInterval*(attempts-1),
		Retry: query.RetryPolicy{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
		},
	}

	// Optional Redis mirror used to hydrate the caches after a restart.
	if cfg.RedisURL != "" {
		rdb, err := store.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer rdb.Close()

		ttl := cfg.StaleTime + cfg.GCTime
		opts.CurrentPersister = store.NewRedisPersister[weather.Data](rdb, "weather-dashboard:", ttl)
		opts.ForecastPersister = store.NewRedisPersister[weather.Forecast](rdb, "weather-dashboard:", ttl)
	}

	// Core service owning the query caches.
	service := dashboard.NewService(provider, memStore, opts)
	defer service.Close()

	// Optional Kafka publisher of fresh observations.
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Fatalf("failed to create kafka publisher: %v", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			publisher.Close(flushCtx)
		}()
		unsubscribe := service.SubscribeCurrent(publisher.Listener())
		defer unsubscribe()
	}

	// Scheduler that keeps the dashboard cities warm and collects idle entries.
	sched := scheduler.New(cfg.Locations, cfg.PrefetchInterval, cfg.GCInterval, service)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	renderer, err := views.NewRenderer()
	if err != nil {
		log.Fatalf("failed to load templates: %v", err)
	}

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "weather-dashboard",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          opts.FetchTimeout + 10*time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, service, renderer, httpapi.Options{
		Locations:      cfg.Locations,
		RequestTimeout: opts.FetchTimeout,
	})

	go func() {
		log.Printf("INFO: listening on :%s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
