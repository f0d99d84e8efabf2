package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

var validate = validator.New()

type AppConfig struct {
	OpenWeatherAPIKey  string `validate:"required"`
	OpenWeatherBaseURL string `validate:"omitempty,url"`
	Units              string `validate:"oneof=metric imperial standard"`

	// HTTPTimeout bounds a single outbound call to the provider.
	HTTPTimeout time.Duration `validate:"gt=0"`

	// Query cache.
	StaleTime      time.Duration `validate:"gte=0"`
	ErrorStaleTime time.Duration `validate:"gte=0"`
	GCTime         time.Duration `validate:"gte=0"`

	// Retry policy for transient failures.
	RetryMaxAttempts     uint          `validate:"gte=1,lte=10"`
	RetryInitialInterval time.Duration `validate:"gt=0"`
	RetryMaxInterval     time.Duration `validate:"gtefield=RetryInitialInterval"`

	// PrefetchInterval controls how often the dashboard cities are refreshed.
	PrefetchInterval time.Duration `validate:"gte=0"`
	// GCInterval controls how often inactive cache entries are collected.
	GCInterval time.Duration `validate:"gt=0"`

	// Dashboard cities.
	Locations []weather.Location

	// In-memory observation history retention.
	StoreMaxHistory int           `validate:"gte=0"` // max observations per location (0 = unlimited)
	StoreMaxAge     time.Duration `validate:"gte=0"` // max age of observations (0 = unlimited)

	// Optional integrations; empty disables them.
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string `validate:"required_with=KafkaBrokers"`

	Port string `validate:"required,numeric"`
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{}
	var err error

	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.OpenWeatherBaseURL = os.Getenv("OPENWEATHER_BASE_URL")
	cfg.Units = getenvDefault("WEATHER_UNITS", "metric")

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.StaleTime, err = getenvDuration("QUERY_STALE_TIME", "5m"); err != nil {
		return nil, err
	}
	if cfg.ErrorStaleTime, err = getenvDuration("QUERY_ERROR_STALE_TIME", "30s"); err != nil {
		return nil, err
	}
	if cfg.GCTime, err = getenvDuration("QUERY_GC_TIME", "10m"); err != nil {
		return nil, err
	}

	cfg.RetryMaxAttempts = uint(getenvInt("RETRY_MAX_ATTEMPTS", 4))
	if cfg.RetryInitialInterval, err = getenvDuration("RETRY_INITIAL_INTERVAL", "1s"); err != nil {
		return nil, err
	}
	if cfg.RetryMaxInterval, err = getenvDuration("RETRY_MAX_INTERVAL", "30s"); err != nil {
		return nil, err
	}

	if cfg.PrefetchInterval, err = getenvDuration("PREFETCH_INTERVAL", "5m"); err != nil {
		return nil, err
	}
	if cfg.GCInterval, err = getenvDuration("GC_INTERVAL", "1m"); err != nil {
		return nil, err
	}

	// Store retention.
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 288) // roughly 24h at 5-minute intervals
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "24h"); err != nil {
		return nil, err
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.KafkaTopic = getenvDefault("KAFKA_TOPIC", "weather-observations")
	cfg.Port = getenvDefault("PORT", "8080")

	locs, err := loadLocations()
	if err != nil {
		return nil, err
	}
	cfg.Locations = locs

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadLocations pairs the comma separated WEATHER_LOCATION_CITY and
// WEATHER_LOCATION_COUNTRY lists. The country list may be empty.
func loadLocations() ([]weather.Location, error) {
	cities := splitList(os.Getenv("WEATHER_LOCATION_CITY"))
	countries := splitList(os.Getenv("WEATHER_LOCATION_COUNTRY"))
	if len(cities) == 0 {
		return nil, nil
	}
	if len(countries) > 0 && len(cities) != len(countries) {
		return nil, fmt.Errorf("number of cities and countries must be the same")
	}

	var locs []weather.Location
	for i, city := range cities {
		country := ""
		if len(countries) > 0 {
			country = countries[i]
		}
		locs = append(locs, weather.CityLocation(city, country))
	}

	return locs, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
