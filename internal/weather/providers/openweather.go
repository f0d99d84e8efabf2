package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

// DefaultOpenWeatherBaseURL is the OpenWeatherMap 2.5 REST root.
const DefaultOpenWeatherBaseURL = "https://api.openweathermap.org/data/2.5"

// OpenWeatherProvider implements the weather.Provider interface for OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	units   string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

// OpenWeatherOptions configures an OpenWeatherProvider. BaseURL and Units are optional.
type OpenWeatherOptions struct {
	APIKey  string
	BaseURL string
	Units   string
	HTTP    HTTPClientConfig
}

func NewOpenWeatherProvider(opts OpenWeatherOptions) *OpenWeatherProvider {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenWeatherBaseURL
	}
	units := opts.Units
	if units == "" {
		units = "metric"
	}

	return &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  opts.APIKey,
		baseURL: baseURL,
		units:   units,
		client:  opts.HTTP.Client,
		circuit: newCircuitBreaker("openweather", opts.HTTP),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

// FetchCurrent issues GET /weather for loc.
func (p *OpenWeatherProvider) FetchCurrent(ctx context.Context, loc weather.Location) (weather.Data, error) {
	const op = "openweather current"

	body, err := doRequest(ctx, op, p.client, p.circuit, p.requestBuilder("/weather", loc))
	if err != nil {
		return weather.Data{}, err
	}

	var payload owmCurrent
	if err := decodePayload(op, body, &payload); err != nil {
		return weather.Data{}, err
	}

	data := payload.toData()
	if data.Name == "" {
		data.Name = loc.Label()
	}
	if data.ObservedAt.IsZero() {
		data.ObservedAt = time.Now().UTC()
	}
	return data, nil
}

// FetchForecast issues GET /forecast (5 days in 3 hour steps) for loc.
func (p *OpenWeatherProvider) FetchForecast(ctx context.Context, loc weather.Location) (weather.Forecast, error) {
	const op = "openweather forecast"

	body, err := doRequest(ctx, op, p.client, p.circuit, p.requestBuilder("/forecast", loc))
	if err != nil {
		return weather.Forecast{}, err
	}

	var payload owmForecast
	if err := decodePayload(op, body, &payload); err != nil {
		return weather.Forecast{}, err
	}

	fc := weather.Forecast{
		Name:    payload.City.Name,
		Country: payload.City.Country,
		Entries: make([]weather.ForecastEntry, 0, len(payload.List)),
	}
	if fc.Name == "" {
		fc.Name = loc.Label()
	}
	for _, item := range payload.List {
		d := item.toData()
		d.Name = fc.Name
		d.Country = fc.Country
		fc.Entries = append(fc.Entries, weather.ForecastEntry{Time: d.ObservedAt, Data: d})
	}
	return fc, nil
}

func (p *OpenWeatherProvider) requestBuilder(path string, loc weather.Location) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("appid", p.apiKey)
		values.Set("units", p.units)

		if loc.HasCoords {
			values.Set("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
			values.Set("lon", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
		} else {
			// city,country
			q := loc.City
			if loc.Country != "" {
				q = fmt.Sprintf("%s,%s", loc.City, loc.Country)
			}
			values.Set("q", q)
		}

		u := fmt.Sprintf("%s%s?%s", p.baseURL, path, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}
}

// Payload shapes. Pointers mark fields that must be present; validator
// rejects payloads where they are missing.

type owmMain struct {
	Temp      *float64 `json:"temp" validate:"required"`
	FeelsLike *float64 `json:"feels_like" validate:"required"`
	TempMin   *float64 `json:"temp_min" validate:"required"`
	TempMax   *float64 `json:"temp_max" validate:"required"`
	Pressure  *float64 `json:"pressure" validate:"required"`
	Humidity  *float64 `json:"humidity" validate:"required"`
}

type owmCondition struct {
	ID          *int   `json:"id" validate:"required"`
	Main        string `json:"main"`
	Description string `json:"description" validate:"required"`
	Icon        string `json:"icon" validate:"required"`
}

type owmWind struct {
	Speed *float64 `json:"speed"`
	Deg   float64  `json:"deg"`
}

type owmItem struct {
	Dt      int64          `json:"dt"`
	Main    *owmMain       `json:"main" validate:"required"`
	Weather []owmCondition `json:"weather" validate:"required,min=1,dive"`
	Wind    *owmWind       `json:"wind"`
}

type owmCurrent struct {
	owmItem
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
}

type owmForecast struct {
	List []owmItem `json:"list" validate:"required,min=1,dive"`
	City struct {
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"city"`
}

func (c owmCurrent) toData() weather.Data {
	d := c.owmItem.toData()
	d.Name = c.Name
	d.Country = c.Sys.Country
	return d
}

func (it owmItem) toData() weather.Data {
	d := weather.Data{
		Temp:       *it.Main.Temp,
		FeelsLike:  *it.Main.FeelsLike,
		TempMin:    *it.Main.TempMin,
		TempMax:    *it.Main.TempMax,
		Pressure:   *it.Main.Pressure,
		Humidity:   *it.Main.Humidity,
		Conditions: make([]weather.ConditionInfo, 0, len(it.Weather)),
	}
	if it.Dt > 0 {
		d.ObservedAt = time.Unix(it.Dt, 0).UTC()
	}
	// A wind block without speed is treated as absent.
	if it.Wind != nil && it.Wind.Speed != nil {
		d.Wind = &weather.Wind{Speed: *it.Wind.Speed, Deg: it.Wind.Deg}
	}
	for _, w := range it.Weather {
		d.Conditions = append(d.Conditions, weather.ConditionInfo{
			ID:          *w.ID,
			Main:        w.Main,
			Description: w.Description,
			Icon:        w.Icon,
		})
	}
	d.Condition = weather.MapCondition(d.Primary().Main, d.Primary().Description)
	return d
}
