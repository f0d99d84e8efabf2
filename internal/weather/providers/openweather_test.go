package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/i474232898/weather-dashboard/internal/weather"
)

const testAPIKey = "test-key"

const currentJSON = `{
	"coord": {"lon": -0.1257, "lat": 51.5085},
	"weather": [{"id": 803, "main": "Clouds", "description": "broken clouds", "icon": "04d"}],
	"main": {"temp": 24.6, "feels_like": 24.9, "temp_min": 18, "temp_max": 32, "pressure": 1012, "humidity": 61},
	"wind": {"speed": 4.1, "deg": 250},
	"dt": 1700000000,
	"sys": {"country": "GB"},
	"name": "London",
	"cod": 200
}`

const forecastJSON = `{
	"cod": "200",
	"list": [
		{"dt": 1700000000, "main": {"temp": 10, "feels_like": 9, "temp_min": 8, "temp_max": 11, "pressure": 1010, "humidity": 80},
		 "weather": [{"id": 500, "main": "Rain", "description": "light rain", "icon": "10d"}], "wind": {"speed": 3, "deg": 90}},
		{"dt": 1700010800, "main": {"temp": 12, "feels_like": 11, "temp_min": 9, "temp_max": 14, "pressure": 1011, "humidity": 70},
		 "weather": [{"id": 800, "main": "Clear", "description": "clear sky", "icon": "01d"}]}
	],
	"city": {"name": "Almaty", "country": "KZ"}
}`

func newTestProvider(baseURL string) *OpenWeatherProvider {
	return NewOpenWeatherProvider(OpenWeatherOptions{
		APIKey:  testAPIKey,
		BaseURL: baseURL,
		HTTP:    HTTPClientConfig{Client: &http.Client{Timeout: 5 * time.Second}},
	})
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func TestFetchCurrentSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/weather" {
			t.Errorf("expected path /weather, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if got := q.Get("q"); got != "London,GB" {
			t.Errorf("expected q=London,GB, got %s", got)
		}
		if got := q.Get("appid"); got != testAPIKey {
			t.Errorf("expected appid=%s, got %s", testAPIKey, got)
		}
		if got := q.Get("units"); got != "metric" {
			t.Errorf("expected units=metric, got %s", got)
		}
		jsonHandler(http.StatusOK, currentJSON)(w, r)
	}))
	defer srv.Close()

	got, err := newTestProvider(srv.URL).FetchCurrent(context.Background(), weather.CityLocation("London", "gb"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Name != "London" || got.Country != "GB" {
		t.Errorf("expected London, GB, got %s, %s", got.Name, got.Country)
	}
	if got.TempMin != 18 || got.TempMax != 32 {
		t.Errorf("expected min/max 18/32, got %v/%v", got.TempMin, got.TempMax)
	}
	if got.Humidity != 61 || got.Pressure != 1012 {
		t.Errorf("unexpected humidity/pressure: %v/%v", got.Humidity, got.Pressure)
	}
	if got.Wind == nil || got.Wind.Speed != 4.1 {
		t.Errorf("expected wind 4.1, got %+v", got.Wind)
	}
	if got.Condition != weather.ConditionCloudy {
		t.Errorf("expected condition cloudy, got %s", got.Condition)
	}
	if got.Primary().IconURL() != "https://openweathermap.org/img/wn/04d@4x.png" {
		t.Errorf("unexpected icon url %s", got.Primary().IconURL())
	}
	if !got.ObservedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("unexpected observation time %v", got.ObservedAt)
	}
}

func TestFetchCurrentByCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("lat") != "43.25" || q.Get("lon") != "76.95" {
			t.Errorf("expected lat/lon 43.25/76.95, got %s/%s", q.Get("lat"), q.Get("lon"))
		}
		if q.Has("q") {
			t.Errorf("did not expect q parameter for coordinates")
		}
		jsonHandler(http.StatusOK, currentJSON)(w, r)
	}))
	defer srv.Close()

	if _, err := newTestProvider(srv.URL).FetchCurrent(context.Background(), weather.CoordLocation(43.25, 76.95)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetchCurrentMissingWindDegrades(t *testing.T) {
	body := `{"weather":[{"id":800,"main":"Clear","description":"clear sky","icon":"01n"}],
		"main":{"temp":0,"feels_like":-2,"temp_min":-1,"temp_max":1,"pressure":1020,"humidity":90},"name":"Oslo"}`
	srv := httptest.NewServer(jsonHandler(http.StatusOK, body))
	defer srv.Close()

	got, err := newTestProvider(srv.URL).FetchCurrent(context.Background(), weather.CityLocation("Oslo", ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Wind != nil {
		t.Errorf("expected nil wind, got %+v", got.Wind)
	}
	if got.Temp != 0 {
		t.Errorf("expected zero temperature to be accepted, got %v", got.Temp)
	}
}

func TestFetchCurrentNotFound(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusNotFound, `{"cod":"404","message":"city not found"}`))
	defer srv.Close()

	_, err := newTestProvider(srv.URL).FetchCurrent(context.Background(), weather.CityLocation("Nowhere", ""))
	if err == nil {
		t.Fatal("expected error for 404 response, got nil")
	}

	var apiErr *weather.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *weather.APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", apiErr.StatusCode)
	}

	expected := "API error (HTTP 404): city not found"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
	if weather.IsTransient(err) {
		t.Error("404 must not be transient")
	}
}

func TestFetchCurrentServerError(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusInternalServerError, "internal server error"))
	defer srv.Close()

	_, err := newTestProvider(srv.URL).FetchCurrent(context.Background(), weather.CityLocation("London", ""))
	if err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}
	if weather.StatusCode(err) != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", weather.StatusCode(err))
	}
	if !weather.IsTransient(err) {
		t.Error("500 must be transient")
	}
}

func TestFetchCurrentParseErrors(t *testing.T) {
	cases := map[string]string{
		"malformed json":   `{"main": {`,
		"missing main":     `{"weather":[{"id":800,"main":"Clear","description":"clear sky","icon":"01d"}],"name":"X"}`,
		"missing temp_max": `{"weather":[{"id":800,"main":"Clear","description":"clear sky","icon":"01d"}],"main":{"temp":1,"feels_like":1,"temp_min":1,"pressure":1,"humidity":1}}`,
		"empty weather":    `{"weather":[],"main":{"temp":1,"feels_like":1,"temp_min":1,"temp_max":1,"pressure":1,"humidity":1}}`,
		"empty body":       ``,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(jsonHandler(http.StatusOK, body))
			defer srv.Close()

			_, err := newTestProvider(srv.URL).FetchCurrent(context.Background(), weather.CityLocation("X", ""))
			var parseErr *weather.ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected *weather.ParseError, got %T (%v)", err, err)
			}
			if weather.IsTransient(err) {
				t.Error("parse errors must not be transient")
			}
		})
	}
}

func TestFetchCurrentNetworkError(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusOK, currentJSON))
	url := srv.URL
	srv.Close()

	_, err := newTestProvider(url).FetchCurrent(context.Background(), weather.CityLocation("London", ""))
	var netErr *weather.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *weather.NetworkError, got %T (%v)", err, err)
	}
	if !weather.IsTransient(err) {
		t.Error("network errors must be transient")
	}
}

// slowHandler answers after delay unless the client goes away first.
func slowHandler(delay time.Duration, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
			jsonHandler(http.StatusOK, body)(w, r)
		case <-r.Context().Done():
		}
	}
}

func TestFetchCurrentContextCancelled(t *testing.T) {
	srv := httptest.NewServer(slowHandler(2*time.Second, currentJSON))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := newTestProvider(srv.URL).FetchCurrent(ctx, weather.CityLocation("London", ""))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var netErr *weather.NetworkError
	if errors.As(err, &netErr) {
		t.Errorf("a cancelled call is not a network error, got %v", err)
	}
	if weather.IsTransient(err) {
		t.Error("a cancelled call must not be retried")
	}
}

func TestAbandonedCallsDoNotTripCircuit(t *testing.T) {
	srv := httptest.NewServer(slowHandler(200*time.Millisecond, currentJSON))
	defer srv.Close()

	p := NewOpenWeatherProvider(OpenWeatherOptions{
		APIKey:  testAPIKey,
		BaseURL: srv.URL,
		HTTP: HTTPClientConfig{
			Client:          &http.Client{Timeout: 5 * time.Second},
			BreakerFailures: 2,
			BreakerTimeout:  time.Minute,
		},
	})
	loc := weather.CityLocation("London", "")

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		_, err := p.FetchCurrent(ctx, loc)
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("call %d: expected deadline exceeded, got %v", i, err)
		}
		if errors.Is(err, weather.ErrCircuitOpen) {
			t.Fatalf("call %d: circuit opened on abandoned calls", i)
		}
	}

	got, err := p.FetchCurrent(context.Background(), loc)
	if err != nil {
		t.Fatalf("expected healthy upstream to be reachable, got %v", err)
	}
	if got.Name != "London" {
		t.Errorf("expected London, got %s", got.Name)
	}
}

func TestCircuitOpensAfterServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewOpenWeatherProvider(OpenWeatherOptions{
		APIKey:  testAPIKey,
		BaseURL: srv.URL,
		HTTP: HTTPClientConfig{
			Client:          srv.Client(),
			BreakerFailures: 2,
			BreakerTimeout:  time.Minute,
		},
	})

	loc := weather.CityLocation("London", "")
	for i := 0; i < 2; i++ {
		if _, err := p.FetchCurrent(context.Background(), loc); weather.StatusCode(err) != http.StatusBadGateway {
			t.Fatalf("attempt %d: expected 502, got %v", i, err)
		}
	}

	_, err := p.FetchCurrent(context.Background(), loc)
	if !errors.Is(err, weather.ErrCircuitOpen) {
		t.Fatalf("expected circuit open error, got %v", err)
	}
	if weather.IsTransient(err) {
		t.Error("open circuit must not be retried")
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("expected 2 upstream hits, got %d", got)
	}
}

func TestClientErrorsDoNotTripCircuit(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusNotFound, `{"message":"city not found"}`))
	defer srv.Close()

	p := NewOpenWeatherProvider(OpenWeatherOptions{
		APIKey:  testAPIKey,
		BaseURL: srv.URL,
		HTTP:    HTTPClientConfig{Client: srv.Client(), BreakerFailures: 1},
	})

	for i := 0; i < 3; i++ {
		_, err := p.FetchCurrent(context.Background(), weather.CityLocation("Nowhere", ""))
		if weather.StatusCode(err) != http.StatusNotFound {
			t.Fatalf("attempt %d: expected 404, got %v", i, err)
		}
	}
}

func TestFetchForecastSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/forecast" {
			t.Errorf("expected path /forecast, got %s", r.URL.Path)
		}
		jsonHandler(http.StatusOK, forecastJSON)(w, r)
	}))
	defer srv.Close()

	got, err := newTestProvider(srv.URL).FetchForecast(context.Background(), weather.CityLocation("Almaty", "KZ"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "Almaty" || got.Country != "KZ" {
		t.Errorf("expected Almaty, KZ, got %s, %s", got.Name, got.Country)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got.Entries))
	}
	if got.Entries[0].Data.Condition != weather.ConditionRain {
		t.Errorf("expected rain, got %s", got.Entries[0].Data.Condition)
	}
	if got.Entries[1].Data.Wind != nil {
		t.Errorf("expected missing wind on second entry, got %+v", got.Entries[1].Data.Wind)
	}
	if !got.Entries[0].Time.Before(got.Entries[1].Time) {
		t.Error("expected entries ordered by time")
	}
}

func TestFetchForecastEmptyListIsParseError(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusOK, `{"cod":"200","list":[],"city":{"name":"X"}}`))
	defer srv.Close()

	_, err := newTestProvider(srv.URL).FetchForecast(context.Background(), weather.CityLocation("X", ""))
	var parseErr *weather.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *weather.ParseError, got %T (%v)", err, err)
	}
}
