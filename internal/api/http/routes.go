package httpapi

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-dashboard/internal/dashboard"
	"github.com/i474232898/weather-dashboard/internal/store"
	"github.com/i474232898/weather-dashboard/internal/views"
	"github.com/i474232898/weather-dashboard/internal/weather"
)

var validate = validator.New()

const themeCookie = "theme"

// Options tunes how long handlers wait on the query caches.
type Options struct {
	// Locations are shown on the dashboard page.
	Locations []weather.Location

	// RequestTimeout bounds the blocking JSON endpoints.
	RequestTimeout time.Duration

	// RenderWait is how long an HTML page waits for data before it renders
	// the loading state instead.
	RenderWait time.Duration
}

type handler struct {
	service *dashboard.Service
	views   *views.Renderer
	opts    Options
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. It must be
// called after any other routes because it installs the 404 handler.
func RegisterRoutes(app *fiber.App, service *dashboard.Service, renderer *views.Renderer, opts Options) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.RenderWait <= 0 {
		opts.RenderWait = 2 * time.Second
	}
	h := &handler{service: service, views: renderer, opts: opts}

	app.Get("/health", h.health)

	v1 := app.Group("/api/v1")
	v1.Get("/weather/current", h.current)
	v1.Get("/weather/forecast", h.forecast)
	v1.Post("/weather/refresh", h.refresh)
	v1.Get("/weather/history", h.history)

	app.Get("/", h.dashboardPage)
	app.Get("/city", h.search)
	app.Get("/city/:cityName", h.cityPage)

	app.Use(h.notFound)
}

func (h *handler) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "weather-dashboard",
		"cache":   h.service.Stats(),
	})
}

func (h *handler) current(c *fiber.Ctx) error {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.opts.RequestTimeout)
	defer cancel()

	data, err := h.service.Current(ctx, loc)
	if err != nil {
		return upstreamError(err)
	}

	return c.JSON(fiber.Map{
		"location": loc,
		"weather":  data,
		"badges": fiber.Map{
			"min": views.ClassifyTemp(data.TempMin),
			"max": views.ClassifyTemp(data.TempMax),
		},
		"iconUrl": data.Primary().IconURL(),
	})
}

func (h *handler) forecast(c *fiber.Ctx) error {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.opts.RequestTimeout)
	defer cancel()

	f, err := h.service.Forecast(ctx, loc)
	if err != nil {
		return upstreamError(err)
	}

	return c.JSON(fiber.Map{
		"location": loc,
		"forecast": f,
		"daily":    f.Daily(),
	})
}

func (h *handler) refresh(c *fiber.Ctx) error {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.opts.RequestTimeout)
	defer cancel()

	data, err := h.service.Refresh(ctx, loc)
	if err != nil {
		return upstreamError(err)
	}

	return c.JSON(fiber.Map{
		"location": loc,
		"weather":  data,
	})
}

func (h *handler) history(c *fiber.Ctx) error {
	var req historyQuery
	if err := req.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	observations, err := h.service.GetRange(req.Location, req.From, req.To)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, dashboard.ErrNoHistory) {
			return fiber.NewError(fiber.StatusNotFound, "no weather history for requested range")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather history")
	}

	return c.JSON(fiber.Map{
		"location":     req.Location,
		"from":         req.From,
		"to":           req.To,
		"observations": observations,
	})
}

func (h *handler) dashboardPage(c *fiber.Ctx) error {
	theme := resolveTheme(c)

	ctx, cancel := context.WithTimeout(c.UserContext(), h.opts.RenderWait)
	defer cancel()

	var wg sync.WaitGroup
	for _, loc := range h.opts.Locations {
		loc := loc
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.service.Current(ctx, loc)
		}()
	}
	wg.Wait()

	cities := make([]views.CityView, 0, len(h.opts.Locations))
	for _, loc := range h.opts.Locations {
		cities = append(cities, views.CityView{
			Location: loc,
			Current:  h.service.CurrentState(loc),
		})
	}

	var buf bytes.Buffer
	if err := h.views.DashboardPage(&buf, cities, c.Path(), theme); err != nil {
		return err
	}
	return sendHTML(c, fiber.StatusOK, buf.Bytes())
}

func (h *handler) search(c *fiber.Ctx) error {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return c.Redirect("/", fiber.StatusSeeOther)
	}
	return c.Redirect("/city/"+url.PathEscape(q), fiber.StatusSeeOther)
}

func (h *handler) cityPage(c *fiber.Ctx) error {
	theme := resolveTheme(c)

	name, err := url.PathUnescape(c.Params("cityName"))
	if err != nil {
		name = c.Params("cityName")
	}
	q := cityQuery{City: strings.TrimSpace(name), Country: strings.TrimSpace(c.Query("country"))}
	if err := validate.Struct(q); err != nil {
		return h.renderNotFound(c, theme)
	}
	loc := weather.CityLocation(q.City, q.Country)

	ctx, cancel := context.WithTimeout(c.UserContext(), h.opts.RenderWait)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.service.Current(ctx, loc)
	}()
	go func() {
		defer wg.Done()
		h.service.Forecast(ctx, loc)
	}()
	wg.Wait()

	view := views.CityView{
		Location: loc,
		Current:  h.service.CurrentState(loc),
		Forecast: h.service.ForecastState(loc),
	}

	var buf bytes.Buffer
	if err := h.views.CityPage(&buf, view, c.Path(), theme); err != nil {
		return err
	}
	return sendHTML(c, fiber.StatusOK, buf.Bytes())
}

func (h *handler) notFound(c *fiber.Ctx) error {
	if strings.HasPrefix(c.Path(), "/api/") {
		return fiber.NewError(fiber.StatusNotFound, "route not found")
	}
	return h.renderNotFound(c, resolveTheme(c))
}

func (h *handler) renderNotFound(c *fiber.Ctx, theme views.Theme) error {
	var buf bytes.Buffer
	if err := h.views.NotFoundPage(&buf, c.Path(), theme); err != nil {
		return err
	}
	return sendHTML(c, fiber.StatusNotFound, buf.Bytes())
}

func sendHTML(c *fiber.Ctx, status int, body []byte) error {
	c.Type("html", "utf-8")
	return c.Status(status).Send(body)
}

// resolveTheme reads ?theme= (persisting it in a cookie) or falls back to
// the cookie, then to dark.
func resolveTheme(c *fiber.Ctx) views.Theme {
	if q := c.Query("theme"); q != "" {
		theme := views.ParseTheme(q)
		c.Cookie(&fiber.Cookie{
			Name:     themeCookie,
			Value:    string(theme),
			Path:     "/",
			MaxAge:   int((365 * 24 * time.Hour).Seconds()),
			SameSite: "Lax",
		})
		return theme
	}
	return views.ParseTheme(c.Cookies(themeCookie))
}

// upstreamError maps a fetch failure onto an HTTP error. A provider 404 is
// passed through, everything else is a bad gateway.
func upstreamError(err error) error {
	var apiErr *weather.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode == fiber.StatusNotFound:
		return fiber.NewError(fiber.StatusNotFound, apiErr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusGatewayTimeout, "timed out waiting for weather data")
	default:
		log.Printf("ERROR: upstream weather request failed: %v", err)
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
}

// cityQuery validates the city page parameters.
type cityQuery struct {
	City    string `validate:"required,max=100"`
	Country string `validate:"omitempty,len=2,alpha"`
}

// locationQuery holds query parameters for identifying a location: either a
// city (with optional ISO country) or a lat/lon pair.
type locationQuery struct {
	City    string   `validate:"required_without=Lat,omitempty,max=100"`
	Country string   `validate:"omitempty,len=2,alpha"`
	Lat     *float64 `validate:"required_without=City,omitempty,latitude"`
	Lon     *float64 `validate:"required_with=Lat,omitempty,longitude"`
}

func (l locationQuery) toLocation() weather.Location {
	if l.Lat != nil && l.Lon != nil {
		return weather.CoordLocation(*l.Lat, *l.Lon)
	}
	return weather.CityLocation(l.City, l.Country)
}

func parseLocationQuery(c *fiber.Ctx) (weather.Location, error) {
	var q locationQuery

	q.City = strings.TrimSpace(c.Query("city"))
	q.Country = strings.TrimSpace(c.Query("country"))

	for _, p := range []struct {
		name string
		dst  **float64
	}{{"lat", &q.Lat}, {"lon", &q.Lon}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return weather.Location{}, errors.New("invalid " + p.name + ": must be a number")
		}
		*p.dst = &v
	}

	if err := validate.Struct(q); err != nil {
		return weather.Location{}, err
	}

	return q.toLocation(), nil
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Location weather.Location `validate:"-"`
	From     time.Time        `validate:"required"`
	To       time.Time        `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return err
	}
	h.Location = loc

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
