// Package views renders the dashboard's HTML. Every renderer is a pure
// function of a query state: success renders data, pending renders a loading
// skeleton and error renders the fallback. Rendering never fails on a state.
package views

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"log"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/weather-dashboard/internal/query"
	"github.com/i474232898/weather-dashboard/internal/weather"
)

//go:embed templates/*.html
var templateFS embed.FS

// Theme is the page color scheme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// ParseTheme maps user input onto a Theme. Anything but "light" is dark.
func ParseTheme(s string) Theme {
	if strings.EqualFold(strings.TrimSpace(s), string(ThemeLight)) {
		return ThemeLight
	}
	return ThemeDark
}

// Toggle returns the other theme.
func (t Theme) Toggle() Theme {
	if t == ThemeLight {
		return ThemeDark
	}
	return ThemeLight
}

// Badge is the color class of a temperature reading.
type Badge string

const (
	BadgeHot  Badge = "hot"
	BadgeCold Badge = "cold"
)

// HotThreshold is the temperature in °C above which a reading is hot.
const HotThreshold = 30.0

// ClassifyTemp returns BadgeHot for temperatures strictly above HotThreshold.
func ClassifyTemp(t float64) Badge {
	if t > HotThreshold {
		return BadgeHot
	}
	return BadgeCold
}

// FallbackMessage is shown wherever a query ended in an error.
const FallbackMessage = "Unable to load weather"

// Renderer holds the parsed templates. It is safe for concurrent use.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("views").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

type cardModel struct {
	Theme       Theme
	Name        string
	Temp        string
	FeelsLike   string
	TempMin     string
	TempMax     string
	MinBadge    Badge
	MaxBadge    Badge
	Humidity    string
	Wind        string
	Pressure    string
	Description string
	IconURL     string
	Condition   weather.Condition
	ObservedAt  string
}

type dayModel struct {
	Date        string
	TempMin     string
	TempMax     string
	MinBadge    Badge
	MaxBadge    Badge
	Humidity    string
	Description string
	IconURL     string
}

type forecastModel struct {
	Theme Theme
	Name  string
	Days  []dayModel
}

type fallbackModel struct {
	Theme   Theme
	Message string
	Detail  string
}

type skeletonModel struct {
	Theme Theme
	Rows  []int
}

func formatTemp(t float64) string {
	return fmt.Sprintf("%d°C", int(math.Round(t)))
}

func newCardModel(d weather.Data, name string, theme Theme) cardModel {
	if name == "" {
		name = d.Name
	}
	primary := d.Primary()

	wind := "n/a"
	if d.Wind != nil {
		wind = strconv.FormatFloat(d.Wind.Speed, 'f', -1, 64) + " m/s"
	}

	observed := ""
	if !d.ObservedAt.IsZero() {
		observed = d.ObservedAt.UTC().Format("15:04 MST")
	}

	return cardModel{
		Theme:       theme,
		Name:        name,
		Temp:        formatTemp(d.Temp),
		FeelsLike:   formatTemp(d.FeelsLike),
		TempMin:     formatTemp(d.TempMin),
		TempMax:     formatTemp(d.TempMax),
		MinBadge:    ClassifyTemp(d.TempMin),
		MaxBadge:    ClassifyTemp(d.TempMax),
		Humidity:    fmt.Sprintf("%.0f%%", d.Humidity),
		Wind:        wind,
		Pressure:    fmt.Sprintf("%.0f hPa", d.Pressure),
		Description: primary.Description,
		IconURL:     primary.IconURL(),
		Condition:   d.Condition,
		ObservedAt:  observed,
	}
}

func newForecastModel(f weather.Forecast, theme Theme) forecastModel {
	m := forecastModel{Theme: theme, Name: f.Name}
	for _, d := range f.Daily() {
		m.Days = append(m.Days, dayModel{
			Date:        d.Date.Format("Mon, Jan 2"),
			TempMin:     formatTemp(d.TempMin),
			TempMax:     formatTemp(d.TempMax),
			MinBadge:    ClassifyTemp(d.TempMin),
			MaxBadge:    ClassifyTemp(d.TempMax),
			Humidity:    fmt.Sprintf("%.0f%%", d.Humidity),
			Description: d.Summary,
			IconURL:     weather.ConditionInfo{Icon: d.Icon}.IconURL(),
		})
	}
	return m
}

// CurrentCard renders the current-conditions card for a query state. name
// overrides the provider's location name when set.
func (r *Renderer) CurrentCard(st query.State[weather.Data], name string, theme Theme) template.HTML {
	switch st.Status {
	case query.StatusSuccess:
		return r.fragment("current_card", newCardModel(st.Data, name, theme), theme)
	case query.StatusError:
		return r.ErrorFallback(st.Err, theme)
	default:
		return r.skeleton(7, theme)
	}
}

// ForecastList renders the daily forecast for a query state.
func (r *Renderer) ForecastList(st query.State[weather.Forecast], theme Theme) template.HTML {
	switch st.Status {
	case query.StatusSuccess:
		return r.fragment("forecast_list", newForecastModel(st.Data, theme), theme)
	case query.StatusError:
		return r.ErrorFallback(st.Err, theme)
	default:
		return r.skeleton(5, theme)
	}
}

// ErrorFallback renders the user visible error box. err may be nil.
func (r *Renderer) ErrorFallback(err error, theme Theme) template.HTML {
	m := fallbackModel{Theme: theme, Message: FallbackMessage}
	if err != nil {
		m.Detail = err.Error()
	}

	var buf bytes.Buffer
	if execErr := r.tmpl.ExecuteTemplate(&buf, "fallback", m); execErr != nil {
		log.Printf("ERROR: views: rendering fallback failed: %v", execErr)
		return template.HTML(`<div class="fallback">` + template.HTMLEscapeString(FallbackMessage) + `</div>`)
	}
	return template.HTML(buf.String())
}

func (r *Renderer) skeleton(rows int, theme Theme) template.HTML {
	m := skeletonModel{Theme: theme, Rows: make([]int, rows)}
	return r.fragment("skeleton", m, theme)
}

func (r *Renderer) fragment(name string, data any, theme Theme) template.HTML {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		log.Printf("ERROR: views: rendering %s failed: %v", name, err)
		return r.ErrorFallback(nil, theme)
	}
	return template.HTML(buf.String())
}

// CityView is everything the city page shows.
type CityView struct {
	Location weather.Location
	Current  query.State[weather.Data]
	Forecast query.State[weather.Forecast]
}

type cityModel struct {
	Title    string
	Link     string
	Current  template.HTML
	Forecast template.HTML
}

type pageModel struct {
	Title       string
	Theme       Theme
	ToggleTheme Theme
	Path        string
	Year        int
	Refresh     bool
	Body        template.HTML
}

// page wraps body in the layout. refresh asks the browser to reload while
// some query is still loading.
func (r *Renderer) page(w io.Writer, title, path string, theme Theme, refresh bool, body template.HTML) error {
	return r.tmpl.ExecuteTemplate(w, "layout", pageModel{
		Title:       title,
		Theme:       theme,
		ToggleTheme: theme.Toggle(),
		Path:        path,
		Year:        time.Now().Year(),
		Refresh:     refresh,
		Body:        body,
	})
}

func (r *Renderer) city(v CityView, theme Theme) cityModel {
	title := v.Location.Label()
	if v.Current.IsSuccess() && v.Current.Data.Name != "" {
		title = v.Current.Data.Name
	}
	link := "/city/" + url.PathEscape(v.Location.City)
	if v.Location.Country != "" {
		link += "?country=" + url.QueryEscape(v.Location.Country)
	}
	return cityModel{
		Title:    title,
		Link:     link,
		Current:  r.CurrentCard(v.Current, title, theme),
		Forecast: r.ForecastList(v.Forecast, theme),
	}
}

// CityPage renders the page for a single city.
func (r *Renderer) CityPage(w io.Writer, v CityView, path string, theme Theme) error {
	m := r.city(v, theme)
	pending := v.Current.IsPending() || v.Forecast.IsPending()
	return r.page(w, m.Title, path, theme, pending, r.fragment("city", m, theme))
}

// DashboardPage renders the current conditions of every configured city.
func (r *Renderer) DashboardPage(w io.Writer, cities []CityView, path string, theme Theme) error {
	models := make([]cityModel, 0, len(cities))
	pending := false
	for _, c := range cities {
		models = append(models, r.city(c, theme))
		pending = pending || c.Current.IsPending()
	}
	return r.page(w, "Weather Dashboard", path, theme, pending, r.fragment("dashboard", models, theme))
}

// NotFoundPage renders the 404 page.
func (r *Renderer) NotFoundPage(w io.Writer, path string, theme Theme) error {
	return r.page(w, "404", path, theme, false, r.fragment("not_found", path, theme))
}
