package weather

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Kind selects which provider endpoint a query targets.
type Kind string

const (
	KindCurrent  Kind = "current"
	KindForecast Kind = "forecast"
)

// Location represents a place we can ask the provider about: either a city
// (optionally qualified by an ISO country code) or a coordinate pair.
type Location struct {
	City      string  `json:"city,omitempty"`
	Country   string  `json:"country,omitempty"`
	Lat       float64 `json:"lat,omitempty"`
	Lon       float64 `json:"lon,omitempty"`
	HasCoords bool    `json:"-"`
}

// CityLocation builds a city based location with normalized spacing.
func CityLocation(city, country string) Location {
	return Location{
		City:    strings.TrimSpace(city),
		Country: strings.ToUpper(strings.TrimSpace(country)),
	}
}

// CoordLocation builds a coordinate based location.
func CoordLocation(lat, lon float64) Location {
	return Location{Lat: lat, Lon: lon, HasCoords: true}
}

// Key returns a canonical string key for indexing this location in caches and stores.
func (l Location) Key() string {
	if l.HasCoords {
		return strconv.FormatFloat(l.Lat, 'f', 4, 64) + "," + strconv.FormatFloat(l.Lon, 'f', 4, 64)
	}
	return strings.ToLower(l.City) + ":" + strings.ToLower(l.Country)
}

// Label is the human readable form used when the provider has not named the place yet.
func (l Location) Label() string {
	if l.HasCoords {
		return fmt.Sprintf("%.2f, %.2f", l.Lat, l.Lon)
	}
	if l.Country == "" {
		return l.City
	}
	return l.City + ", " + l.Country
}

// Query identifies a single cacheable request. Its String form is the cache
// identity, so queries whose locations share a Key share an entry.
type Query struct {
	Location Location
	Kind     Kind
}

// CurrentQuery is shorthand for a current-conditions query.
func CurrentQuery(loc Location) Query {
	return Query{Location: loc, Kind: KindCurrent}
}

// ForecastQuery is shorthand for a forecast query.
func ForecastQuery(loc Location) Query {
	return Query{Location: loc, Kind: KindForecast}
}

func (q Query) String() string {
	return string(q.Kind) + "/" + q.Location.Key()
}

// ConditionInfo is one condition descriptor as reported by the provider.
type ConditionInfo struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// IconURL points at the provider's static icon hosting. The image is only
// referenced, never fetched by this service.
func (c ConditionInfo) IconURL() string {
	if c.Icon == "" {
		return ""
	}
	return "https://openweathermap.org/img/wn/" + c.Icon + "@4x.png"
}

// Wind is optional in provider payloads.
type Wind struct {
	Speed float64 `json:"speed"` // m/s in metric units
	Deg   float64 `json:"deg"`
}

// Data is the parsed current-conditions result. Treated as immutable once fetched.
type Data struct {
	Name       string          `json:"name"`
	Country    string          `json:"country,omitempty"`
	ObservedAt time.Time       `json:"observedAt"` // always UTC
	Temp       float64         `json:"temp"`
	FeelsLike  float64         `json:"feelsLike"`
	TempMin    float64         `json:"tempMin"`
	TempMax    float64         `json:"tempMax"`
	Humidity   float64         `json:"humidity"`
	Pressure   float64         `json:"pressure"`
	Wind       *Wind           `json:"wind,omitempty"`
	Conditions []ConditionInfo `json:"conditions"`
	Condition  Condition       `json:"condition"`
}

// Primary returns the first condition descriptor, which the provider lists as
// the dominant one.
func (d Data) Primary() ConditionInfo {
	if len(d.Conditions) == 0 {
		return ConditionInfo{}
	}
	return d.Conditions[0]
}

// ForecastEntry is one time step of a forecast.
type ForecastEntry struct {
	Time time.Time `json:"time"`
	Data Data      `json:"data"`
}

// Forecast represents a multi-step forecast. Entries are ordered by Time ascending.
type Forecast struct {
	Name    string          `json:"name"`
	Country string          `json:"country,omitempty"`
	Entries []ForecastEntry `json:"entries"`
}

// DailySummary condenses all forecast entries of one UTC day.
type DailySummary struct {
	Date      time.Time `json:"date"`
	TempMin   float64   `json:"tempMin"`
	TempMax   float64   `json:"tempMax"`
	Humidity  float64   `json:"humidity"`
	Condition Condition `json:"condition"`
	Icon      string    `json:"icon,omitempty"`
	Summary   string    `json:"summary,omitempty"`
}
