package weather

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Daily groups forecast entries by UTC calendar day. TempMin/TempMax are the
// extremes over the day, humidity is averaged and the condition is selected by
// majority (earliest seen wins a tie).
func (f Forecast) Daily() []DailySummary {
	if len(f.Entries) == 0 {
		return nil
	}

	type bucket struct {
		date        time.Time
		min, max    float64
		sumHumidity float64
		n           int
		counts      map[Condition]int
		order       []Condition
		icons       map[Condition]ConditionInfo
	}

	buckets := make(map[string]*bucket)
	for _, e := range f.Entries {
		ts := e.Time.UTC()
		k := ts.Format("2006-01-02")

		b, ok := buckets[k]
		if !ok {
			b = &bucket{
				date:   time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC),
				min:    math.Inf(1),
				max:    math.Inf(-1),
				counts: make(map[Condition]int),
				icons:  make(map[Condition]ConditionInfo),
			}
			buckets[k] = b
		}

		b.min = math.Min(b.min, e.Data.TempMin)
		b.max = math.Max(b.max, e.Data.TempMax)
		b.sumHumidity += e.Data.Humidity
		b.n++

		cond := e.Data.Condition
		if b.counts[cond] == 0 {
			b.order = append(b.order, cond)
			b.icons[cond] = e.Data.Primary()
		}
		b.counts[cond]++
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]DailySummary, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]

		// Pick majority condition.
		best := ConditionUnknown
		bestCount := 0
		for _, cond := range b.order {
			if b.counts[cond] > bestCount {
				bestCount = b.counts[cond]
				best = cond
			}
		}

		info := b.icons[best]
		out = append(out, DailySummary{
			Date:      b.date,
			TempMin:   b.min,
			TempMax:   b.max,
			Humidity:  b.sumHumidity / float64(b.n),
			Condition: best,
			Icon:      info.Icon,
			Summary:   info.Description,
		})
	}
	return out
}

// MapCondition normalizes the provider's "main" group into a Condition. When
// the group is not one we know, the free-text description decides.
func MapCondition(main, description string) Condition {
	switch main {
	case "Clear":
		return ConditionClear
	case "Clouds":
		return ConditionCloudy
	case "Rain", "Drizzle":
		return ConditionRain
	case "Snow":
		return ConditionSnow
	case "Thunderstorm", "Squall", "Tornado":
		return ConditionStorm
	case "Mist", "Fog", "Haze", "Smoke", "Dust", "Sand", "Ash":
		return ConditionMist
	}

	text := strings.ToLower(description)
	if text == "" {
		return ConditionUnknown
	}
	for _, kw := range descriptionKeywords {
		for _, word := range kw.words {
			if strings.Contains(text, word) {
				return kw.condition
			}
		}
	}
	return ConditionUnknown
}

// descriptionKeywords is checked in order, so "thunderstorm with rain" is a storm.
var descriptionKeywords = []struct {
	condition Condition
	words     []string
}{
	{ConditionStorm, []string{"thunder", "storm"}},
	{ConditionRain, []string{"rain", "shower", "drizzle"}},
	{ConditionSnow, []string{"snow", "sleet", "blizzard"}},
	{ConditionMist, []string{"fog", "mist", "haze"}},
	{ConditionCloudy, []string{"cloud", "overcast"}},
	{ConditionClear, []string{"sunny", "clear"}},
}
