package domain

import (
	"strings"
	"time"
)

// rainToken is matched case-insensitively inside the conditions text.
const rainToken = "rain"

// MissingConditions marks a weather_daily row whose day was absent from the
// API response.
const MissingConditions = "missing_from_api"

// RawWeatherDay is one entry of the timeline response's days array. Date
// carries the requested day; Missing is set by the fetcher when the API
// returned no entry for it.
type RawWeatherDay struct {
	Date       string   `json:"datetime"`
	TempMax    *float64 `json:"tempmax"`
	TempMin    *float64 `json:"tempmin"`
	Temp       *float64 `json:"temp"`
	Precip     *float64 `json:"precip"`
	Humidity   *float64 `json:"humidity"`
	WindSpeed  *float64 `json:"windspeed"`
	Conditions string   `json:"conditions"`
	Missing    bool     `json:"-"`
}

// WeatherDay is one calendar day of observations ready for upsert.
type WeatherDay struct {
	Date       time.Time
	TempMax    *float64
	TempMin    *float64
	Temp       *float64
	Precip     *float64
	Humidity   *float64
	WindSpeed  *float64
	Conditions string
	IsRain     bool
}

// NormalizeWeatherDay validates and coerces one timeline day. Days flagged
// missing become placeholder rows so an upstream gap never leaves a hole in
// the table. Deterministic, like NormalizeViolation.
func NormalizeWeatherDay(raw RawWeatherDay) (WeatherDay, error) {
	date, err := time.Parse(DateLayout, raw.Date)
	if err != nil {
		return WeatherDay{}, &ValidationError{Field: "datetime", Reason: "not a calendar date"}
	}

	if raw.Missing {
		return WeatherDay{Date: date, Conditions: MissingConditions}, nil
	}

	if raw.Precip != nil && *raw.Precip < 0 {
		return WeatherDay{}, &ValidationError{Field: "precip", Reason: "negative"}
	}

	return WeatherDay{
		Date:       date,
		TempMax:    raw.TempMax,
		TempMin:    raw.TempMin,
		Temp:       raw.Temp,
		Precip:     raw.Precip,
		Humidity:   raw.Humidity,
		WindSpeed:  raw.WindSpeed,
		Conditions: raw.Conditions,
		IsRain:     isRain(raw.Precip, raw.Conditions),
	}, nil
}

// isRain applies the rain rule: measurable precipitation or a rain token in
// the conditions text.
func isRain(precip *float64, conditions string) bool {
	if precip != nil && *precip > 0 {
		return true
	}
	return strings.Contains(strings.ToLower(conditions), rainToken)
}
