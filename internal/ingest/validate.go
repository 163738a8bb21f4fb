package ingest

import (
	"github.com/lox/gridweather/internal/metrics"
	"github.com/lox/gridweather/internal/models"
)

// Sanity flags for provider observations in US units (°F, mph, W/m²).
// Flagged values are kept; the flags are only counted and logged.
const (
	FlagTempOutOfRange    = "temp_out_of_range"
	FlagWindSpeedUnlikely = "wind_speed_unlikely"
	FlagSolarNegative     = "solar_negative"
	FlagSolarUnlikely     = "solar_unlikely"
)

func ValidateObservation(obs models.WeatherObservation) []string {
	var flags []string

	if obs.Temperature.Valid {
		if obs.Temperature.Float64 < -60 || obs.Temperature.Float64 > 140 {
			flags = append(flags, FlagTempOutOfRange)
		}
	}

	if obs.WindSpeed.Valid {
		if obs.WindSpeed.Float64 < 0 || obs.WindSpeed.Float64 > 200 {
			flags = append(flags, FlagWindSpeedUnlikely)
		}
	}

	if obs.SolarIrradiance.Valid {
		if obs.SolarIrradiance.Float64 < 0 {
			flags = append(flags, FlagSolarNegative)
		} else if obs.SolarIrradiance.Float64 > 1500 {
			flags = append(flags, FlagSolarUnlikely)
		}
	}

	return flags
}

// flagObservations counts sanity flags across obs by flag name.
func flagObservations(obs []models.WeatherObservation) map[string]int {
	counts := make(map[string]int)
	for _, o := range obs {
		for _, f := range ValidateObservation(o) {
			counts[f]++
			metrics.WeatherQualityFlags.WithLabelValues(f).Inc()
		}
	}
	return counts
}
