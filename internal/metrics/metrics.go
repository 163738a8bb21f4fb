package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WeatherAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridweather_weather_api_calls_total",
			Help: "Total weather provider API calls",
		},
		[]string{"location", "status"},
	)

	WeatherAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridweather_weather_api_latency_seconds",
			Help:    "Weather provider API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"location"},
	)

	WeatherCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridweather_weather_cache_lookups_total",
			Help: "Weather cache lookups by result",
		},
		[]string{"result"},
	)

	FilesAcquired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridweather_price_files_acquired_total",
			Help: "Raw price files acquired, by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	PriceRowsNormalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridweather_price_rows_normalized_total",
			Help: "Price rows that normalized successfully",
		},
	)

	PriceRowsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridweather_price_rows_skipped_total",
			Help: "Malformed price rows skipped",
		},
	)

	WeatherQualityFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridweather_weather_quality_flags_total",
			Help: "Weather observations flagged by sanity checks",
		},
		[]string{"flag"},
	)

	GridRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridweather_grid_rows",
			Help: "Rows on the reindexed hourly grid in the last run",
		},
	)

	InterpolatedCells = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridweather_interpolated_cells_total",
			Help: "Grid cells filled by interpolation",
		},
		[]string{"field"},
	)

	OutliersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridweather_outliers_dropped_total",
			Help: "Grid rows dropped for out-of-bound or missing price",
		},
	)

	ZonesInsufficient = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridweather_zones_insufficient",
			Help: "Zones without enough clean rows for correlation in the last run",
		},
	)
)
