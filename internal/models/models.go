package models

import (
	"database/sql"
	"time"
)

// LoadZone is the settlement point type retained after the weather join.
const LoadZone = "LZ"

// RawPriceRow is one untyped row from a settlement price CSV.
type RawPriceRow struct {
	DeliveryDate        string
	DeliveryHour        string
	SettlementPoint     string
	SettlementPointType string
	Price               string
	Source              string // file the row was read from
	Line                int
	Err                 error // set when the line itself could not be parsed
}

type PriceRecord struct {
	Timestamp time.Time // naive wall-clock hour, stored as UTC
	ZoneID    string
	ZoneType  string
	Price     float64
	Source    string
}

type WeatherObservation struct {
	Timestamp       time.Time // floored to the hour in provider local time, stored as UTC
	ZoneID          string
	Temperature     sql.NullFloat64
	WindSpeed       sql.NullFloat64
	SolarIrradiance sql.NullFloat64
}

type JoinedRecord struct {
	Timestamp       time.Time
	ZoneID          string
	ZoneType        string
	Price           float64
	Temperature     sql.NullFloat64
	WindSpeed       sql.NullFloat64
	SolarIrradiance sql.NullFloat64
}

// Field identifies one of the numeric columns carried on the grid.
type Field int

const (
	FieldPrice Field = iota
	FieldTemperature
	FieldWindSpeed
	FieldSolarIrradiance
)

// NumFields is the number of numeric grid columns.
const NumFields = 4

func (f Field) String() string {
	switch f {
	case FieldPrice:
		return "price"
	case FieldTemperature:
		return "temperature"
	case FieldWindSpeed:
		return "windspeed"
	case FieldSolarIrradiance:
		return "solar_irradiance"
	default:
		return "unknown"
	}
}

// Fields lists the grid columns in their canonical order.
var Fields = [NumFields]Field{FieldPrice, FieldTemperature, FieldWindSpeed, FieldSolarIrradiance}

type GridRecord struct {
	Timestamp       time.Time
	ZoneID          string
	Price           sql.NullFloat64
	Temperature     sql.NullFloat64
	WindSpeed       sql.NullFloat64
	SolarIrradiance sql.NullFloat64
	Interpolated    uint8 // bit per Field filled by gap repair
}

// Get returns the value of field f.
func (r GridRecord) Get(f Field) sql.NullFloat64 {
	switch f {
	case FieldPrice:
		return r.Price
	case FieldTemperature:
		return r.Temperature
	case FieldWindSpeed:
		return r.WindSpeed
	case FieldSolarIrradiance:
		return r.SolarIrradiance
	}
	return sql.NullFloat64{}
}

// Set replaces the value of field f.
func (r *GridRecord) Set(f Field, v sql.NullFloat64) {
	switch f {
	case FieldPrice:
		r.Price = v
	case FieldTemperature:
		r.Temperature = v
	case FieldWindSpeed:
		r.WindSpeed = v
	case FieldSolarIrradiance:
		r.SolarIrradiance = v
	}
}

func (r GridRecord) IsInterpolated(f Field) bool {
	return r.Interpolated&(1<<uint(f)) != 0
}

// Complete reports whether every numeric field is present.
func (r GridRecord) Complete() bool {
	for _, f := range Fields {
		if !r.Get(f).Valid {
			return false
		}
	}
	return true
}

type CorrelationResult struct {
	ZoneID       string
	Rows         int  // complete rows used
	Insufficient bool // fewer than two complete rows
	Matrix       [NumFields][NumFields]float64
}
