package export

import (
	"encoding/json"
	"io"
	"math"

	"github.com/lox/gridweather/internal/models"
)

type cleanedRecord struct {
	Timestamp       string   `json:"timestamp"`
	ZoneID          string   `json:"zone_id"`
	Price           *float64 `json:"price"`
	Temperature     *float64 `json:"temperature"`
	WindSpeed       *float64 `json:"windspeed"`
	SolarIrradiance *float64 `json:"solar_irradiance"`
	Interpolated    []string `json:"interpolated,omitempty"`
}

// WriteCleanedJSON writes the repaired grid as an array of records with
// ISO-8601 timestamps and null for missing values.
func (e *Exporter) WriteCleanedJSON(grid []models.GridRecord) error {
	records := make([]cleanedRecord, 0, len(grid))
	for _, r := range grid {
		rec := cleanedRecord{
			Timestamp:       r.Timestamp.Format(ISOLayout),
			ZoneID:          r.ZoneID,
			Price:           nullPtr(r.Price),
			Temperature:     nullPtr(r.Temperature),
			WindSpeed:       nullPtr(r.WindSpeed),
			SolarIrradiance: nullPtr(r.SolarIrradiance),
		}
		for _, f := range models.Fields {
			if r.IsInterpolated(f) {
				rec.Interpolated = append(rec.Interpolated, f.String())
			}
		}
		records = append(records, rec)
	}
	return e.write(CleanedJSON, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	})
}

type correlationReport struct {
	ZoneID       string       `json:"zone_id"`
	Rows         int          `json:"rows"`
	Insufficient bool         `json:"insufficient"`
	Variables    []string     `json:"variables"`
	Matrix       [][]*float64 `json:"matrix"`
}

func correlationReports(results []models.CorrelationResult) []correlationReport {
	vars := make([]string, models.NumFields)
	for i, f := range models.Fields {
		vars[i] = f.String()
	}

	reports := make([]correlationReport, 0, len(results))
	for _, res := range results {
		rep := correlationReport{
			ZoneID:       res.ZoneID,
			Rows:         res.Rows,
			Insufficient: res.Insufficient,
			Variables:    vars,
		}
		if !res.Insufficient {
			rep.Matrix = make([][]*float64, models.NumFields)
			for i := range res.Matrix {
				rep.Matrix[i] = make([]*float64, models.NumFields)
				for j, v := range res.Matrix[i] {
					if !math.IsNaN(v) {
						v := v
						rep.Matrix[i][j] = &v
					}
				}
			}
		}
		reports = append(reports, rep)
	}
	return reports
}

// WriteCorrelationsJSON writes one report per zone. Insufficient zones have
// a null matrix; undefined coefficients are null.
func (e *Exporter) WriteCorrelationsJSON(results []models.CorrelationResult) error {
	reports := correlationReports(results)
	return e.write(CorrelationsJSON, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	})
}
