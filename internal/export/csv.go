package export

import (
	"encoding/csv"
	"io"
	"sort"
	"strings"

	"github.com/lox/gridweather/internal/fusion"
	"github.com/lox/gridweather/internal/models"
)

func writeCSV(w io.Writer, header []string, rows func(cw *csv.Writer) error) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := rows(cw); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WritePrices writes the normalized price records.
func (e *Exporter) WritePrices(prices []models.PriceRecord) error {
	return e.write(FilteredPrices, func(w io.Writer) error {
		header := []string{"timestamp", "zone_id", "zone_type", "price"}
		return writeCSV(w, header, func(cw *csv.Writer) error {
			for _, p := range prices {
				if err := cw.Write([]string{formatTime(p.Timestamp), p.ZoneID, p.ZoneType, formatFloat(p.Price)}); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// WritePivot writes one row per timestamp with one price column per zone.
func (e *Exporter) WritePivot(zones []string, rows []fusion.PivotRow) error {
	return e.write(PivotedPrices, func(w io.Writer) error {
		header := append([]string{"timestamp"}, zones...)
		return writeCSV(w, header, func(cw *csv.Writer) error {
			for _, r := range rows {
				rec := make([]string, 0, len(zones)+1)
				rec = append(rec, formatTime(r.Timestamp))
				for _, p := range r.Prices {
					rec = append(rec, formatNull(p))
				}
				if err := cw.Write(rec); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// WriteWeather writes every fetched observation, zones in name order.
func (e *Exporter) WriteWeather(weather map[string][]models.WeatherObservation) error {
	zones := make([]string, 0, len(weather))
	for z := range weather {
		zones = append(zones, z)
	}
	sort.Strings(zones)

	return e.write(WeatherHourly, func(w io.Writer) error {
		header := []string{"timestamp", "zone_id", "temperature", "windspeed", "solar_irradiance"}
		return writeCSV(w, header, func(cw *csv.Writer) error {
			for _, z := range zones {
				for _, o := range weather[z] {
					rec := []string{formatTime(o.Timestamp), z, formatNull(o.Temperature), formatNull(o.WindSpeed), formatNull(o.SolarIrradiance)}
					if err := cw.Write(rec); err != nil {
						return err
					}
				}
			}
			return nil
		})
	})
}

// WriteMerged writes the joined rows.
func (e *Exporter) WriteMerged(joined []models.JoinedRecord) error {
	return e.write(Merged, func(w io.Writer) error {
		header := []string{"timestamp", "zone_id", "zone_type", "price", "temperature", "windspeed", "solar_irradiance"}
		return writeCSV(w, header, func(cw *csv.Writer) error {
			for _, j := range joined {
				rec := []string{
					formatTime(j.Timestamp), j.ZoneID, j.ZoneType, formatFloat(j.Price),
					formatNull(j.Temperature), formatNull(j.WindSpeed), formatNull(j.SolarIrradiance),
				}
				if err := cw.Write(rec); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func interpolatedFields(r models.GridRecord) string {
	var names []string
	for _, f := range models.Fields {
		if r.IsInterpolated(f) {
			names = append(names, f.String())
		}
	}
	return strings.Join(names, ";")
}

// WriteCleaned writes the repaired grid. The interpolated column lists the
// fields that were filled by interpolation.
func (e *Exporter) WriteCleaned(grid []models.GridRecord) error {
	return e.write(CleanedCSV, func(w io.Writer) error {
		header := []string{"timestamp", "zone_id", "price", "temperature", "windspeed", "solar_irradiance", "interpolated"}
		return writeCSV(w, header, func(cw *csv.Writer) error {
			for _, r := range grid {
				rec := []string{
					formatTime(r.Timestamp), r.ZoneID,
					formatNull(r.Price), formatNull(r.Temperature), formatNull(r.WindSpeed), formatNull(r.SolarIrradiance),
					interpolatedFields(r),
				}
				if err := cw.Write(rec); err != nil {
					return err
				}
			}
			return nil
		})
	})
}
