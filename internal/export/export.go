// Package export writes the pipeline artifacts under an output root.
package export

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	FilteredPrices    = "hourly_filtered_prices.csv"
	PivotedPrices     = "hourly_prices_pivoted.csv"
	WeatherHourly     = "weather_hourly.csv"
	Merged            = "ercot_weather_merged.csv"
	CleanedCSV        = "ercot_weather_cleaned.csv"
	CleanedJSON       = "ercot_weather_cleaned.json"
	CleanedParquet    = "ercot_weather_cleaned.parquet"
	CorrelationsJSON  = "correlations.json"
	CorrelationsExcel = "correlations.xlsx"
	Summary           = "correlations_summary.md"
)

// TimestampLayout is the CSV timestamp format. Timestamps are naive wall
// clock values so no offset is written.
const TimestampLayout = "2006-01-02 15:04:05"

// ISOLayout is the JSON timestamp format.
const ISOLayout = "2006-01-02T15:04:05"

type Exporter struct {
	root string
}

func New(root string) *Exporter {
	return &Exporter{root: root}
}

// Path returns the location of an artifact.
func (e *Exporter) Path(name string) string {
	return filepath.Join(e.root, name)
}

// write streams an artifact into a temp file in the output root and renames
// it into place, so readers never see a partial file.
func (e *Exporter) write(name string, fn func(w io.Writer) error) error {
	if err := os.MkdirAll(e.root, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(e.root, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if err := fn(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), e.Path(name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	log.Printf("export: wrote %s", e.Path(name))
	return nil
}

// WriteSummary writes the narrative summary of the correlation report.
func (e *Exporter) WriteSummary(text string) error {
	return e.write(Summary, func(w io.Writer) error {
		_, err := io.WriteString(w, text+"\n")
		return err
	})
}

func formatTime(t time.Time) string {
	return t.Format(TimestampLayout)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatNull(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.Float64)
}

func nullPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
