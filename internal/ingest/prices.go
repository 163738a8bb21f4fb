package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/lox/gridweather/internal/models"
)

// Column aliases accepted in settlement price CSV headers, matched
// case-insensitively.
var priceColumns = map[string][]string{
	"date":  {"deliverydate"},
	"hour":  {"deliveryhour", "hourending"},
	"point": {"settlementpointname", "settlementpoint"},
	"type":  {"settlementpointtype"},
	"price": {"settlementpointprice"},
}

// ErrMissingColumn is returned when a price file lacks a required column.
var ErrMissingColumn = errors.New("missing column")

func headerIndex(header []string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		pos[h] = i
	}

	idx := make(map[string]int, len(priceColumns))
	for col, aliases := range priceColumns {
		found := false
		for _, a := range aliases {
			if i, ok := pos[a]; ok {
				idx[col] = i
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, aliases[0])
		}
	}
	return idx, nil
}

// ReadPriceCSV reads settlement price rows from r. Rows with too few fields
// are kept with empty values so the normalizer reports them, and lines with
// CSV syntax errors are returned with Err set. Only a failure of r itself
// stops the read.
func ReadPriceCSV(r io.Reader, source string) ([]models.RawPriceRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx, err := headerIndex(header)
	if err != nil {
		return nil, err
	}

	field := func(rec []string, col string) string {
		if i := idx[col]; i < len(rec) {
			return rec[i]
		}
		return ""
	}

	var rows []models.RawPriceRow
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return rows, fmt.Errorf("read line %d: %w", line, err)
			}
			rows = append(rows, models.RawPriceRow{Source: source, Line: line, Err: perr.Err})
			continue
		}
		rows = append(rows, models.RawPriceRow{
			DeliveryDate:        field(rec, "date"),
			DeliveryHour:        field(rec, "hour"),
			SettlementPoint:     field(rec, "point"),
			SettlementPointType: field(rec, "type"),
			Price:               field(rec, "price"),
			Source:              source,
			Line:                line,
		})
	}
	return rows, nil
}

// LoadPriceDir reads every CSV in dir in name order. A file that cannot be
// read is reported in the returned error but does not stop the others.
func LoadPriceDir(dir string) ([]models.RawPriceRow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read price dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		rows   []models.RawPriceRow
		result *multierror.Error
	)
	for _, name := range names {
		fileRows, err := readPriceFile(filepath.Join(dir, name))
		rows = append(rows, fileRows...)
		if err != nil {
			log.Printf("prices: error reading %s after %d rows: %v", name, len(fileRows), err)
			result = multierror.Append(result, &AcquisitionError{File: name, Err: err})
		}
	}
	log.Printf("prices: read %d rows from %d files", len(rows), len(names))
	return rows, result.ErrorOrNil()
}

func readPriceFile(path string) ([]models.RawPriceRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadPriceCSV(f, filepath.Base(path))
}
