package fusion

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lox/gridweather/internal/models"
)

// ErrEmptyDataset is returned when no usable rows remain for a run.
var ErrEmptyDataset = errors.New("empty dataset")

// RowError describes a single price row that could not be normalized.
type RowError struct {
	Source string
	Line   int
	Field  string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %v", e.Source, e.Line, e.Field, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

var dateLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"2006-01-02",
}

// ParseDeliveryDate parses the delivery date formats seen in settlement files.
func ParseDeliveryDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// ParseDeliveryHour accepts "1", "01" and hour-ending "01:00" forms in [1, 24].
func ParseDeliveryHour(s string) (int, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		if strings.Trim(s[i+1:], "0") != "" {
			return 0, fmt.Errorf("hour %q is not on the hour", s)
		}
		s = s[:i]
	}
	h, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("hour %q: %w", s, err)
	}
	if h < 1 || h > 24 {
		return 0, fmt.Errorf("hour %d out of range [1, 24]", h)
	}
	return h, nil
}

// DeliveryTimestamp maps an hour-ending delivery hour onto the start of that
// hour: hour 1 is midnight, hour 24 is 23:00 on the same date.
func DeliveryTimestamp(date time.Time, hour int) time.Time {
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return d.Add(time.Duration(hour-1) * time.Hour)
}

// Normalize converts raw rows into price records, keeping only zones in the
// given set. An empty set keeps every zone. Malformed rows are returned as
// errors alongside the records that did parse.
func Normalize(rows []models.RawPriceRow, zones map[string]bool) ([]models.PriceRecord, []*RowError) {
	var (
		records []models.PriceRecord
		errs    []*RowError
	)
	for _, row := range rows {
		if row.Err != nil {
			errs = append(errs, &RowError{Source: row.Source, Line: row.Line, Field: "row", Err: row.Err})
			continue
		}
		zone := strings.TrimSpace(row.SettlementPoint)
		if len(zones) > 0 && !zones[zone] {
			continue
		}

		date, err := ParseDeliveryDate(row.DeliveryDate)
		if err != nil {
			errs = append(errs, &RowError{Source: row.Source, Line: row.Line, Field: "DeliveryDate", Err: err})
			continue
		}
		hour, err := ParseDeliveryHour(row.DeliveryHour)
		if err != nil {
			errs = append(errs, &RowError{Source: row.Source, Line: row.Line, Field: "DeliveryHour", Err: err})
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(row.Price), 64)
		if err == nil && (math.IsNaN(price) || math.IsInf(price, 0)) {
			err = fmt.Errorf("price %q is not finite", row.Price)
		}
		if err != nil {
			errs = append(errs, &RowError{Source: row.Source, Line: row.Line, Field: "SettlementPointPrice", Err: err})
			continue
		}

		records = append(records, models.PriceRecord{
			Timestamp: DeliveryTimestamp(date, hour),
			ZoneID:    zone,
			ZoneType:  strings.TrimSpace(row.SettlementPointType),
			Price:     price,
			Source:    row.Source,
		})
	}
	return records, errs
}

// ZoneSet builds a lookup set from a list of zone identifiers.
func ZoneSet(zones []string) map[string]bool {
	set := make(map[string]bool, len(zones))
	for _, z := range zones {
		if z = strings.TrimSpace(z); z != "" {
			set[z] = true
		}
	}
	return set
}
