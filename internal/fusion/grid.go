package fusion

import (
	"database/sql"
	"sort"
	"time"

	"github.com/lox/gridweather/internal/models"
)

type accumulator struct {
	sum   [models.NumFields]float64
	count [models.NumFields]int
}

func (a *accumulator) add(f models.Field, v sql.NullFloat64) {
	if v.Valid {
		a.sum[f] += v.Float64
		a.count[f]++
	}
}

func (a *accumulator) mean(f models.Field) sql.NullFloat64 {
	if a.count[f] == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: a.sum[f] / float64(a.count[f]), Valid: true}
}

// Collapse averages duplicate (timestamp, zone) rows field by field over
// their non-null values. Output is ordered by timestamp then zone.
//
// Duplicates are expected from sources that publish several intervals per
// delivery hour; whether averaging is right for every source still needs
// domain review.
func Collapse(joined []models.JoinedRecord) []models.GridRecord {
	groups := make(map[joinKey]*accumulator)
	firstSeen := make(map[joinKey]models.JoinedRecord)
	for _, r := range joined {
		k := keyOf(r.Timestamp, r.ZoneID)
		acc, ok := groups[k]
		if !ok {
			acc = &accumulator{}
			groups[k] = acc
			firstSeen[k] = r
		}
		acc.add(models.FieldPrice, sql.NullFloat64{Float64: r.Price, Valid: true})
		acc.add(models.FieldTemperature, r.Temperature)
		acc.add(models.FieldWindSpeed, r.WindSpeed)
		acc.add(models.FieldSolarIrradiance, r.SolarIrradiance)
	}

	out := make([]models.GridRecord, 0, len(groups))
	for k, acc := range groups {
		first := firstSeen[k]
		rec := models.GridRecord{Timestamp: first.Timestamp, ZoneID: first.ZoneID}
		for _, f := range models.Fields {
			rec.Set(f, acc.mean(f))
		}
		out = append(out, rec)
	}
	sortGrid(out)
	return out
}

// HourRange returns every hour from start to end inclusive.
func HourRange(start, end time.Time) []time.Time {
	if end.Before(start) {
		return nil
	}
	n := int(end.Sub(start)/time.Hour) + 1
	hours := make([]time.Time, n)
	for i := range hours {
		hours[i] = start.Add(time.Duration(i) * time.Hour)
	}
	return hours
}

// Reindex places collapsed rows onto the full grid of every hour between the
// earliest and latest timestamp crossed with every observed zone. Each
// (hour, zone) pair appears exactly once; pairs without data carry null
// fields. The input must already be free of duplicate keys.
func Reindex(collapsed []models.GridRecord) []models.GridRecord {
	if len(collapsed) == 0 {
		return nil
	}

	minTS, maxTS := collapsed[0].Timestamp, collapsed[0].Timestamp
	zoneSet := make(map[string]bool)
	byKey := make(map[joinKey]models.GridRecord, len(collapsed))
	for _, r := range collapsed {
		if r.Timestamp.Before(minTS) {
			minTS = r.Timestamp
		}
		if r.Timestamp.After(maxTS) {
			maxTS = r.Timestamp
		}
		zoneSet[r.ZoneID] = true
		byKey[keyOf(r.Timestamp, r.ZoneID)] = r
	}

	zones := make([]string, 0, len(zoneSet))
	for z := range zoneSet {
		zones = append(zones, z)
	}
	sort.Strings(zones)

	hours := HourRange(minTS, maxTS)
	grid := make([]models.GridRecord, 0, len(hours)*len(zones))
	for _, h := range hours {
		for _, z := range zones {
			if r, ok := byKey[keyOf(h, z)]; ok {
				grid = append(grid, r)
				continue
			}
			grid = append(grid, models.GridRecord{Timestamp: h, ZoneID: z})
		}
	}
	return grid
}

// BuildGrid collapses duplicates and reindexes onto the canonical grid.
func BuildGrid(joined []models.JoinedRecord) []models.GridRecord {
	return Reindex(Collapse(joined))
}

// GridSize returns the expected number of grid rows for the given bounds.
func GridSize(start, end time.Time, zones int) int {
	if end.Before(start) {
		return 0
	}
	return (int(end.Sub(start)/time.Hour) + 1) * zones
}

func sortGrid(rows []models.GridRecord) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		}
		return rows[i].ZoneID < rows[j].ZoneID
	})
}
