package fusion

import (
	"database/sql"
	"sort"
	"time"

	"github.com/lox/gridweather/internal/models"
)

// PivotRow holds the mean price of each zone for one hour. Prices is indexed
// in the same order as the zone list returned by PivotPrices.
type PivotRow struct {
	Timestamp time.Time
	Prices    []sql.NullFloat64
}

// PivotPrices averages prices per (timestamp, zone) and lays them out as one
// row per timestamp and one column per zone, both sorted.
func PivotPrices(prices []models.PriceRecord) ([]string, []PivotRow) {
	type cell struct {
		sum   float64
		count int
	}
	cells := make(map[joinKey]*cell)
	zoneSet := make(map[string]bool)
	tsSet := make(map[int64]time.Time)
	for _, p := range prices {
		k := keyOf(p.Timestamp, p.ZoneID)
		c, ok := cells[k]
		if !ok {
			c = &cell{}
			cells[k] = c
		}
		c.sum += p.Price
		c.count++
		zoneSet[p.ZoneID] = true
		tsSet[k.ts] = p.Timestamp
	}

	zones := make([]string, 0, len(zoneSet))
	for z := range zoneSet {
		zones = append(zones, z)
	}
	sort.Strings(zones)

	stamps := make([]time.Time, 0, len(tsSet))
	for _, t := range tsSet {
		stamps = append(stamps, t)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	rows := make([]PivotRow, 0, len(stamps))
	for _, t := range stamps {
		row := PivotRow{Timestamp: t, Prices: make([]sql.NullFloat64, len(zones))}
		for i, z := range zones {
			if c, ok := cells[keyOf(t, z)]; ok {
				row.Prices[i] = sql.NullFloat64{Float64: c.sum / float64(c.count), Valid: true}
			}
		}
		rows = append(rows, row)
	}
	return zones, rows
}
