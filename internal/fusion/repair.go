package fusion

import (
	"database/sql"
	"sort"

	"github.com/lox/gridweather/internal/models"
)

// PriceBounds is the closed interval of plausible settlement prices.
type PriceBounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// DefaultPriceBounds are the ERCOT offer floor and system-wide offer cap.
var DefaultPriceBounds = PriceBounds{Min: -1000, Max: 10000}

// Contains reports whether v lies within the bounds, inclusive.
func (b PriceBounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// zoneIndexes groups row positions by zone, each group in time order.
func zoneIndexes(grid []models.GridRecord) map[string][]int {
	byZone := make(map[string][]int)
	for i, r := range grid {
		byZone[r.ZoneID] = append(byZone[r.ZoneID], i)
	}
	for _, idx := range byZone {
		sort.SliceStable(idx, func(a, b int) bool {
			return grid[idx[a]].Timestamp.Before(grid[idx[b]].Timestamp)
		})
	}
	return byZone
}

// Interpolate fills interior null runs of every numeric field by linear
// interpolation in time, separately for each zone. Values before a zone's
// first or after its last observation stay null.
func Interpolate(grid []models.GridRecord) []models.GridRecord {
	out := make([]models.GridRecord, len(grid))
	copy(out, grid)

	for _, idx := range zoneIndexes(out) {
		for _, f := range models.Fields {
			fillField(out, idx, f)
		}
	}
	return out
}

func fillField(rows []models.GridRecord, idx []int, f models.Field) {
	prev := -1
	for pos, i := range idx {
		if !rows[i].Get(f).Valid {
			continue
		}
		if prev >= 0 && pos-prev > 1 {
			left, right := rows[idx[prev]], rows[i]
			v0, v1 := left.Get(f).Float64, right.Get(f).Float64
			span := right.Timestamp.Sub(left.Timestamp).Seconds()
			for k := prev + 1; k < pos; k++ {
				r := &rows[idx[k]]
				frac := r.Timestamp.Sub(left.Timestamp).Seconds() / span
				r.Set(f, sql.NullFloat64{Float64: v0 + (v1-v0)*frac, Valid: true})
				r.Interpolated |= 1 << uint(f)
			}
		}
		prev = pos
	}
}

// FilterOutliers drops rows whose price is null or outside the bounds.
// Other fields are never filtered.
func FilterOutliers(grid []models.GridRecord, bounds PriceBounds) (kept []models.GridRecord, dropped int) {
	kept = make([]models.GridRecord, 0, len(grid))
	for _, r := range grid {
		if !r.Price.Valid || !bounds.Contains(r.Price.Float64) {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	return kept, dropped
}

// RepairStats summarises a Repair pass.
type RepairStats struct {
	Interpolated [models.NumFields]int
	Dropped      int
}

// Repair interpolates gaps and then removes price outliers. The order
// matters: outliers still act as interpolation knots for their neighbours.
func Repair(grid []models.GridRecord, bounds PriceBounds) ([]models.GridRecord, RepairStats) {
	var stats RepairStats
	filled := Interpolate(grid)
	for _, r := range filled {
		for _, f := range models.Fields {
			if r.IsInterpolated(f) {
				stats.Interpolated[f]++
			}
		}
	}
	cleaned, dropped := FilterOutliers(filled, bounds)
	stats.Dropped = dropped
	return cleaned, stats
}
