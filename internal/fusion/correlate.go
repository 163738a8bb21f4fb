package fusion

import (
	"math"
	"sort"

	"github.com/lox/gridweather/internal/models"
)

// MinCorrelationRows is the fewest complete rows a zone needs for a result.
const MinCorrelationRows = 2

// Correlate computes the Pearson correlation matrix of the numeric fields for
// each zone, using only rows where every field is present. Zones with too few
// complete rows are reported as insufficient rather than failing the run.
func Correlate(grid []models.GridRecord) []models.CorrelationResult {
	byZone := make(map[string][][models.NumFields]float64)
	var zones []string
	for _, r := range grid {
		if _, seen := byZone[r.ZoneID]; !seen {
			byZone[r.ZoneID] = nil
			zones = append(zones, r.ZoneID)
		}
		if !r.Complete() {
			continue
		}
		var row [models.NumFields]float64
		for _, f := range models.Fields {
			row[f] = r.Get(f).Float64
		}
		byZone[r.ZoneID] = append(byZone[r.ZoneID], row)
	}
	sort.Strings(zones)

	results := make([]models.CorrelationResult, 0, len(zones))
	for _, z := range zones {
		results = append(results, correlateZone(z, byZone[z]))
	}
	return results
}

func correlateZone(zone string, rows [][models.NumFields]float64) models.CorrelationResult {
	res := models.CorrelationResult{ZoneID: zone, Rows: len(rows)}
	if len(rows) < MinCorrelationRows {
		res.Insufficient = true
		for i := range res.Matrix {
			for j := range res.Matrix[i] {
				res.Matrix[i][j] = math.NaN()
			}
		}
		return res
	}

	cols := make([][]float64, models.NumFields)
	for f := range cols {
		cols[f] = make([]float64, len(rows))
		for i, row := range rows {
			cols[f][i] = row[f]
		}
	}

	for i := 0; i < models.NumFields; i++ {
		res.Matrix[i][i] = 1
		for j := i + 1; j < models.NumFields; j++ {
			c := Pearson(cols[i], cols[j])
			res.Matrix[i][j] = c
			res.Matrix[j][i] = c
		}
	}
	return res
}

// Pearson returns the sample correlation of x and y, or NaN when either
// series has no variance or the lengths differ.
func Pearson(x, y []float64) float64 {
	n := len(x)
	if n != len(y) || n < 2 {
		return math.NaN()
	}
	mx, my := mean(x), mean(y)
	sxx, syy, sxy := 0.0, 0.0, 0.0
	for i := 0; i < n; i++ {
		dx := x[i] - mx
		dy := y[i] - my
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	r := sxy / math.Sqrt(sxx*syy)
	return math.Max(-1, math.Min(1, r))
}

func mean(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v
	}
	return s / float64(len(x))
}
