package fusion

import (
	"math"
	"testing"

	"github.com/lox/gridweather/internal/models"
)

func full(zone string, h int, p, t, w, s float64) models.GridRecord {
	return models.GridRecord{
		Timestamp:       hour(h),
		ZoneID:          zone,
		Price:           nf(p),
		Temperature:     nf(t),
		WindSpeed:       nf(w),
		SolarIrradiance: nf(s),
	}
}

func TestPearson(t *testing.T) {
	tests := []struct {
		name string
		x, y []float64
		want float64
	}{
		{"perfect positive", []float64{1, 2, 3, 4}, []float64{2, 4, 6, 8}, 1},
		{"perfect negative", []float64{1, 2, 3, 4}, []float64{8, 6, 4, 2}, -1},
		{"uncorrelated", []float64{1, 2, 3, 4}, []float64{1, -1, -1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Pearson(tt.x, tt.y)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Pearson = %v, want %v", got, tt.want)
			}
		})
	}

	if !math.IsNaN(Pearson([]float64{1, 1, 1}, []float64{1, 2, 3})) {
		t.Error("zero variance should give NaN")
	}
	if !math.IsNaN(Pearson([]float64{1}, []float64{1})) {
		t.Error("single point should give NaN")
	}
}

func TestCorrelate_PerZoneMatrix(t *testing.T) {
	grid := []models.GridRecord{
		full("A", 0, 10, 50, 9, 0),
		full("A", 1, 20, 60, 7, 100),
		full("A", 2, 30, 70, 5, 250),
		full("A", 3, 40, 80, 1, 300),
		full("B", 0, 1, 5, 5, 5),
	}
	res := Correlate(grid)
	if len(res) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(res))
	}

	a := res[0]
	if a.ZoneID != "A" || a.Insufficient || a.Rows != 4 {
		t.Fatalf("A result = %+v", a)
	}
	for i := 0; i < models.NumFields; i++ {
		if a.Matrix[i][i] != 1 {
			t.Errorf("diagonal[%d] = %v, want 1", i, a.Matrix[i][i])
		}
		for j := 0; j < models.NumFields; j++ {
			if a.Matrix[i][j] != a.Matrix[j][i] {
				t.Errorf("matrix not symmetric at %d,%d", i, j)
			}
		}
	}
	if math.Abs(a.Matrix[models.FieldPrice][models.FieldTemperature]-1) > 1e-12 {
		t.Errorf("price/temperature = %v, want 1", a.Matrix[0][1])
	}
	if a.Matrix[models.FieldPrice][models.FieldWindSpeed] >= 0 {
		t.Errorf("price/windspeed = %v, want negative", a.Matrix[0][2])
	}

	b := res[1]
	if b.ZoneID != "B" || !b.Insufficient || b.Rows != 1 {
		t.Errorf("B result = %+v, want insufficient with 1 row", b)
	}
}

func TestCorrelate_ExcludesIncompleteRows(t *testing.T) {
	partial := full("A", 2, 1000, 1000, 1000, 1000)
	partial.SolarIrradiance.Valid = false
	grid := []models.GridRecord{
		full("A", 0, 1, 2, 3, 4),
		full("A", 1, 2, 4, 6, 8),
		partial,
	}
	res := Correlate(grid)
	if res[0].Rows != 2 {
		t.Errorf("Rows = %d, want 2", res[0].Rows)
	}
}

func TestCorrelate_ZoneWithOnlyIncompleteRows(t *testing.T) {
	grid := []models.GridRecord{
		{Timestamp: hour(0), ZoneID: "A", Price: nf(1)},
	}
	res := Correlate(grid)
	if len(res) != 1 || !res[0].Insufficient || res[0].Rows != 0 {
		t.Errorf("results = %+v", res)
	}
}
