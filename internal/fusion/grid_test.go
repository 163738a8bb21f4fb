package fusion

import (
	"testing"
	"time"

	"github.com/lox/gridweather/internal/models"
)

func joined(zone string, h int, price, temp float64) models.JoinedRecord {
	return models.JoinedRecord{
		Timestamp:       hour(h),
		ZoneID:          zone,
		ZoneType:        "LZ",
		Price:           price,
		Temperature:     nf(temp),
		WindSpeed:       nf(3),
		SolarIrradiance: nf(0),
	}
}

func TestCollapse_AveragesDuplicates(t *testing.T) {
	dup := joined("A", 0, 20, 60)
	dup.SolarIrradiance.Valid = false
	in := []models.JoinedRecord{
		joined("A", 0, 10, 50),
		dup,
		joined("B", 0, 7, 40),
	}

	got := Collapse(in)
	if len(got) != 2 {
		t.Fatalf("len(collapsed) = %d, want 2", len(got))
	}
	a := got[0]
	if a.ZoneID != "A" {
		t.Fatalf("collapsed[0].ZoneID = %q, want A", a.ZoneID)
	}
	if a.Price.Float64 != 15 {
		t.Errorf("Price = %v, want 15", a.Price.Float64)
	}
	if a.Temperature.Float64 != 55 {
		t.Errorf("Temperature = %v, want 55", a.Temperature.Float64)
	}
	if !a.SolarIrradiance.Valid || a.SolarIrradiance.Float64 != 0 {
		t.Errorf("SolarIrradiance = %+v, want mean of non-null values (0)", a.SolarIrradiance)
	}
}

func TestCollapse_AllNullStaysNull(t *testing.T) {
	r := joined("A", 0, 10, 50)
	r.WindSpeed.Valid = false
	got := Collapse([]models.JoinedRecord{r, r})
	if len(got) != 1 {
		t.Fatalf("len(collapsed) = %d, want 1", len(got))
	}
	if got[0].WindSpeed.Valid {
		t.Errorf("WindSpeed = %+v, want null", got[0].WindSpeed)
	}
}

func TestReindex_Completeness(t *testing.T) {
	in := []models.JoinedRecord{
		joined("A", 0, 1, 1),
		joined("A", 5, 1, 1),
		joined("B", 2, 1, 1),
		joined("C", 9, 1, 1),
		joined("C", 9, 3, 1),
	}

	grid := BuildGrid(in)
	want := GridSize(hour(0), hour(9), 3)
	if want != 30 {
		t.Fatalf("GridSize = %d, want 30", want)
	}
	if len(grid) != want {
		t.Fatalf("len(grid) = %d, want %d", len(grid), want)
	}

	seen := make(map[string]int)
	for _, r := range grid {
		seen[r.Timestamp.Format(time.RFC3339)+"/"+r.ZoneID]++
	}
	for h := 0; h <= 9; h++ {
		for _, z := range []string{"A", "B", "C"} {
			k := hour(h).Format(time.RFC3339) + "/" + z
			if seen[k] != 1 {
				t.Errorf("pair %s appears %d times, want 1", k, seen[k])
			}
		}
	}
}

func TestReindex_OrderAndPlaceholders(t *testing.T) {
	grid := BuildGrid([]models.JoinedRecord{
		joined("B", 0, 1, 1),
		joined("A", 2, 2, 2),
	})
	if len(grid) != 6 {
		t.Fatalf("len(grid) = %d, want 6", len(grid))
	}

	wantOrder := []struct {
		h    int
		zone string
		data bool
	}{
		{0, "A", false}, {0, "B", true},
		{1, "A", false}, {1, "B", false},
		{2, "A", true}, {2, "B", false},
	}
	for i, w := range wantOrder {
		r := grid[i]
		if !r.Timestamp.Equal(hour(w.h)) || r.ZoneID != w.zone {
			t.Errorf("grid[%d] = %s/%s, want %s/%s", i, r.Timestamp, r.ZoneID, hour(w.h), w.zone)
		}
		if r.Price.Valid != w.data {
			t.Errorf("grid[%d].Price.Valid = %v, want %v", i, r.Price.Valid, w.data)
		}
	}
}

func TestReindex_Empty(t *testing.T) {
	if got := BuildGrid(nil); len(got) != 0 {
		t.Errorf("len(BuildGrid(nil)) = %d, want 0", len(got))
	}
}

func TestHourRange(t *testing.T) {
	if got := HourRange(hour(3), hour(3)); len(got) != 1 {
		t.Errorf("single hour range len = %d, want 1", len(got))
	}
	if got := HourRange(hour(3), hour(1)); got != nil {
		t.Errorf("reversed range = %v, want nil", got)
	}
	got := HourRange(hour(0), hour(47))
	if len(got) != 48 || !got[47].Equal(hour(47)) {
		t.Errorf("48h range len = %d last = %s", len(got), got[len(got)-1])
	}
}
