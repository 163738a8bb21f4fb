package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/gridweather/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("version = %d, want %d", version, len(migrations))
	}
}

func TestCacheKey(t *testing.T) {
	tests := []struct {
		location, start, end string
		want                 string
	}{
		{"Houston,TX", "2024-01-01", "2024-01-31", "Houston_TX_2024-01-01_2024-01-31"},
		{" Dallas, TX ", "2024-01-01", "2024-01-02", "Dallas_TX_2024-01-01_2024-01-02"},
		{"San Antonio,TX", "2024-02-01", "2024-02-01", "SanAntonio_TX_2024-02-01_2024-02-01"},
	}
	for _, tt := range tests {
		if got := CacheKey(tt.location, tt.start, tt.end); got != tt.want {
			t.Errorf("CacheKey(%q) = %q, want %q", tt.location, got, tt.want)
		}
	}
}

func TestWeatherCache_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	key := CacheKey("Austin,TX", "2024-01-01", "2024-01-02")

	if _, ok, err := store.GetWeather(key); err != nil || ok {
		t.Fatalf("GetWeather on empty cache: ok=%v err=%v", ok, err)
	}

	ts := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	obs := []models.WeatherObservation{
		{Timestamp: ts, Temperature: sql.NullFloat64{Float64: 51.2, Valid: true}, WindSpeed: sql.NullFloat64{Float64: 7, Valid: true}},
		{Timestamp: ts.Add(time.Hour), Temperature: sql.NullFloat64{Float64: 50.1, Valid: true}, SolarIrradiance: sql.NullFloat64{Float64: 0, Valid: true}},
	}
	if err := store.PutWeather(key, "Austin,TX", "2024-01-01", "2024-01-02", obs); err != nil {
		t.Fatalf("PutWeather: %v", err)
	}

	got, ok, err := store.GetWeather(key)
	if err != nil || !ok {
		t.Fatalf("GetWeather: ok=%v err=%v", ok, err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(ts) || got[0].Temperature.Float64 != 51.2 {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[0].SolarIrradiance.Valid {
		t.Error("null solar irradiance came back valid")
	}
	if !got[1].SolarIrradiance.Valid || got[1].WindSpeed.Valid {
		t.Errorf("got[1] = %+v", got[1])
	}
}

func TestWeatherCache_FirstWriterWins(t *testing.T) {
	store := setupTestStore(t)
	key := "k"
	first := []models.WeatherObservation{{Timestamp: time.Unix(0, 0).UTC()}}
	second := []models.WeatherObservation{{}, {}, {}}

	if err := store.PutWeather(key, "X", "a", "b", first); err != nil {
		t.Fatal(err)
	}
	if err := store.PutWeather(key, "X", "a", "b", second); err != nil {
		t.Fatal(err)
	}
	got, _, err := store.GetWeather(key)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("len(got) = %d, want 1 (first write kept)", len(got))
	}

	entries, err := store.ListWeatherCache()
	if err != nil {
		t.Fatalf("ListWeatherCache: %v", err)
	}
	if len(entries) != 1 || entries[0].ObservationCount != 1 || entries[0].PayloadHash == "" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestIngestRuns(t *testing.T) {
	store := setupTestStore(t)
	zone, loc := "LZ_NORTH", "Dallas,TX"

	run, err := store.StartIngestRun("visualcrossing", "timeline", &zone, &loc)
	if err != nil {
		t.Fatalf("StartIngestRun: %v", err)
	}
	run.Success = true
	run.HTTPStatus = sql.NullInt64{Int64: 200, Valid: true}
	run.RecordsParsed = sql.NullInt64{Int64: 48, Valid: true}
	if err := store.CompleteIngestRun(run); err != nil {
		t.Fatalf("CompleteIngestRun: %v", err)
	}

	runs, err := store.GetRecentIngestRuns(10)
	if err != nil {
		t.Fatalf("GetRecentIngestRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	r := runs[0]
	if !r.Success || r.HTTPStatus.Int64 != 200 || r.ZoneID.String != zone || !r.FinishedAt.Valid {
		t.Errorf("run = %+v", r)
	}

	n, err := store.CountIngestRuns("visualcrossing")
	if err != nil || n != 1 {
		t.Errorf("CountIngestRuns = %d, %v", n, err)
	}
}

func TestCheckFreshness(t *testing.T) {
	store := setupTestStore(t)
	dir := t.TempDir()

	fr, err := store.CheckFreshness(dir)
	if err != nil {
		t.Fatal(err)
	}
	if fr.Complete() {
		t.Error("empty directory reported complete")
	}

	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	os.WriteFile(a, []byte("x\n1\n"), 0644)
	os.WriteFile(b, []byte("x\n2\n"), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644)

	if _, err := store.RecordAcquiredFile(a, "test"); err != nil {
		t.Fatalf("RecordAcquiredFile: %v", err)
	}

	fr, err = store.CheckFreshness(dir)
	if err != nil {
		t.Fatal(err)
	}
	if fr.Complete() || len(fr.Unknown) != 1 || fr.Unknown[0] != "b.csv" {
		t.Errorf("partial directory: %+v", fr)
	}

	if _, err := store.RecordAcquiredFile(b, "test"); err != nil {
		t.Fatal(err)
	}
	fr, _ = store.CheckFreshness(dir)
	if !fr.Complete() || len(fr.Files) != 2 {
		t.Errorf("complete directory: %+v", fr)
	}

	os.WriteFile(b, []byte("x\n3\n"), 0644)
	fr, _ = store.CheckFreshness(dir)
	if fr.Complete() || len(fr.Modified) != 1 {
		t.Errorf("modified directory: %+v", fr)
	}
}

func TestCheckFreshness_MissingDir(t *testing.T) {
	store := setupTestStore(t)
	fr, err := store.CheckFreshness(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("CheckFreshness: %v", err)
	}
	if fr.Complete() {
		t.Error("missing directory reported complete")
	}
}

func TestPipelineRuns(t *testing.T) {
	store := setupTestStore(t)
	run, err := store.StartPipelineRun()
	if err != nil {
		t.Fatalf("StartPipelineRun: %v", err)
	}
	if run.ID == "" {
		t.Fatal("empty run id")
	}
	run.PriceRows = 100
	run.CleanedRows = 72
	run.Success = true
	if err := store.CompletePipelineRun(run); err != nil {
		t.Fatalf("CompletePipelineRun: %v", err)
	}

	runs, err := store.GetRecentPipelineRuns(5)
	if err != nil {
		t.Fatalf("GetRecentPipelineRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != run.ID || runs[0].CleanedRows != 72 || !runs[0].Success {
		t.Errorf("runs = %+v", runs)
	}
}
