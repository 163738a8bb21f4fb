package export

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xuri/excelize/v2"

	"github.com/lox/gridweather/internal/fusion"
	"github.com/lox/gridweather/internal/models"
)

func nf(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func sampleGrid() []models.GridRecord {
	return []models.GridRecord{
		{Timestamp: t0, ZoneID: "LZ_AEN", Price: nf(20), Temperature: nf(50), WindSpeed: nf(5)},
		{Timestamp: t0.Add(time.Hour), ZoneID: "LZ_AEN", Price: nf(30), Temperature: nf(52), WindSpeed: nf(6),
			Interpolated: 1<<uint(models.FieldPrice) | 1<<uint(models.FieldTemperature)},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func TestWriteCleaned(t *testing.T) {
	e := New(t.TempDir())
	if err := e.WriteCleaned(sampleGrid()); err != nil {
		t.Fatalf("WriteCleaned: %v", err)
	}
	recs := readCSV(t, e.Path(CleanedCSV))
	if len(recs) != 3 {
		t.Fatalf("len(recs) = %d, want 3", len(recs))
	}
	if strings.Join(recs[0], ",") != "timestamp,zone_id,price,temperature,windspeed,solar_irradiance,interpolated" {
		t.Errorf("header = %v", recs[0])
	}
	want := []string{"2024-01-01 01:00:00", "LZ_AEN", "30", "52", "6", "", "price;temperature"}
	if strings.Join(recs[2], "|") != strings.Join(want, "|") {
		t.Errorf("row = %v, want %v", recs[2], want)
	}
}

func TestWrite_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)
	if err := e.WritePrices([]models.PriceRecord{{Timestamp: t0, ZoneID: "LZ_NORTH", ZoneType: "LZ", Price: 12.5}}); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != FilteredPrices {
		t.Errorf("dir entries = %v", entries)
	}
	recs := readCSV(t, e.Path(FilteredPrices))
	if recs[1][3] != "12.5" {
		t.Errorf("price = %q", recs[1][3])
	}
}

func TestWritePivotAndWeather(t *testing.T) {
	e := New(t.TempDir())
	zones, rows := fusion.PivotPrices([]models.PriceRecord{
		{Timestamp: t0, ZoneID: "LZ_NORTH", Price: 10},
		{Timestamp: t0, ZoneID: "LZ_AEN", Price: 20},
		{Timestamp: t0.Add(time.Hour), ZoneID: "LZ_AEN", Price: 30},
	})
	if err := e.WritePivot(zones, rows); err != nil {
		t.Fatal(err)
	}
	recs := readCSV(t, e.Path(PivotedPrices))
	if strings.Join(recs[0], ",") != "timestamp,LZ_AEN,LZ_NORTH" {
		t.Errorf("pivot header = %v", recs[0])
	}
	if recs[2][2] != "" {
		t.Errorf("missing pivot cell = %q, want empty", recs[2][2])
	}

	weather := map[string][]models.WeatherObservation{
		"LZ_NORTH": {{Timestamp: t0, Temperature: nf(40)}},
		"LZ_AEN":   {{Timestamp: t0, Temperature: nf(45), SolarIrradiance: nf(0)}},
	}
	if err := e.WriteWeather(weather); err != nil {
		t.Fatal(err)
	}
	recs = readCSV(t, e.Path(WeatherHourly))
	if len(recs) != 3 || recs[1][1] != "LZ_AEN" || recs[1][4] != "0" || recs[2][3] != "" {
		t.Errorf("weather = %v", recs)
	}
}

func TestWriteCleanedJSON(t *testing.T) {
	e := New(t.TempDir())
	if err := e.WriteCleanedJSON(sampleGrid()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(e.Path(CleanedJSON))
	if err != nil {
		t.Fatal(err)
	}
	var got []map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0]["timestamp"] != "2024-01-01T00:00:00" {
		t.Errorf("timestamp = %v", got[0]["timestamp"])
	}
	if v, ok := got[0]["solar_irradiance"]; !ok || v != nil {
		t.Errorf("solar_irradiance = %v, want null", v)
	}
	if got[1]["price"] != 30.0 {
		t.Errorf("price = %v", got[1]["price"])
	}
}

func TestWriteCorrelations(t *testing.T) {
	var m [models.NumFields][models.NumFields]float64
	for i := range m {
		for j := range m[i] {
			m[i][j] = 0.5
		}
		m[i][i] = 1
	}
	m[0][3], m[3][0] = math.NaN(), math.NaN()
	results := []models.CorrelationResult{
		{ZoneID: "LZ_AEN", Rows: 10, Matrix: m},
		{ZoneID: "LZ_NORTH", Rows: 1, Insufficient: true},
	}

	e := New(t.TempDir())
	if err := e.WriteCorrelationsJSON(results); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(e.Path(CorrelationsJSON))
	var reports []correlationReport
	if err := json.Unmarshal(data, &reports); err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 || reports[1].Matrix != nil || !reports[1].Insufficient {
		t.Fatalf("reports = %+v", reports)
	}
	if reports[0].Matrix[0][3] != nil || *reports[0].Matrix[0][0] != 1 {
		t.Errorf("matrix = %v", reports[0].Matrix)
	}

	if err := e.WriteCorrelationsXLSX(results); err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenFile(e.Path(CorrelationsExcel))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if sheets := f.GetSheetList(); len(sheets) != 2 || sheets[0] != "LZ_AEN" {
		t.Errorf("sheets = %v", sheets)
	}
	if v, _ := f.GetCellValue("LZ_AEN", "B4"); v != "1" {
		t.Errorf("LZ_AEN!B4 = %q, want 1", v)
	}
	if v, _ := f.GetCellValue("LZ_AEN", "E4"); v != "" {
		t.Errorf("undefined coefficient cell = %q, want empty", v)
	}
	if v, _ := f.GetCellValue("LZ_NORTH", "A3"); v != "insufficient data" {
		t.Errorf("LZ_NORTH!A3 = %q", v)
	}
}

func TestWriteCleanedParquet(t *testing.T) {
	e := New(t.TempDir())
	if err := e.WriteCleanedParquet(sampleGrid()); err != nil {
		t.Fatalf("WriteCleanedParquet: %v", err)
	}

	fr, err := local.NewLocalFileReader(e.Path(CleanedParquet))
	if err != nil {
		t.Fatal(err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRecord), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer pr.ReadStop()

	if n := pr.GetNumRows(); n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}
	got := make([]parquetRecord, 2)
	if err := pr.Read(&got); err != nil {
		t.Fatal(err)
	}
	if got[0].ZoneID != "LZ_AEN" || got[0].SolarIrradiance != nil || *got[1].Price != 30 {
		t.Errorf("got = %+v", got)
	}
	if got[0].Timestamp != t0.UnixMilli() {
		t.Errorf("timestamp = %d", got[0].Timestamp)
	}
}

func TestExporter_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "out")
	e := New(root)
	if err := e.WriteMerged(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(e.Path(Merged)); err != nil {
		t.Error(err)
	}
}
