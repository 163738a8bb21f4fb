package ingest

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
)

const samplePrices = `DeliveryDate,DeliveryHour,SettlementPointName,SettlementPointType,SettlementPointPrice
01/01/2024,1,LZ_HOUSTON,LZ,20.5
01/01/2024,2,LZ_HOUSTON,LZ,
01/01/2024,1,HB_NORTH,HU,18.0
`

func TestReadPriceCSV(t *testing.T) {
	rows, err := ReadPriceCSV(strings.NewReader(samplePrices), "a.csv")
	if err != nil {
		t.Fatalf("ReadPriceCSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	r := rows[0]
	if r.DeliveryDate != "01/01/2024" || r.DeliveryHour != "1" || r.SettlementPoint != "LZ_HOUSTON" ||
		r.SettlementPointType != "LZ" || r.Price != "20.5" || r.Source != "a.csv" || r.Line != 2 {
		t.Errorf("rows[0] = %+v", r)
	}
	if rows[1].Price != "" || rows[1].Line != 3 {
		t.Errorf("rows[1] = %+v", rows[1])
	}
}

func TestReadPriceCSV_HeaderAliases(t *testing.T) {
	in := "\ufeffdeliverydate, HourEnding ,SettlementPoint,SETTLEMENTPOINTTYPE,SettlementPointPrice,DSTFlag\n" +
		"2024-01-01,01:00,LZ_AEN,LZ,31.2,N\n" +
		"2024-01-01,02:00\n"
	rows, err := ReadPriceCSV(strings.NewReader(in), "b.csv")
	if err != nil {
		t.Fatalf("ReadPriceCSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].DeliveryHour != "01:00" || rows[0].SettlementPoint != "LZ_AEN" {
		t.Errorf("rows[0] = %+v", rows[0])
	}
	if rows[1].SettlementPoint != "" || rows[1].Price != "" {
		t.Errorf("short row = %+v, want empty trailing fields", rows[1])
	}
}

func TestReadPriceCSV_MissingColumn(t *testing.T) {
	_, err := ReadPriceCSV(strings.NewReader("DeliveryDate,DeliveryHour\n01/01/2024,1\n"), "c.csv")
	if !errors.Is(err, ErrMissingColumn) {
		t.Errorf("err = %v, want ErrMissingColumn", err)
	}
}

func TestReadPriceCSV_Empty(t *testing.T) {
	rows, err := ReadPriceCSV(strings.NewReader(""), "empty.csv")
	if err != nil || rows != nil {
		t.Errorf("ReadPriceCSV(empty) = %v, %v", rows, err)
	}
}

const badQuotePrices = `DeliveryDate,DeliveryHour,SettlementPointName,SettlementPointType,SettlementPointPrice
01/01/2024,1,LZ_HOUSTON,LZ,20.5
01/01/2024,2,LZ_HOUSTON,LZ,1"1
01/01/2024,3,LZ_HOUSTON,LZ,22.0
`

func TestReadPriceCSV_SyntaxErrorIsRowLevel(t *testing.T) {
	rows, err := ReadPriceCSV(strings.NewReader(badQuotePrices), "a.csv")
	if err != nil {
		t.Fatalf("ReadPriceCSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	if rows[0].Err != nil || rows[2].Err != nil {
		t.Errorf("good rows carry errors: %v, %v", rows[0].Err, rows[2].Err)
	}
	if rows[2].Price != "22.0" || rows[2].Line != 4 {
		t.Errorf("rows[2] = %+v, want the row after the bad line", rows[2])
	}
	if !errors.Is(rows[1].Err, csv.ErrBareQuote) || rows[1].Line != 3 || rows[1].Source != "a.csv" {
		t.Errorf("rows[1] = %+v, want bare quote error on line 3", rows[1])
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestReadPriceCSV_ReaderFailureKeepsRows(t *testing.T) {
	r := io.MultiReader(strings.NewReader(samplePrices), failingReader{})
	rows, err := ReadPriceCSV(r, "a.csv")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(rows) != 3 {
		t.Errorf("len(rows) = %d, want the 3 rows read before the failure", len(rows))
	}
}

func TestLoadPriceDir(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b.csv"), []byte(samplePrices), 0644)
	os.WriteFile(filepath.Join(dir, "a.csv"), []byte(samplePrices), 0644)
	os.WriteFile(filepath.Join(dir, "bad.csv"), []byte("foo,bar\n1,2\n"), 0644)
	os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0644)

	rows, err := LoadPriceDir(dir)
	if len(rows) != 6 {
		t.Errorf("len(rows) = %d, want 6", len(rows))
	}
	if rows[0].Source != "a.csv" || rows[5].Source != "b.csv" {
		t.Errorf("files not read in name order: %s .. %s", rows[0].Source, rows[5].Source)
	}

	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 1 {
		t.Fatalf("err = %v, want one aggregated error", err)
	}
	var aerr *AcquisitionError
	if !errors.As(merr.Errors[0], &aerr) || aerr.File != "bad.csv" {
		t.Errorf("error = %v, want AcquisitionError for bad.csv", merr.Errors[0])
	}
	if !errors.Is(err, ErrMissingColumn) {
		t.Error("aggregated error does not wrap ErrMissingColumn")
	}
}

func TestLoadPriceDir_SyntaxErrorKeepsFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.csv"), []byte(badQuotePrices), 0644)
	os.WriteFile(filepath.Join(dir, "b.csv"), []byte(samplePrices), 0644)

	rows, err := LoadPriceDir(dir)
	if err != nil {
		t.Fatalf("LoadPriceDir: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("len(rows) = %d, want 6", len(rows))
	}
	bad := 0
	for _, r := range rows {
		if r.Err != nil {
			bad++
		}
	}
	if bad != 1 {
		t.Errorf("rows with errors = %d, want 1", bad)
	}
}

func TestLoadPriceDir_Missing(t *testing.T) {
	if _, err := LoadPriceDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}
