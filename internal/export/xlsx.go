package export

import (
	"fmt"
	"io"
	"math"

	"github.com/xuri/excelize/v2"

	"github.com/lox/gridweather/internal/models"
)

// sheetName keeps zone ids within Excel's 31 character sheet name limit.
func sheetName(zone string) string {
	if len(zone) > 31 {
		return zone[:31]
	}
	return zone
}

// WriteCorrelationsXLSX writes a workbook with one sheet per zone holding
// its correlation matrix. Insufficient zones get a note instead.
func (e *Exporter) WriteCorrelationsXLSX(results []models.CorrelationResult) error {
	f := excelize.NewFile()
	defer f.Close()

	const defaultSheet = "Sheet1"
	for i, res := range results {
		name := sheetName(res.ZoneID)
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("new sheet %s: %w", name, err)
		}
		if err := writeCorrelationSheet(f, name, res); err != nil {
			return fmt.Errorf("sheet %s: %w", name, err)
		}
	}

	return e.write(CorrelationsExcel, func(w io.Writer) error {
		return f.Write(w)
	})
}

func writeCorrelationSheet(f *excelize.File, sheet string, res models.CorrelationResult) error {
	if err := f.SetCellValue(sheet, "A1", "rows"); err != nil {
		return err
	}
	if err := f.SetCellValue(sheet, "B1", res.Rows); err != nil {
		return err
	}
	if res.Insufficient {
		return f.SetCellValue(sheet, "A3", "insufficient data")
	}

	for i, fi := range models.Fields {
		col, _ := excelize.CoordinatesToCellName(i+2, 3)
		row, _ := excelize.CoordinatesToCellName(1, i+4)
		if err := f.SetCellValue(sheet, col, fi.String()); err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, row, fi.String()); err != nil {
			return err
		}
		for j := range models.Fields {
			v := res.Matrix[i][j]
			if math.IsNaN(v) {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(j+2, i+4)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}
