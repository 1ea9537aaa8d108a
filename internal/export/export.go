// Package export renders report tables as XLSX workbooks. It receives plain
// tabular data and returns file bytes; callers forward them to chat as a
// document.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Workbook builds a single-sheet XLSX file from a header row and value rows.
func Workbook(sheet string, header []string, rows [][]string) ([]byte, error) {
	if sheet == "" {
		sheet = "Report"
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("export: rename sheet: %w", err)
	}

	for col, name := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("export: header cell %d: %w", col, err)
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return nil, fmt.Errorf("export: header cell %s: %w", cell, err)
		}
	}

	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil && len(header) > 0 {
		first, _ := excelize.CoordinatesToCellName(1, 1)
		last, _ := excelize.CoordinatesToCellName(len(header), 1)
		f.SetCellStyle(sheet, first, last, boldStyle)
	}

	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, fmt.Errorf("export: cell %d,%d: %w", c, r, err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("export: cell %s: %w", cell, err)
			}
		}
	}

	if len(header) > 0 {
		last, _ := excelize.ColumnNumberToName(len(header))
		f.SetColWidth(sheet, "A", last, 18)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("export: write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
