// Package spreadsheet serializes export rows into a single-sheet workbook.
package spreadsheet

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/report"
)

const (
	SheetName   = "Stock Ratings"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	defaultSheet = "Sheet1"
)

// FileName returns the download name for an export produced at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("robinhood_stock_ratings_%s.xlsx", t.Format(time.DateOnly))
}

// Write renders rows as a workbook with one header row followed by one row
// per record.
func Write(w io.Writer, rows []report.Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(defaultSheet, SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(report.Columns))
	for i, c := range report.Columns {
		header[i] = c.Header
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}

	for i, c := range report.Columns {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(SheetName, name, name, c.Width); err != nil {
			return fmt.Errorf("width %s: %w", name, err)
		}
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		record := row.Record()
		if err := f.SetSheetRow(SheetName, cell, &record); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	return f.Write(w)
}

// Encode returns the workbook bytes for rows.
func Encode(rows []report.Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
