package staging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/fundbridge/merchant-staging/internal/domain"
)

// Exporter writes a job's quarantined duplicates for operator review.
type Exporter struct {
	store Store
}

// NewExporter creates an exporter reading from store.
func NewExporter(store Store) *Exporter {
	return &Exporter{store: store}
}

// ExportHeader is the quarantine export column order.
func ExportHeader() []string {
	header := make([]string, 0, len(domain.Columns)+2)
	header = append(header, "quarantine_reason", "original_staging_id")
	for _, c := range domain.Columns {
		header = append(header, string(c))
	}
	return header
}

func exportRow(q domain.QuarantineRecord) []string {
	row := make([]string, 0, len(domain.Columns)+2)
	row = append(row, string(q.Reason), q.OriginalStagingID)
	for _, c := range domain.Columns {
		row = append(row, q.Fields.Get(c))
	}
	return row
}

// WriteCSV writes the quarantine rows of jobID as CSV and returns the
// number of data rows written.
func (e *Exporter) WriteCSV(ctx context.Context, jobID string, w io.Writer) (int, error) {
	records, err := e.store.ListQuarantine(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("list quarantine: %w", err)
	}

	bw := bufio.NewWriter(w)
	writeCSVLine(bw, ExportHeader())
	for _, q := range records {
		writeCSVLine(bw, exportRow(q))
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("write csv: %w", err)
	}
	return len(records), nil
}

func writeCSVLine(w *bufio.Writer, cells []string) {
	for i, c := range cells {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteString(csvEscape(c))
	}
	w.WriteByte('\n')
}

// csvEscape quotes a cell containing a comma, quote or newline and doubles
// embedded quotes. Other cells are written bare.
func csvEscape(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// WriteXLSX writes the same columns as WriteCSV to a single-sheet workbook.
func (e *Exporter) WriteXLSX(ctx context.Context, jobID string, w io.Writer) (int, error) {
	records, err := e.store.ListQuarantine(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("list quarantine: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := "Quarantine"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return 0, fmt.Errorf("name sheet: %w", err)
	}

	for i, h := range ExportHeader() {
		if err := setCell(f, sheet, i+1, 1, h); err != nil {
			return 0, fmt.Errorf("write header: %w", err)
		}
	}
	for r, q := range records {
		for c, v := range exportRow(q) {
			if v == "" {
				continue
			}
			if err := setCell(f, sheet, c+1, r+2, v); err != nil {
				return 0, fmt.Errorf("write row %d: %w", r+1, err)
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("write xlsx: %w", err)
	}
	return len(records), nil
}

func setCell(f *excelize.File, sheet string, col, row int, v string) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, v)
}
