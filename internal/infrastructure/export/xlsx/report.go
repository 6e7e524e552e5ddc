package xlsx

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docflow/internal/core/domain"
)

const (
	SheetUnits    = "Units"
	SheetRejected = "Rejected"
	SheetSummary  = "Summary"
)

var unitHeaders = []string{
	"Unit", "Kind", "State", "Source files", "Source indices",
	"Document ID", "Title", "Storage key", "Pages",
	"Error kind", "Error", "Orphaned artifact", "Warnings", "Duration (ms)",
}

var rejectedHeaders = []string{"Index", "File", "Reason"}

// RenderBatchReport returns the report as an XLSX workbook.
func RenderBatchReport(report domain.BatchReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for _, sheet := range []string{SheetUnits, SheetRejected} {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", sheet, err)
		}
	}

	summary := [][]any{
		{"Batch", report.BatchID},
		{"Destination", report.Destination},
		{"Requested by", report.RequestedBy},
		{"Units", report.Total},
		{"Succeeded", report.Succeeded},
		{"Failed", report.Failed},
		{"Rejected", len(report.Rejected)},
		{"Started", report.StartedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Finished", report.FinishedAt.UTC().Format("2006-01-02 15:04:05")},
	}
	for i, row := range summary {
		if err := writeRow(f, SheetSummary, i+1, row); err != nil {
			return nil, err
		}
	}

	if err := writeRow(f, SheetUnits, 1, toAny(unitHeaders)); err != nil {
		return nil, err
	}
	for i, unit := range report.Units {
		if err := writeRow(f, SheetUnits, i+2, unitRow(unit)); err != nil {
			return nil, err
		}
	}

	if err := writeRow(f, SheetRejected, 1, toAny(rejectedHeaders)); err != nil {
		return nil, err
	}
	for i, rejected := range report.Rejected {
		row := []any{rejected.OriginalIndex, rejected.OriginalName, rejected.Reason}
		if err := writeRow(f, SheetRejected, i+2, row); err != nil {
			return nil, err
		}
	}

	_ = f.SetColWidth(SheetSummary, "A", "A", 16)
	_ = f.SetColWidth(SheetSummary, "B", "B", 40)
	_ = f.SetColWidth(SheetUnits, "D", "D", 40)
	_ = f.SetColWidth(SheetUnits, "F", "H", 36)
	_ = f.SetColWidth(SheetUnits, "K", "K", 60)
	_ = f.SetColWidth(SheetRejected, "B", "C", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func unitRow(unit domain.UnitReport) []any {
	var docID, title string
	var pages int
	if unit.Document != nil {
		docID = unit.Document.ID
		title = unit.Document.Title
		pages = unit.Document.PageCount
	}
	indices := make([]string, 0, len(unit.SourceIndices))
	for _, idx := range unit.SourceIndices {
		indices = append(indices, fmt.Sprint(idx))
	}
	return []any{
		unit.UnitID,
		string(unit.Kind),
		string(unit.State),
		strings.Join(unit.SourceNames, ", "),
		strings.Join(indices, ", "),
		docID,
		title,
		unit.StorageKey,
		pages,
		unit.ErrorKind,
		unit.Error,
		unit.Orphaned,
		strings.Join(unit.Warnings, "; "),
		unit.Duration.Milliseconds(),
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
