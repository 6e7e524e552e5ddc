package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func TestReadInputFilesKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "b.PNG"), filepath.Join(dir, "a.pdf")}
	for _, p := range paths {
		if err := os.WriteFile(p, []byte("data-"+filepath.Base(p)), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	inputs, err := readInputFiles(paths)
	if err != nil {
		t.Fatalf("readInputFiles() error = %v", err)
	}
	if len(inputs) != 2 || inputs[0].OriginalName != "b.PNG" || inputs[1].OriginalName != "a.pdf" {
		t.Fatalf("unexpected inputs %+v", inputs)
	}
	if inputs[0].MimeHint != "image/png" || inputs[1].MimeHint != "application/pdf" {
		t.Fatalf("unexpected mime hints %q %q", inputs[0].MimeHint, inputs[1].MimeHint)
	}

	if _, err := readInputFiles([]string{filepath.Join(dir, "missing.png")}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestPrintReportSummary(t *testing.T) {
	report := &domain.BatchReport{
		BatchID:   "b1",
		Succeeded: 1,
		Failed:    1,
		Units: []domain.UnitReport{
			{UnitID: 1, Kind: domain.UnitPDF, State: domain.UnitPersisted, SourceNames: []string{"a.pdf"}, Document: &domain.PersistedDocument{ID: "doc-1"}},
			{UnitID: 2, Kind: domain.UnitImageGroup, State: domain.UnitFailed, SourceNames: []string{"x.png", "y.png"}, ErrorKind: "store_failed", Error: "disk full"},
		},
		Rejected: []domain.RejectedInput{{OriginalIndex: 3, OriginalName: "notes.txt", Reason: "unsupported type"}},
	}

	var out bytes.Buffer
	if err := printReport(&out, report, false); err != nil {
		t.Fatalf("printReport() error = %v", err)
	}
	text := out.String()
	for _, want := range []string{
		"batch b1: 1 succeeded, 1 failed, 1 rejected",
		"unit 1 [pdf] persisted a.pdf -> doc-1",
		"(store_failed: disk full)",
		"rejected #3 notes.txt",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}

	out.Reset()
	if err := printReport(&out, report, true); err != nil {
		t.Fatalf("printReport(json) error = %v", err)
	}
	if !strings.Contains(out.String(), `"batch_id": "b1"`) {
		t.Fatalf("expected json output, got %s", out.String())
	}
}

func TestWriteXLSXReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	if err := writeXLSXReport(path, &domain.BatchReport{BatchID: "b1"}); err != nil {
		t.Fatalf("writeXLSXReport() error = %v", err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()
	if idx, _ := f.GetSheetIndex("Rejected"); idx < 0 {
		t.Fatalf("expected Rejected sheet")
	}
}

func TestIngestRequiresDestinationAndFiles(t *testing.T) {
	app := newApp()
	app.ExitErrHandler = func(*cli.Context, error) {}
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out

	if err := app.Run([]string{"docingest", "ingest", "a.pdf"}); err == nil {
		t.Fatalf("expected missing destination error")
	}
	if err := app.Run([]string{"docingest", "ingest", "--destination", "d"}); err == nil {
		t.Fatalf("expected missing files error")
	}
}
