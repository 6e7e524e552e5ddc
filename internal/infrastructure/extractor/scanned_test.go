package extractor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type textLayerFake struct {
	text string
	err  error
}

func (f textLayerFake) Extract(context.Context, domain.ClassifiedItem) (string, error) {
	return f.text, f.err
}

type pageSourceFake struct {
	images   []domain.PageImage
	err      error
	calls    int
	maxPages int
}

func (f *pageSourceFake) PageImages(_ context.Context, _ []byte, maxPages int) ([]domain.PageImage, error) {
	f.calls++
	f.maxPages = maxPages
	return f.images, f.err
}

// ocrFake returns the image body as its transcript unless it is listed in fail.
type ocrFake struct {
	fail  map[string]bool
	items []domain.ClassifiedItem
}

func (f *ocrFake) Extract(_ context.Context, item domain.ClassifiedItem) (string, error) {
	f.items = append(f.items, item)
	if f.fail[string(item.Input.Body)] {
		return "", errors.New("model unavailable")
	}
	return string(item.Input.Body), nil
}

func scannedItem() domain.ClassifiedItem {
	return domain.ClassifiedItem{
		Input:         domain.RawInput{OriginalName: "scan.pdf", Body: []byte("%PDF")},
		Kind:          domain.KindPDF,
		Ext:           "pdf",
		OriginalIndex: 4,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScannedPDFKeepsTextLayer(t *testing.T) {
	pages := &pageSourceFake{}
	s := NewScannedPDF(textLayerFake{text: "Invoice 42"}, pages, &ocrFake{}, 0, quietLogger())

	got, err := s.Extract(context.Background(), scannedItem())
	if err != nil || got != "Invoice 42" {
		t.Fatalf("got %q, %v", got, err)
	}
	if pages.calls != 0 {
		t.Fatalf("text layer present, page images must not be read")
	}
}

func TestScannedPDFFallsBackToPageOCR(t *testing.T) {
	pages := &pageSourceFake{images: []domain.PageImage{
		{Page: 1, Ext: "png", Body: []byte("page one")},
		{Page: 2, Ext: "jpg", Body: []byte("page two top")},
		{Page: 2, Ext: "jpg", Body: []byte("page two bottom")},
		{Page: 3, Ext: "png", Body: []byte("page three")},
	}}
	ocr := &ocrFake{}
	s := NewScannedPDF(textLayerFake{}, pages, ocr, 5, quietLogger())

	got, err := s.Extract(context.Background(), scannedItem())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := strings.Join([]string{"page one", "page two top\npage two bottom", "page three"}, domain.PageBoundary)
	if got != want {
		t.Fatalf("unexpected transcript %q", got)
	}
	if pages.maxPages != 5 {
		t.Fatalf("expected page limit 5, got %d", pages.maxPages)
	}
	first := ocr.items[0]
	if first.Kind != domain.KindImage || first.Ext != "png" || first.OriginalIndex != 4 || first.Input.MimeHint != "image/png" {
		t.Fatalf("unexpected OCR item %+v", first)
	}
}

func TestScannedPDFPartialPageFailure(t *testing.T) {
	pages := &pageSourceFake{images: []domain.PageImage{
		{Page: 1, Ext: "png", Body: []byte("one")},
		{Page: 2, Ext: "png", Body: []byte("two")},
	}}
	s := NewScannedPDF(textLayerFake{}, pages, &ocrFake{fail: map[string]bool{"one": true}}, 0, quietLogger())

	got, err := s.Extract(context.Background(), scannedItem())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != joinPages("", "two") {
		t.Fatalf("failed page must keep an empty slot, got %q", got)
	}
}

func TestScannedPDFAllPagesFail(t *testing.T) {
	pages := &pageSourceFake{images: []domain.PageImage{{Page: 1, Ext: "png", Body: []byte("one")}}}
	s := NewScannedPDF(textLayerFake{}, pages, &ocrFake{fail: map[string]bool{"one": true}}, 0, quietLogger())

	if _, err := s.Extract(context.Background(), scannedItem()); err == nil || !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected OCR failure, got %v", err)
	}
}

func TestScannedPDFWithoutImagesReturnsTextLayerResult(t *testing.T) {
	layerErr := errors.New("malformed xref")
	s := NewScannedPDF(textLayerFake{err: layerErr}, &pageSourceFake{}, &ocrFake{}, 0, quietLogger())
	if _, err := s.Extract(context.Background(), scannedItem()); !errors.Is(err, layerErr) {
		t.Fatalf("expected text layer error, got %v", err)
	}

	s = NewScannedPDF(textLayerFake{}, &pageSourceFake{}, &ocrFake{}, 0, quietLogger())
	got, err := s.Extract(context.Background(), scannedItem())
	if err != nil || got != "" {
		t.Fatalf("empty vector-only pdf: got %q, %v", got, err)
	}
}

func TestScannedPDFImageExtractionError(t *testing.T) {
	s := NewScannedPDF(textLayerFake{}, &pageSourceFake{err: errors.New("encrypted")}, &ocrFake{}, 0, quietLogger())
	if _, err := s.Extract(context.Background(), scannedItem()); err == nil || !strings.Contains(err.Error(), "encrypted") {
		t.Fatalf("expected page image error, got %v", err)
	}
}

func joinPages(segments ...string) string {
	return strings.Join(segments, domain.PageBoundary)
}
