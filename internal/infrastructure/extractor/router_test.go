package extractor

import (
	"context"
	"testing"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type namedExtractorFake string

func (f namedExtractorFake) Extract(context.Context, domain.ClassifiedItem) (string, error) {
	return string(f), nil
}

func TestRouterDispatchesByKind(t *testing.T) {
	r := NewRouter(namedExtractorFake("pdf"), namedExtractorFake("ocr"))

	got, err := r.Extract(context.Background(), domain.ClassifiedItem{Kind: domain.KindPDF})
	if err != nil || got != "pdf" {
		t.Fatalf("pdf route: got %q, %v", got, err)
	}
	got, err = r.Extract(context.Background(), domain.ClassifiedItem{Kind: domain.KindImage})
	if err != nil || got != "ocr" {
		t.Fatalf("image route: got %q, %v", got, err)
	}
	if _, err := r.Extract(context.Background(), domain.ClassifiedItem{Kind: domain.KindRejected}); err == nil {
		t.Fatalf("expected error for rejected kind")
	}
}

func TestRouterWithoutImageBackend(t *testing.T) {
	r := NewRouter(namedExtractorFake("pdf"), nil)
	if _, err := r.Extract(context.Background(), domain.ClassifiedItem{Kind: domain.KindImage}); err == nil {
		t.Fatalf("expected error when image backend is missing")
	}
}
