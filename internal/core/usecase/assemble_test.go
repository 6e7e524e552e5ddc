package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func page(name string, idx int, text string, err error) domain.ExtractedPage {
	return domain.ExtractedPage{
		Item:    imageItem(name, idx),
		Outcome: domain.ExtractionOutcome{OriginalIndex: idx, Text: text, Err: err},
	}
}

func TestAssembleSortsByOriginalIndex(t *testing.T) {
	pages := []domain.ExtractedPage{
		page("c.png", 7, "third", nil),
		page("a.png", 2, "first", nil),
		page("b.png", 5, "second", nil),
	}

	artifact, err := NewAssembler(&rendererFake{}).Assemble(context.Background(), pages, "")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	if string(artifact.Bytes) != "body-a.png|body-b.png|body-c.png" {
		t.Fatalf("unexpected render order %q", artifact.Bytes)
	}
	want := "first" + domain.PageBoundary + "second" + domain.PageBoundary + "third"
	if artifact.Transcript != want {
		t.Fatalf("unexpected transcript %q", artifact.Transcript)
	}
	if got := artifact.OrderedSourceIndices; len(got) != 3 || got[0] != 2 || got[1] != 5 || got[2] != 7 {
		t.Fatalf("unexpected indices %v", got)
	}
	if artifact.SuggestedTitle != "a" || artifact.PageCount != 3 || artifact.MimeType != domain.MimePDF {
		t.Fatalf("unexpected artifact metadata: %+v", artifact)
	}
	if pages[0].Item.OriginalIndex != 7 {
		t.Fatalf("input slice must not be reordered")
	}
}

func TestAssembleFailedPageContributesEmptySegment(t *testing.T) {
	pages := []domain.ExtractedPage{
		page("a.png", 0, "one", nil),
		page("b.png", 1, "ignored", errServiceDown),
		page("c.png", 2, "three", nil),
	}
	artifact, err := NewAssembler(&rendererFake{}).Assemble(context.Background(), pages, "Receipts")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if artifact.Transcript != "one"+domain.PageBoundary+domain.PageBoundary+"three" {
		t.Fatalf("unexpected transcript %q", artifact.Transcript)
	}
	if artifact.SuggestedTitle != "Receipts" {
		t.Fatalf("expected explicit title, got %q", artifact.SuggestedTitle)
	}
}

func TestAssembleSingleImage(t *testing.T) {
	artifact, err := NewAssembler(&rendererFake{}).Assemble(context.Background(), []domain.ExtractedPage{
		page("only.jpg", 3, "", errServiceDown),
	}, "")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if artifact.PageCount != 1 || artifact.Transcript != "" || artifact.SuggestedTitle != "only" {
		t.Fatalf("unexpected artifact: %+v", artifact)
	}
}

func TestAssembleRendererFailures(t *testing.T) {
	pages := []domain.ExtractedPage{page("a.png", 0, "x", nil)}

	_, err := NewAssembler(&rendererFake{err: errors.New("decode")}).Assemble(context.Background(), pages, "")
	if !errors.Is(err, domain.ErrAssemblyFailed) {
		t.Fatalf("expected ErrAssemblyFailed, got %v", err)
	}
	_, err = NewAssembler(&rendererFake{empty: true}).Assemble(context.Background(), pages, "")
	if !errors.Is(err, domain.ErrAssemblyFailed) {
		t.Fatalf("expected ErrAssemblyFailed for empty output, got %v", err)
	}
	_, err = NewAssembler(&rendererFake{}).Assemble(context.Background(), nil, "")
	if !errors.Is(err, domain.ErrAssemblyFailed) {
		t.Fatalf("expected ErrAssemblyFailed for empty group, got %v", err)
	}
}

func TestAssembleVerifiesRenderedPageCount(t *testing.T) {
	pages := []domain.ExtractedPage{page("a.png", 0, "x", nil), page("b.png", 1, "y", nil)}

	artifact, err := NewAssembler(&countingRendererFake{pages: 2}).Assemble(context.Background(), pages, "")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if artifact.PageCount != 2 {
		t.Fatalf("expected 2 pages, got %d", artifact.PageCount)
	}

	_, err = NewAssembler(&countingRendererFake{pages: 1}).Assemble(context.Background(), pages, "")
	if !errors.Is(err, domain.ErrAssemblyFailed) {
		t.Fatalf("expected ErrAssemblyFailed on page mismatch, got %v", err)
	}
	_, err = NewAssembler(&countingRendererFake{err: errors.New("corrupt")}).Assemble(context.Background(), pages, "")
	if !errors.Is(err, domain.ErrAssemblyFailed) {
		t.Fatalf("expected ErrAssemblyFailed on unreadable output, got %v", err)
	}
}
