package extractor

import (
	"context"
	"fmt"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

// Router sends PDFs to the PDF extractor and images to the OCR backend.
type Router struct {
	pdf   ports.TextExtractor
	image ports.TextExtractor
}

func NewRouter(pdf, image ports.TextExtractor) *Router {
	return &Router{pdf: pdf, image: image}
}

func (r *Router) Extract(ctx context.Context, item domain.ClassifiedItem) (string, error) {
	var target ports.TextExtractor
	switch item.Kind {
	case domain.KindPDF:
		target = r.pdf
	case domain.KindImage:
		target = r.image
	}
	if target == nil {
		return "", fmt.Errorf("no extractor for kind %q", item.Kind)
	}
	return target.Extract(ctx, item)
}
