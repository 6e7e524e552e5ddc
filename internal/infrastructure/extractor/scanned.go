package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

const defaultMaxOCRPages = 20

// ScannedPDF reads a PDF's text layer and, when that is empty, runs the images
// embedded in its pages through the image OCR backend. Page texts are joined
// with domain.PageBoundary.
type ScannedPDF struct {
	text     ports.TextExtractor
	pages    ports.PageImageSource
	ocr      ports.TextExtractor
	maxPages int
	logger   *slog.Logger
}

func NewScannedPDF(text ports.TextExtractor, pages ports.PageImageSource, ocr ports.TextExtractor, maxPages int, logger *slog.Logger) *ScannedPDF {
	if maxPages <= 0 {
		maxPages = defaultMaxOCRPages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScannedPDF{text: text, pages: pages, ocr: ocr, maxPages: maxPages, logger: logger}
}

func (s *ScannedPDF) Extract(ctx context.Context, item domain.ClassifiedItem) (string, error) {
	text, textErr := s.text.Extract(ctx, item)
	if textErr == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.pages == nil || s.ocr == nil {
		return "", textErr
	}

	images, err := s.pages.PageImages(ctx, item.Input.Body, s.maxPages)
	if err != nil {
		return "", errors.Join(textErr, fmt.Errorf("pdf %s: %w", item.Input.OriginalName, err))
	}
	if len(images) == 0 {
		return "", textErr
	}
	s.logger.Debug("pdf_ocr_fallback", "file", item.Input.OriginalName, "images", len(images), "text_layer_error", textErr)

	var (
		segments []string
		failures []error
		current  = -1
	)
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		pageText, err := s.ocr.Extract(ctx, pageItem(item, img))
		if err != nil {
			failures = append(failures, fmt.Errorf("page %d: %w", img.Page, err))
		}
		// Several images on one page share a segment.
		if img.Page != current {
			segments = append(segments, "")
			current = img.Page
		}
		last := len(segments) - 1
		if pageText = strings.TrimSpace(pageText); pageText != "" {
			if segments[last] != "" {
				segments[last] += "\n"
			}
			segments[last] += pageText
		}
	}

	if len(failures) == len(images) {
		return "", fmt.Errorf("ocr pdf %s: %w", item.Input.OriginalName, errors.Join(failures...))
	}
	if len(failures) > 0 {
		s.logger.Warn("pdf_ocr_pages_failed", "file", item.Input.OriginalName, "failed", len(failures), "error", errors.Join(failures...))
	}
	return domain.JoinPages(segments), nil
}

func pageItem(parent domain.ClassifiedItem, img domain.PageImage) domain.ClassifiedItem {
	return domain.ClassifiedItem{
		Input: domain.RawInput{
			OriginalName: fmt.Sprintf("%s#page-%d.%s", parent.Input.OriginalName, img.Page, img.Ext),
			MimeHint:     mime.TypeByExtension("." + img.Ext),
			Body:         img.Body,
		},
		Kind:          domain.KindImage,
		Ext:           img.Ext,
		OriginalIndex: parent.OriginalIndex,
	}
}
