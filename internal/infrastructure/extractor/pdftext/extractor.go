package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// Extractor reads the embedded text layer of a PDF. Scanned PDFs without a
// text layer yield an empty string, not an error.
type Extractor struct {
	maxBytes int
	parse    func(body []byte, maxBytes int) (string, error)
}

func NewExtractor(maxBytes int) *Extractor {
	return &Extractor{maxBytes: maxBytes, parse: readTextLayer}
}

type parseResult struct {
	text string
	err  error
}

// Extract parses on its own goroutine so that ctx bounds the call even when
// a malformed document keeps the parser busy. The parser cannot be
// interrupted; an abandoned parse finishes in the background.
func (e *Extractor) Extract(ctx context.Context, item domain.ClassifiedItem) (string, error) {
	if item.Kind != domain.KindPDF {
		return "", fmt.Errorf("pdftext: unsupported kind %q", item.Kind)
	}
	body := item.Input.Body
	if len(body) == 0 {
		return "", errors.New("pdftext: empty document")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	done := make(chan parseResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- parseResult{err: fmt.Errorf("parser panic: %v", r)}
			}
		}()
		text, err := e.parse(body, e.maxBytes)
		done <- parseResult{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("read pdf text %s: %w", item.Input.OriginalName, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("read pdf text %s: %w", item.Input.OriginalName, res.err)
		}
		return res.text, nil
	}
}

func readTextLayer(body []byte, maxBytes int) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}

	var src io.Reader = plain
	if maxBytes > 0 {
		src = io.LimitReader(plain, int64(maxBytes))
	}
	raw, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		raw = bytes.ToValidUTF8(raw, []byte("�"))
	}
	return strings.TrimSpace(string(raw)), nil
}
