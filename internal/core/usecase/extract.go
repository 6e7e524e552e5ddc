package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

// SafeExtractor isolates one extraction call: it never returns an error and
// never lets a panic escape. Failures become ExtractionOutcome.Err.
type SafeExtractor struct {
	extractor ports.TextExtractor
	timeout   time.Duration
	logger    *slog.Logger
}

func NewSafeExtractor(extractor ports.TextExtractor, timeout time.Duration, logger *slog.Logger) *SafeExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SafeExtractor{
		extractor: extractor,
		timeout:   timeout,
		logger:    logger,
	}
}

func (s *SafeExtractor) Extract(ctx context.Context, item domain.ClassifiedItem) (outcome domain.ExtractionOutcome) {
	start := time.Now()
	outcome.OriginalIndex = item.OriginalIndex

	defer func() {
		if r := recover(); r != nil {
			outcome.Text = ""
			outcome.Err = domain.WrapError(domain.ErrExtractionFailed, "extract text", fmt.Errorf("panic: %v", r))
		}
		outcome.Duration = time.Since(start)
		if outcome.Err != nil {
			s.logger.Warn("extraction_failed",
				"original_index", item.OriginalIndex,
				"filename", item.Input.OriginalName,
				"kind", item.Kind,
				"duration_ms", outcome.Duration.Milliseconds(),
				"error", outcome.Err,
			)
		}
	}()

	if s.extractor == nil {
		outcome.Err = domain.WrapError(domain.ErrExtractionFailed, "extract text", fmt.Errorf("no extractor configured"))
		return outcome
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	text, err := s.extractor.Extract(callCtx, item)
	if err != nil {
		outcome.Err = domain.WrapError(domain.ErrExtractionFailed, "extract text", err)
		return outcome
	}
	outcome.Text = NormalizeText(text)
	return outcome
}

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
)

// NormalizeText collapses noisy whitespace while keeping line structure.
func NormalizeText(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
