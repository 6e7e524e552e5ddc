package usecase

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

// pageCounter is implemented by renderers that can read back their output.
type pageCounter interface {
	PageCount(doc []byte) (int, error)
}

// Assembler merges an image group into one paginated PDF artifact.
type Assembler struct {
	renderer ports.ImageRenderer
}

func NewAssembler(renderer ports.ImageRenderer) *Assembler {
	return &Assembler{renderer: renderer}
}

// Assemble orders pages by original batch index, never by the order in which
// their extraction finished.
func (a *Assembler) Assemble(ctx context.Context, pages []domain.ExtractedPage, explicitTitle string) (*domain.AssembledArtifact, error) {
	if len(pages) == 0 {
		return nil, domain.WrapError(domain.ErrAssemblyFailed, "assemble images", errors.New("empty image group"))
	}

	ordered := slices.Clone(pages)
	slices.SortStableFunc(ordered, func(a, b domain.ExtractedPage) int {
		return cmp.Compare(a.Item.OriginalIndex, b.Item.OriginalIndex)
	})

	images := make([][]byte, 0, len(ordered))
	indices := make([]int, 0, len(ordered))
	segments := make([]string, 0, len(ordered))
	for _, page := range ordered {
		images = append(images, page.Item.Input.Body)
		indices = append(indices, page.Item.OriginalIndex)
		if page.Outcome.OK() {
			segments = append(segments, page.Outcome.Text)
		} else {
			segments = append(segments, "")
		}
	}

	rendered, err := a.renderer.Render(ctx, images)
	if err != nil {
		return nil, domain.WrapError(domain.ErrAssemblyFailed, "render images", err)
	}
	if len(rendered) == 0 {
		return nil, domain.WrapError(domain.ErrAssemblyFailed, "render images", fmt.Errorf("renderer returned empty document"))
	}

	pageCount := len(ordered)
	if counter, ok := a.renderer.(pageCounter); ok {
		n, err := counter.PageCount(rendered)
		if err != nil {
			return nil, domain.WrapError(domain.ErrAssemblyFailed, "count rendered pages", err)
		}
		if n != len(ordered) {
			return nil, domain.WrapError(domain.ErrAssemblyFailed, "count rendered pages", fmt.Errorf("rendered %d pages for %d images", n, len(ordered)))
		}
		pageCount = n
	}

	title := strings.TrimSpace(explicitTitle)
	if title == "" {
		title = ordered[0].Item.BaseTitle()
	}

	return &domain.AssembledArtifact{
		OrderedSourceIndices: indices,
		Bytes:                rendered,
		MimeType:             domain.MimePDF,
		SuggestedTitle:       title,
		Transcript:           domain.JoinPages(segments),
		PageCount:            pageCount,
	}, nil
}
