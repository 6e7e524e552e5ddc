package pdfrender

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// ocrFormats maps pdfcpu image file types to the extensions OCR backends accept.
var ocrFormats = map[string]string{
	"jpg": "jpg",
	"png": "png",
	"tif": "tif",
}

var errPageLimit = errors.New("page limit reached")

// Renderer lays out one image per A4 page, scaled to fit, in slice order.
type Renderer struct {
	conf *model.Configuration
}

func NewRenderer() *Renderer {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Renderer{conf: conf}
}

// config returns a private copy; pdfcpu writes the current command into it.
func (r *Renderer) config() *model.Configuration {
	c := *r.conf
	return &c
}

func (r *Renderer) Render(ctx context.Context, images [][]byte) ([]byte, error) {
	if len(images) == 0 {
		return nil, errors.New("no images to render")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	readers := make([]io.Reader, 0, len(images))
	for i, img := range images {
		if len(img) == 0 {
			return nil, fmt.Errorf("image %d is empty", i)
		}
		readers = append(readers, bytes.NewReader(img))
	}

	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, readers, pdfcpu.DefaultImportConfig(), r.config()); err != nil {
		return nil, fmt.Errorf("import images: %w", err)
	}
	return out.Bytes(), nil
}

// PageCount reports the number of pages of a rendered document.
func (r *Renderer) PageCount(doc []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(doc), r.config())
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}

// PageImages returns the images embedded in the first maxPages pages of doc,
// in page order. Thumbnails, masks and formats no OCR backend reads are
// skipped. maxPages <= 0 means no limit.
func (r *Renderer) PageImages(ctx context.Context, doc []byte, maxPages int) ([]domain.PageImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type found struct {
		image domain.PageImage
		objNr int
	}
	var collected []found
	digest := func(img model.Image, _ bool, _ int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if maxPages > 0 && img.PageNr > maxPages {
			return errPageLimit
		}
		ext, ok := ocrFormats[img.FileType]
		if !ok || img.Thumb || img.IsImgMask || img.Reader == nil {
			return nil
		}
		body, err := io.ReadAll(img.Reader)
		if err != nil {
			return fmt.Errorf("read image %s on page %d: %w", img.Name, img.PageNr, err)
		}
		if len(body) == 0 {
			return nil
		}
		collected = append(collected, found{
			image: domain.PageImage{Page: img.PageNr, Ext: ext, Body: body},
			objNr: img.ObjNr,
		})
		return nil
	}

	err := api.ExtractImages(bytes.NewReader(doc), nil, digest, r.config())
	if err != nil && !errors.Is(err, errPageLimit) {
		return nil, fmt.Errorf("extract page images: %w", err)
	}

	slices.SortFunc(collected, func(a, b found) int {
		if c := cmp.Compare(a.image.Page, b.image.Page); c != 0 {
			return c
		}
		return cmp.Compare(a.objNr, b.objNr)
	})
	out := make([]domain.PageImage, 0, len(collected))
	for _, f := range collected {
		out = append(out, f.image)
	}
	return out, nil
}
