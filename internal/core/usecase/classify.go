package usecase

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/kirillkom/docflow/internal/core/domain"
)

var pdfMimeTypes = map[string]struct{}{
	"application/pdf":   {},
	"application/x-pdf": {},
}

var imageMimeTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/tiff": "tiff",
	"image/webp": "webp",
}

var imageExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"tif":  {},
	"tiff": {},
	"webp": {},
}

// Classifier sorts raw inputs into PDF and image buckets, rejecting the rest.
type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify keeps batch order inside every partition. It returns ErrNoValidInput,
// together with the populated rejected list, when nothing was accepted.
func (c *Classifier) Classify(inputs []domain.RawInput) (domain.Partition, error) {
	var out domain.Partition
	for idx, in := range inputs {
		item, reason := classifyOne(idx, in)
		switch item.Kind {
		case domain.KindPDF:
			out.PDFs = append(out.PDFs, item)
		case domain.KindImage:
			out.Images = append(out.Images, item)
		default:
			out.Rejected = append(out.Rejected, domain.RejectedInput{
				OriginalIndex: idx,
				OriginalName:  in.OriginalName,
				Reason:        reason,
			})
		}
	}

	if out.Accepted() == 0 {
		return out, domain.WrapError(
			domain.ErrNoValidInput,
			"classify batch",
			fmt.Errorf("%d inputs, none accepted", len(inputs)),
		)
	}
	return out, nil
}

func classifyOne(idx int, in domain.RawInput) (domain.ClassifiedItem, string) {
	item := domain.ClassifiedItem{
		Input:         in,
		Kind:          domain.KindRejected,
		OriginalIndex: idx,
	}
	ext := normalizeExt(filepath.Ext(in.OriginalName))

	if len(in.Body) == 0 {
		return item, "empty file"
	}

	mimeType := normalizeMime(in.MimeHint)
	if _, ok := pdfMimeTypes[mimeType]; ok {
		item.Kind = domain.KindPDF
		item.Ext = "pdf"
		return item, ""
	}
	if mimeExt, ok := imageMimeTypes[mimeType]; ok {
		item.Kind = domain.KindImage
		item.Ext = mimeExt
		if _, known := imageExtensions[ext]; known {
			item.Ext = ext
		}
		return item, ""
	}

	switch {
	case ext == "pdf":
		item.Kind = domain.KindPDF
		item.Ext = ext
		return item, ""
	case isImageExt(ext):
		item.Kind = domain.KindImage
		item.Ext = ext
		return item, ""
	}

	return item, rejectionReason(mimeType, ext)
}

func rejectionReason(mimeType, ext string) string {
	switch {
	case ext == "" && mimeType == "":
		return "unsupported file type: no extension or mime type"
	case ext == "":
		return fmt.Sprintf("unsupported file type: mime %q", mimeType)
	default:
		return fmt.Sprintf("unsupported file type: .%s", ext)
	}
}

func isImageExt(ext string) bool {
	_, ok := imageExtensions[ext]
	return ok
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func normalizeMime(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(hint)
	if err != nil {
		return strings.ToLower(hint)
	}
	return strings.ToLower(mediaType)
}
