package domain

import (
	"path/filepath"
	"strings"
	"time"
)

type FileKind string

const (
	KindPDF      FileKind = "pdf"
	KindImage    FileKind = "image"
	KindRejected FileKind = "rejected"
)

const MimePDF = "application/pdf"

// RawInput is one user-selected file. Body is owned by the batch and never mutated.
type RawInput struct {
	OriginalName string `json:"original_name"`
	MimeHint     string `json:"mime_hint,omitempty"`
	Body         []byte `json:"-"`
}

type ClassifiedItem struct {
	Input         RawInput `json:"input"`
	Kind          FileKind `json:"kind"`
	Ext           string   `json:"ext"`
	OriginalIndex int      `json:"original_index"`
}

// BaseTitle is the file name without directory and extension.
func (i ClassifiedItem) BaseTitle() string {
	return BaseTitle(i.Input.OriginalName)
}

func BaseTitle(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// PageBoundary separates per-page text in a multi-page transcript.
const PageBoundary = "\n\n\f\n\n"

// JoinPages concatenates page texts with PageBoundary. An all-empty transcript
// collapses to "" so that documents without any recognized text persist the
// same empty OCR text as a failed single PDF.
func JoinPages(segments []string) string {
	for _, s := range segments {
		if s != "" {
			return strings.Join(segments, PageBoundary)
		}
	}
	return ""
}

// PageImage is an image embedded in one page of a PDF.
type PageImage struct {
	Page int
	Ext  string
	Body []byte
}

type RejectedInput struct {
	OriginalIndex int    `json:"original_index"`
	OriginalName  string `json:"original_name"`
	Reason        string `json:"reason"`
}

type Partition struct {
	PDFs     []ClassifiedItem
	Images   []ClassifiedItem
	Rejected []RejectedInput
}

func (p Partition) Accepted() int {
	return len(p.PDFs) + len(p.Images)
}

// ExtractionOutcome carries either text or the failure that replaced it.
type ExtractionOutcome struct {
	OriginalIndex int
	Text          string
	Err           error
	Duration      time.Duration
}

func (o ExtractionOutcome) OK() bool {
	return o.Err == nil
}

type ExtractedPage struct {
	Item    ClassifiedItem
	Outcome ExtractionOutcome
}

type AssembledArtifact struct {
	OrderedSourceIndices []int
	Bytes                []byte
	MimeType             string
	SuggestedTitle       string
	Transcript           string
	PageCount            int
}

type PersistedDocument struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	StorageKey  string    `json:"storage_key"`
	MimeType    string    `json:"mime_type"`
	Destination string    `json:"destination"`
	RequestedBy string    `json:"requested_by"`
	OCRText     *string   `json:"ocr_text"`
	Embedding   []float32 `json:"-"`
	Classified  bool      `json:"classified"`
	PageCount   int       `json:"page_count"`
	MultiPage   bool      `json:"multi_page"`
	SourceNames []string  `json:"source_names"`
	CreatedAt   time.Time `json:"created_at"`
}

func (d *PersistedDocument) HasEmbedding() bool {
	return d != nil && len(d.Embedding) > 0
}

type DocumentCreatedEvent struct {
	DocumentID  string    `json:"document_id"`
	Title       string    `json:"title"`
	Destination string    `json:"destination"`
	MultiPage   bool      `json:"multi_page"`
	CreatedAt   time.Time `json:"created_at"`
}

type ArtifactInfo struct {
	Key        string
	Size       int64
	ModifiedAt time.Time
}
