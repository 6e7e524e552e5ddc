package ports

import (
	"context"
	"io"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// ArtifactStore stores binary artifacts under collision-resistant keys.
type ArtifactStore interface {
	Put(ctx context.Context, data []byte, suggestedName string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context) ([]domain.ArtifactInfo, error)
	Delete(ctx context.Context, key string) error
}

// MetadataStore persists document records.
type MetadataStore interface {
	Insert(ctx context.Context, doc *domain.PersistedDocument) error
	GetByID(ctx context.Context, id string) (*domain.PersistedDocument, error)
	ListStorageKeys(ctx context.Context) ([]string, error)
}

// TextExtractor recognizes text in one classified item.
type TextExtractor interface {
	Extract(ctx context.Context, item domain.ClassifiedItem) (string, error)
}

// ImageRenderer renders images, in the given order, into one paginated PDF.
type ImageRenderer interface {
	Render(ctx context.Context, images [][]byte) ([]byte, error)
}

// PageImageSource pulls the images embedded in a PDF's pages, in page order.
type PageImageSource interface {
	PageImages(ctx context.Context, doc []byte, maxPages int) ([]domain.PageImage, error)
}

// Embedder builds a semantic vector for document text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EventPublisher emits document lifecycle notifications.
type EventPublisher interface {
	PublishDocumentCreated(ctx context.Context, event domain.DocumentCreatedEvent) error
}
