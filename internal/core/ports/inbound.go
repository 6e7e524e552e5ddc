package ports

import (
	"context"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// BatchIngestor is the inbound contract for batch document ingestion.
type BatchIngestor interface {
	Ingest(ctx context.Context, req domain.BatchRequest, progress domain.ProgressFunc) (*domain.BatchReport, error)
}

// DocumentReader is the inbound read model for persisted documents.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.PersistedDocument, error)
}

// ArtifactReconciler finds and removes artifacts that have no metadata record.
type ArtifactReconciler interface {
	Sweep(ctx context.Context, opts domain.SweepOptions) (*domain.SweepReport, error)
}
