package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
)

type PersistRequest struct {
	StorageKey  string
	Title       string
	MimeType    string
	OCRText     string
	Destination string
	RequestedBy string
	Classified  bool
	PageCount   int
	MultiPage   bool
	SourceNames []string
}

type PersistResult struct {
	Document *domain.PersistedDocument
	Warnings []string
}

// Persister writes the document record for an artifact that is already stored.
type Persister struct {
	store    ports.MetadataStore
	embedder ports.Embedder
	logger   *slog.Logger
	now      func() time.Time
}

// NewPersister builds a persister; embedder may be nil when semantic indexing is disabled.
func NewPersister(store ports.MetadataStore, embedder ports.Embedder, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		store:    store,
		embedder: embedder,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *Persister) Persist(ctx context.Context, req PersistRequest) (PersistResult, error) {
	if strings.TrimSpace(req.StorageKey) == "" {
		return PersistResult{}, domain.WrapError(domain.ErrInvalidInput, "persist document", errors.New("storage key is required"))
	}

	var result PersistResult
	embedding, err := p.embed(ctx, req.OCRText)
	if err != nil {
		p.logger.Warn("embedding_failed", "storage_key", req.StorageKey, "error", err)
		result.Warnings = append(result.Warnings, err.Error())
	}

	text := req.OCRText
	doc := &domain.PersistedDocument{
		ID:          uuid.NewString(),
		Title:       req.Title,
		StorageKey:  req.StorageKey,
		MimeType:    req.MimeType,
		Destination: req.Destination,
		RequestedBy: req.RequestedBy,
		OCRText:     &text,
		Embedding:   embedding,
		Classified:  req.Classified,
		PageCount:   req.PageCount,
		MultiPage:   req.MultiPage,
		SourceNames: req.SourceNames,
		CreatedAt:   p.now(),
	}

	if err := p.store.Insert(ctx, doc); err != nil {
		return result, domain.WrapError(
			domain.ErrPersistFailed,
			"insert document metadata",
			fmt.Errorf("%w: key %s: %w", domain.ErrOrphanedArtifact, req.StorageKey, err),
		)
	}

	result.Document = doc
	return result, nil
}

func (p *Persister) embed(ctx context.Context, text string) ([]float32, error) {
	if p.embedder == nil || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	vector, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbeddingFailed, "embed document text", err)
	}
	if len(vector) == 0 {
		return nil, domain.WrapError(domain.ErrEmbeddingFailed, "embed document text", errors.New("empty vector"))
	}
	return vector, nil
}
