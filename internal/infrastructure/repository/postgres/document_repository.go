package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/docflow/internal/core/domain"
)

const uniqueViolation = "23505"

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2024110701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	storage_key TEXT NOT NULL UNIQUE,
	mime_type TEXT NOT NULL,
	destination TEXT NOT NULL,
	requested_by TEXT NOT NULL DEFAULT '',
	ocr_text TEXT,
	embedding vector,
	classified BOOLEAN NOT NULL DEFAULT FALSE,
	page_count INTEGER NOT NULL DEFAULT 0,
	multi_page BOOLEAN NOT NULL DEFAULT FALSE,
	source_names JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_destination ON documents(destination);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Insert writes the whole record in one statement; a document row either
// exists completely or not at all.
func (r *DocumentRepository) Insert(ctx context.Context, doc *domain.PersistedDocument) error {
	if doc == nil {
		return domain.WrapError(domain.ErrInvalidInput, "insert document", errors.New("document is nil"))
	}
	namesJSON, err := json.Marshal(nonNil(doc.SourceNames))
	if err != nil {
		return fmt.Errorf("marshal source names: %w", err)
	}

	var embedding any
	if doc.HasEmbedding() {
		embedding = pgvector.NewVector(doc.Embedding)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, title, storage_key, mime_type, destination, requested_by, ocr_text, embedding, classified, page_count, multi_page, source_names, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`,
		doc.ID, doc.Title, doc.StorageKey, doc.MimeType, doc.Destination, doc.RequestedBy, doc.OCRText,
		embedding, doc.Classified, doc.PageCount, doc.MultiPage, namesJSON, doc.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.WrapError(domain.ErrInvalidInput, "insert document", fmt.Errorf("storage key %s already referenced: %w", doc.StorageKey, err))
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.PersistedDocument, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, title, storage_key, mime_type, destination, requested_by, ocr_text, embedding, classified, page_count, multi_page, source_names, created_at
FROM documents
WHERE id = $1
`, id)

	var (
		doc       domain.PersistedDocument
		embedding *pgvector.Vector
		namesRaw  []byte
	)
	err := row.Scan(
		&doc.ID, &doc.Title, &doc.StorageKey, &doc.MimeType, &doc.Destination, &doc.RequestedBy, &doc.OCRText,
		&embedding, &doc.Classified, &doc.PageCount, &doc.MultiPage, &namesRaw, &doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	if embedding != nil {
		doc.Embedding = embedding.Slice()
	}
	if err := json.Unmarshal(namesRaw, &doc.SourceNames); err != nil {
		return nil, fmt.Errorf("unmarshal source names: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListStorageKeys(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT storage_key FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("query storage keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan storage key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate storage keys: %w", err)
	}
	return keys, nil
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
