package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &DocumentRepository{db: db}, mock, func() { _ = db.Close() }
}

var documentColumns = []string{
	"id", "title", "storage_key", "mime_type", "destination", "requested_by", "ocr_text",
	"embedding", "classified", "page_count", "multi_page", "source_names", "created_at",
}

func sampleDocument() *domain.PersistedDocument {
	text := "total 42"
	return &domain.PersistedDocument{
		ID:          "doc-1",
		Title:       "invoice",
		StorageKey:  "20240101T000000.000000000Z_abc.pdf",
		MimeType:    domain.MimePDF,
		Destination: "dept-1",
		RequestedBy: "clerk",
		OCRText:     &text,
		Embedding:   []float32{0.5, 1},
		Classified:  true,
		PageCount:   2,
		MultiPage:   true,
		SourceNames: []string{"a.png", "b.png"},
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestInsertWritesEmbeddingAsVector(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	doc := sampleDocument()
	mock.ExpectExec("INSERT INTO documents").
		WithArgs(doc.ID, doc.Title, doc.StorageKey, doc.MimeType, doc.Destination, doc.RequestedBy, "total 42",
			"[0.5,1]", true, 2, true, []byte(`["a.png","b.png"]`), doc.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Insert(context.Background(), doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertWithoutEmbeddingWritesNull(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	doc := sampleDocument()
	doc.Embedding = nil
	doc.SourceNames = nil
	mock.ExpectExec("INSERT INTO documents").
		WithArgs(doc.ID, doc.Title, doc.StorageKey, doc.MimeType, doc.Destination, doc.RequestedBy, "total 42",
			nil, true, 2, true, []byte(`[]`), doc.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Insert(context.Background(), doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertDuplicateStorageKey(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO documents").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	err := repo.Insert(context.Background(), sampleDocument())
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestInsertPropagatesDriverErrors(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	errConn := errors.New("connection refused")
	mock.ExpectExec("INSERT INTO documents").WillReturnError(errConn)

	if err := repo.Insert(context.Background(), sampleDocument()); !errors.Is(err, errConn) {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, title, storage_key").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDScansVectorAndNames(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(documentColumns).
		AddRow("doc-1", "invoice", "k.pdf", domain.MimePDF, "dept-1", "clerk", "text",
			"[0.25,0.5]", false, 0, false, []byte(`["invoice.pdf"]`), created).
		AddRow("doc-2", "x", "k2.pdf", domain.MimePDF, "dept-1", "", nil,
			nil, false, 0, false, []byte(`[]`), created)
	mock.ExpectQuery("SELECT id, title, storage_key").WithArgs("doc-1").WillReturnRows(rows)

	doc, err := repo.GetByID(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(doc.Embedding) != 2 || doc.Embedding[1] != 0.5 {
		t.Fatalf("unexpected embedding %v", doc.Embedding)
	}
	if doc.OCRText == nil || *doc.OCRText != "text" {
		t.Fatalf("unexpected ocr text %v", doc.OCRText)
	}
	if len(doc.SourceNames) != 1 || doc.SourceNames[0] != "invoice.pdf" {
		t.Fatalf("unexpected source names %v", doc.SourceNames)
	}
}

func TestGetByIDWithNullEmbedding(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows(documentColumns).
		AddRow("doc-2", "x", "k2.pdf", domain.MimePDF, "dept-1", "", nil,
			nil, false, 0, false, []byte(`[]`), time.Now())
	mock.ExpectQuery("SELECT id, title, storage_key").WithArgs("doc-2").WillReturnRows(rows)

	doc, err := repo.GetByID(context.Background(), "doc-2")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if doc.HasEmbedding() || doc.OCRText != nil {
		t.Fatalf("expected null embedding and text, got %+v", doc)
	}
}

func TestListStorageKeys(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT storage_key FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"storage_key"}).AddRow("a.pdf").AddRow("b.pdf"))

	keys, err := repo.ListStorageKeys(context.Background())
	if err != nil {
		t.Fatalf("ListStorageKeys() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "a.pdf" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
