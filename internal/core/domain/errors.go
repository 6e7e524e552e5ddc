package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")

	ErrRejectedInput    = errors.New("rejected input")
	ErrNoValidInput     = errors.New("no valid input")
	ErrExtractionFailed = errors.New("extraction failed")
	ErrEmbeddingFailed  = errors.New("embedding failed")
	ErrAssemblyFailed   = errors.New("assembly failed")
	ErrStoreFailed      = errors.New("artifact store failed")
	ErrPersistFailed    = errors.New("metadata persist failed")
	ErrOrphanedArtifact = errors.New("orphaned artifact")
	ErrCancelled        = errors.New("cancelled")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ErrorKind maps an error to the stable name reported to callers.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsKind(err, ErrCancelled):
		return "cancelled"
	case IsKind(err, ErrPersistFailed):
		return "persist_failed"
	case IsKind(err, ErrStoreFailed):
		return "store_failed"
	case IsKind(err, ErrAssemblyFailed):
		return "assembly_failed"
	case IsKind(err, ErrExtractionFailed):
		return "extraction_failed"
	case IsKind(err, ErrEmbeddingFailed):
		return "embedding_failed"
	case IsKind(err, ErrNoValidInput):
		return "no_valid_input"
	case IsKind(err, ErrRejectedInput):
		return "rejected_input"
	case IsKind(err, ErrInvalidInput):
		return "invalid_input"
	case IsKind(err, ErrDocumentNotFound):
		return "not_found"
	case IsKind(err, ErrTemporary):
		return "temporary"
	default:
		return "internal"
	}
}
