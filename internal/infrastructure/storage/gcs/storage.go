package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
	"github.com/kirillkom/docflow/internal/infrastructure/storage"
)

// Storage keeps artifacts in one bucket under an optional prefix.
type Storage struct {
	client   *gcstorage.Client
	bucket   *gcstorage.BucketHandle
	prefix   string
	executor *resilience.Executor
	now      func() time.Time

	writeObject func(ctx context.Context, key string, data []byte) error
	objectAttrs func(ctx context.Context, key string) (*gcstorage.ObjectAttrs, error)
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func New(ctx context.Context, bucket, prefix string, executor *resilience.Executor) (*Storage, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := gcstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	s := &Storage{
		client:   client,
		bucket:   client.Bucket(bucket),
		prefix:   normalizePrefix(prefix),
		executor: executor,
		now:      time.Now,
	}
	s.writeObject = s.write
	s.objectAttrs = func(ctx context.Context, key string) (*gcstorage.ObjectAttrs, error) {
		return s.bucket.Object(s.objectName(key)).Attrs(ctx)
	}
	return s, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

// Put uploads with a DoesNotExist precondition, so an upload never replaces an
// existing object. A precondition failure on the first attempt means the key
// was taken and a fresh key is generated. On a retry it usually means an
// earlier attempt landed and only its response was lost, so the stored object
// is compared with data and the key is kept when they match.
func (s *Storage) Put(ctx context.Context, data []byte, suggestedName string) (string, error) {
	for range 3 {
		key := storage.NewKey(s.now(), suggestedName)
		attempt := 0
		err := s.executor.Execute(ctx, "gcs.put", func(callCtx context.Context) error {
			attempt++
			err := s.writeObject(callCtx, key, data)
			if attempt > 1 && isPreconditionFailed(err) {
				if landed, attrsErr := s.alreadyStored(callCtx, key, data); attrsErr == nil && landed {
					return nil
				}
			}
			return err
		}, classifyGCSError)
		if isPreconditionFailed(err) {
			continue
		}
		if err != nil {
			return "", wrapTemporaryIfNeeded(err)
		}
		return key, nil
	}
	return "", fmt.Errorf("gcs put: could not allocate a free key for %q", suggestedName)
}

func (s *Storage) alreadyStored(ctx context.Context, key string, data []byte) (bool, error) {
	attrs, err := s.objectAttrs(ctx, key)
	if err != nil {
		return false, fmt.Errorf("stat gcs object %s: %w", key, err)
	}
	return sameContent(attrs, data), nil
}

func sameContent(attrs *gcstorage.ObjectAttrs, data []byte) bool {
	return attrs != nil &&
		attrs.Size == int64(len(data)) &&
		attrs.CRC32C == crc32.Checksum(data, castagnoli)
}

func (s *Storage) write(ctx context.Context, key string, data []byte) error {
	writer := s.bucket.Object(s.objectName(key)).If(gcstorage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType(key)
	writer.CRC32C = crc32.Checksum(data, castagnoli)
	writer.SendCRC32C = true

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write gcs object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize gcs object %s: %w", key, err)
	}
	return nil
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open artifact", err)
	}
	reader, err := s.bucket.Object(s.objectName(key)).NewReader(ctx)
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "open artifact", err)
	}
	if err != nil {
		return nil, fmt.Errorf("open gcs object %s: %w", key, err)
	}
	return reader, nil
}

func (s *Storage) List(ctx context.Context) ([]domain.ArtifactInfo, error) {
	it := s.bucket.Objects(ctx, &gcstorage.Query{Prefix: s.prefix})
	var out []domain.ArtifactInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gcs objects: %w", err)
		}
		key := strings.TrimPrefix(attrs.Name, s.prefix)
		if key == "" || strings.Contains(key, "/") {
			continue
		}
		out = append(out, domain.ArtifactInfo{
			Key:        key,
			Size:       attrs.Size,
			ModifiedAt: attrs.Updated.UTC(),
		})
	}
	return out, nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "delete artifact", err)
	}
	err := s.executor.Execute(ctx, "gcs.delete", func(callCtx context.Context) error {
		return s.bucket.Object(s.objectName(key)).Delete(callCtx)
	}, classifyGCSError)
	if err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return wrapTemporaryIfNeeded(fmt.Errorf("delete gcs object %s: %w", key, err))
	}
	return nil
}

func (s *Storage) objectName(key string) string {
	return s.prefix + key
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func contentType(key string) string {
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

func classifyGCSError(err error) resilience.ErrorClassification {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusPreconditionFailed, gerr.Code == http.StatusNotFound:
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		case gerr.Code == http.StatusTooManyRequests, gerr.Code >= 500:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
	}
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ClassifyTransport(err)
}

func wrapTemporaryIfNeeded(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyGCSError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "gcs", err)
	}
	return err
}
