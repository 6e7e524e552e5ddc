package gcs

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"net/http"
	"sync"
	"testing"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
)

func TestClassifyGCSError(t *testing.T) {
	cases := []struct {
		name          string
		err           error
		retryable     bool
		recordFailure bool
	}{
		{"precondition", &googleapi.Error{Code: http.StatusPreconditionFailed}, false, false},
		{"rate limited", fmt.Errorf("write: %w", &googleapi.Error{Code: http.StatusTooManyRequests}), true, true},
		{"server error", &googleapi.Error{Code: http.StatusServiceUnavailable}, true, true},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, false, true},
		{"missing object", gcstorage.ErrObjectNotExist, false, false},
		{"cancelled", context.Canceled, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyGCSError(tc.err)
			if got.Retryable != tc.retryable || got.RecordFailure != tc.recordFailure {
				t.Fatalf("classifyGCSError(%v) = %+v", tc.err, got)
			}
		})
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	err := wrapTemporaryIfNeeded(&googleapi.Error{Code: http.StatusBadGateway})
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	err = wrapTemporaryIfNeeded(&googleapi.Error{Code: http.StatusForbidden})
	if errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("permanent error must not be marked temporary")
	}
}

func TestPrefixAndContentType(t *testing.T) {
	if got := normalizePrefix("/artifacts/"); got != "artifacts/" {
		t.Fatalf("unexpected prefix %q", got)
	}
	if got := normalizePrefix(""); got != "" {
		t.Fatalf("unexpected empty prefix %q", got)
	}
	if got := contentType("x_1.pdf"); got != "application/pdf" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := contentType("x_1"); got != "application/octet-stream" {
		t.Fatalf("unexpected fallback content type %q", got)
	}
	if !isPreconditionFailed(fmt.Errorf("wrapped: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})) {
		t.Fatalf("expected wrapped 412 to be detected")
	}
}

// bucketFake keeps objects in memory and applies the DoesNotExist precondition.
// dropResponses makes the first n successful writes report a 503 after the
// object has been stored.
type bucketFake struct {
	mu            sync.Mutex
	objects       map[string][]byte
	taken         map[string]bool
	dropResponses int
	writes        int
}

func (b *bucketFake) write(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	if _, ok := b.objects[key]; ok || b.taken[key] {
		return &googleapi.Error{Code: http.StatusPreconditionFailed}
	}
	b.objects[key] = append([]byte(nil), data...)
	if b.dropResponses > 0 {
		b.dropResponses--
		return &googleapi.Error{Code: http.StatusServiceUnavailable}
	}
	return nil
}

func (b *bucketFake) attrs(_ context.Context, key string) (*gcstorage.ObjectAttrs, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		if b.taken[key] {
			return &gcstorage.ObjectAttrs{Name: key, Size: 1}, nil
		}
		return nil, gcstorage.ErrObjectNotExist
	}
	return &gcstorage.ObjectAttrs{
		Name:   key,
		Size:   int64(len(data)),
		CRC32C: crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli)),
	}, nil
}

func newFakeStorage(b *bucketFake) *Storage {
	s := &Storage{
		prefix: "docs/",
		executor: resilience.NewExecutor(resilience.Config{
			RetryMaxAttempts:    3,
			RetryInitialBackoff: time.Millisecond,
			RetryMaxBackoff:     time.Millisecond,
			RetryMultiplier:     1,
		}),
		now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	s.writeObject = b.write
	s.objectAttrs = b.attrs
	return s
}

func TestPutKeepsKeyWhenRetryFindsItsOwnUpload(t *testing.T) {
	b := &bucketFake{objects: map[string][]byte{}, dropResponses: 1}
	s := newFakeStorage(b)

	key, err := s.Put(context.Background(), []byte("%PDF-1.7 body"), "scan.pdf")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if len(b.objects) != 1 {
		t.Fatalf("expected exactly one stored object, got %d", len(b.objects))
	}
	if _, ok := b.objects[key]; !ok {
		t.Fatalf("returned key %q does not address the stored object", key)
	}
	if b.writes != 2 {
		t.Fatalf("expected one retry, got %d writes", b.writes)
	}
}

func TestPutMovesToFreshKeyOnCollision(t *testing.T) {
	b := &bucketFake{objects: map[string][]byte{}, taken: map[string]bool{}}
	s := newFakeStorage(b)

	calls := 0
	s.writeObject = func(ctx context.Context, key string, data []byte) error {
		calls++
		if calls == 1 {
			b.mu.Lock()
			b.taken[key] = true
			b.mu.Unlock()
		}
		return b.write(ctx, key, data)
	}

	key, err := s.Put(context.Background(), []byte("payload"), "photo.png")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if b.taken[key] {
		t.Fatalf("expected a fresh key after collision, got the taken one %q", key)
	}
	if string(b.objects[key]) != "payload" {
		t.Fatalf("stored object mismatch for %q", key)
	}
}

func TestPutDoesNotAdoptForeignObjectOnRetry(t *testing.T) {
	b := &bucketFake{objects: map[string][]byte{}, taken: map[string]bool{}}
	s := newFakeStorage(b)

	calls := 0
	s.writeObject = func(ctx context.Context, key string, data []byte) error {
		calls++
		if calls == 1 {
			// Someone else claims the key while our response is lost.
			b.mu.Lock()
			b.taken[key] = true
			b.mu.Unlock()
			return &googleapi.Error{Code: http.StatusServiceUnavailable}
		}
		return b.write(ctx, key, data)
	}

	key, err := s.Put(context.Background(), []byte("ours"), "a.pdf")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if b.taken[key] {
		t.Fatalf("adopted a key holding different content: %q", key)
	}
	if string(b.objects[key]) != "ours" {
		t.Fatalf("expected our payload under %q", key)
	}
}

func TestSameContent(t *testing.T) {
	data := []byte("artifact bytes")
	sum := crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli))
	cases := []struct {
		name  string
		attrs *gcstorage.ObjectAttrs
		want  bool
	}{
		{"match", &gcstorage.ObjectAttrs{Size: int64(len(data)), CRC32C: sum}, true},
		{"size differs", &gcstorage.ObjectAttrs{Size: int64(len(data)) + 1, CRC32C: sum}, false},
		{"checksum differs", &gcstorage.ObjectAttrs{Size: int64(len(data)), CRC32C: sum + 1}, false},
		{"nil attrs", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sameContent(tc.attrs, data); got != tc.want {
				t.Fatalf("sameContent() = %v, want %v", got, tc.want)
			}
		})
	}
}
