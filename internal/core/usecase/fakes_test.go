package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type artifactStoreFake struct {
	mu      sync.Mutex
	seq     int
	objects map[string][]byte
	names   map[string]string
	infos   []domain.ArtifactInfo
	putErr  error
	delErr  map[string]error
	deleted []string
}

func newArtifactStoreFake() *artifactStoreFake {
	return &artifactStoreFake{
		objects: map[string][]byte{},
		names:   map[string]string{},
		delErr:  map[string]error{},
	}
}

func (f *artifactStoreFake) Put(ctx context.Context, data []byte, suggestedName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return "", f.putErr
	}
	f.seq++
	key := fmt.Sprintf("%06d%s", f.seq, filepath.Ext(suggestedName))
	f.objects[key] = bytes.Clone(data)
	f.names[key] = suggestedName
	return key, nil
}

func (f *artifactStoreFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *artifactStoreFake) List(context.Context) ([]domain.ArtifactInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ArtifactInfo(nil), f.infos...), nil
}

func (f *artifactStoreFake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.delErr[key]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *artifactStoreFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type metadataStoreFake struct {
	mu        sync.Mutex
	docs      []*domain.PersistedDocument
	insertErr error
	keys      []string
	keysErr   error
	// insertCtxErr records the context state seen by Insert.
	insertCtxErr []error
}

func (f *metadataStoreFake) Insert(ctx context.Context, doc *domain.PersistedDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCtxErr = append(f.insertCtxErr, ctx.Err())
	if f.insertErr != nil {
		return f.insertErr
	}
	copyDoc := *doc
	f.docs = append(f.docs, &copyDoc)
	return nil
}

func (f *metadataStoreFake) GetByID(_ context.Context, id string) (*domain.PersistedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs {
		if doc.ID == id {
			return doc, nil
		}
	}
	return nil, domain.ErrDocumentNotFound
}

func (f *metadataStoreFake) ListStorageKeys(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keysErr != nil {
		return nil, f.keysErr
	}
	return append([]string(nil), f.keys...), nil
}

func (f *metadataStoreFake) addKey(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
}

func (f *metadataStoreFake) inserted() []*domain.PersistedDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.PersistedDocument(nil), f.docs...)
}

// extractorFake returns "text:<name>" unless a failure is configured for the
// file name. delays lets tests force out-of-order completion.
type extractorFake struct {
	mu     sync.Mutex
	fail   map[string]error
	panics map[string]bool
	delays map[string]time.Duration
	all    error
	calls  []string
	gauge  *inFlightGauge
}

func (f *extractorFake) Extract(ctx context.Context, item domain.ClassifiedItem) (string, error) {
	name := item.Input.OriginalName
	f.mu.Lock()
	f.calls = append(f.calls, name)
	delay := f.delays[name]
	failErr := f.fail[name]
	panics := f.panics[name]
	allErr := f.all
	f.mu.Unlock()

	if f.gauge != nil {
		f.gauge.enter()
		defer f.gauge.leave()
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if panics {
		panic("decoder exploded")
	}
	if allErr != nil {
		return "", allErr
	}
	if failErr != nil {
		return "", failErr
	}
	return "text:" + name, nil
}

// rendererFake "renders" by joining the image bodies with '|', which makes the
// page order visible in the artifact bytes.
type rendererFake struct {
	err   error
	empty bool
}

func (f *rendererFake) Render(_ context.Context, images [][]byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.empty {
		return nil, nil
	}
	return bytes.Join(images, []byte("|")), nil
}

// countingRendererFake also reports a page count for its output.
type countingRendererFake struct {
	rendererFake
	pages int
	err   error
}

func (f *countingRendererFake) PageCount([]byte) (int, error) {
	return f.pages, f.err
}

type embedderFake struct {
	vector []float32
	err    error
	calls  int
	mu     sync.Mutex
}

func (f *embedderFake) Embed(context.Context, string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type eventPublisherFake struct {
	mu     sync.Mutex
	events []domain.DocumentCreatedEvent
	err    error
}

func (f *eventPublisherFake) PublishDocumentCreated(_ context.Context, event domain.DocumentCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

var errServiceDown = errors.New("service unavailable")

// inFlightGauge records the highest number of calls running at once.
type inFlightGauge struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (g *inFlightGauge) enter() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current++
	g.peak = max(g.peak, g.current)
}

func (g *inFlightGauge) leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current--
}

func (g *inFlightGauge) highest() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

// slowStoreFake holds every Put for delay and reports it to gauge.
type slowStoreFake struct {
	*artifactStoreFake
	delay time.Duration
	gauge *inFlightGauge
}

func (f *slowStoreFake) Put(ctx context.Context, data []byte, suggestedName string) (string, error) {
	f.gauge.enter()
	defer f.gauge.leave()
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return f.artifactStoreFake.Put(ctx, data, suggestedName)
}
