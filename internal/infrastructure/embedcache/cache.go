package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kirillkom/docflow/internal/core/ports"
)

type Observer interface {
	CacheHit()
	CacheMiss()
}

// Embedder memoizes vectors by text digest. Re-submitted scans of the same
// document then skip the embedding service.
type Embedder struct {
	next     ports.Embedder
	cache    *expirable.LRU[string, []float32]
	observer Observer
}

func New(next ports.Embedder, size int, ttl time.Duration, observer Observer) *Embedder {
	if size <= 0 {
		size = 1024
	}
	return &Embedder{
		next:     next,
		cache:    expirable.NewLRU[string, []float32](size, nil, ttl),
		observer: observer,
	}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := digest(text)
	if vector, ok := e.cache.Get(key); ok {
		if e.observer != nil {
			e.observer.CacheHit()
		}
		return slices.Clone(vector), nil
	}
	if e.observer != nil {
		e.observer.CacheMiss()
	}

	vector, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, slices.Clone(vector))
	return vector, nil
}

func (e *Embedder) Len() int {
	return e.cache.Len()
}

func digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
