// Package embedcache memoizes embeddings in a bounded LRU in front of any
// embedder.
package embedcache

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/grounded-rag/internal/core/ports"
)

const DefaultSize = 4096

type Embedder struct {
	inner  ports.Embedder
	cache  *lru.Cache[string, []float32]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New wraps inner with a cache of size entries; size <= 0 uses DefaultSize.
func New(inner ports.Embedder, size int) (*Embedder, error) {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Embedder{inner: inner, cache: cache}, nil
}

// Embed serves cached vectors and forwards only the misses, in one batch.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missing []string
	pending := make(map[string][]int)
	for i, text := range texts {
		if v, ok := e.cache.Get(documentKey(text)); ok {
			e.hits.Add(1)
			out[i] = v
			continue
		}
		e.misses.Add(1)
		if _, seen := pending[text]; !seen {
			missing = append(missing, text)
		}
		pending[text] = append(pending[text], i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := e.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vectors), len(missing))
	}
	for j, text := range missing {
		e.cache.Add(documentKey(text), vectors[j])
		for _, i := range pending[text] {
			out[i] = vectors[j]
		}
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(queryKey(text)); ok {
		e.hits.Add(1)
		return v, nil
	}
	e.misses.Add(1)
	v, err := e.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(queryKey(text), v)
	return v, nil
}

type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

func (e *Embedder) Stats() Stats {
	return Stats{Hits: e.hits.Load(), Misses: e.misses.Load(), Size: e.cache.Len()}
}

// Query and document embeddings live under separate keys.
func queryKey(text string) string    { return "q\x00" + text }
func documentKey(text string) string { return "d\x00" + text }
