package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// TimeoutEmbedder bounds every call of the wrapped embedder.
type TimeoutEmbedder struct {
	inner   Embedder
	timeout time.Duration
}

// WithTimeout wraps e; a non-positive timeout returns e unchanged.
func WithTimeout(e Embedder, timeout time.Duration) Embedder {
	if e == nil || timeout <= 0 {
		return e
	}
	return &TimeoutEmbedder{inner: e, timeout: timeout}
}

func (t *TimeoutEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		vec []float32
		err error
	}
	done := make(chan result, 1)
	go func() {
		vec, err := t.inner.Embed(ctx, text)
		done <- result{vec, err}
	}()
	select {
	case r := <-done:
		return r.vec, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("embed after %s: %w", t.timeout, ctx.Err())
	}
}

// CachedEmbedder memoizes vectors by text in a ristretto cache. Writes are
// admitted asynchronously, so a call right after a miss may miss again.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// WithCache wraps e with a cache holding roughly size vectors.
func WithCache(e Embedder, size int) (Embedder, error) {
	if e == nil || size <= 0 {
		return e, nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(size) * 10,
		MaxCost:     int64(size),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embed cache: %w", err)
	}
	return &CachedEmbedder{inner: e, cache: cache}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return append([]float32(nil), vec...), nil
		}
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, append([]float32(nil), vec...), 1)
	return vec, nil
}

// Wait blocks until pending cache writes are applied.
func (c *CachedEmbedder) Wait() { c.cache.Wait() }

func (c *CachedEmbedder) Close() error {
	c.cache.Close()
	return nil
}
