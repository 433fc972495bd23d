package vector

import (
	"context"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Hit is one similarity match. Score is the cosine similarity mapped onto
// [0,1].
type Hit struct {
	Item  model.MemoryItem
	Score float64
}

// Backend is the storage capability the vector service runs on. Records are
// plain memory items; an item without an embedding is stored but never
// returned by Query.
//
// Get and Delete of missing ids return an error wrapping model.ErrNotFound.
// Query must drop hits scoring below threshold before applying limit.
type Backend interface {
	Name() string
	Put(ctx context.Context, item model.MemoryItem) error
	Get(ctx context.Context, id string) (model.MemoryItem, error)
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, vec []float32, threshold float64, limit int) ([]Hit, error)
	Scan(ctx context.Context, fn func(model.MemoryItem) bool) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// rankHits orders by score descending, id ascending, and keeps the first limit.
func rankHits(hits []Hit, limit int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Item.ID < hits[j].Item.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// bruteForce scores every embedded item against vec. Shared by the backends
// that have no server-side index.
func bruteForce(items []model.MemoryItem, vec []float32, threshold float64, limit int) []Hit {
	var hits []Hit
	for _, item := range items {
		if len(item.Embedding) == 0 {
			continue
		}
		score := model.NormalizedSimilarity(vec, item.Embedding)
		if score < threshold {
			continue
		}
		hits = append(hits, Hit{Item: item, Score: score})
	}
	return rankHits(hits, limit)
}
