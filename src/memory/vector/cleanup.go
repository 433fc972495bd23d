package vector

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// CleanupStats reports what a vector cleanup removed.
type CleanupStats struct {
	Expired int `json:"expired"`
	Evicted int `json:"evicted"`
}

// Removed is the total number of deleted records.
func (c CleanupStats) Removed() int { return c.Expired + c.Evicted }

// Cleanup removes records past their retention window whose importance is
// below the cleanup threshold, then evicts the lowest-value records until at
// most MaxMemories remain. retentionDays <= 0 keeps the configured window.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (CleanupStats, error) {
	if err := s.ready(); err != nil {
		return CleanupStats{}, err
	}
	policy := s.opts.Retention.WithDefaultDays(retentionDays)
	now := s.now()

	var expired []string
	var survivors []candidate
	err := s.backend.Scan(ctx, func(item model.MemoryItem) bool {
		if item.Importance < s.opts.CleanupThreshold && policy.Expired(item, now) {
			expired = append(expired, item.ID)
			return true
		}
		survivors = append(survivors, candidate{id: item.ID, score: pruneScore(item, now)})
		return true
	})
	if err != nil {
		return CleanupStats{}, fmt.Errorf("vector scan: %w", err)
	}

	var stats CleanupStats
	for _, id := range expired {
		if err := s.backend.Delete(ctx, id); err != nil && !errors.Is(err, model.ErrNotFound) {
			return stats, fmt.Errorf("vector cleanup %s: %w", id, err)
		}
		stats.Expired++
	}

	for _, id := range evictions(survivors, len(survivors)-s.opts.MaxMemories) {
		if err := s.backend.Delete(ctx, id); err != nil && !errors.Is(err, model.ErrNotFound) {
			return stats, fmt.Errorf("vector evict %s: %w", id, err)
		}
		stats.Evicted++
	}
	if stats.Removed() > 0 {
		s.logger.Info("vector cleanup", "expired", stats.Expired, "evicted", stats.Evicted)
	}
	return stats, nil
}

// pruneScore grows with age and shrinks with importance; the largest scores
// are evicted first.
func pruneScore(item model.MemoryItem, now time.Time) float64 {
	ageHours := item.Age(now).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return (ageHours + 1) * (1 - item.Importance)
}

// evictions picks the overflow candidates with the largest prune scores.
func evictions(cands []candidate, overflow int) []string {
	if overflow <= 0 {
		return nil
	}
	h := make(minHeap, 0, overflow)
	heap.Init(&h)
	for _, c := range cands {
		if h.Len() < overflow {
			heap.Push(&h, c)
		} else if h.beats(c) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	out := make([]string, 0, h.Len())
	for h.Len() > 0 {
		out = append(out, heap.Pop(&h).(candidate).id)
	}
	return out
}

type candidate struct {
	id    string
	score float64
}

// minHeap keeps the K largest scores with the smallest on top. Equal scores
// order by id so eviction is deterministic.
type minHeap []candidate

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].id > h[j].id
}
func (h minHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)   { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// beats reports whether c should replace the current minimum.
func (h minHeap) beats(c candidate) bool {
	top := h[0]
	if c.score != top.score {
		return c.score > top.score
	}
	return c.id < top.id
}

// Reembed retries the embedder for records stored without a vector. It
// returns how many records gained an embedding. limit <= 0 means no limit.
func (s *Service) Reembed(ctx context.Context, limit int) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if s.embedder == nil {
		return 0, fmt.Errorf("%w: no embedder configured", model.ErrEmbedding)
	}
	var pending []string
	err := s.backend.Scan(ctx, func(item model.MemoryItem) bool {
		if len(item.Embedding) == 0 {
			pending = append(pending, item.ID)
		}
		return limit <= 0 || len(pending) < limit
	})
	if err != nil {
		return 0, fmt.Errorf("vector scan: %w", err)
	}

	done := 0
	for _, id := range pending {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		item, err := s.backend.Get(ctx, id)
		if err != nil {
			continue
		}
		s.attachEmbedding(ctx, &item)
		if len(item.Embedding) == 0 {
			continue
		}
		if err := s.backend.Put(ctx, item); err != nil {
			return done, fmt.Errorf("vector reembed %s: %w", id, err)
		}
		done++
	}
	return done, nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
