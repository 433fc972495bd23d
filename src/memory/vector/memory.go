package vector

import (
	"context"
	"sort"
	"sync"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// MemoryBackend keeps records in process and scores them by brute force.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]model.MemoryItem
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns an empty in-process store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: map[string]model.MemoryItem{}}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Put(_ context.Context, item model.MemoryItem) error {
	if item.ID == "" {
		return model.NewValidationError("id", "record id is empty")
	}
	b.mu.Lock()
	b.items[item.ID] = item.Clone()
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, id string) (model.MemoryItem, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	item, ok := b.items[id]
	if !ok {
		return model.MemoryItem{}, model.NotFoundError("vector record", id)
	}
	return item.Clone(), nil
}

func (b *MemoryBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.items[id]; !ok {
		return model.NotFoundError("vector record", id)
	}
	delete(b.items, id)
	return nil
}

func (b *MemoryBackend) Query(_ context.Context, vec []float32, threshold float64, limit int) ([]Hit, error) {
	return bruteForce(b.snapshot(), vec, threshold, limit), nil
}

func (b *MemoryBackend) Scan(_ context.Context, fn func(model.MemoryItem) bool) error {
	for _, item := range b.snapshot() {
		if !fn(item) {
			break
		}
	}
	return nil
}

func (b *MemoryBackend) Count(context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items), nil
}

func (b *MemoryBackend) Close() error { return nil }

// snapshot copies the records in id order.
func (b *MemoryBackend) snapshot() []model.MemoryItem {
	b.mu.RLock()
	out := make([]model.MemoryItem, 0, len(b.items))
	for _, item := range b.items {
		out = append(out, item.Clone())
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
