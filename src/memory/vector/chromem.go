package vector

import (
	"context"
	"errors"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// ChromemBackend pairs a chromem-go collection, used as the similarity index,
// with a catalog backend that holds the canonical records. Only embedded
// records enter the index; the catalog keeps everything.
type ChromemBackend struct {
	db      *chromem.DB
	col     *chromem.Collection
	catalog Backend
}

var _ Backend = (*ChromemBackend)(nil)

// NewChromemBackend opens a persistent chromem database at path. An empty
// path keeps the index in memory.
func NewChromemBackend(path, namespace string, catalog Backend) (*ChromemBackend, error) {
	if catalog == nil {
		return nil, errors.New("chromem backend needs a catalog")
	}
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}
	// Embeddings are always supplied, so the collection gets no embedding func.
	col, err := db.GetOrCreateCollection("locrit_"+model.Namespace(namespace), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &ChromemBackend{db: db, col: col, catalog: catalog}, nil
}

func (b *ChromemBackend) Name() string { return "chromem+" + b.catalog.Name() }

func (b *ChromemBackend) Put(ctx context.Context, item model.MemoryItem) error {
	if err := b.catalog.Put(ctx, item); err != nil {
		return err
	}
	if len(item.Embedding) == 0 {
		b.unindex(ctx, item.ID)
		return nil
	}
	doc := chromem.Document{
		ID:        item.ID,
		Content:   item.Content,
		Embedding: append([]float32(nil), item.Embedding...),
		Metadata: map[string]string{
			model.MetaVectorKind: string(model.KindOf(item)),
		},
	}
	if err := b.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (b *ChromemBackend) unindex(ctx context.Context, id string) {
	if _, err := b.col.GetByID(ctx, id); err != nil {
		return
	}
	_ = b.col.Delete(ctx, nil, nil, id)
}

func (b *ChromemBackend) Get(ctx context.Context, id string) (model.MemoryItem, error) {
	return b.catalog.Get(ctx, id)
}

func (b *ChromemBackend) Delete(ctx context.Context, id string) error {
	if err := b.catalog.Delete(ctx, id); err != nil {
		return err
	}
	b.unindex(ctx, id)
	return nil
}

// Query asks chromem for up to limit neighbours; chromem requires the result
// count not to exceed the collection size.
func (b *ChromemBackend) Query(ctx context.Context, vec []float32, threshold float64, limit int) ([]Hit, error) {
	n := limit
	if size := b.col.Count(); size < n {
		n = size
	}
	if n <= 0 {
		return nil, nil
	}
	results, err := b.col.QueryEmbedding(ctx, model.Normalize(vec), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		score := (float64(r.Similarity) + 1) / 2
		if score < threshold {
			continue
		}
		item, err := b.catalog.Get(ctx, r.ID)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{Item: item, Score: score})
	}
	return rankHits(hits, limit), nil
}

func (b *ChromemBackend) Scan(ctx context.Context, fn func(model.MemoryItem) bool) error {
	return b.catalog.Scan(ctx, fn)
}

func (b *ChromemBackend) Count(ctx context.Context) (int, error) {
	return b.catalog.Count(ctx)
}

// Indexed reports how many records are in the similarity index.
func (b *ChromemBackend) Indexed() int { return b.col.Count() }

func (b *ChromemBackend) Close() error { return b.catalog.Close() }
