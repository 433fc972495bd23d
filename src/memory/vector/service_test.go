package vector

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poqudrof/Locrits-sub000/src/memory/embed"
	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

const testDim = 64

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testOptions(clock *testClock) Options {
	opts := DefaultOptions()
	opts.Dimension = testDim
	opts.Clock = clock.Now
	return opts
}

func newTestService(t *testing.T) (*Service, *MemoryBackend, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	backend := NewMemoryBackend()
	return New(backend, embed.NewHashEmbedder(testDim), testOptions(clock)), backend, clock
}

func store(t *testing.T, s *Service, content string, importance float64, meta map[string]any) string {
	t.Helper()
	id, err := s.Store(context.Background(), model.MemoryItem{Content: content, Importance: importance, Metadata: meta})
	if err != nil {
		t.Fatalf("store %q: %v", content, err)
	}
	return id
}

// stallOnce blocks its first call until the context expires.
type stallOnce struct {
	inner embed.Embedder
	calls atomic.Int32
}

func (e *stallOnce) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.calls.Add(1) == 1 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return e.inner.Embed(ctx, text)
}

func TestServiceNotInitialized(t *testing.T) {
	var s *Service
	if _, err := s.Store(context.Background(), model.MemoryItem{Content: "x"}); !errors.Is(err, model.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := New(nil, nil, Options{}).GetThemes(context.Background(), 0); !errors.Is(err, model.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestStoreRejectsInvalidItems(t *testing.T) {
	s, _, _ := newTestService(t)
	if _, err := s.Store(context.Background(), model.MemoryItem{Content: "  "}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := s.Store(context.Background(), model.MemoryItem{Content: "x", Importance: 1.5}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStoreAppliesKindDefaults(t *testing.T) {
	s, b, _ := newTestService(t)
	ctx := context.Background()

	id := store(t, s, "I remember the trip to the lake", 0.5, nil)
	got, err := b.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if model.KindOf(got) != model.VectorKindSouvenir {
		t.Fatalf("expected souvenir, got %v", got.Metadata[model.MetaVectorKind])
	}
	if model.ToneOf(got) != "neutral" || got.Metadata[model.MetaVividness] != 0.5 {
		t.Fatalf("souvenir defaults missing: %+v", got.Metadata)
	}
	if len(got.Embedding) != testDim || got.Metadata[model.MetaEmbedded] != true {
		t.Fatalf("expected an embedded record, got %d dims", len(got.Embedding))
	}
	if got.MemoryType != model.MemoryTypeVector {
		t.Fatalf("expected vector memory type, got %q", got.MemoryType)
	}

	id = store(t, s, "I think green tea is the best", 0.5, map[string]any{model.MetaSentiment: 3.0})
	got, _ = b.Get(ctx, id)
	if model.KindOf(got) != model.VectorKindImpression {
		t.Fatalf("expected impression, got %v", got.Metadata[model.MetaVectorKind])
	}
	if got.Metadata[model.MetaSentiment] != 1.0 || got.Metadata[model.MetaConfidence] != 0.5 {
		t.Fatalf("impression defaults wrong: %+v", got.Metadata)
	}

	id = store(t, s, "I think it rains", 0.5, map[string]any{model.MetaVectorKind: "souvenir"})
	got, _ = b.Get(ctx, id)
	if model.KindOf(got) != model.VectorKindSouvenir {
		t.Fatalf("explicit kind not honoured: %v", got.Metadata[model.MetaVectorKind])
	}
}

func TestThemeObservationsMerge(t *testing.T) {
	s, b, clock := newTestService(t)
	ctx := context.Background()
	meta := func(name string) map[string]any {
		return map[string]any{model.MetaVectorKind: "theme", model.MetaThemeName: name}
	}
	first := store(t, s, "stress at work", 0.4, meta("Work Stress"))
	clock.Advance(time.Hour)
	second := store(t, s, "work stress again", 0.5, meta("work  stress!"))
	if first != second {
		t.Fatalf("expected merge into %s, got %s", first, second)
	}
	got, _ := b.Get(ctx, first)
	th := model.ThemeOf(got)
	if th.OccurrenceCount != 2 {
		t.Fatalf("expected 2 occurrences, got %d", th.OccurrenceCount)
	}
	if math.Abs(th.Strength-0.9) > 1e-9 || math.Abs(got.Importance-0.9) > 1e-9 {
		t.Fatalf("expected strength 0.9, got %v importance %v", th.Strength, got.Importance)
	}
	if th.Key != "work_stress" || th.Name != "Work Stress" {
		t.Fatalf("unexpected theme identity %+v", th)
	}
	if !got.LastAccessed.Equal(clock.Now()) {
		t.Fatalf("re-observation should touch the theme")
	}
	if n, _ := b.Count(ctx); n != 1 {
		t.Fatalf("expected a single theme record, got %d", n)
	}
}

func TestThemeConcurrentUpserts(t *testing.T) {
	s, b, _ := newTestService(t)
	ctx := context.Background()
	const n = 20
	var wg sync.WaitGroup
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.Store(ctx, model.MemoryItem{
				Content:    "always late",
				Importance: 0.1,
				Metadata:   map[string]any{model.MetaVectorKind: "theme", model.MetaThemeName: "Lateness"},
			})
			if err != nil {
				t.Errorf("store: %v", err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("concurrent observations produced different ids")
		}
	}
	got, _ := b.Get(ctx, ids[0])
	th := model.ThemeOf(got)
	if th.OccurrenceCount != n {
		t.Fatalf("expected %d occurrences, got %d", n, th.OccurrenceCount)
	}
	if math.Abs(th.Strength-2.0) > 1e-9 || got.Importance != 1 {
		t.Fatalf("expected strength 2 and clamped importance, got %v %v", th.Strength, got.Importance)
	}
}

func TestEmbeddingTimeoutStillStores(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	opts := testOptions(clock)
	opts.EmbedTimeout = 20 * time.Millisecond
	emb := &stallOnce{inner: embed.NewHashEmbedder(testDim)}
	backend := NewMemoryBackend()
	s := New(backend, emb, opts)
	ctx := context.Background()

	id := store(t, s, "the lighthouse at dusk", 0.6, nil)
	if id == "" {
		t.Fatalf("expected an id despite the timeout")
	}
	got, err := backend.Get(ctx, id)
	if err != nil {
		t.Fatalf("record missing: %v", err)
	}
	if got.Embedding != nil || got.Metadata[model.MetaEmbedded] != false {
		t.Fatalf("record should be stored without a vector")
	}
	hits, err := s.FindSimilar(ctx, "the lighthouse at dusk", 0, 10)
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("unembedded record must be invisible, got %d hits", len(hits))
	}

	n, err := s.Reembed(ctx, 0)
	if err != nil || n != 1 {
		t.Fatalf("reembed: %d %v", n, err)
	}
	hits, _ = s.FindSimilar(ctx, "the lighthouse at dusk", 0.9, 10)
	if len(hits) != 1 || hits[0].Item.ID != id {
		t.Fatalf("expected the record after reembed, got %+v", hits)
	}
}

func TestFindSimilarRanksAndTouches(t *testing.T) {
	s, b, clock := newTestService(t)
	ctx := context.Background()
	cat := store(t, s, "cats purr softly", 0.5, nil)
	store(t, s, "dogs bark loudly", 0.5, nil)
	clock.Advance(time.Hour)

	hits, err := s.FindSimilar(ctx, "cats purr softly", 0.9, 5)
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if len(hits) != 1 || hits[0].Item.ID != cat {
		t.Fatalf("expected only the cat record, got %+v", hits)
	}
	h := hits[0]
	if h.Source != model.SourceVector || h.SimilarityScore == nil || math.Abs(*h.SimilarityScore-1) > 1e-6 {
		t.Fatalf("unexpected hit %+v", h)
	}
	if h.RelevanceScore != *h.SimilarityScore {
		t.Fatalf("relevance should equal similarity")
	}
	if h.Item.Embedding != nil {
		t.Fatalf("results should not carry embeddings")
	}
	stored, _ := b.Get(ctx, cat)
	if !stored.LastAccessed.Equal(clock.Now()) {
		t.Fatalf("hit was not touched")
	}

	if _, err := s.FindSimilar(ctx, " ", 0.5, 5); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for empty query, got %v", err)
	}
}

func TestFindSimilarOrdersByRelevance(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	for _, text := range []string{"dogs bark loudly", "cats purr", "cats purr softly", "purr softly now"} {
		store(t, s, text, 0.5, nil)
	}

	hits, err := s.FindSimilar(ctx, "cats purr softly", 0, 10)
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if len(hits) != 4 {
		t.Fatalf("expected every record with threshold 0, got %d", len(hits))
	}
	if hits[0].Item.Content != "cats purr softly" {
		t.Fatalf("exact match should rank first, got %q", hits[0].Item.Content)
	}
	for i, h := range hits {
		if h.SimilarityScore == nil || h.RelevanceScore != *h.SimilarityScore {
			t.Fatalf("hit %d: relevance %v should equal similarity %v", i, h.RelevanceScore, h.SimilarityScore)
		}
		if i > 0 && h.RelevanceScore > hits[i-1].RelevanceScore {
			t.Fatalf("results not ordered by relevance at %d", i)
		}
	}
}

func TestSearchFiltersByKind(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	store(t, s, "I think the lake is the best", 0.5, nil)
	souvenir := store(t, s, "I remember the lake", 0.5, map[string]any{model.MetaVectorKind: "souvenir"})

	opts := s.opts
	opts.SimilarityThreshold = 0
	s.opts = opts
	res, err := s.Search(ctx, "lake", 10, Filters{Kinds: []model.VectorKind{model.VectorKindSouvenir}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].Item.ID != souvenir {
		t.Fatalf("expected only the souvenir, got %+v", res)
	}
}

func TestSearchFallsBackToLexicalWithoutEmbedder(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := New(NewMemoryBackend(), nil, testOptions(clock))
	ctx := context.Background()
	id := store(t, s, "Picnic by the old mill", 0.5, nil)
	store(t, s, "Quiet evening reading", 0.5, nil)

	res, err := s.Search(ctx, "old mill", 5, Filters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].Item.ID != id || res[0].RelevanceScore != 1 {
		t.Fatalf("unexpected lexical results %+v", res)
	}
	if _, err := s.FindSimilar(ctx, "old mill", 0.5, 5); !errors.Is(err, model.ErrEmbedding) {
		t.Fatalf("similarity search needs an embedder, got %v", err)
	}
}

func TestGetClusters(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	souvenir := map[string]any{model.MetaVectorKind: "souvenir"}
	store(t, s, "one", 0.2, souvenir)
	store(t, s, "two", 0.4, souvenir)
	store(t, s, "three", 0.6, souvenir)
	store(t, s, "sunny beach", 0.5, map[string]any{model.MetaVectorKind: "souvenir", model.MetaEmotionalTone: "Joyful"})
	store(t, s, "opinion", 0.5, map[string]any{model.MetaVectorKind: "impression"})

	clusters, err := s.GetClusters(ctx, 2)
	if err != nil {
		t.Fatalf("clusters: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}
	top := clusters[0]
	if top.Key != "souvenir:neutral" || top.Size != 3 || math.Abs(top.AverageImportance-0.4) > 1e-9 || len(top.MemoryIDs) != 3 {
		t.Fatalf("unexpected top cluster %+v", top)
	}
	if clusters[1].Key != "impression:neutral" {
		t.Fatalf("ties should order by key, got %s", clusters[1].Key)
	}
	all, _ := s.GetClusters(ctx, 0)
	if len(all) != 3 || all[2].Key != "souvenir:joyful" {
		t.Fatalf("unexpected cluster list %+v", all)
	}
}

func TestGetThemesWithinTimeframe(t *testing.T) {
	s, _, clock := newTestService(t)
	ctx := context.Background()
	theme := func(name string) map[string]any {
		return map[string]any{model.MetaVectorKind: "theme", model.MetaThemeName: name}
	}
	store(t, s, "old habit", 0.9, theme("Gardening"))
	clock.Advance(10 * 24 * time.Hour)
	store(t, s, "new habit", 0.3, theme("Running"))
	store(t, s, "new habit", 0.3, theme("Running"))

	recent, err := s.GetThemes(ctx, 7)
	if err != nil {
		t.Fatalf("themes: %v", err)
	}
	if len(recent) != 1 || recent[0].Key != "running" || recent[0].OccurrenceCount != 2 {
		t.Fatalf("unexpected recent themes %+v", recent)
	}
	all, _ := s.GetThemes(ctx, 0)
	if len(all) != 2 || all[0].Key != "gardening" {
		t.Fatalf("expected strength ordering, got %+v", all)
	}
}

func TestCleanupRemovesStaleUnimportantRecords(t *testing.T) {
	s, b, clock := newTestService(t)
	ctx := context.Background()
	weak := store(t, s, "a passing remark", 0.2, nil)
	kept := store(t, s, "a meaningful remark", 0.3, nil)
	clock.Advance(31 * 24 * time.Hour)

	stats, err := s.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if stats.Expired != 1 || stats.Evicted != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if _, err := b.Get(ctx, weak); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("stale record should be gone")
	}
	if _, err := b.Get(ctx, kept); err != nil {
		t.Fatalf("record at threshold must be retained: %v", err)
	}
	again, _ := s.Cleanup(ctx, 30)
	if again.Removed() != 0 {
		t.Fatalf("cleanup should be idempotent, removed %d", again.Removed())
	}
}

func TestCleanupEnforcesMaxMemories(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	opts := testOptions(clock)
	opts.MaxMemories = 2
	b := NewMemoryBackend()
	s := New(b, embed.NewHashEmbedder(testDim), opts)
	ctx := context.Background()

	low := store(t, s, "low", 0.1, nil)
	store(t, s, "mid", 0.5, nil)
	store(t, s, "high", 0.9, nil)

	stats, err := s.Cleanup(ctx, 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if stats.Evicted != 1 || stats.Expired != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if _, err := b.Get(ctx, low); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("lowest value record should be evicted")
	}
	if n, _ := b.Count(ctx); n != 2 {
		t.Fatalf("expected 2 records, got %d", n)
	}
}

func TestEvictionsPicksLargestScores(t *testing.T) {
	cands := []candidate{{"a", 1}, {"b", 5}, {"c", 3}, {"d", 5}, {"e", 0.5}}
	got := evictions(cands, 3)
	want := map[string]bool{"b": true, "c": true, "d": true}
	if len(got) != 3 {
		t.Fatalf("expected 3 evictions, got %v", got)
	}
	for _, id := range got {
		if !want[id] {
			t.Fatalf("unexpected eviction %s in %v", id, got)
		}
	}
	if evictions(cands, 0) != nil {
		t.Fatalf("no overflow means no evictions")
	}
}

func TestUpdateReembedsNewContent(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	id := store(t, s, "morning fog", 0.5, nil)
	content := "evening stars"
	ok, err := s.Update(ctx, id, model.Fields{Content: &content})
	if err != nil || !ok {
		t.Fatalf("update: %v %v", ok, err)
	}
	hits, _ := s.FindSimilar(ctx, "evening stars", 0.9, 5)
	if len(hits) != 1 || hits[0].Item.ID != id {
		t.Fatalf("updated content not searchable: %+v", hits)
	}
	if _, err := s.Update(ctx, "missing", model.Fields{Content: &content}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatsAndDelete(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	id := store(t, s, "I remember snow", 0.5, nil)
	store(t, s, "always tired on mondays", 0.5, map[string]any{model.MetaVectorKind: "theme", model.MetaThemeName: "Tiredness"})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 2 || st.Embedded != 2 || st.ByKind[model.VectorKindTheme] != 1 || st.Backend != "memory" {
		t.Fatalf("unexpected stats %+v", st)
	}
	if ok, err := s.Delete(ctx, id); err != nil || !ok {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Delete(ctx, id); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := s.Retrieve(ctx, id); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found on retrieve, got %v", err)
	}
}
