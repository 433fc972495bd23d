package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T) (*Service, *MemoryBackend, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	backend := NewMemoryBackend()
	opts := DefaultOptions()
	opts.Clock = clock.Now
	return New(backend, opts), backend, clock
}

func storeItem(t *testing.T, s *Service, content string, importance float64, meta map[string]any) string {
	t.Helper()
	item := model.MemoryItem{Content: content, Importance: importance, Metadata: meta}
	id, err := s.Store(context.Background(), item)
	if err != nil {
		t.Fatalf("store %q: %v", content, err)
	}
	return id
}

func edgesOfType(t *testing.T, b Backend, id string, typ model.EdgeType) []model.Edge {
	t.Helper()
	edges, err := b.Edges(context.Background(), id)
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	var out []model.Edge
	for _, e := range edges {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestServiceNotInitialized(t *testing.T) {
	var s *Service
	if _, err := s.Store(context.Background(), model.MemoryItem{Content: "x"}); !errors.Is(err, model.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := New(nil, Options{}).Search(context.Background(), "x", 1, Filters{}); !errors.Is(err, model.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestStoreRejectsInvalidItems(t *testing.T) {
	s, _, _ := newTestService(t)
	if _, err := s.Store(context.Background(), model.MemoryItem{Content: "   "}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := s.Store(context.Background(), model.MemoryItem{Content: "x", Importance: 1.5}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStoreMessageBuildsConversationChain(t *testing.T) {
	s, backend, clock := newTestService(t)
	meta := func() map[string]any { return map[string]any{"session_id": "s1", "user_id": "u1"} }
	m1 := storeItem(t, s, "hello there", 0.5, meta())
	clock.Advance(time.Second)
	m2 := storeItem(t, s, "how are you", 0.5, meta())
	clock.Advance(time.Second)
	m3 := storeItem(t, s, "fine thanks", 0.5, meta())

	if got := edgesOfType(t, backend, m2, model.EdgeRespondsTo); len(got) != 2 {
		t.Fatalf("expected m2 to have two RESPONDS_TO edges (in and out), got %v", got)
	}
	out := edgesOfType(t, backend, m3, model.EdgeRespondsTo)
	if len(out) != 1 || out[0].From != m3 || out[0].To != m2 {
		t.Fatalf("expected m3 -> m2, got %v", out)
	}
	first := edgesOfType(t, backend, m1, model.EdgeRespondsTo)
	if len(first) != 1 || first[0].From != m2 {
		t.Fatalf("first message must not respond to anything, got %v", first)
	}

	session, err := backend.FindByKey(context.Background(), model.GraphKindSession, "s1")
	if err != nil {
		t.Fatalf("session node: %v", err)
	}
	if parts := edgesOfType(t, backend, session.ID, model.EdgePartOf); len(parts) != 3 {
		t.Fatalf("expected 3 PART_OF edges, got %d", len(parts))
	}
	user, err := backend.FindByKey(context.Background(), model.GraphKindUser, "u1")
	if err != nil {
		t.Fatalf("user node: %v", err)
	}
	if sent := edgesOfType(t, backend, user.ID, model.EdgeSent); len(sent) != 3 {
		t.Fatalf("expected 3 SENT edges, got %d", len(sent))
	}

	n, _ := backend.GetNode(context.Background(), m1)
	if n.Metadata[model.MetaRole] != "user" {
		t.Fatalf("expected default role user, got %v", n.Metadata[model.MetaRole])
	}
}

func TestStoreMessageChainWithTiedTimestamps(t *testing.T) {
	s, backend, _ := newTestService(t)
	meta := func() map[string]any { return map[string]any{"session_id": "s1"} }
	ids := make([]string, 4)
	for i, content := range []string{"one", "two", "three", "four"} {
		ids[i] = storeItem(t, s, content, 0.5, meta())
	}
	for i := 1; i < len(ids); i++ {
		var out []model.Edge
		for _, e := range edgesOfType(t, backend, ids[i], model.EdgeRespondsTo) {
			if e.From == ids[i] {
				out = append(out, e)
			}
		}
		if len(out) != 1 || out[0].To != ids[i-1] {
			t.Fatalf("message %d should reply to message %d, got %v", i, i-1, out)
		}
		prev, _ := backend.GetNode(context.Background(), ids[i-1])
		cur, _ := backend.GetNode(context.Background(), ids[i])
		if !cur.CreatedAt.After(prev.CreatedAt) {
			t.Fatalf("timestamps must increase along the chain: %v then %v", prev.CreatedAt, cur.CreatedAt)
		}
	}
}

func TestStoreMessageExplicitReply(t *testing.T) {
	s, backend, clock := newTestService(t)
	m1 := storeItem(t, s, "question", 0.5, map[string]any{"session_id": "s1"})
	clock.Advance(time.Second)
	storeItem(t, s, "aside", 0.5, map[string]any{"session_id": "s1"})
	clock.Advance(time.Second)
	reply := storeItem(t, s, "answer", 0.5, map[string]any{"session_id": "s1", "reply_to": m1})

	out := edgesOfType(t, backend, reply, model.EdgeRespondsTo)
	if len(out) != 1 || out[0].To != m1 {
		t.Fatalf("expected reply to link to m1, got %v", out)
	}

	orphan := storeItem(t, s, "lost", 0.5, map[string]any{"reply_to": "missing"})
	if got := edgesOfType(t, backend, orphan, model.EdgeRespondsTo); len(got) != 0 {
		t.Fatalf("missing reply target must not be linked, got %v", got)
	}
}

func TestConceptsMergeByIdentityKey(t *testing.T) {
	s, backend, _ := newTestService(t)
	a := storeItem(t, s, "I am tired", 0.4, map[string]any{"concepts": []string{"Work Stress"}, "confidence": 0.6})
	b := storeItem(t, s, "deadline again", 0.7, map[string]any{"concepts": []any{"work  stress!"}, "confidence": 0.9})

	concept, err := backend.FindByKey(context.Background(), model.GraphKindConcept, "work_stress")
	if err != nil {
		t.Fatalf("concept: %v", err)
	}
	if concept.Confidence() != 0.9 {
		t.Fatalf("expected merged confidence 0.9, got %v", concept.Confidence())
	}
	if concept.Importance != 0.7 {
		t.Fatalf("expected merged importance 0.7, got %v", concept.Importance)
	}
	if concept.Content != "Work Stress" {
		t.Fatalf("first name must win, got %q", concept.Content)
	}
	mentions := edgesOfType(t, backend, concept.ID, model.EdgeMentions)
	if len(mentions) != 2 {
		t.Fatalf("expected 2 MENTIONS edges, got %d", len(mentions))
	}
	seen := map[string]bool{}
	for _, e := range mentions {
		seen[e.From] = true
	}
	if !seen[a] || !seen[b] {
		t.Fatalf("expected mentions from both messages, got %v", mentions)
	}
	st, _ := s.Stats(context.Background())
	if st.ByKind[model.GraphKindConcept] != 1 {
		t.Fatalf("expected one concept node, got %d", st.ByKind[model.GraphKindConcept])
	}
}

func TestConceptsRespectThresholdAndCap(t *testing.T) {
	s, backend, _ := newTestService(t)
	s.opts.MaxConceptsPerMessage = 2
	storeItem(t, s, "weak", 0.5, map[string]any{"concepts": "alpha", "confidence": 0.2})
	if _, err := backend.FindByKey(context.Background(), model.GraphKindConcept, "alpha"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("low-confidence concept must be skipped, got %v", err)
	}
	msg := storeItem(t, s, "strong", 0.5, map[string]any{"concepts": "beta, gamma, delta"})
	if got := edgesOfType(t, backend, msg, model.EdgeMentions); len(got) != 2 {
		t.Fatalf("expected cap of 2 concepts, got %d", len(got))
	}
}

func TestStoreFactAndEventLinks(t *testing.T) {
	s, backend, clock := newTestService(t)
	src := storeItem(t, s, "we talked about Paris", 0.5, map[string]any{"session_id": "s1"})
	fact := storeItem(t, s, "Paris is the capital of France", 0.8, map[string]any{
		"graph_kind": "fact", "subject": "Paris", "predicate": "capital_of", "object": "France", "source_id": src,
	})
	contains := edgesOfType(t, backend, fact, model.EdgeContainsFact)
	if len(contains) != 1 || contains[0].From != src {
		t.Fatalf("expected CONTAINS_FACT from source, got %v", contains)
	}
	n, _ := backend.GetNode(context.Background(), fact)
	if f := model.FactOf(n); f.Subject != "Paris" || f.Object != "France" {
		t.Fatalf("unexpected triple %+v", f)
	}

	e1 := storeItem(t, s, "Arrived in Paris after a long train ride through the countryside", 0.5, map[string]any{"graph_kind": "event", "session_id": "s1"})
	clock.Advance(time.Minute)
	e2 := storeItem(t, s, "Visited the Louvre", 0.5, map[string]any{"graph_kind": "event", "session_id": "s1", "source_id": src})
	follows := edgesOfType(t, backend, e1, model.EdgeFollowedBy)
	if len(follows) != 1 || follows[0].To != e2 {
		t.Fatalf("expected e1 FOLLOWED_BY e2, got %v", follows)
	}
	if triggers := edgesOfType(t, backend, e2, model.EdgeTriggersEvent); len(triggers) != 1 {
		t.Fatalf("expected TRIGGERS_EVENT edge, got %v", triggers)
	}
	ev, _ := backend.GetNode(context.Background(), e1)
	if name := model.StringFromAny(ev.Metadata[model.MetaEventName]); len([]rune(name)) != 60 {
		t.Fatalf("expected event name truncated to 60 runes, got %q", name)
	}
	if ev.Metadata[model.MetaOccurredAt] != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected occurred_at %v", ev.Metadata[model.MetaOccurredAt])
	}
}

func TestCreateRelationshipIntegrity(t *testing.T) {
	s, backend, _ := newTestService(t)
	a := storeItem(t, s, "a", 0.5, map[string]any{"graph_kind": "fact"})
	b := storeItem(t, s, "b", 0.5, map[string]any{"graph_kind": "fact"})

	ok, err := s.CreateRelationship(context.Background(), a, "ghost", model.EdgeRelatesTo, nil)
	if ok || !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got ok=%v err=%v", ok, err)
	}
	if n, _ := backend.CountEdges(context.Background()); n != 0 {
		t.Fatalf("no edge may be written for a missing endpoint, got %d", n)
	}
	if _, err := s.CreateRelationship(context.Background(), a, a, model.EdgeRelatesTo, nil); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected self link rejection, got %v", err)
	}
	if _, err := s.CreateRelationship(context.Background(), a, b, "LOVES", nil); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected unknown type rejection, got %v", err)
	}
	ok, err = s.CreateRelationship(context.Background(), a, b, "relates_to", map[string]any{"weight": 0.25, "why": "test"})
	if !ok || err != nil {
		t.Fatalf("create relationship: ok=%v err=%v", ok, err)
	}
	edges := edgesOfType(t, backend, a, model.EdgeRelatesTo)
	if len(edges) != 1 || edges[0].Weight != 0.25 || edges[0].Properties["why"] != "test" {
		t.Fatalf("unexpected edge %+v", edges)
	}
	// Creating the same edge again merges it.
	if _, err := s.CreateRelationship(context.Background(), a, b, model.EdgeRelatesTo, nil); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if n, _ := backend.CountEdges(context.Background()); n != 1 {
		t.Fatalf("expected merged edge, got %d", n)
	}
}

func chain(t *testing.T, s *Service, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = storeItem(t, s, string(rune('a'+i)), 0.5, map[string]any{"graph_kind": "fact"})
	}
	for i := 0; i+1 < n; i++ {
		if _, err := s.CreateRelationship(context.Background(), ids[i], ids[i+1], model.EdgeRelatesTo, nil); err != nil {
			t.Fatalf("link: %v", err)
		}
	}
	return ids
}

func TestGetRelatedDepthAndTypes(t *testing.T) {
	s, _, _ := newTestService(t)
	ids := chain(t, s, 5)

	res, err := s.GetRelated(context.Background(), ids[0], nil, 2)
	if err != nil {
		t.Fatalf("get related: %v", err)
	}
	if len(res) != 2 || res[0].Item.ID != ids[1] || res[1].Item.ID != ids[2] {
		t.Fatalf("unexpected results %+v", res)
	}
	if res[0].RelevanceScore != 1 || res[1].RelevanceScore != 0.5 {
		t.Fatalf("unexpected relevance %v %v", res[0].RelevanceScore, res[1].RelevanceScore)
	}

	capped, _ := s.GetRelated(context.Background(), ids[0], nil, 10)
	if len(capped) != 3 {
		t.Fatalf("depth must be capped at 3, got %d results", len(capped))
	}

	none, _ := s.GetRelated(context.Background(), ids[0], []model.EdgeType{model.EdgeMentions}, 3)
	if len(none) != 0 {
		t.Fatalf("type filter ignored: %+v", none)
	}
	if _, err := s.GetRelated(context.Background(), "ghost", nil, 1); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetNetworkDeduplicates(t *testing.T) {
	s, _, _ := newTestService(t)
	ids := chain(t, s, 4)
	// Close a triangle a-b-c so c is reachable along two paths.
	if _, err := s.CreateRelationship(context.Background(), ids[0], ids[2], model.EdgeRelatesTo, nil); err != nil {
		t.Fatalf("link: %v", err)
	}
	net, err := s.GetNetwork(context.Background(), ids[0], 1)
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	if len(net.Nodes) != 3 {
		t.Fatalf("expected 3 distinct nodes, got %d", len(net.Nodes))
	}
	seen := map[string]bool{}
	for _, n := range net.Nodes {
		if seen[n.ID] {
			t.Fatalf("duplicate node %s", n.ID)
		}
		seen[n.ID] = true
	}
	if len(net.Edges) != 3 {
		t.Fatalf("expected the 3 triangle edges, got %v", net.Edges)
	}
	for _, e := range net.Edges {
		if !seen[e.From] || !seen[e.To] {
			t.Fatalf("edge leaves the network: %+v", e)
		}
	}
	if net.Nodes[0].ID != ids[0] {
		t.Fatalf("center must come first")
	}
}

func TestSearchRanking(t *testing.T) {
	s, _, _ := newTestService(t)
	fact := storeItem(t, s, "Paris is the capital of France", 0.8, map[string]any{"graph_kind": "fact"})
	storeItem(t, s, "France has great cheese", 0.5, nil)
	storeItem(t, s, "Nothing related", 0.5, nil)

	res, err := s.Search(context.Background(), "capital of France", 10, Filters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(res))
	}
	if res[0].Item.ID != fact || res[0].RelevanceScore != 1 {
		t.Fatalf("phrase match must rank first: %+v", res[0])
	}
	if res[0].Source != model.SourceGraph {
		t.Fatalf("expected graph source")
	}
	facts, _ := s.Search(context.Background(), "France", 10, Filters{Kinds: []model.GraphKind{model.GraphKindFact}})
	if len(facts) != 1 {
		t.Fatalf("kind filter ignored: %d", len(facts))
	}
	if _, err := s.Search(context.Background(), "  ", 10, Filters{}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for empty query, got %v", err)
	}
}

func TestSearchConceptsOrderedByConfidence(t *testing.T) {
	s, _, _ := newTestService(t)
	storeItem(t, s, "coffee shop", 0.5, map[string]any{"graph_kind": "concept", "confidence": 0.6})
	strong := storeItem(t, s, "coffee beans", 0.5, map[string]any{"graph_kind": "concept", "confidence": 0.9})
	res, err := s.Search(context.Background(), "coffee", 1, Filters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].Item.ID != strong {
		t.Fatalf("expected most confident concept first, got %+v", res)
	}
}

func TestRetrieveTouchesMonotonically(t *testing.T) {
	s, _, clock := newTestService(t)
	id := storeItem(t, s, "remember me", 0.5, nil)
	clock.Advance(time.Hour)
	item, err := s.Retrieve(context.Background(), id)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !item.LastAccessed.Equal(clock.now) {
		t.Fatalf("expected last_accessed bumped, got %v", item.LastAccessed)
	}
	clock.Advance(-2 * time.Hour)
	item, _ = s.Retrieve(context.Background(), id)
	if item.LastAccessed.Before(item.CreatedAt) || !item.LastAccessed.Equal(clock.now.Add(2*time.Hour)) {
		t.Fatalf("last_accessed moved backwards: %v", item.LastAccessed)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	s, backend, _ := newTestService(t)
	id := storeItem(t, s, "draft", 0.5, map[string]any{"session_id": "s1"})
	content := "final"
	ok, err := s.Update(context.Background(), id, model.Fields{Content: &content, Tags: []string{"Done"}})
	if !ok || err != nil {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	n, _ := backend.GetNode(context.Background(), id)
	if n.Content != "final" || n.Kind != model.GraphKindMessage || !n.HasTag("done") {
		t.Fatalf("unexpected node after update %+v", n)
	}
	if ok, _ := s.Update(context.Background(), id, model.Fields{}); ok {
		t.Fatal("empty update must report false")
	}
	if _, err := s.Update(context.Background(), "ghost", model.Fields{Content: &content}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	ok, err = s.Delete(context.Background(), id)
	if !ok || err != nil {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if edges, _ := backend.CountEdges(context.Background()); edges != 0 {
		t.Fatalf("delete must cascade edges, %d left", edges)
	}
	if ok, err := s.Delete(context.Background(), id); ok || !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("second delete: ok=%v err=%v", ok, err)
	}
}

func TestCleanupRetention(t *testing.T) {
	s, backend, clock := newTestService(t)
	storeItem(t, s, "old chatter", 0.5, map[string]any{"session_id": "old", "user_id": "u1"})
	keep := storeItem(t, s, "never forget this", 0.9, map[string]any{"session_id": "keep"})
	weakFact := storeItem(t, s, "weak fact", 0.3, map[string]any{"graph_kind": "fact"})
	strongFact := storeItem(t, s, "strong fact", 0.7, map[string]any{"graph_kind": "fact"})
	clock.Advance(40 * 24 * time.Hour)
	fresh := storeItem(t, s, "fresh", 0.5, nil)

	removed, err := s.Cleanup(context.Background(), 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removals (message, weak fact, idle session), got %d", removed)
	}
	for _, id := range []string{keep, strongFact, fresh} {
		if _, err := backend.GetNode(context.Background(), id); err != nil {
			t.Fatalf("node %s should survive: %v", id, err)
		}
	}
	if _, err := backend.GetNode(context.Background(), weakFact); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("weak fact should be gone")
	}
	if _, err := backend.FindByKey(context.Background(), model.GraphKindSession, "old"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("idle empty session should be gone")
	}
	if _, err := backend.FindByKey(context.Background(), model.GraphKindSession, "keep"); err != nil {
		t.Fatalf("session with a critical message must stay: %v", err)
	}
	if _, err := backend.FindByKey(context.Background(), model.GraphKindUser, "u1"); err != nil {
		t.Fatalf("users are never cleaned up: %v", err)
	}

	again, _ := s.Cleanup(context.Background(), 0)
	if again != 0 {
		t.Fatalf("cleanup must be idempotent, removed %d", again)
	}
	shortWindow, _ := s.Cleanup(context.Background(), 100)
	if shortWindow != 0 {
		t.Fatalf("longer window must not remove anything, got %d", shortWindow)
	}
}
