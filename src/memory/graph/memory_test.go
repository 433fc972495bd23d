package graph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

func TestMemoryBackendSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent", "graph.json")
	b, err := OpenMemoryBackend(path)
	if err != nil {
		t.Fatalf("open empty: %v", err)
	}
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := model.Node{MemoryItem: model.NewMemoryItem("a", model.MemoryTypeGraph, 0.5, now), Kind: model.GraphKindConcept, Key: "a"}
	c := model.Node{MemoryItem: model.NewMemoryItem("c", model.MemoryTypeGraph, 0.5, now), Kind: model.GraphKindFact}
	for _, n := range []model.Node{a, c} {
		if err := b.PutNode(ctx, n); err != nil {
			t.Fatalf("put node: %v", err)
		}
	}
	if err := b.PutEdge(ctx, model.Edge{From: c.ID, To: a.ID, Type: model.EdgeMentions, Weight: 0.8, CreatedAt: now}); err != nil {
		t.Fatalf("put edge: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 snapshot, got %v", info.Mode().Perm())
	}

	reopened, err := OpenMemoryBackend(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.FindByKey(ctx, model.GraphKindConcept, "a")
	if err != nil || got.ID != a.ID {
		t.Fatalf("identity index not restored: %v %+v", err, got)
	}
	edges, _ := reopened.Edges(ctx, a.ID)
	if len(edges) != 1 || edges[0].Weight != 0.8 || !edges[0].CreatedAt.Equal(now) {
		t.Fatalf("edge not restored: %+v", edges)
	}
}

func TestMemoryBackendRejectsDanglingEdges(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	if err := b.PutNode(ctx, model.Node{MemoryItem: model.MemoryItem{ID: "x", Content: "x"}}); err != nil {
		t.Fatalf("put node: %v", err)
	}
	err := b.PutEdge(ctx, model.Edge{From: "x", To: "y", Type: model.EdgeRelatesTo})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if n, _ := b.CountEdges(ctx); n != 0 {
		t.Fatalf("dangling edge stored")
	}
}

func TestMemoryBackendKeepsFirstEdgeTimestamp(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	for _, id := range []string{"x", "y"} {
		_ = b.PutNode(ctx, model.Node{MemoryItem: model.MemoryItem{ID: id, Content: id}})
	}
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = b.PutEdge(ctx, model.Edge{From: "x", To: "y", Type: model.EdgeRelatesTo, Weight: 1, CreatedAt: first})
	_ = b.PutEdge(ctx, model.Edge{From: "x", To: "y", Type: model.EdgeRelatesTo, Weight: 2, CreatedAt: first.Add(time.Hour)})
	edges, _ := b.Edges(ctx, "x")
	if len(edges) != 1 || edges[0].Weight != 2 || !edges[0].CreatedAt.Equal(first) {
		t.Fatalf("unexpected merged edge %+v", edges)
	}
}

func TestMemoryBackendScanAllowsReentry(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	for _, id := range []string{"b", "a"} {
		_ = b.PutNode(ctx, model.Node{MemoryItem: model.MemoryItem{ID: id, Content: id}})
	}
	var order []string
	err := b.Scan(ctx, func(n model.Node) bool {
		order = append(order, n.ID)
		return b.DeleteNode(ctx, n.ID) == nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(order) != 2 || order[0] != "a" {
		t.Fatalf("expected id order, got %v", order)
	}
}
