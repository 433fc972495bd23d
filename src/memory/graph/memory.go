package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MemoryBackend keeps the graph in process. When a snapshot path is set the
// graph is loaded from it on open and written back by Flush and Close.
type MemoryBackend struct {
	mu       sync.RWMutex
	nodes    map[string]model.Node
	keys     map[string]string
	edges    map[string]model.Edge
	adjacent map[string]map[string]struct{}
	snapshot string
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns an empty in-process graph.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		nodes:    map[string]model.Node{},
		keys:     map[string]string{},
		edges:    map[string]model.Edge{},
		adjacent: map[string]map[string]struct{}{},
	}
}

// OpenMemoryBackend loads path when it exists and persists to it afterwards.
func OpenMemoryBackend(path string) (*MemoryBackend, error) {
	b := NewMemoryBackend()
	b.snapshot = path
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read graph snapshot: %w", err)
	}
	var snap graphSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode graph snapshot: %w", err)
	}
	for _, n := range snap.Nodes {
		b.putNodeLocked(n)
	}
	for _, e := range snap.Edges {
		if _, ok := b.nodes[e.From]; !ok {
			continue
		}
		if _, ok := b.nodes[e.To]; !ok {
			continue
		}
		b.putEdgeLocked(e)
	}
	return b, nil
}

type graphSnapshot struct {
	Nodes []model.Node `json:"nodes"`
	Edges []model.Edge `json:"edges"`
}

func (b *MemoryBackend) Name() string { return "memory" }

func nodeKey(kind model.GraphKind, key string) string { return string(kind) + "\x1f" + key }

func (b *MemoryBackend) PutNode(_ context.Context, n model.Node) error {
	if n.ID == "" {
		return model.NewValidationError("id", "node id is empty")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.putNodeLocked(n)
	return nil
}

func (b *MemoryBackend) putNodeLocked(n model.Node) {
	n.MemoryItem = n.MemoryItem.Clone()
	b.nodes[n.ID] = n
	if n.Key != "" {
		b.keys[nodeKey(n.Kind, n.Key)] = n.ID
	}
}

func (b *MemoryBackend) GetNode(_ context.Context, id string) (model.Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, ok := b.nodes[id]
	if !ok {
		return model.Node{}, model.NotFoundError("graph node", id)
	}
	n.MemoryItem = n.MemoryItem.Clone()
	return n, nil
}

func (b *MemoryBackend) FindByKey(ctx context.Context, kind model.GraphKind, key string) (model.Node, error) {
	b.mu.RLock()
	id, ok := b.keys[nodeKey(kind, key)]
	b.mu.RUnlock()
	if !ok {
		return model.Node{}, model.NotFoundError(string(kind), key)
	}
	return b.GetNode(ctx, id)
}

func (b *MemoryBackend) DeleteNode(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[id]
	if !ok {
		return model.NotFoundError("graph node", id)
	}
	for ek := range b.adjacent[id] {
		e := b.edges[ek]
		delete(b.edges, ek)
		if nb := other(e, id); nb != id {
			delete(b.adjacent[nb], ek)
		}
	}
	delete(b.adjacent, id)
	delete(b.nodes, id)
	if n.Key != "" {
		delete(b.keys, nodeKey(n.Kind, n.Key))
	}
	return nil
}

func (b *MemoryBackend) PutEdge(_ context.Context, e model.Edge) error {
	if err := e.Validate(); err != nil {
		return model.NewValidationError("edge", err.Error())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range []string{e.From, e.To} {
		if _, ok := b.nodes[id]; !ok {
			return model.NotFoundError("graph node", id)
		}
	}
	b.putEdgeLocked(e)
	return nil
}

func (b *MemoryBackend) putEdgeLocked(e model.Edge) {
	k := e.Key()
	if prev, ok := b.edges[k]; ok && !prev.CreatedAt.IsZero() {
		e.CreatedAt = prev.CreatedAt
	}
	e.Properties = model.CloneMetadata(e.Properties)
	b.edges[k] = e
	for _, id := range []string{e.From, e.To} {
		if b.adjacent[id] == nil {
			b.adjacent[id] = map[string]struct{}{}
		}
		b.adjacent[id][k] = struct{}{}
	}
}

func (b *MemoryBackend) Edges(_ context.Context, id string) ([]model.Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.Edge, 0, len(b.adjacent[id]))
	for k := range b.adjacent[id] {
		out = append(out, b.edges[k])
	}
	sortEdges(out)
	return out, nil
}

// Scan visits nodes in id order on a copy, so fn may call back into the backend.
func (b *MemoryBackend) Scan(_ context.Context, fn func(model.Node) bool) error {
	b.mu.RLock()
	nodes := make([]model.Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		n.MemoryItem = n.MemoryItem.Clone()
		nodes = append(nodes, n)
	}
	b.mu.RUnlock()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	for _, n := range nodes {
		if !fn(n) {
			break
		}
	}
	return nil
}

func (b *MemoryBackend) CountEdges(context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.edges), nil
}

// Flush writes the snapshot when a path is configured.
func (b *MemoryBackend) Flush() error {
	if b.snapshot == "" {
		return nil
	}
	b.mu.RLock()
	snap := graphSnapshot{Nodes: make([]model.Node, 0, len(b.nodes)), Edges: make([]model.Edge, 0, len(b.edges))}
	for _, n := range b.nodes {
		snap.Nodes = append(snap.Nodes, n)
	}
	for _, e := range b.edges {
		snap.Edges = append(snap.Edges, e)
	}
	b.mu.RUnlock()
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sortEdges(snap.Edges)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode graph snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.snapshot), 0o755); err != nil {
		return err
	}
	tmp := b.snapshot + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, b.snapshot)
}

func (b *MemoryBackend) Close() error { return b.Flush() }
