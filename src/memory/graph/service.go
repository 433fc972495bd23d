// Package graph implements the structured memory: messages, facts, events and
// concepts stored as nodes joined by typed edges.
package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/poqudrof/Locrits-sub000/src/concurrent"
	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// Options tunes the graph service.
type Options struct {
	MaxRelationshipDepth       int
	MaxConceptsPerMessage      int
	ConceptConfidenceThreshold float64
	Retention                  model.RetentionPolicy
	Clock                      func() time.Time
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxRelationshipDepth:       3,
		MaxConceptsPerMessage:      10,
		ConceptConfidenceThreshold: 0.5,
		Retention:                  model.RetentionPolicy{DefaultDays: 30, CriticalDays: -1, EphemeralHours: 24},
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxRelationshipDepth <= 0 {
		o.MaxRelationshipDepth = def.MaxRelationshipDepth
	}
	if o.MaxConceptsPerMessage < 0 {
		o.MaxConceptsPerMessage = 0
	}
	if o.ConceptConfidenceThreshold < 0 || o.ConceptConfidenceThreshold > 1 {
		o.ConceptConfidenceThreshold = def.ConceptConfidenceThreshold
	}
	if o.Retention == (model.RetentionPolicy{}) {
		o.Retention = def.Retention
	}
	return o
}

// Service is the graph memory service.
type Service struct {
	backend Backend
	opts    Options
	logger  *log.Logger
	clock   func() time.Time

	// chains serializes writes extending the same session's reply or event chain.
	chains concurrent.KeyedMutex
	// merges serializes merge-by-identity upserts.
	merges concurrent.KeyedMutex
}

// New builds a service over backend.
func New(backend Backend, opts Options) *Service {
	opts = opts.withDefaults()
	s := &Service{
		backend: backend,
		opts:    opts,
		logger:  log.NewWithOptions(os.Stderr, log.Options{Prefix: "graph"}),
		clock:   opts.Clock,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// WithLogger overrides the default logger.
func (s *Service) WithLogger(logger *log.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Backend exposes the storage variant in use.
func (s *Service) Backend() Backend { return s.backend }

func (s *Service) now() time.Time { return s.clock().UTC() }

func (s *Service) ready() error {
	if s == nil || s.backend == nil {
		return model.ErrNotInitialized
	}
	return nil
}

// Store writes item routed by its graph_kind metadata and returns the id of
// the node holding it. Merging kinds may return the id of an existing node.
func (s *Service) Store(ctx context.Context, item model.MemoryItem) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if err := item.Validate(); err != nil {
		return "", err
	}
	item = item.Clone()
	if item.ID == "" {
		fresh := model.NewMemoryItem(item.Content, item.MemoryType, item.Importance, s.now())
		item.ID, item.CreatedAt, item.LastAccessed = fresh.ID, fresh.CreatedAt, fresh.LastAccessed
	}
	if item.MemoryType == "" {
		item.MemoryType = model.MemoryTypeGraph
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	if item.LastAccessed.Before(item.CreatedAt) {
		item.LastAccessed = item.CreatedAt
	}
	item.Tags = model.NormalizeTags(item.Tags)
	kind := model.ParseGraphKind(item.Metadata[model.MetaGraphKind])
	item.Metadata[model.MetaGraphKind] = string(kind)

	var (
		id  string
		err error
	)
	switch kind {
	case model.GraphKindFact:
		id, err = s.storeFact(ctx, item)
	case model.GraphKindEvent:
		id, err = s.storeEvent(ctx, item)
	case model.GraphKindConcept:
		name := conceptName(item)
		id, err = s.mergeConcept(ctx, name, item)
	case model.GraphKindSession, model.GraphKindUser:
		key := strings.TrimSpace(model.StringFromAny(item.Metadata[string(kind)+"_id"]))
		if key == "" {
			key = strings.TrimSpace(item.Content)
		}
		var n model.Node
		n, err = s.ensureNode(ctx, kind, key, &item)
		id = n.ID
	default:
		id, err = s.storeMessage(ctx, item)
	}
	if err != nil {
		return "", err
	}
	s.logger.Debug("stored graph node", "id", id, "kind", kind)
	return id, nil
}

// Retrieve returns the node content and bumps its last access time.
func (s *Service) Retrieve(ctx context.Context, id string) (*model.MemoryItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	n, err := s.backend.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	n.Touch(s.now())
	if err := s.backend.PutNode(ctx, n); err != nil {
		return nil, fmt.Errorf("graph touch %s: %w", id, err)
	}
	item := n.MemoryItem.Clone()
	return &item, nil
}

// Node returns the full node, kind and key included, without touching it.
func (s *Service) Node(ctx context.Context, id string) (model.Node, error) {
	if err := s.ready(); err != nil {
		return model.Node{}, err
	}
	return s.backend.GetNode(ctx, id)
}

// Update mutates a node in place. The id, kind and identity key never change.
func (s *Service) Update(ctx context.Context, id string, fields model.Fields) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	n, err := s.backend.GetNode(ctx, id)
	if err != nil {
		return false, err
	}
	if fields.Empty() {
		return false, nil
	}
	if err := fields.Apply(&n.MemoryItem, s.now()); err != nil {
		return false, err
	}
	n.Metadata[model.MetaGraphKind] = string(n.Kind)
	if err := s.backend.PutNode(ctx, n); err != nil {
		return false, fmt.Errorf("graph update %s: %w", id, err)
	}
	return true, nil
}

// Delete removes a node and the edges it owns.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if err := s.backend.DeleteNode(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// CreateRelationship links two existing nodes. A missing endpoint yields
// false and an error wrapping model.ErrNotFound; no edge is written.
func (s *Service) CreateRelationship(ctx context.Context, from, to string, edgeType model.EdgeType, props map[string]any) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	t, err := model.ParseEdgeType(string(edgeType))
	if err != nil {
		return false, err
	}
	if from == to {
		return false, model.NewValidationError("to", "self relationships are not allowed")
	}
	for _, id := range []string{from, to} {
		if _, err := s.backend.GetNode(ctx, id); err != nil {
			return false, err
		}
	}
	props = model.CloneMetadata(props)
	weight := 1.0
	if w, ok := props["weight"]; ok {
		weight = model.FloatFromAny(w)
		delete(props, "weight")
	}
	if err := s.link(ctx, from, to, t, weight, props); err != nil {
		return false, err
	}
	return true, nil
}

// Stats summarizes the graph contents.
type Stats struct {
	Backend string                  `json:"backend"`
	Nodes   int                     `json:"nodes"`
	Edges   int                     `json:"edges"`
	ByKind  map[model.GraphKind]int `json:"by_kind"`
}

// Stats counts nodes per kind and edges.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	if err := s.ready(); err != nil {
		return Stats{}, err
	}
	st := Stats{Backend: s.backend.Name(), ByKind: map[model.GraphKind]int{}}
	err := s.backend.Scan(ctx, func(n model.Node) bool {
		st.Nodes++
		st.ByKind[n.Kind]++
		return true
	})
	if err != nil {
		return Stats{}, err
	}
	if st.Edges, err = s.backend.CountEdges(ctx); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Close releases the backend.
func (s *Service) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

func (s *Service) link(ctx context.Context, from, to string, t model.EdgeType, weight float64, props map[string]any) error {
	e := model.Edge{From: from, To: to, Type: t, Weight: weight, Properties: props, CreatedAt: s.now()}
	if err := s.backend.PutEdge(ctx, e); err != nil {
		return fmt.Errorf("graph link %s -[%s]-> %s: %w", from, t, to, err)
	}
	return nil
}

func isNotFound(err error) bool { return errors.Is(err, model.ErrNotFound) }
