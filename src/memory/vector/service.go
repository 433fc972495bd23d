// Package vector implements the fuzzy memory: souvenirs, impressions and
// themes kept with an embedding for similarity search.
package vector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/poqudrof/Locrits-sub000/src/concurrent"
	"github.com/poqudrof/Locrits-sub000/src/memory/decision"
	"github.com/poqudrof/Locrits-sub000/src/memory/embed"
	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// Options tunes the vector service.
type Options struct {
	Dimension           int
	SimilarityThreshold float64
	MaxMemories         int
	CleanupThreshold    float64
	Retention           model.RetentionPolicy
	EmbedTimeout        time.Duration
	Clock               func() time.Time
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Dimension:           embed.DefaultDimension,
		SimilarityThreshold: 0.7,
		MaxMemories:         10000,
		CleanupThreshold:    0.3,
		Retention:           model.RetentionPolicy{DefaultDays: 30, CriticalDays: -1, EphemeralHours: 24},
		EmbedTimeout:        10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Dimension <= 0 {
		o.Dimension = def.Dimension
	}
	if o.SimilarityThreshold < 0 || o.SimilarityThreshold > 1 {
		o.SimilarityThreshold = def.SimilarityThreshold
	}
	if o.MaxMemories <= 0 {
		o.MaxMemories = def.MaxMemories
	}
	if o.CleanupThreshold < 0 || o.CleanupThreshold > 1 {
		o.CleanupThreshold = def.CleanupThreshold
	}
	if o.Retention == (model.RetentionPolicy{}) {
		o.Retention = def.Retention
	}
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = def.EmbedTimeout
	}
	return o
}

// Service is the vector memory service.
type Service struct {
	backend  Backend
	embedder embed.Embedder
	opts     Options
	logger   *log.Logger
	clock    func() time.Time

	// themes serializes upserts of the same theme key.
	themes concurrent.KeyedMutex
}

// New builds a service over backend. A nil embedder stores every record
// unembedded and makes Search fall back to lexical matching.
func New(backend Backend, embedder embed.Embedder, opts Options) *Service {
	opts = opts.withDefaults()
	s := &Service{
		backend:  backend,
		embedder: embedder,
		opts:     opts,
		logger:   log.NewWithOptions(os.Stderr, log.Options{Prefix: "vector"}),
		clock:    opts.Clock,
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

// embed calls the embedder under the configured timeout. Vectors of the
// wrong dimension are rejected so a misconfigured provider cannot poison the
// index.
func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", model.ErrEmbedding)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
	defer cancel()

	type result struct {
		vec []float32
		err error
	}
	ch := make(chan result, 1)
	go func() {
		vec, err := s.embedder.Embed(ctx, text)
		ch <- result{vec: vec, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", model.ErrEmbedding, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrEmbedding, r.err)
		}
		if len(r.vec) != s.opts.Dimension {
			return nil, fmt.Errorf("%w: got %d dimensions, want %d", model.ErrEmbedding, len(r.vec), s.opts.Dimension)
		}
		return r.vec, nil
	}
}

// attachEmbedding embeds item.Content. On failure the item keeps no vector
// and is flagged so Reembed can pick it up later.
func (s *Service) attachEmbedding(ctx context.Context, item *model.MemoryItem) {
	vec, err := s.embed(ctx, item.Content)
	if err != nil {
		item.Embedding = nil
		item.Metadata[model.MetaEmbedded] = false
		if s.embedder != nil {
			s.logger.Warn("embedding failed, storing without vector", "id", item.ID, "err", err)
		}
		return
	}
	item.Embedding = vec
	item.Metadata[model.MetaEmbedded] = true
}

// Store classifies, embeds and writes item. Themes merge by identity key, so
// the returned id may belong to an existing record.
func (s *Service) Store(ctx context.Context, item model.MemoryItem) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if err := item.Validate(); err != nil {
		return "", err
	}
	item = item.Clone()
	now := s.now()
	if item.ID == "" {
		item.ID = uuid.NewString()
		item.CreatedAt, item.LastAccessed = now, now
	}
	if item.MemoryType == "" {
		item.MemoryType = model.MemoryTypeVector
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.LastAccessed.Before(item.CreatedAt) {
		item.LastAccessed = item.CreatedAt
	}
	item.Tags = model.NormalizeTags(item.Tags)

	kind, ok := model.ParseVectorKind(item.Metadata[model.MetaVectorKind])
	if !ok {
		kind = decision.ClassifyVectorKind(item.Content)
	}
	item.Metadata[model.MetaVectorKind] = string(kind)

	switch kind {
	case model.VectorKindTheme:
		return s.storeTheme(ctx, item)
	case model.VectorKindImpression:
		meta := item.Metadata
		sentiment := model.FloatFromAny(meta[model.MetaSentiment])
		if sentiment < -1 {
			sentiment = -1
		} else if sentiment > 1 {
			sentiment = 1
		}
		meta[model.MetaSentiment] = sentiment
		confidence := 0.5
		if c, ok := meta[model.MetaConfidence]; ok {
			confidence = model.ClampImportance(model.FloatFromAny(c))
		}
		meta[model.MetaConfidence] = confidence
	default:
		meta := item.Metadata
		if strings.TrimSpace(model.StringFromAny(meta[model.MetaEmotionalTone])) == "" {
			meta[model.MetaEmotionalTone] = "neutral"
		}
		vividness := 0.5
		if v, ok := meta[model.MetaVividness]; ok {
			vividness = model.ClampImportance(model.FloatFromAny(v))
		}
		meta[model.MetaVividness] = vividness
	}

	s.attachEmbedding(ctx, &item)
	if err := s.backend.Put(ctx, item); err != nil {
		return "", fmt.Errorf("vector store: %w", err)
	}
	s.logger.Debug("stored vector record", "id", item.ID, "kind", kind, "embedded", item.Embedding != nil)
	return item.ID, nil
}

// themeID derives a stable record id from the theme key so every backend can
// look a theme up without a secondary index.
func themeID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("locrit-theme:"+key)).String()
}

func (s *Service) storeTheme(ctx context.Context, item model.MemoryItem) (string, error) {
	name := strings.TrimSpace(model.StringFromAny(item.Metadata[model.MetaThemeName]))
	if name == "" {
		name = strings.TrimSpace(item.Content)
	}
	key := model.IdentityKey(name)
	if key == "" {
		return "", model.NewValidationError("theme_name", "theme name has no usable characters")
	}
	unlock := s.themes.Lock(key)
	defer unlock()

	id := themeID(key)
	existing, err := s.backend.Get(ctx, id)
	switch {
	case err == nil:
		meta := existing.Metadata
		count := model.IntFromAny(meta[model.MetaOccurrenceCount])
		if count < 1 {
			count = 1
		}
		meta[model.MetaOccurrenceCount] = count + 1
		strength := model.FloatFromAny(meta[model.MetaStrength]) + item.Importance
		meta[model.MetaStrength] = strength
		existing.Importance = model.ClampImportance(strength)
		existing.Tags = model.NormalizeTags(append(existing.Tags, item.Tags...))
		existing.Touch(s.now())
		if len(existing.Embedding) == 0 {
			s.attachEmbedding(ctx, &existing)
		}
		if err := s.backend.Put(ctx, existing); err != nil {
			return "", fmt.Errorf("vector merge theme: %w", err)
		}
		return existing.ID, nil
	case !errors.Is(err, model.ErrNotFound):
		return "", err
	}

	item.ID = id
	item.Metadata[model.MetaThemeName] = name
	item.Metadata[model.MetaThemeKey] = key
	item.Metadata[model.MetaOccurrenceCount] = int64(1)
	item.Metadata[model.MetaStrength] = item.Importance
	s.attachEmbedding(ctx, &item)
	if err := s.backend.Put(ctx, item); err != nil {
		return "", fmt.Errorf("vector store theme: %w", err)
	}
	return item.ID, nil
}

// Retrieve returns the record and bumps its last access time.
func (s *Service) Retrieve(ctx context.Context, id string) (*model.MemoryItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	item, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	item.Touch(s.now())
	if err := s.backend.Put(ctx, item); err != nil {
		return nil, fmt.Errorf("vector touch %s: %w", id, err)
	}
	out := item.Clone()
	return &out, nil
}

// Update mutates a record in place. New content is re-embedded.
func (s *Service) Update(ctx context.Context, id string, fields model.Fields) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	item, err := s.backend.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if fields.Empty() {
		return false, nil
	}
	before := item.Content
	kind := model.KindOf(item)
	if err := fields.Apply(&item, s.now()); err != nil {
		return false, err
	}
	item.Metadata[model.MetaVectorKind] = string(kind)
	if item.Content != before || len(item.Embedding) == 0 {
		s.attachEmbedding(ctx, &item)
	}
	if err := s.backend.Put(ctx, item); err != nil {
		return false, fmt.Errorf("vector update %s: %w", id, err)
	}
	return true, nil
}

// Delete removes a record.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if err := s.backend.Delete(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// Stats summarizes the vector contents.
type Stats struct {
	Backend   string                   `json:"backend"`
	Total     int                      `json:"total"`
	Embedded  int                      `json:"embedded"`
	ByKind    map[model.VectorKind]int `json:"by_kind"`
	Dimension int                      `json:"dimension"`
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	if err := s.ready(); err != nil {
		return Stats{}, err
	}
	st := Stats{Backend: s.backend.Name(), ByKind: map[model.VectorKind]int{}, Dimension: s.opts.Dimension}
	err := s.backend.Scan(ctx, func(item model.MemoryItem) bool {
		st.Total++
		if len(item.Embedding) > 0 {
			st.Embedded++
		}
		st.ByKind[model.KindOf(item)]++
		return true
	})
	if err != nil {
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
