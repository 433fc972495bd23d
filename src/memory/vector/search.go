package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// Filters narrows a vector search after scoring.
type Filters struct {
	Kinds         []model.VectorKind
	Tags          []string
	MinImportance float64
}

func (f Filters) empty() bool {
	return len(f.Kinds) == 0 && len(f.Tags) == 0 && f.MinImportance <= 0
}

func (f Filters) match(item model.MemoryItem) bool {
	if len(f.Kinds) > 0 {
		kind := model.KindOf(item)
		ok := false
		for _, k := range f.Kinds {
			if k == kind {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if item.Importance < f.MinImportance {
		return false
	}
	for _, tag := range f.Tags {
		if !item.HasTag(tag) {
			return false
		}
	}
	return true
}

// FindSimilar embeds query and returns records scoring at least threshold, a
// normalized similarity in [0,1]. Unembedded records never match.
func (s *Service) FindSimilar(ctx context.Context, query string, threshold float64, limit int) ([]model.SearchResult, error) {
	return s.findSimilar(ctx, query, threshold, limit, Filters{})
}

// FindSimilarIn is FindSimilar restricted to records matching filters.
func (s *Service) FindSimilarIn(ctx context.Context, query string, threshold float64, limit int, filters Filters) ([]model.SearchResult, error) {
	return s.findSimilar(ctx, query, threshold, limit, filters)
}

func (s *Service) findSimilar(ctx context.Context, query string, threshold float64, limit int, filters Filters) ([]model.SearchResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, model.NewValidationError("query", "query must not be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	threshold = model.ClampImportance(threshold)
	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	fetch := limit
	if !filters.empty() {
		fetch = limit * 4
	}
	hits, err := s.backend.Query(ctx, vec, threshold, fetch)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	now := s.now()
	results := make([]model.SearchResult, 0, len(hits))
	for _, h := range hits {
		if !filters.match(h.Item) {
			continue
		}
		item := h.Item
		item.Touch(now)
		if err := s.backend.Put(ctx, item); err != nil {
			s.logger.Warn("vector touch failed", "id", item.ID, "err", err)
		}
		item.Embedding = nil
		results = append(results, model.SearchResult{
			Item:           item,
			RelevanceScore: h.Score,
			Rationale:      fmt.Sprintf("%s similarity %.3f", model.KindOf(item), h.Score),
			Source:         model.SourceVector,
		}.WithSimilarity(h.Score))
		if len(results) == limit {
			break
		}
	}
	model.SortByRelevance(results)
	return results, nil
}

// Search is FindSimilar at the configured threshold. Without an embedder it
// falls back to a lexical scan so the service stays usable offline.
func (s *Service) Search(ctx context.Context, query string, limit int, filters Filters) ([]model.SearchResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.embedder == nil {
		return s.lexicalSearch(ctx, query, limit, filters)
	}
	res, err := s.findSimilar(ctx, query, s.opts.SimilarityThreshold, limit, filters)
	if err != nil && !errors.Is(err, model.ErrValidation) {
		return nil, err
	}
	return res, err
}

func (s *Service) lexicalSearch(ctx context.Context, query string, limit int, filters Filters) ([]model.SearchResult, error) {
	phrase := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	if phrase == "" {
		return nil, model.NewValidationError("query", "query must not be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	terms := strings.Fields(phrase)

	var results []model.SearchResult
	err := s.backend.Scan(ctx, func(item model.MemoryItem) bool {
		if !filters.match(item) {
			return true
		}
		text := strings.ToLower(item.Content + " " + model.StringFromAny(item.Metadata[model.MetaThemeName]))
		var rel float64
		if strings.Contains(text, phrase) {
			rel = 1
		} else {
			matched := 0
			for _, t := range terms {
				if strings.Contains(text, t) {
					matched++
				}
			}
			rel = float64(matched) / float64(len(terms))
		}
		if rel <= 0 {
			return true
		}
		item.Embedding = nil
		results = append(results, model.SearchResult{
			Item:           item,
			RelevanceScore: rel,
			Rationale:      "lexical match",
			Source:         model.SourceVector,
		})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("vector scan: %w", err)
	}
	model.SortByRelevance(results)
	if len(results) > limit {
		results = results[:limit]
	}
	now := s.now()
	for i := range results {
		item, err := s.backend.Get(ctx, results[i].Item.ID)
		if err != nil {
			continue
		}
		item.Touch(now)
		if err := s.backend.Put(ctx, item); err == nil {
			results[i].Item.LastAccessed = item.LastAccessed
		}
	}
	return results, nil
}

// GetClusters groups records by kind and emotional tone and returns the n
// largest groups. n <= 0 returns every group.
func (s *Service) GetClusters(ctx context.Context, n int) ([]model.Cluster, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	type acc struct {
		cluster model.Cluster
		sum     float64
		members []model.MemoryItem
	}
	groups := map[string]*acc{}
	err := s.backend.Scan(ctx, func(item model.MemoryItem) bool {
		kind := model.KindOf(item)
		tone := model.ToneOf(item)
		key := string(kind) + ":" + tone
		g, ok := groups[key]
		if !ok {
			g = &acc{cluster: model.Cluster{Key: key, Kind: kind, EmotionalTone: tone}}
			groups[key] = g
		}
		g.cluster.Size++
		g.sum += item.Importance
		g.members = append(g.members, model.MemoryItem{ID: item.ID, Importance: item.Importance})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("vector scan: %w", err)
	}

	clusters := make([]model.Cluster, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g.members, func(i, j int) bool {
			if g.members[i].Importance != g.members[j].Importance {
				return g.members[i].Importance > g.members[j].Importance
			}
			return g.members[i].ID < g.members[j].ID
		})
		for i, m := range g.members {
			if i == clusterSampleSize {
				break
			}
			g.cluster.MemoryIDs = append(g.cluster.MemoryIDs, m.ID)
		}
		g.cluster.AverageImportance = g.sum / float64(g.cluster.Size)
		clusters = append(clusters, g.cluster)
	}
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Size != clusters[j].Size {
			return clusters[i].Size > clusters[j].Size
		}
		return clusters[i].Key < clusters[j].Key
	})
	if n > 0 && len(clusters) > n {
		clusters = clusters[:n]
	}
	return clusters, nil
}

const clusterSampleSize = 5

// GetThemes returns themes observed within the last timeframeDays, strongest
// first. timeframeDays <= 0 returns every theme.
func (s *Service) GetThemes(ctx context.Context, timeframeDays int) ([]model.Theme, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	now := s.now()
	var themes []model.Theme
	err := s.backend.Scan(ctx, func(item model.MemoryItem) bool {
		if model.KindOf(item) != model.VectorKindTheme {
			return true
		}
		if timeframeDays > 0 && now.Sub(item.LastAccessed) > days(timeframeDays) {
			return true
		}
		themes = append(themes, model.ThemeOf(item))
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("vector scan: %w", err)
	}
	sort.Slice(themes, func(i, j int) bool {
		if themes[i].Strength != themes[j].Strength {
			return themes[i].Strength > themes[j].Strength
		}
		return themes[i].Key < themes[j].Key
	})
	return themes, nil
}
