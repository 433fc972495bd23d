package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// Filters narrows a lexical search.
type Filters struct {
	Kinds         []model.GraphKind
	Tags          []string
	SessionID     string
	MinImportance float64
}

var defaultSearchKinds = []model.GraphKind{
	model.GraphKindMessage, model.GraphKindFact, model.GraphKindEvent, model.GraphKindConcept,
}

func (f Filters) kinds() []model.GraphKind {
	if len(f.Kinds) == 0 {
		return defaultSearchKinds
	}
	return f.Kinds
}

func (f Filters) match(n model.Node) bool {
	kindOK := false
	for _, k := range f.kinds() {
		if n.Kind == k {
			kindOK = true
			break
		}
	}
	if !kindOK {
		return false
	}
	if n.Importance < f.MinImportance {
		return false
	}
	if f.SessionID != "" && model.StringFromAny(n.Metadata[model.MetaSessionID]) != f.SessionID {
		return false
	}
	for _, tag := range f.Tags {
		if !n.HasTag(tag) {
			return false
		}
	}
	return true
}

// queryTerms lower-cases query and keeps distinct words of at least two runes.
func queryTerms(query string) []string {
	seen := map[string]struct{}{}
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if utf8.RuneCountInString(w) < 2 {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

// lexicalRelevance is 1 for a full phrase match, else the share of query
// terms found in text.
func lexicalRelevance(text, phrase string, terms []string) (float64, int) {
	text = strings.ToLower(text)
	if phrase != "" && strings.Contains(text, phrase) {
		return 1, len(terms)
	}
	if len(terms) == 0 {
		return 0, 0
	}
	matches := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			matches++
		}
	}
	rel := float64(matches) / float64(len(terms))
	if rel > 1 {
		rel = 1
	}
	return rel, matches
}

// Search runs a lexical substring search over node content and descriptive
// fields. Concept hits with equal relevance are ordered by confidence.
func (s *Service) Search(ctx context.Context, query string, limit int, filters Filters) ([]model.SearchResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	phrase := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	if phrase == "" {
		return nil, model.NewValidationError("query", "query must not be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	terms := queryTerms(query)
	if len(terms) == 0 {
		terms = []string{phrase}
	}

	var candidates []model.Node
	if m, ok := s.backend.(Matcher); ok {
		nodes, err := m.Match(ctx, terms, filters.kinds())
		if err != nil {
			return nil, fmt.Errorf("graph match: %w", err)
		}
		candidates = nodes
	} else {
		err := s.backend.Scan(ctx, func(n model.Node) bool {
			candidates = append(candidates, n)
			return true
		})
		if err != nil {
			return nil, fmt.Errorf("graph scan: %w", err)
		}
	}

	type hit struct {
		node model.Node
		rel  float64
		n    int
	}
	var hits []hit
	for _, n := range candidates {
		if !filters.match(n) {
			continue
		}
		rel, matched := lexicalRelevance(n.SearchText(), phrase, terms)
		if rel <= 0 {
			continue
		}
		hits = append(hits, hit{node: n, rel: rel, n: matched})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.rel != b.rel {
			return a.rel > b.rel
		}
		if ca, cb := a.node.Confidence(), b.node.Confidence(); ca != cb {
			return ca > cb
		}
		return a.node.ID < b.node.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	now := s.now()
	results := make([]model.SearchResult, 0, len(hits))
	for _, h := range hits {
		n := h.node
		n.Touch(now)
		if err := s.backend.PutNode(ctx, n); err != nil {
			s.logger.Warn("graph touch failed", "id", n.ID, "err", err)
		}
		results = append(results, model.SearchResult{
			Item:           n.MemoryItem.Clone(),
			RelevanceScore: h.rel,
			Rationale:      fmt.Sprintf("%s matched %d/%d terms", n.Kind, h.n, len(terms)),
			Source:         model.SourceGraph,
		})
	}
	return results, nil
}
