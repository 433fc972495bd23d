package model

import "sort"

// Result sources.
const (
	SourceGraph  = "graph"
	SourceVector = "vector"
)

// SearchResult is a ranked hit returned by either memory service.
type SearchResult struct {
	Item            MemoryItem `json:"item"`
	RelevanceScore  float64    `json:"relevance_score"`
	SimilarityScore *float64   `json:"similarity_score,omitempty"`
	Rationale       string     `json:"rationale,omitempty"`
	Source          string     `json:"source"`
}

// WithSimilarity sets the optional similarity score.
func (r SearchResult) WithSimilarity(score float64) SearchResult {
	s := score
	r.SimilarityScore = &s
	return r
}

// SortByRelevance orders results by relevance descending. Ties break on id so that
// repeated identical queries return identical orderings.
func SortByRelevance(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].Item.ID < results[j].Item.ID
	})
}

// Decision is the ephemeral output of the decision engine.
type Decision struct {
	Content       string                  `json:"content"`
	MemoryType    MemoryType              `json:"memory_type"`
	Importance    float64                 `json:"importance"`
	Tags          []string                `json:"tags"`
	Rationale     string                  `json:"rationale"`
	Scores        IndicatorScores         `json:"scores"`
	Relationships []RelationshipDirective `json:"relationships,omitempty"`
}

// IndicatorScores exposes the raw keyword counts behind a decision.
type IndicatorScores struct {
	Factual      int `json:"factual"`
	Experiential int `json:"experiential"`
	Emotional    int `json:"emotional"`
	Conceptual   int `json:"conceptual"`
	Temporal     int `json:"temporal"`
	Importance   int `json:"importance"`
	WordCount    int `json:"word_count"`
}

// AllZero reports whether no indicator family matched.
func (s IndicatorScores) AllZero() bool {
	return s.Factual == 0 && s.Experiential == 0 && s.Emotional == 0 && s.Conceptual == 0 && s.Temporal == 0
}

// RelationshipDirective asks the orchestrator to link a new item after it is written.
type RelationshipDirective struct {
	TargetID   string         `json:"target_id"`
	Type       EdgeType       `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}
