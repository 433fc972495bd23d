// Package decision classifies content into a storage strategy. Everything here
// is pure: no I/O, no clocks, no randomness.
package decision

import (
	"fmt"
	"strings"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// Context carries the caller supplied hints that influence classification.
type Context struct {
	Role        string
	ContentType string
	Important   bool
}

// Content type hints recognised by the engine.
const (
	ContentTypeFact       = "fact"
	ContentTypeExperience = "experience"
	ContentTypeOpinion    = "opinion"
)

// ContextFromMap reads the hints from a loosely typed context map. It accepts
// "important" and "user_marked_important" for the importance flag.
func ContextFromMap(m map[string]any) Context {
	if m == nil {
		return Context{}
	}
	return Context{
		Role:        strings.ToLower(strings.TrimSpace(model.StringFromAny(m["role"]))),
		ContentType: strings.ToLower(strings.TrimSpace(model.StringFromAny(m["content_type"]))),
		Important:   model.BoolFromAny(m["important"]) || model.BoolFromAny(m["user_marked_important"]),
	}
}

// Analyzer maps content and context to a storage decision. Implementations
// must be deterministic and must never fail.
type Analyzer interface {
	Analyze(content string, ctx Context) model.Decision
}

// Availability tells the engine which services can accept writes.
type Availability struct {
	Graph  bool
	Vector bool
}

// Both reports whether hybrid storage is possible.
func (a Availability) Both() bool { return a.Graph && a.Vector }

// KeywordEngine is the indicator counting classifier.
type KeywordEngine struct {
	available Availability
}

// NewKeywordEngine builds an engine aware of which services are available.
func NewKeywordEngine(available Availability) *KeywordEngine {
	return &KeywordEngine{available: available}
}

// Available returns the availability the engine routes against.
func (e *KeywordEngine) Available() Availability { return e.available }

// Score computes the raw indicator counts including the context boosts.
func Score(content string, ctx Context) model.IndicatorScores {
	lowered := strings.ToLower(content)
	s := model.IndicatorScores{
		Factual:      countOccurrences(lowered, factualIndicators),
		Experiential: countOccurrences(lowered, experientialIndicators),
		Emotional:    countOccurrences(lowered, emotionalIndicators),
		Conceptual:   countOccurrences(lowered, conceptualIndicators),
		Temporal:     countOccurrences(lowered, temporalIndicators),
		Importance:   countOccurrences(lowered, importanceIndicators),
		WordCount:    len(strings.Fields(content)),
	}
	if strings.EqualFold(ctx.Role, "system") {
		s.Factual += 2
	}
	switch strings.ToLower(ctx.ContentType) {
	case ContentTypeFact:
		s.Factual += 3
	case ContentTypeExperience:
		s.Experiential += 3
	case ContentTypeOpinion:
		s.Emotional += 2
	}
	return s
}

// HasStructure reports whether content carries punctuation structure: key/value
// separators, arrows, pipes or a leading list bullet.
func HasStructure(content string) bool {
	if strings.ContainsAny(content, ":;=|") || strings.Contains(content, "->") {
		return true
	}
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
		return true
	}
	if len(trimmed) >= 2 && trimmed[0] >= '0' && trimmed[0] <= '9' && trimmed[1] == '.' {
		return true
	}
	return false
}

// Analyze implements Analyzer.
func (e *KeywordEngine) Analyze(content string, ctx Context) model.Decision {
	s := Score(content, ctx)
	d := model.Decision{Content: content, Scores: s}

	switch {
	case s.Factual >= 2 || s.Temporal >= 2 || (s.WordCount < 20 && HasStructure(content)):
		d.MemoryType = model.MemoryTypeGraph
		d.Tags = []string{"fact", "structured"}
		d.Rationale = fmt.Sprintf("structured content (factual=%d temporal=%d words=%d)", s.Factual, s.Temporal, s.WordCount)
	case s.Experiential >= 2 || s.Emotional >= 2:
		d.MemoryType = model.MemoryTypeVector
		d.Tags = []string{"experience", "emotional"}
		d.Rationale = fmt.Sprintf("experiential or emotional content (experiential=%d emotional=%d)", s.Experiential, s.Emotional)
	case s.Conceptual >= 2:
		d.MemoryType = model.MemoryTypeVector
		d.Tags = []string{"concept", "abstract"}
		d.Rationale = fmt.Sprintf("conceptual content (conceptual=%d)", s.Conceptual)
	case s.WordCount > 50 || s.AllZero():
		d.MemoryType = model.MemoryTypeVector
		d.Tags = []string{"long_content", "fuzzy"}
		if s.WordCount > 50 {
			d.Rationale = fmt.Sprintf("long content (%d words) kept as fuzzy memory", s.WordCount)
		} else {
			d.Rationale = "no indicator matched; kept as fuzzy memory"
		}
	default:
		d.MemoryType = model.MemoryTypeHybrid
		d.Tags = []string{"hybrid", "ambiguous"}
		d.Rationale = "ambiguous content stored in both memories"
	}
	d.MemoryType, d.Rationale = e.route(d.MemoryType, d.Rationale)
	d.Importance = importance(s, ctx)
	return d
}

// route downgrades the chosen type when a service is missing.
func (e *KeywordEngine) route(t model.MemoryType, rationale string) (model.MemoryType, string) {
	a := e.available
	if !a.Graph && !a.Vector {
		return t, rationale
	}
	switch t {
	case model.MemoryTypeHybrid:
		if a.Both() {
			return t, rationale
		}
		if a.Graph {
			return model.MemoryTypeGraph, rationale + "; vector unavailable"
		}
		return model.MemoryTypeVector, rationale + "; graph unavailable"
	case model.MemoryTypeGraph:
		if !a.Graph {
			return model.MemoryTypeVector, rationale + "; graph unavailable"
		}
	case model.MemoryTypeVector:
		if !a.Vector {
			return model.MemoryTypeGraph, rationale + "; vector unavailable"
		}
	}
	return t, rationale
}

func importance(s model.IndicatorScores, ctx Context) float64 {
	switch {
	case s.Importance >= 2:
		return 0.9
	case ctx.Important:
		return 0.8
	case s.Factual >= 3:
		return 0.7
	case s.Experiential >= 2:
		return 0.6
	}
	return 0.5
}
