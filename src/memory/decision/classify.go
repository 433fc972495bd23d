package decision

import (
	"strings"
	"unicode"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// ClassifyVectorKind picks souvenir, impression or theme for fuzzy content.
// Ties, including the all-zero case, resolve to souvenir.
func ClassifyVectorKind(content string) model.VectorKind {
	lowered := strings.ToLower(content)
	souvenir := countOccurrences(lowered, souvenirIndicators)
	impression := countOccurrences(lowered, impressionIndicators)
	theme := countOccurrences(lowered, themeIndicators)

	switch {
	case impression > souvenir && impression > theme:
		return model.VectorKindImpression
	case theme > souvenir && theme > impression:
		return model.VectorKindTheme
	}
	return model.VectorKindSouvenir
}

// Strategy names a federation policy across the two services.
type Strategy string

const (
	StrategyAuto        Strategy = "auto"
	StrategyGraphFirst  Strategy = "graph_first"
	StrategyVectorFirst Strategy = "vector_first"
	StrategyParallel    Strategy = "parallel"
)

// ParseStrategy accepts the four names; empty means auto.
func ParseStrategy(raw string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return StrategyAuto, nil
	case StrategyAuto, StrategyGraphFirst, StrategyVectorFirst, StrategyParallel:
		return s, nil
	}
	return "", model.NewValidationError("strategy", "unknown strategy "+raw)
}

// DetectStrategy resolves the auto strategy for query: factual interrogatives
// point at the graph, experiential words at the vector memory, ties run both.
func DetectStrategy(query string) Strategy {
	words := tokenize(query)
	factual := countWords(words, interrogativeIndicators)
	experiential := countWords(words, experientialQueryWords)
	switch {
	case factual > experiential:
		return StrategyGraphFirst
	case experiential > factual:
		return StrategyVectorFirst
	}
	return StrategyParallel
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
