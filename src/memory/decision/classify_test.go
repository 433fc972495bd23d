package decision

import (
	"testing"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

func TestClassifyVectorKind(t *testing.T) {
	cases := map[string]model.VectorKind{
		"I think this approach is the best":                                         model.VectorKindImpression,
		"I always get anxious whenever deadlines approach, it's a recurring habit": model.VectorKindTheme,
		"I remember the trip when I was ten":                                        model.VectorKindSouvenir,
		"":                                                                          model.VectorKindSouvenir,
		"I think it happens again":                                                  model.VectorKindSouvenir,
	}
	for in, want := range cases {
		if got := ClassifyVectorKind(in); got != want {
			t.Errorf("ClassifyVectorKind(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestDetectStrategy(t *testing.T) {
	cases := map[string]Strategy{
		"what is the capital of France":    StrategyGraphFirst,
		"When was the last meeting?":       StrategyGraphFirst,
		"how many cats do I have":          StrategyGraphFirst,
		"how did that concert feel":        StrategyVectorFirst,
		"something similar to the beach":   StrategyVectorFirst,
		"what did I feel":                  StrategyParallel,
		"the ocean":                        StrategyParallel,
		"list the things I like":           StrategyParallel,
		"I'd like something that's likely": StrategyVectorFirst,
	}
	for in, want := range cases {
		if got := DetectStrategy(in); got != want {
			t.Errorf("DetectStrategy(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy(""); err != nil || s != StrategyAuto {
		t.Fatalf("expected auto for empty strategy, got %q %v", s, err)
	}
	if s, err := ParseStrategy("Graph_First"); err != nil || s != StrategyGraphFirst {
		t.Fatalf("expected graph_first, got %q %v", s, err)
	}
	if _, err := ParseStrategy("random"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}
