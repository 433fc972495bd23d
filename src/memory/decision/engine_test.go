package decision

import (
	"reflect"
	"strings"
	"testing"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

func bothEngine() *KeywordEngine {
	return NewKeywordEngine(Availability{Graph: true, Vector: true})
}

func hasTags(tags []string, want ...string) bool {
	set := map[string]bool{}
	for _, t := range tags {
		set[t] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

func TestScheduledMeetingIsGraph(t *testing.T) {
	d := bothEngine().Analyze("The meeting is scheduled for 3 PM tomorrow", Context{})
	if d.MemoryType != model.MemoryTypeGraph {
		t.Fatalf("expected graph, got %s (%s)", d.MemoryType, d.Rationale)
	}
	if d.Scores.Temporal < 2 {
		t.Fatalf("expected temporal score >= 2, got %d", d.Scores.Temporal)
	}
	if d.Importance != 0.5 {
		t.Fatalf("expected importance 0.5, got %v", d.Importance)
	}
	if !hasTags(d.Tags, "fact", "structured") {
		t.Fatalf("unexpected tags %v", d.Tags)
	}
}

func TestInspiredByBookIsVector(t *testing.T) {
	d := bothEngine().Analyze("I felt really inspired after reading that book", Context{})
	if d.MemoryType != model.MemoryTypeVector {
		t.Fatalf("expected vector, got %s (%s)", d.MemoryType, d.Rationale)
	}
	if d.Scores.Experiential < 2 {
		t.Fatalf("expected experiential score >= 2, got %d", d.Scores.Experiential)
	}
	if !hasTags(d.Tags, "experience", "emotional") {
		t.Fatalf("unexpected tags %v", d.Tags)
	}
	if d.Importance != 0.6 {
		t.Fatalf("expected importance 0.6, got %v", d.Importance)
	}
}

func TestAnalyzeBranches(t *testing.T) {
	filler := strings.Repeat("word ", 60)
	cases := []struct {
		name    string
		content string
		ctx     Context
		avail   Availability
		want    model.MemoryType
		tags    []string
	}{
		{"structured short", "name: Alice", Context{}, Availability{true, true}, model.MemoryTypeGraph, []string{"fact", "structured"}},
		{"conceptual", "The concept behind this theory is elegant", Context{}, Availability{true, true}, model.MemoryTypeVector, []string{"concept", "abstract"}},
		{"no indicators", "Bananas grow in clusters", Context{}, Availability{true, true}, model.MemoryTypeVector, []string{"long_content", "fuzzy"}},
		{"long", "happy " + filler, Context{}, Availability{true, true}, model.MemoryTypeVector, []string{"long_content", "fuzzy"}},
		{"ambiguous", "I love the idea of the new library downtown", Context{}, Availability{true, true}, model.MemoryTypeHybrid, []string{"hybrid", "ambiguous"}},
		{"ambiguous graph only", "I love the idea of the new library downtown", Context{}, Availability{Graph: true}, model.MemoryTypeGraph, []string{"hybrid", "ambiguous"}},
		{"ambiguous vector only", "I love the idea of the new library downtown", Context{}, Availability{Vector: true}, model.MemoryTypeVector, []string{"hybrid", "ambiguous"}},
		{"system role", "Respond in French", Context{Role: "system"}, Availability{true, true}, model.MemoryTypeGraph, []string{"fact"}},
		{"experience hint", "The lake trip", Context{ContentType: ContentTypeExperience}, Availability{true, true}, model.MemoryTypeVector, []string{"experience"}},
		{"opinion hint", "Jazz is better than pop", Context{ContentType: ContentTypeOpinion}, Availability{true, true}, model.MemoryTypeVector, []string{"emotional"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewKeywordEngine(tc.avail).Analyze(tc.content, tc.ctx)
			if d.MemoryType != tc.want {
				t.Fatalf("expected %s, got %s (%s, scores %+v)", tc.want, d.MemoryType, d.Rationale, d.Scores)
			}
			if !hasTags(d.Tags, tc.tags...) {
				t.Fatalf("expected tags %v in %v", tc.tags, d.Tags)
			}
		})
	}
}

func TestImportanceChain(t *testing.T) {
	e := bothEngine()
	cases := []struct {
		content string
		ctx     Context
		want    float64
	}{
		{"This is important and critical: rotate the keys", Context{}, 0.9},
		{"Pick up the parcel", Context{Important: true}, 0.8},
		{"sky color", Context{ContentType: ContentTypeFact}, 0.7},
		{"I felt inspired", Context{}, 0.6},
		{"Bananas grow in clusters", Context{}, 0.5},
	}
	for _, tc := range cases {
		if got := e.Analyze(tc.content, tc.ctx).Importance; got != tc.want {
			t.Errorf("Analyze(%q).Importance = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	e := bothEngine()
	inputs := []string{
		"The meeting is scheduled for 3 PM tomorrow",
		"I felt really inspired after reading that book",
		"I love the idea of the new library downtown",
		"",
	}
	for _, in := range inputs {
		first := e.Analyze(in, Context{Role: "user"})
		for i := 0; i < 5; i++ {
			again := e.Analyze(in, Context{Role: "user"})
			if !reflect.DeepEqual(first, again) {
				t.Fatalf("non deterministic decision for %q: %+v vs %+v", in, first, again)
			}
		}
		if first.Importance < 0 || first.Importance > 1 {
			t.Fatalf("importance out of bounds: %v", first.Importance)
		}
	}
}

func TestContextFromMap(t *testing.T) {
	ctx := ContextFromMap(map[string]any{"role": "System", "content_type": "FACT", "user_marked_important": "true"})
	if ctx.Role != "system" || ctx.ContentType != "fact" || !ctx.Important {
		t.Fatalf("unexpected context %+v", ctx)
	}
	if (ContextFromMap(nil) != Context{}) {
		t.Fatal("expected zero context for nil map")
	}
}

func TestHasStructure(t *testing.T) {
	for _, in := range []string{"a -> b", "- buy milk", "* item", "1. first", "x = 3", "a | b"} {
		if !HasStructure(in) {
			t.Errorf("expected structure in %q", in)
		}
	}
	if HasStructure("plain words only") {
		t.Error("unexpected structure")
	}
}
