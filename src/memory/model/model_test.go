package model

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestNewMemoryItemClampsImportance(t *testing.T) {
	now := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)
	item := NewMemoryItem("hello", MemoryTypeGraph, 1.7, now)
	if item.ID == "" {
		t.Fatal("expected id to be assigned")
	}
	if item.Importance != 1 {
		t.Fatalf("expected importance clamped to 1, got %v", item.Importance)
	}
	if !item.CreatedAt.Equal(now) || !item.LastAccessed.Equal(now) {
		t.Fatalf("unexpected timestamps: %v %v", item.CreatedAt, item.LastAccessed)
	}
	if other := NewMemoryItem("hello", MemoryTypeGraph, 0.5, now); other.ID == item.ID {
		t.Fatal("expected distinct ids")
	}
}

func TestMemoryItemValidate(t *testing.T) {
	now := time.Now()
	item := NewMemoryItem("   ", MemoryTypeVector, 0.5, now)
	err := item.Validate()
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "content" {
		t.Fatalf("expected content field error, got %#v", err)
	}
	item.Content = "ok"
	item.Importance = -0.1
	if err := item.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected importance validation error, got %v", err)
	}
}

func TestTouchIsMonotonic(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	item := NewMemoryItem("content", MemoryTypeGraph, 0.5, created)
	item.Touch(created.Add(time.Hour))
	if !item.LastAccessed.Equal(created.Add(time.Hour)) {
		t.Fatalf("expected last accessed to advance, got %v", item.LastAccessed)
	}
	item.Touch(created.Add(time.Minute))
	if !item.LastAccessed.Equal(created.Add(time.Hour)) {
		t.Fatalf("expected last accessed to stay put, got %v", item.LastAccessed)
	}
	item.Touch(created.Add(-time.Hour))
	if item.LastAccessed.Before(item.CreatedAt) {
		t.Fatal("last accessed moved before created at")
	}
}

func TestFieldsApply(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	item := NewMemoryItem("before", MemoryTypeGraph, 0.5, now)
	content := "after"
	importance := 0.9
	err := Fields{Content: &content, Importance: &importance, Tags: []string{"B", "a", "b"}}.Apply(&item, now.Add(time.Second))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if item.Content != "after" || item.Importance != 0.9 {
		t.Fatalf("update not applied: %#v", item)
	}
	if len(item.Tags) != 2 || item.Tags[0] != "a" || item.Tags[1] != "b" {
		t.Fatalf("unexpected tags: %v", item.Tags)
	}
	bad := 1.5
	if err := (Fields{Importance: &bad}).Apply(&item, now); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if item.Importance != 0.9 {
		t.Fatal("invalid update must not change importance")
	}
}

func TestParseEdgeType(t *testing.T) {
	got, err := ParseEdgeType("relates_to")
	if err != nil || got != EdgeRelatesTo {
		t.Fatalf("expected RELATES_TO, got %q (%v)", got, err)
	}
	if _, err := ParseEdgeType("LIKES"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEdgeValidate(t *testing.T) {
	if err := (Edge{From: "a", To: "b", Type: EdgeMentions}).Validate(); err != nil {
		t.Fatalf("expected valid edge, got %v", err)
	}
	if err := (Edge{From: "a", Type: EdgeMentions}).Validate(); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if err := (Edge{From: "a", To: "b", Type: "nope"}).Validate(); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestIdentityKey(t *testing.T) {
	cases := map[string]string{
		"Work  Stress!":  "work_stress",
		" work stress ":  "work_stress",
		"self-care":      "self-care",
		"Café mornings":  "café_mornings",
		"!!!":            "",
		"Night_Thoughts": "night_thoughts",
	}
	for in, want := range cases {
		if got := IdentityKey(in); got != want {
			t.Errorf("IdentityKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNamespace(t *testing.T) {
	if got := Namespace("Pixie/Locrit 01"); got != "pixie_locrit_01" {
		t.Fatalf("unexpected namespace %q", got)
	}
	if got := Namespace("  "); got != "default" {
		t.Fatalf("expected default namespace, got %q", got)
	}
}

func TestContentKey(t *testing.T) {
	if ContentKey("Hello   World") != ContentKey(" hello world ") {
		t.Fatal("expected whitespace and case insensitive keys")
	}
	long := make([]rune, 150)
	for i := range long {
		long[i] = 'x'
	}
	if got := len([]rune(ContentKey(string(long)))); got != 100 {
		t.Fatalf("expected key cut to 100 runes, got %d", got)
	}
}

func TestNormalizedSimilarity(t *testing.T) {
	a := []float32{1, 0}
	if got := NormalizedSimilarity(a, a); math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected 1 for identical vectors, got %v", got)
	}
	if got := NormalizedSimilarity(a, []float32{-1, 0}); math.Abs(got) > 1e-9 {
		t.Fatalf("expected 0 for opposite vectors, got %v", got)
	}
	if got := NormalizedSimilarity(a, nil); got != 0 {
		t.Fatalf("expected 0 for missing vector, got %v", got)
	}
}

func TestMetadataHelpers(t *testing.T) {
	meta := DecodeMetadata(`{"importance":0.75,"count":"3","tags":["a","b"],"flag":"true"}`)
	if FloatFromAny(meta["importance"]) != 0.75 {
		t.Fatalf("unexpected importance: %v", meta["importance"])
	}
	if IntFromAny(meta["count"]) != 3 {
		t.Fatalf("unexpected count: %v", meta["count"])
	}
	if got := StringsFromAny(meta["tags"]); len(got) != 2 {
		t.Fatalf("unexpected tags: %v", got)
	}
	if !BoolFromAny(meta["flag"]) {
		t.Fatal("expected flag to be true")
	}
	if len(DecodeMetadata("not json")) != 0 {
		t.Fatal("expected empty map for malformed metadata")
	}
	if EncodeMetadata(nil) != "{}" {
		t.Fatal("expected empty object for nil metadata")
	}
}

func TestSortByRelevanceIsStable(t *testing.T) {
	results := []SearchResult{
		{Item: MemoryItem{ID: "b"}, RelevanceScore: 0.5},
		{Item: MemoryItem{ID: "a"}, RelevanceScore: 0.5},
		{Item: MemoryItem{ID: "c"}, RelevanceScore: 0.9},
	}
	SortByRelevance(results)
	if results[0].Item.ID != "c" || results[1].Item.ID != "a" || results[2].Item.ID != "b" {
		t.Fatalf("unexpected order: %v %v %v", results[0].Item.ID, results[1].Item.ID, results[2].Item.ID)
	}
}

func TestThemeOfDefaults(t *testing.T) {
	item := NewMemoryItem("theme", MemoryTypeVector, 0.4, time.Now())
	item.Metadata[MetaThemeName] = "Work"
	theme := ThemeOf(item)
	if theme.OccurrenceCount != 1 {
		t.Fatalf("expected default occurrence 1, got %d", theme.OccurrenceCount)
	}
	if theme.Name != "Work" {
		t.Fatalf("unexpected theme name %q", theme.Name)
	}
}
