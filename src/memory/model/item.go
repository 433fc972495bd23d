package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MemoryType records which storage strategy was actually used for an item.
type MemoryType string

const (
	MemoryTypeGraph  MemoryType = "graph"
	MemoryTypeVector MemoryType = "vector"
	MemoryTypeHybrid MemoryType = "hybrid"
)

// ParseMemoryType accepts the canonical names case-insensitively.
func ParseMemoryType(raw string) (MemoryType, error) {
	switch MemoryType(strings.ToLower(strings.TrimSpace(raw))) {
	case MemoryTypeGraph:
		return MemoryTypeGraph, nil
	case MemoryTypeVector:
		return MemoryTypeVector, nil
	case MemoryTypeHybrid:
		return MemoryTypeHybrid, nil
	}
	return "", NewValidationError("memory_type", fmt.Sprintf("unknown memory type %q", raw))
}

// MemoryItem is the universal record shared by both memory services.
type MemoryItem struct {
	ID           string         `json:"id"`
	Content      string         `json:"content"`
	MemoryType   MemoryType     `json:"memory_type"`
	Importance   float64        `json:"importance"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessed time.Time      `json:"last_accessed"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Embedding    []float32      `json:"embedding,omitempty"`
}

// NewMemoryItem assigns a fresh id and timestamps. Importance is clamped into [0,1].
func NewMemoryItem(content string, memoryType MemoryType, importance float64, now time.Time) MemoryItem {
	now = now.UTC()
	return MemoryItem{
		ID:           uuid.NewString(),
		Content:      content,
		MemoryType:   memoryType,
		Importance:   ClampImportance(importance),
		CreatedAt:    now,
		LastAccessed: now,
		Metadata:     map[string]any{},
	}
}

// Validate reports malformed items.
func (m MemoryItem) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return NewValidationError("content", "content must not be empty")
	}
	if m.Importance < 0 || m.Importance > 1 {
		return NewValidationError("importance", fmt.Sprintf("importance %.3f outside [0,1]", m.Importance))
	}
	if !m.LastAccessed.IsZero() && !m.CreatedAt.IsZero() && m.LastAccessed.Before(m.CreatedAt) {
		return NewValidationError("last_accessed", "last_accessed precedes created_at")
	}
	return nil
}

// Touch moves LastAccessed forward to now. It never moves it backwards and never
// below CreatedAt.
func (m *MemoryItem) Touch(now time.Time) {
	now = now.UTC()
	if now.Before(m.CreatedAt) {
		now = m.CreatedAt
	}
	if now.After(m.LastAccessed) {
		m.LastAccessed = now
	}
}

// Age returns how long ago the item was created.
func (m MemoryItem) Age(now time.Time) time.Duration {
	if m.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(m.CreatedAt)
}

// HasTag reports whether tag is attached to the item.
func (m MemoryItem) HasTag(tag string) bool {
	tag = normalizeTag(tag)
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the mutable fields.
func (m MemoryItem) Clone() MemoryItem {
	out := m
	out.Metadata = CloneMetadata(m.Metadata)
	if m.Tags != nil {
		out.Tags = append([]string(nil), m.Tags...)
	}
	if m.Embedding != nil {
		out.Embedding = append([]float32(nil), m.Embedding...)
	}
	return out
}

// Fields describes an in-place update. Nil fields are left untouched.
type Fields struct {
	Content    *string
	Importance *float64
	Metadata   map[string]any
	Tags       []string
}

// Empty reports whether the update would change nothing.
func (f Fields) Empty() bool {
	return f.Content == nil && f.Importance == nil && len(f.Metadata) == 0 && f.Tags == nil
}

// Apply mutates item according to the update; the id and CreatedAt never change.
func (f Fields) Apply(item *MemoryItem, now time.Time) error {
	if f.Content != nil {
		if strings.TrimSpace(*f.Content) == "" {
			return NewValidationError("content", "content must not be empty")
		}
		item.Content = *f.Content
	}
	if f.Importance != nil {
		if *f.Importance < 0 || *f.Importance > 1 {
			return NewValidationError("importance", fmt.Sprintf("importance %.3f outside [0,1]", *f.Importance))
		}
		item.Importance = *f.Importance
	}
	if len(f.Metadata) > 0 {
		if item.Metadata == nil {
			item.Metadata = map[string]any{}
		}
		for k, v := range f.Metadata {
			item.Metadata[k] = v
		}
	}
	if f.Tags != nil {
		item.Tags = NormalizeTags(f.Tags)
	}
	item.Touch(now)
	return nil
}

// NormalizeTags lower-cases, trims and deduplicates tags and returns them sorted.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = normalizeTag(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// ClampImportance bounds v into [0,1].
func ClampImportance(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
