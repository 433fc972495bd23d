package model

import (
	"strings"
	"time"
)

// VectorKind enumerates the fuzzy entity shapes kept by the vector service.
type VectorKind string

const (
	VectorKindSouvenir   VectorKind = "souvenir"
	VectorKindImpression VectorKind = "impression"
	VectorKindTheme      VectorKind = "theme"
)

// Metadata keys with a fixed meaning on vector records.
const (
	MetaVectorKind      = "vector_kind"
	MetaEmotionalTone   = "emotional_tone"
	MetaVividness       = "vividness"
	MetaSentiment       = "sentiment"
	MetaThemeName       = "theme_name"
	MetaThemeKey        = "theme_key"
	MetaOccurrenceCount = "occurrence_count"
	MetaStrength        = "strength"
	MetaEmbedded        = "embedded"
)

// ParseVectorKind returns the kind named by raw and whether it was recognised.
func ParseVectorKind(raw any) (VectorKind, bool) {
	switch VectorKind(strings.ToLower(strings.TrimSpace(StringFromAny(raw)))) {
	case VectorKindSouvenir:
		return VectorKindSouvenir, true
	case VectorKindImpression:
		return VectorKindImpression, true
	case VectorKindTheme:
		return VectorKindTheme, true
	}
	return "", false
}

// KindOf reads the vector kind of a stored item, defaulting to souvenir.
func KindOf(item MemoryItem) VectorKind {
	if k, ok := ParseVectorKind(item.Metadata[MetaVectorKind]); ok {
		return k
	}
	return VectorKindSouvenir
}

// ToneOf reads the emotional tone of a stored item.
func ToneOf(item MemoryItem) string {
	tone := strings.ToLower(strings.TrimSpace(StringFromAny(item.Metadata[MetaEmotionalTone])))
	if tone == "" {
		return "neutral"
	}
	return tone
}

// Theme is the aggregated view of a theme record.
type Theme struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Key             string    `json:"key"`
	OccurrenceCount int       `json:"occurrence_count"`
	Strength        float64   `json:"strength"`
	Importance      float64   `json:"importance"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

// ThemeOf builds the theme view from a stored theme record.
func ThemeOf(item MemoryItem) Theme {
	count := int(IntFromAny(item.Metadata[MetaOccurrenceCount]))
	if count < 1 {
		count = 1
	}
	return Theme{
		ID:              item.ID,
		Name:            StringFromAny(item.Metadata[MetaThemeName]),
		Key:             StringFromAny(item.Metadata[MetaThemeKey]),
		OccurrenceCount: count,
		Strength:        FloatFromAny(item.Metadata[MetaStrength]),
		Importance:      item.Importance,
		FirstSeen:       item.CreatedAt,
		LastSeen:        item.LastAccessed,
	}
}

// Cluster is a coarse grouping of vector memories by kind and emotional tone.
type Cluster struct {
	Key               string     `json:"key"`
	Kind              VectorKind `json:"kind"`
	EmotionalTone     string     `json:"emotional_tone"`
	Size              int        `json:"size"`
	AverageImportance float64    `json:"average_importance"`
	MemoryIDs         []string   `json:"memory_ids"`
}
