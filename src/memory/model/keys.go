package model

import (
	"strings"
	"unicode"
)

// IdentityKey derives the merge key for themes and concepts from a display name:
// lower-cased, whitespace collapsed to single underscores, and every rune that is
// not a letter, digit, underscore or hyphen dropped. "Work  Stress!" and "work stress" share the key "work_stress".
func IdentityKey(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('_')
		}
		for _, r := range f {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
				b.WriteRune(r)
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// Namespace sanitizes an agent identifier into a storage namespace usable as a
// directory name, schema suffix or collection suffix.
func Namespace(agentID string) string {
	agentID = strings.ToLower(strings.TrimSpace(agentID))
	var b strings.Builder
	for _, r := range agentID {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	ns := strings.Trim(b.String(), "_")
	if ns == "" {
		return "default"
	}
	if len(ns) > 48 {
		ns = ns[:48]
	}
	return ns
}

// ContentKey is the deduplication key for search results: lower-cased, whitespace
// collapsed and cut to the first 100 runes.
func ContentKey(content string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	runes := []rune(normalized)
	if len(runes) > 100 {
		runes = runes[:100]
	}
	return string(runes)
}
