package model

import "time"

// CriticalImportance is the importance at which the critical retention window applies.
const CriticalImportance = 0.8

// MetaEphemeral marks an item that follows the ephemeral retention window.
const MetaEphemeral = "ephemeral"

// RetentionPolicy decides when an item has outlived its retention window.
type RetentionPolicy struct {
	DefaultDays    int
	CriticalDays   int // -1 keeps critical items forever
	EphemeralHours int
}

// WithDefaultDays overrides the default window, typically from a cleanup call.
func (p RetentionPolicy) WithDefaultDays(days int) RetentionPolicy {
	if days > 0 {
		p.DefaultDays = days
	}
	return p
}

// IsEphemeral reports whether the item is marked ephemeral by tag or metadata.
func IsEphemeral(item MemoryItem) bool {
	return item.HasTag(MetaEphemeral) || BoolFromAny(item.Metadata[MetaEphemeral])
}

// Expired reports whether item is past its window at now.
func (p RetentionPolicy) Expired(item MemoryItem, now time.Time) bool {
	age := item.Age(now)
	if IsEphemeral(item) && p.EphemeralHours > 0 {
		return age > time.Duration(p.EphemeralHours)*time.Hour
	}
	if item.Importance >= CriticalImportance {
		if p.CriticalDays < 0 {
			return false
		}
		if p.CriticalDays > 0 {
			return age > days(p.CriticalDays)
		}
	}
	if p.DefaultDays <= 0 {
		return false
	}
	return age > days(p.DefaultDays)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
