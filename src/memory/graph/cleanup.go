package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// Cleanup forgets expired nodes and returns how many were removed.
//
// Messages and events go once they outlive their retention window. Facts and
// concepts also need an importance below the concept confidence threshold.
// Users are kept; sessions idle for longer than the window are removed once
// nothing is part of them anymore.
// retentionDays <= 0 uses the configured default window.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	policy := s.opts.Retention.WithDefaultDays(retentionDays)
	now := s.now()

	var expired, sessions []string
	err := s.backend.Scan(ctx, func(n model.Node) bool {
		switch n.Kind {
		case model.GraphKindMessage, model.GraphKindEvent:
			if policy.Expired(n.MemoryItem, now) {
				expired = append(expired, n.ID)
			}
		case model.GraphKindFact, model.GraphKindConcept:
			if policy.Expired(n.MemoryItem, now) && n.Importance < s.opts.ConceptConfidenceThreshold {
				expired = append(expired, n.ID)
			}
		case model.GraphKindSession:
			if now.Sub(n.LastAccessed) > time.Duration(policy.DefaultDays)*24*time.Hour {
				sessions = append(sessions, n.ID)
			}
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("graph cleanup scan: %w", err)
	}

	removed := 0
	for _, id := range expired {
		if err := s.backend.DeleteNode(ctx, id); err != nil {
			if isNotFound(err) {
				continue
			}
			return removed, fmt.Errorf("graph cleanup delete %s: %w", id, err)
		}
		removed++
	}
	for _, id := range sessions {
		edges, err := s.backend.Edges(ctx, id)
		if err != nil {
			return removed, err
		}
		orphan := true
		for _, e := range edges {
			if e.Type == model.EdgePartOf && e.To == id {
				orphan = false
				break
			}
		}
		if !orphan {
			continue
		}
		if err := s.backend.DeleteNode(ctx, id); err != nil && !isNotFound(err) {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("graph cleanup", "removed", removed, "retention_days", policy.DefaultDays)
	}
	return removed, nil
}
