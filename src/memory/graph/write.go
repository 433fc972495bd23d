package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

func (s *Service) storeMessage(ctx context.Context, item model.MemoryItem) (string, error) {
	meta := item.Metadata
	if strings.TrimSpace(model.StringFromAny(meta[model.MetaRole])) == "" {
		meta[model.MetaRole] = "user"
	}
	sessionID := strings.TrimSpace(model.StringFromAny(meta[model.MetaSessionID]))
	userID := strings.TrimSpace(model.StringFromAny(meta[model.MetaUserID]))
	replyTo := strings.TrimSpace(model.StringFromAny(meta[model.MetaReplyTo]))

	if sessionID != "" {
		unlock := s.chains.Lock("session:" + sessionID)
		defer unlock()
	}

	var previous string
	if sessionID != "" && replyTo == "" {
		prev, err := s.latestInSession(ctx, sessionID, model.GraphKindMessage)
		if err != nil {
			return "", err
		}
		previous = prev.ID
		item = afterPrevious(item, prev)
	}

	node := model.Node{MemoryItem: item, Kind: model.GraphKindMessage}
	if err := s.backend.PutNode(ctx, node); err != nil {
		return "", fmt.Errorf("graph store message: %w", err)
	}

	if sessionID != "" {
		session, err := s.ensureNode(ctx, model.GraphKindSession, sessionID, nil)
		if err != nil {
			return "", err
		}
		if err := s.link(ctx, node.ID, session.ID, model.EdgePartOf, 1, nil); err != nil {
			return "", err
		}
	}
	if userID != "" {
		user, err := s.ensureNode(ctx, model.GraphKindUser, userID, nil)
		if err != nil {
			return "", err
		}
		if err := s.link(ctx, user.ID, node.ID, model.EdgeSent, 1, nil); err != nil {
			return "", err
		}
	}
	switch {
	case replyTo != "":
		if _, err := s.backend.GetNode(ctx, replyTo); err != nil {
			if !isNotFound(err) {
				return "", err
			}
			s.logger.Warn("reply target missing, chain not linked", "id", node.ID, "reply_to", replyTo)
		} else if err := s.link(ctx, node.ID, replyTo, model.EdgeRespondsTo, 1, nil); err != nil {
			return "", err
		}
	case previous != "":
		if err := s.link(ctx, node.ID, previous, model.EdgeRespondsTo, 1, nil); err != nil {
			return "", err
		}
	}

	if err := s.attachConcepts(ctx, node); err != nil {
		return "", err
	}
	return node.ID, nil
}

// attachConcepts links the message to the concepts its caller named in
// metadata["concepts"]. No concept is ever inferred from the text itself.
func (s *Service) attachConcepts(ctx context.Context, msg model.Node) error {
	names := model.StringsFromAny(msg.Metadata[model.MetaConcepts])
	if len(names) == 0 || s.opts.MaxConceptsPerMessage == 0 {
		return nil
	}
	confidence := 0.5
	if c, ok := msg.Metadata[model.MetaConfidence]; ok {
		confidence = model.ClampImportance(model.FloatFromAny(c))
	}
	if confidence < s.opts.ConceptConfidenceThreshold {
		return nil
	}
	attached := 0
	for _, name := range names {
		if attached >= s.opts.MaxConceptsPerMessage {
			break
		}
		if model.IdentityKey(name) == "" {
			continue
		}
		concept := model.NewMemoryItem(name, model.MemoryTypeGraph, msg.Importance, s.now())
		concept.Metadata[model.MetaGraphKind] = string(model.GraphKindConcept)
		concept.Metadata[model.MetaConceptName] = name
		concept.Metadata[model.MetaConfidence] = confidence
		id, err := s.mergeConcept(ctx, name, concept)
		if err != nil {
			return err
		}
		if err := s.link(ctx, msg.ID, id, model.EdgeMentions, confidence, nil); err != nil {
			return err
		}
		attached++
	}
	return nil
}

func (s *Service) storeFact(ctx context.Context, item model.MemoryItem) (string, error) {
	meta := item.Metadata
	if strings.TrimSpace(model.StringFromAny(meta[model.MetaObject])) == "" &&
		strings.TrimSpace(model.StringFromAny(meta[model.MetaSubject])) == "" {
		meta[model.MetaObject] = item.Content
	}
	for _, k := range []string{model.MetaSubject, model.MetaPredicate, model.MetaObject} {
		meta[k] = model.StringFromAny(meta[k])
	}
	node := model.Node{MemoryItem: item, Kind: model.GraphKindFact}
	if err := s.backend.PutNode(ctx, node); err != nil {
		return "", fmt.Errorf("graph store fact: %w", err)
	}
	if err := s.linkSource(ctx, node, model.EdgeContainsFact); err != nil {
		return "", err
	}
	return node.ID, nil
}

func (s *Service) storeEvent(ctx context.Context, item model.MemoryItem) (string, error) {
	meta := item.Metadata
	if strings.TrimSpace(model.StringFromAny(meta[model.MetaEventName])) == "" {
		meta[model.MetaEventName] = truncateRunes(strings.TrimSpace(item.Content), 60)
	}
	occurred := model.TimeFromAny(meta[model.MetaOccurredAt])
	if occurred.IsZero() {
		occurred = s.now()
	}
	meta[model.MetaOccurredAt] = occurred.UTC().Format(time.RFC3339)
	sessionID := strings.TrimSpace(model.StringFromAny(meta[model.MetaSessionID]))

	if sessionID != "" {
		unlock := s.chains.Lock("session:" + sessionID)
		defer unlock()
	}
	var previous string
	if sessionID != "" {
		prev, err := s.latestInSession(ctx, sessionID, model.GraphKindEvent)
		if err != nil {
			return "", err
		}
		previous = prev.ID
		item = afterPrevious(item, prev)
	}

	node := model.Node{MemoryItem: item, Kind: model.GraphKindEvent}
	if err := s.backend.PutNode(ctx, node); err != nil {
		return "", fmt.Errorf("graph store event: %w", err)
	}
	if sessionID != "" {
		session, err := s.ensureNode(ctx, model.GraphKindSession, sessionID, nil)
		if err != nil {
			return "", err
		}
		if err := s.link(ctx, node.ID, session.ID, model.EdgePartOf, 1, nil); err != nil {
			return "", err
		}
	}
	if previous != "" {
		if err := s.link(ctx, previous, node.ID, model.EdgeFollowedBy, 1, nil); err != nil {
			return "", err
		}
	}
	if err := s.linkSource(ctx, node, model.EdgeTriggersEvent); err != nil {
		return "", err
	}
	return node.ID, nil
}

// linkSource connects metadata["source_id"] to node when the source exists.
func (s *Service) linkSource(ctx context.Context, node model.Node, t model.EdgeType) error {
	source := strings.TrimSpace(model.StringFromAny(node.Metadata[model.MetaSourceID]))
	if source == "" {
		return nil
	}
	if _, err := s.backend.GetNode(ctx, source); err != nil {
		if isNotFound(err) {
			s.logger.Warn("source node missing, not linked", "id", node.ID, "source_id", source)
			return nil
		}
		return err
	}
	return s.link(ctx, source, node.ID, t, 1, nil)
}

// mergeConcept upserts a concept by identity key. An existing concept keeps
// its id and content, takes the higher confidence and importance and is
// touched.
func (s *Service) mergeConcept(ctx context.Context, name string, item model.MemoryItem) (string, error) {
	key := model.IdentityKey(name)
	if key == "" {
		return "", model.NewValidationError("concept_name", "concept name has no usable characters")
	}
	unlock := s.merges.Lock(string(model.GraphKindConcept) + ":" + key)
	defer unlock()

	confidence := 0.5
	if c, ok := item.Metadata[model.MetaConfidence]; ok {
		confidence = model.ClampImportance(model.FloatFromAny(c))
	}
	existing, err := s.backend.FindByKey(ctx, model.GraphKindConcept, key)
	switch {
	case err == nil:
		if confidence > existing.Confidence() {
			existing.Metadata[model.MetaConfidence] = confidence
		}
		if item.Importance > existing.Importance {
			existing.Importance = item.Importance
		}
		existing.Tags = model.NormalizeTags(append(existing.Tags, item.Tags...))
		existing.Touch(s.now())
		if err := s.backend.PutNode(ctx, existing); err != nil {
			return "", fmt.Errorf("graph merge concept: %w", err)
		}
		return existing.ID, nil
	case !isNotFound(err):
		return "", err
	}

	meta := item.Metadata
	meta[model.MetaGraphKind] = string(model.GraphKindConcept)
	meta[model.MetaConceptName] = name
	if strings.TrimSpace(model.StringFromAny(meta[model.MetaConceptType])) == "" {
		meta[model.MetaConceptType] = "general"
	}
	meta[model.MetaConfidence] = confidence
	node := model.Node{MemoryItem: item, Kind: model.GraphKindConcept, Key: key}
	if err := s.backend.PutNode(ctx, node); err != nil {
		return "", fmt.Errorf("graph store concept: %w", err)
	}
	return node.ID, nil
}

// ensureNode returns the session or user node for key, creating it when
// missing. seed, when given, supplies the content of a new node.
func (s *Service) ensureNode(ctx context.Context, kind model.GraphKind, key string, seed *model.MemoryItem) (model.Node, error) {
	unlock := s.merges.Lock(string(kind) + ":" + key)
	defer unlock()

	existing, err := s.backend.FindByKey(ctx, kind, key)
	if err == nil {
		existing.Touch(s.now())
		if err := s.backend.PutNode(ctx, existing); err != nil {
			return model.Node{}, err
		}
		return existing, nil
	}
	if !isNotFound(err) {
		return model.Node{}, err
	}
	var item model.MemoryItem
	if seed != nil {
		item = seed.Clone()
	} else {
		item = model.NewMemoryItem(key, model.MemoryTypeGraph, 0.5, s.now())
	}
	item.Metadata[model.MetaGraphKind] = string(kind)
	item.Metadata[string(kind)+"_id"] = key
	node := model.Node{MemoryItem: item, Kind: kind, Key: key}
	if err := s.backend.PutNode(ctx, node); err != nil {
		return model.Node{}, fmt.Errorf("graph store %s: %w", kind, err)
	}
	return node, nil
}

// latestInSession finds the most recent node of kind attached to the session.
func (s *Service) latestInSession(ctx context.Context, sessionID string, kind model.GraphKind) (model.Node, error) {
	session, err := s.backend.FindByKey(ctx, model.GraphKindSession, sessionID)
	if err != nil {
		if isNotFound(err) {
			return model.Node{}, nil
		}
		return model.Node{}, err
	}
	edges, err := s.backend.Edges(ctx, session.ID)
	if err != nil {
		return model.Node{}, err
	}
	var best model.Node
	for _, e := range edges {
		if e.Type != model.EdgePartOf || e.To != session.ID {
			continue
		}
		n, err := s.backend.GetNode(ctx, e.From)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return model.Node{}, err
		}
		if n.Kind != kind {
			continue
		}
		if best.ID == "" || n.CreatedAt.After(best.CreatedAt) || (n.CreatedAt.Equal(best.CreatedAt) && n.ID > best.ID) {
			best = n
		}
	}
	return best, nil
}

// afterPrevious moves item just past prev when their timestamps tie or run
// backwards, so the latest node of a session is always the last one stored.
func afterPrevious(item model.MemoryItem, prev model.Node) model.MemoryItem {
	if prev.ID == "" || item.CreatedAt.After(prev.CreatedAt) {
		return item
	}
	item.CreatedAt = prev.CreatedAt.Add(time.Microsecond)
	if item.LastAccessed.Before(item.CreatedAt) {
		item.LastAccessed = item.CreatedAt
	}
	return item
}

func conceptName(item model.MemoryItem) string {
	if name := strings.TrimSpace(model.StringFromAny(item.Metadata[model.MetaConceptName])); name != "" {
		return name
	}
	return strings.TrimSpace(item.Content)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
