package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// GraphKind enumerates the structured entity shapes kept by the graph service.
type GraphKind string

const (
	GraphKindMessage GraphKind = "message"
	GraphKindFact    GraphKind = "fact"
	GraphKindEvent   GraphKind = "event"
	GraphKindConcept GraphKind = "concept"
	GraphKindSession GraphKind = "session"
	GraphKindUser    GraphKind = "user"
)

// Metadata keys with a fixed meaning on graph nodes.
const (
	MetaGraphKind   = "graph_kind"
	MetaRole        = "role"
	MetaSessionID   = "session_id"
	MetaUserID      = "user_id"
	MetaReplyTo     = "reply_to"
	MetaConcepts    = "concepts"
	MetaSubject     = "subject"
	MetaPredicate   = "predicate"
	MetaObject      = "object"
	MetaEventName   = "event_name"
	MetaOccurredAt  = "occurred_at"
	MetaConceptName = "concept_name"
	MetaConceptType = "concept_type"
	MetaConfidence  = "confidence"
	MetaHybridPeer  = "hybrid_peer"
	MetaSourceID    = "source_id"
)

// ParseGraphKind maps metadata values onto a storable kind. Unknown or empty values
// become messages.
func ParseGraphKind(raw any) GraphKind {
	switch GraphKind(strings.ToLower(strings.TrimSpace(StringFromAny(raw)))) {
	case GraphKindFact:
		return GraphKindFact
	case GraphKindEvent:
		return GraphKindEvent
	case GraphKindConcept:
		return GraphKindConcept
	case GraphKindSession:
		return GraphKindSession
	case GraphKindUser:
		return GraphKindUser
	}
	return GraphKindMessage
}

// Merges reports whether nodes of this kind are merged by identity key instead of
// inserted.
func (k GraphKind) Merges() bool {
	return k == GraphKindConcept || k == GraphKindSession || k == GraphKindUser
}

// EdgeType enumerates supported relationships between graph nodes.
type EdgeType string

const (
	EdgeSent          EdgeType = "SENT"
	EdgePartOf        EdgeType = "PART_OF"
	EdgeMentions      EdgeType = "MENTIONS"
	EdgeRelatesTo     EdgeType = "RELATES_TO"
	EdgeRespondsTo    EdgeType = "RESPONDS_TO"
	EdgeContainsFact  EdgeType = "CONTAINS_FACT"
	EdgeTriggersEvent EdgeType = "TRIGGERS_EVENT"
	EdgeFollowedBy    EdgeType = "FOLLOWED_BY"
)

var validEdgeTypes = map[EdgeType]struct{}{
	EdgeSent:          {},
	EdgePartOf:        {},
	EdgeMentions:      {},
	EdgeRelatesTo:     {},
	EdgeRespondsTo:    {},
	EdgeContainsFact:  {},
	EdgeTriggersEvent: {},
	EdgeFollowedBy:    {},
}

// ParseEdgeType normalizes and validates an edge type name.
func ParseEdgeType(raw string) (EdgeType, error) {
	t := EdgeType(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := validEdgeTypes[t]; !ok {
		return "", NewValidationError("type", fmt.Sprintf("unsupported edge type %q", raw))
	}
	return t, nil
}

// EdgeTypes returns every supported edge type in declaration order.
func EdgeTypes() []EdgeType {
	return []EdgeType{EdgeSent, EdgePartOf, EdgeMentions, EdgeRelatesTo, EdgeRespondsTo, EdgeContainsFact, EdgeTriggersEvent, EdgeFollowedBy}
}

// Node is a graph entity. Kind selects the entity shape, Key is the identity key
// used by merging kinds.
type Node struct {
	MemoryItem
	Kind GraphKind `json:"kind"`
	Key  string    `json:"key,omitempty"`
}

// Edge is a typed, directed connection between two existing nodes.
type Edge struct {
	From       string         `json:"from"`
	To         string         `json:"to"`
	Type       EdgeType       `json:"type"`
	Weight     float64        `json:"weight"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Validate ensures the edge definition is usable.
func (e Edge) Validate() error {
	if strings.TrimSpace(e.From) == "" || strings.TrimSpace(e.To) == "" {
		return errors.New("graph edge endpoint is empty")
	}
	if _, ok := validEdgeTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported edge type %q", e.Type)
	}
	return nil
}

// Key identifies the edge; creating the same edge twice merges it.
func (e Edge) Key() string {
	return e.From + "\x1f" + string(e.Type) + "\x1f" + e.To
}

// Network is a bounded neighborhood around a center node.
type Network struct {
	CenterID string `json:"center_id"`
	Radius   int    `json:"radius"`
	Nodes    []Node `json:"nodes"`
	Edges    []Edge `json:"edges"`
}

// Fact is the subject/predicate/object view of a fact node.
type Fact struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// FactOf reads the triple from a fact node's metadata.
func FactOf(n Node) Fact {
	return Fact{
		Subject:   StringFromAny(n.Metadata[MetaSubject]),
		Predicate: StringFromAny(n.Metadata[MetaPredicate]),
		Object:    StringFromAny(n.Metadata[MetaObject]),
	}
}

// SearchText returns the fields lexical search looks at for the node.
func (n Node) SearchText() string {
	parts := []string{n.Content}
	switch n.Kind {
	case GraphKindFact:
		f := FactOf(n)
		parts = append(parts, f.Subject, f.Predicate, f.Object)
	case GraphKindEvent:
		parts = append(parts, StringFromAny(n.Metadata[MetaEventName]))
	case GraphKindConcept:
		parts = append(parts, StringFromAny(n.Metadata[MetaConceptName]), StringFromAny(n.Metadata[MetaConceptType]))
	}
	if desc := StringFromAny(n.Metadata["description"]); desc != "" {
		parts = append(parts, desc)
	}
	return strings.Join(parts, " ")
}

// Confidence returns the stored concept confidence, or 0 when absent.
func (n Node) Confidence() float64 {
	return FloatFromAny(n.Metadata[MetaConfidence])
}
