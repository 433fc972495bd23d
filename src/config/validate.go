package config

import (
	"sort"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/cohesivestack/valgo"
)

// Issue is one validation problem found in a configuration.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string { return i.Field + ": " + i.Message }

// Validate checks every bound and returns the problems found, sorted by field.
// An empty slice means the configuration is usable.
func (c *Config) Validate() []Issue {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v := valgo.Is(
		valgo.Int(c.Vector.Dimension, "vector.dimension").Between(1, 2048, "must be between 1 and 2048"),
	).Is(
		valgo.Float64(c.Vector.SimilarityThreshold, "vector.similarity_threshold").Between(0, 1, "must be between 0 and 1"),
	).Is(
		valgo.Float64(c.Vector.CleanupThreshold, "vector.cleanup_threshold").Between(0, 1, "must be between 0 and 1"),
	).Is(
		valgo.Int(c.Vector.MaxMemories, "vector.max_memories").GreaterOrEqualTo(1, "must be at least 1"),
	).Is(
		valgo.String(c.Vector.Backend, "vector.backend").InSlice(VectorBackends, "must be one of "+strings.Join(VectorBackends, ", ")),
	).Is(
		valgo.Int(c.Graph.MaxConceptsPerMessage, "graph.max_concepts_per_message").GreaterOrEqualTo(0, "must not be negative"),
	).Is(
		valgo.Float64(c.Graph.ConceptConfidenceThreshold, "graph.concept_confidence_threshold").Between(0, 1, "must be between 0 and 1"),
	).Is(
		valgo.Int(c.Graph.MaxRelationshipDepth, "graph.max_relationship_depth").Between(1, 10, "must be between 1 and 10"),
	).Is(
		valgo.String(c.Graph.Backend, "graph.backend").InSlice(GraphBackends, "must be one of "+strings.Join(GraphBackends, ", ")),
	).Is(
		valgo.Int(c.Updates.UpdateInterval, "updates.update_interval").GreaterOrEqualTo(1, "must be at least 1"),
	).Is(
		valgo.Int(c.Updates.MaxBatchSize, "updates.max_batch_size").Between(1, 10000, "must be between 1 and 10000"),
	).Is(
		valgo.Int(c.Updates.Workers, "updates.workers").GreaterOrEqualTo(1, "must be at least 1"),
	).Is(
		valgo.String(c.Updates.DrainSchedule, "updates.drain_schedule").Passing(validSchedule, "must be a valid cron expression"),
	).Is(
		valgo.Int(c.Retention.DefaultRetentionDays, "retention.default_retention_days").GreaterOrEqualTo(1, "must be at least 1"),
	).Is(
		valgo.Int(c.Retention.CriticalRetentionDays, "retention.critical_retention_days").Passing(func(d int) bool {
			return d == -1 || d >= 1
		}, "must be -1 (never expire) or at least 1"),
	).Is(
		valgo.Int(c.Retention.EphemeralRetentionHours, "retention.ephemeral_retention_hours").GreaterOrEqualTo(1, "must be at least 1"),
	).Is(
		valgo.Bool(c.Vector.Enabled || c.Graph.Enabled, "services").True("at least one of graph or vector must be enabled"),
	)

	if c.Vector.Backend == BackendChromem {
		v.Is(valgo.String(c.Vector.Catalog, "vector.catalog").InSlice([]string{BackendMemory, BackendSQLite}, "must be memory or sqlite"))
	}
	if c.Vector.Enabled && c.Vector.Backend == BackendQdrant {
		v.Is(valgo.String(c.Vector.URL, "vector.url").Not().Blank("is required for qdrant"))
	}
	if c.Graph.Enabled && c.Graph.Backend == BackendNeo4j {
		v.Is(valgo.String(c.Graph.URI, "graph.uri").Not().Blank("is required for neo4j"))
	}

	if v.Valid() {
		return nil
	}
	var issues []Issue
	for field, verr := range v.Errors() {
		for _, msg := range verr.Messages() {
			issues = append(issues, Issue{Field: field, Message: msg})
		}
	}
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Field == issues[j].Field {
			return issues[i].Message < issues[j].Message
		}
		return issues[i].Field < issues[j].Field
	})
	return issues
}

func validSchedule(expr string) bool {
	if strings.TrimSpace(expr) == "" {
		return false
	}
	return gronx.New().IsValid(expr)
}
