package graph

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/poqudrof/Locrits-sub000/src/config"
)

// OpenBackend builds the backend selected by cfg.Graph.Backend.
func OpenBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	ns := cfg.Namespace()
	switch cfg.Graph.Backend {
	case "", config.BackendMemory:
		if !cfg.Graph.Snapshot {
			return NewMemoryBackend(), nil
		}
		b, err := OpenMemoryBackend(filepath.Join(cfg.AgentDir(), "graph.json"))
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendNeo4j:
		b, err := DialNeo4j(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database, ns)
		if err != nil {
			return nil, err
		}
		if err := b.CreateSchema(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		return b, nil
	case config.BackendPostgres:
		b, err := NewPostgresBackend(ctx, cfg.Graph.URI, ns)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown graph backend %q", cfg.Graph.Backend)
}

// OptionsFromConfig maps the graph and retention sections onto service options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxRelationshipDepth:       cfg.Graph.MaxRelationshipDepth,
		MaxConceptsPerMessage:      cfg.Graph.MaxConceptsPerMessage,
		ConceptConfidenceThreshold: cfg.Graph.ConceptConfidenceThreshold,
		Retention:                  cfg.RetentionPolicy(),
	}
}
