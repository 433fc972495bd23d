package orchestrator

import (
	"context"
	"fmt"

	"github.com/poqudrof/Locrits-sub000/src/config"
	"github.com/poqudrof/Locrits-sub000/src/memory/embed"
	"github.com/poqudrof/Locrits-sub000/src/memory/graph"
	"github.com/poqudrof/Locrits-sub000/src/memory/model"
	"github.com/poqudrof/Locrits-sub000/src/memory/vector"
)

// Open builds both services from cfg. A service that fails to start is left
// out and the orchestrator runs degraded on the other one; Open fails only
// when neither is available.
func Open(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	logger := cfg.Logger("orchestrator")
	var (
		g *graph.Service
		v *vector.Service
	)
	if cfg.Graph.Enabled {
		b, err := graph.OpenBackend(ctx, cfg)
		if err != nil {
			logger.Error("graph memory unavailable", "backend", cfg.Graph.Backend, "err", err)
		} else {
			g = graph.New(b, graph.OptionsFromConfig(cfg)).WithLogger(cfg.Logger("graph"))
		}
	}
	if cfg.Vector.Enabled {
		embedder, err := embed.New(ctx, vector.EmbedSettings(cfg))
		if err != nil {
			logger.Error("embedder unavailable, vector search falls back to lexical matching", "provider", cfg.Embedding.Provider, "err", err)
			embedder = nil
		}
		b, err := vector.OpenBackend(ctx, cfg)
		if err != nil {
			logger.Error("vector memory unavailable", "backend", cfg.Vector.Backend, "err", err)
		} else {
			v = vector.New(b, embedder, vector.OptionsFromConfig(cfg)).WithLogger(cfg.Logger("vector"))
		}
	}
	if g == nil && v == nil {
		return nil, fmt.Errorf("open memory for %s: %w", cfg.Namespace(), model.ErrBackendUnavailable)
	}
	return New(g, v, nil, OptionsFromConfig(cfg)).WithLogger(logger), nil
}

// OptionsFromConfig maps the agent, updates and retention sections onto
// orchestrator options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Namespace:            cfg.Namespace(),
		AutoUpdate:           cfg.Updates.AutoUpdate,
		UpdateInterval:       cfg.Updates.UpdateInterval,
		MaxBatchSize:         cfg.Updates.MaxBatchSize,
		DrainSchedule:        cfg.Updates.DrainSchedule,
		Workers:              cfg.Updates.Workers,
		DefaultRetentionDays: cfg.Retention.DefaultRetentionDays,
	}
}
