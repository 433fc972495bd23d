package vector

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/poqudrof/Locrits-sub000/src/config"
	"github.com/poqudrof/Locrits-sub000/src/memory/embed"
)

// OpenBackend builds the backend selected by cfg.Vector.Backend.
func OpenBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	ns := cfg.Namespace()
	dim := cfg.Vector.Dimension
	switch cfg.Vector.Backend {
	case "", config.BackendMemory:
		return NewMemoryBackend(), nil
	case config.BackendSQLite:
		return openSQLite(cfg)
	case config.BackendChromem:
		var catalog Backend = NewMemoryBackend()
		if cfg.Vector.Catalog != config.BackendMemory {
			b, err := openSQLite(cfg)
			if err != nil {
				return nil, err
			}
			catalog = b
		}
		b, err := NewChromemBackend(filepath.Join(cfg.AgentDir(), "chromem"), ns, catalog)
		if err != nil {
			_ = catalog.Close()
			return nil, err
		}
		return b, nil
	case config.BackendQdrant:
		b := NewQdrantBackend(cfg.Vector.URL, cfg.Vector.APIKey, ns, dim)
		if err := b.EnsureCollection(ctx); err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendPostgres:
		b, err := NewPostgresBackend(ctx, cfg.Vector.URL, ns, dim)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendMongoDB:
		b, err := NewMongoBackend(ctx, cfg.Vector.URL, ns)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
}

func openSQLite(cfg *config.Config) (Backend, error) {
	b, err := NewSQLiteBackend(filepath.Join(cfg.AgentDir(), "vector.db"))
	if err != nil {
		return nil, err
	}
	return b, nil
}

// OptionsFromConfig maps the vector, embedding and retention sections onto
// service options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dimension:           cfg.Vector.Dimension,
		SimilarityThreshold: cfg.Vector.SimilarityThreshold,
		MaxMemories:         cfg.Vector.MaxMemories,
		CleanupThreshold:    cfg.Vector.CleanupThreshold,
		Retention:           cfg.RetentionPolicy(),
		EmbedTimeout:        cfg.Embedding.Timeout,
	}
}

// EmbedSettings maps the embedding section onto embedder settings.
func EmbedSettings(cfg *config.Config) embed.Settings {
	return embed.Settings{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		Endpoint:  cfg.Embedding.Endpoint,
		Dimension: cfg.Vector.Dimension,
		Timeout:   cfg.Embedding.Timeout,
		CacheSize: cfg.Embedding.CacheSize,
	}
}
