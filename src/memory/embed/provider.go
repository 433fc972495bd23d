package embed

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider names accepted by New.
const (
	ProviderHash      = "hash"
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
	ProviderVoyage    = "voyage"
	ProviderFastEmbed = "fastembed"
)

// Settings selects and tunes an embedder.
type Settings struct {
	Provider  string
	Model     string
	Endpoint  string
	Dimension int
	Timeout   time.Duration
	CacheSize int
}

// New builds the embedder named by s.Provider, wrapped with the cache and the
// timeout. The "none" provider returns a nil Embedder and no error.
func New(ctx context.Context, s Settings) (Embedder, error) {
	base, err := newProvider(ctx, s)
	if err != nil || base == nil {
		return nil, err
	}
	cached, err := WithCache(base, s.CacheSize)
	if err != nil {
		return nil, err
	}
	return WithTimeout(cached, s.Timeout), nil
}

func newProvider(ctx context.Context, s Settings) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case "", ProviderHash, "dummy":
		return NewHashEmbedder(s.Dimension), nil
	case ProviderNone:
		return nil, nil
	case ProviderOpenAI:
		e, err := NewOpenAIEmbedder(s.Model, s.Endpoint, s.Dimension)
		if err != nil {
			return nil, err
		}
		return e, nil
	case ProviderOllama:
		e, err := NewOllamaEmbedder(s.Model, s.Endpoint)
		if err != nil {
			return nil, err
		}
		return e, nil
	case ProviderGemini, "google", "vertex":
		e, err := NewGeminiEmbedder(ctx, s.Model)
		if err != nil {
			return nil, err
		}
		return e, nil
	case ProviderVoyage, "claude", "anthropic":
		v := NewVoyageEmbedder(s.Model)
		if s.Endpoint != "" {
			v.endpoint = s.Endpoint
		}
		return v, nil
	case ProviderFastEmbed:
		opts := defaultFastEmbedOptions()
		if s.Model != "" {
			opts.Model = s.Model
		}
		e, err := NewFastEmbedder(ctx, opts)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", s.Provider)
}
