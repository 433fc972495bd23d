package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/poqudrof/Locrits-sub000/src/config"
)

// Provider names accepted by New.
const (
	ProviderDummy     = "dummy"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// Settings selects and tunes a completion service.
type Settings struct {
	Provider     string
	Model        string
	Endpoint     string
	MaxTokens    int
	Timeout      time.Duration
	PromptPrefix string
	CacheSize    int
	CacheTTL     time.Duration
	CachePath    string
}

// SettingsFromConfig maps the completion section of cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	c := cfg.Completion
	return Settings{
		Provider:  c.Provider,
		Model:     c.Model,
		Endpoint:  c.Endpoint,
		MaxTokens: c.MaxTokens,
		Timeout:   c.Timeout,
	}
}

// New builds the completion service named by s.Provider, cached when
// CacheSize is positive and bounded by Timeout.
func New(ctx context.Context, s Settings) (Agent, error) {
	var (
		agent Agent
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case "", ProviderDummy:
		agent = NewDummyLLM(s.PromptPrefix)
	case ProviderAnthropic, "claude":
		agent, err = NewAnthropicLLM(s.Model, s.Endpoint, s.MaxTokens, s.PromptPrefix)
	case ProviderOpenAI:
		agent, err = NewOpenAILLM(s.Model, s.Endpoint, s.MaxTokens, s.PromptPrefix)
	case ProviderGemini, "google":
		agent, err = NewGeminiLLM(ctx, s.Model, s.MaxTokens, s.PromptPrefix)
	case ProviderOllama:
		agent, err = NewOllamaLLM(s.Model, s.Endpoint, s.MaxTokens, s.PromptPrefix)
	default:
		return nil, fmt.Errorf("unknown completion provider %q", s.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", s.Provider, err)
	}
	if s.CacheSize > 0 {
		agent = NewCachedLLM(agent, s.CacheSize, s.CacheTTL, s.CachePath)
	}
	return WithTimeout(agent, s.Timeout), nil
}

// timeoutAgent bounds every Generate call.
type timeoutAgent struct {
	inner   Agent
	timeout time.Duration
}

// WithTimeout wraps agent so each call is cancelled after d. A non-positive d
// returns agent unchanged.
func WithTimeout(agent Agent, d time.Duration) Agent {
	if d <= 0 || agent == nil {
		return agent
	}
	return &timeoutAgent{inner: agent, timeout: d}
}

func (t *timeoutAgent) Generate(ctx context.Context, prompt string) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := t.inner.Generate(ctx, prompt)
		done <- result{out, err}
	}()
	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("completion: %w", ctx.Err())
	}
}
