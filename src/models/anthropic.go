package models

import (
	"context"
	"errors"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicLLM calls the Anthropic Messages API.
type AnthropicLLM struct {
	Client       *anthropic.Client
	Model        string
	MaxTokens    int
	PromptPrefix string
}

// NewAnthropicLLM reads ANTHROPIC_API_KEY from the environment. endpoint
// overrides the API base URL when set.
func NewAnthropicLLM(model, endpoint string, maxTokens int, promptPrefix string) (*AnthropicLLM, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" && endpoint == "" {
		return nil, errors.New("missing ANTHROPIC_API_KEY")
	}
	opts := []anthropicopt.RequestOption{anthropicopt.WithAPIKey(key)}
	if endpoint != "" {
		opts = append(opts, anthropicopt.WithBaseURL(endpoint))
	}
	cl := anthropic.NewClient(opts...)
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicLLM{Client: &cl, Model: model, MaxTokens: maxTokens, PromptPrefix: promptPrefix}, nil
}

// Generate performs a single-turn completion and returns the concatenated text blocks.
func (a *AnthropicLLM) Generate(ctx context.Context, prompt string) (any, error) {
	msg, err := a.Client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.Model),
		MaxTokens: int64(a.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(withPrefix(a.PromptPrefix, prompt, "\n\n"))),
		},
	})
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String(), nil
}
