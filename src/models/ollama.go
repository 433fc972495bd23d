package models

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

type OllamaLLM struct {
	Client       *ollama.Client
	Model        string
	MaxTokens    int
	PromptPrefix string
}

// OllamaResponse is the aggregated streamed reply.
type OllamaResponse struct {
	Response   string
	Done       bool
	DoneReason string
}

func (r OllamaResponse) Text() string { return r.Response }

// NewOllamaLLM connects to endpoint, falling back to OLLAMA_HOST and then the
// local default.
func NewOllamaLLM(model, endpoint string, maxTokens int, promptPrefix string) (*OllamaLLM, error) {
	host := endpoint
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if model == "" {
		model = "llama3.2"
	}

	c := ollama.NewClient(u, &http.Client{Timeout: 60 * time.Second})
	return &OllamaLLM{Client: c, Model: model, MaxTokens: maxTokens, PromptPrefix: promptPrefix}, nil
}

func (o *OllamaLLM) Generate(ctx context.Context, prompt string) (any, error) {
	var (
		text strings.Builder
		last ollama.GenerateResponse
	)

	req := &ollama.GenerateRequest{
		Model:  o.Model,
		Prompt: withPrefix(o.PromptPrefix, prompt, "\n\n"),
	}
	if o.MaxTokens > 0 {
		req.Options = map[string]any{"num_predict": o.MaxTokens}
	}

	if err := o.Client.Generate(ctx, req, func(gr ollama.GenerateResponse) error {
		if gr.Response != "" {
			text.WriteString(gr.Response)
		}
		last = gr
		return nil
	}); err != nil {
		return nil, err
	}

	return OllamaResponse{
		Response:   text.String(),
		Done:       last.Done,
		DoneReason: last.DoneReason,
	}, nil
}
