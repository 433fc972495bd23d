//go:build fastembed

package embed

import (
	"context"
	"fmt"
	"runtime"

	fastembed "github.com/anush008/fastembed-go"
)

type FastEmbedder struct {
	m  *fastembed.FlagEmbedding
	bs int
}

// NewFastEmbedder loads a local ONNX model. A nil opt uses bge-small-en-v1.5.
func NewFastEmbedder(_ context.Context, opt *FastEmbedOptions) (*FastEmbedder, error) {
	if opt == nil {
		opt = defaultFastEmbedOptions()
	}
	m, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:     fastembed.EmbeddingModel(opt.Model),
		CacheDir:  opt.CacheDir,
		MaxLength: opt.MaxLength,
	})
	if err != nil {
		return nil, err
	}
	bs := 64
	if opt.BatchSize > 0 {
		bs = opt.BatchSize
	}
	if bs > 4*runtime.GOMAXPROCS(0) {
		bs = 4 * runtime.GOMAXPROCS(0)
	}
	return &FastEmbedder{m: m, bs: bs}, nil
}

func (e *FastEmbedder) Close() error {
	if e.m != nil {
		e.m.Destroy()
	}
	return nil
}

func (e *FastEmbedder) EmbedPassages(_ context.Context, docs []string) ([][]float32, error) {
	inputs := make([]string, len(docs))
	for i, d := range docs {
		if len(d) >= 8 && d[:8] == "passage:" {
			inputs[i] = d
		} else {
			inputs[i] = "passage: " + d
		}
	}
	out, err := e.m.PassageEmbed(inputs, e.bs)
	if err != nil {
		return nil, fmt.Errorf("passage embed: %w", err)
	}
	return out, nil
}

func (e *FastEmbedder) Embed(_ context.Context, q string) ([]float32, error) {
	return e.m.QueryEmbed(q)
}
