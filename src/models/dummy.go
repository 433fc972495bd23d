package models

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// DummyLLM answers without a network call. With scripted replies it returns
// them in order and then falls back to echoing the last prompt line.
type DummyLLM struct {
	Prefix string

	mu      sync.Mutex
	replies []string
	prompts []string
}

func NewDummyLLM(prefix string, replies ...string) *DummyLLM {
	if strings.TrimSpace(prefix) == "" {
		prefix = "Dummy response:"
	}
	return &DummyLLM{Prefix: prefix, replies: replies}
}

func (d *DummyLLM) Generate(_ context.Context, prompt string) (any, error) {
	d.mu.Lock()
	d.prompts = append(d.prompts, prompt)
	if len(d.replies) > 0 {
		next := d.replies[0]
		d.replies = d.replies[1:]
		d.mu.Unlock()
		return next, nil
	}
	d.mu.Unlock()

	lines := strings.Split(prompt, "\n")
	var last string
	for i := len(lines) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(lines[i])
		if candidate != "" {
			last = candidate
			break
		}
	}
	if last == "" {
		last = "<empty prompt>"
	}
	return fmt.Sprintf("%s %s", d.Prefix, last), nil
}

// Prompts returns every prompt received so far.
func (d *DummyLLM) Prompts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.prompts...)
}

var _ Agent = (*DummyLLM)(nil)
