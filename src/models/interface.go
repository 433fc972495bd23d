// Package models adapts completion services to the single-call Agent
// interface used by the memory director.
package models

import (
	"context"
	"fmt"
	"strings"
)

// Agent produces a completion for one prompt.
type Agent interface {
	Generate(context.Context, string) (any, error)
}

// Texter is implemented by provider responses that carry more than text.
type Texter interface {
	Text() string
}

// Text flattens a Generate result into plain text.
func Text(out any) string {
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	case Texter:
		return v.Text()
	case fmt.Stringer:
		return v.String()
	}
	return strings.TrimSpace(fmt.Sprint(out))
}

func withPrefix(prefix, prompt, sep string) string {
	if strings.TrimSpace(prefix) == "" {
		return prompt
	}
	return prefix + sep + prompt
}
