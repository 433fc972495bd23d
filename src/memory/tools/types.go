// Package tools exposes the memory as a fixed catalogue of named operations a
// completion model can call directly. Every invocation answers with a JSON
// Result; failures are reported in the result, never raised.
package tools

import (
	"context"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ToolSpec describes how a tool is presented to the model.
type ToolSpec struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema map[string]any   `json:"input_schema"`
	Examples    []map[string]any `json:"examples,omitempty"`
}

// ToolRequest captures an invocation request for a tool.
type ToolRequest struct {
	SessionID string
	Arguments map[string]any
}

// ToolResponse carries the encoded Result in Content.
type ToolResponse struct {
	Content  string
	Metadata map[string]string
}

// Tool exposes structured metadata and an invocation handler.
type Tool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, req ToolRequest) (ToolResponse, error)
}

// Result is the payload every tool returns.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// DecodeResult parses the Content of a ToolResponse.
func DecodeResult(resp ToolResponse) (Result, error) {
	var r Result
	err := json.Unmarshal([]byte(resp.Content), &r)
	return r, err
}
