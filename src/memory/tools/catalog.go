package tools

import (
	"fmt"
	"strings"
	"sync"
)

// StaticToolCatalog holds the memory tools under case-insensitive names.
// Listing follows registration order.
type StaticToolCatalog struct {
	mu      sync.RWMutex
	entries map[string]catalogEntry
	order   []string
}

type catalogEntry struct {
	tool Tool
	spec ToolSpec
}

func catalogKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// NewStaticToolCatalog registers tools in order, dropping any Register refuses.
func NewStaticToolCatalog(tools []Tool) *StaticToolCatalog {
	c := &StaticToolCatalog{entries: make(map[string]catalogEntry)}
	for _, tool := range tools {
		_ = c.Register(tool)
	}
	return c
}

// Register refuses nil tools, blank names and names already taken in any case.
func (c *StaticToolCatalog) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("register tool: nil tool")
	}
	spec := tool.Spec()
	key := catalogKey(spec.Name)
	if key == "" {
		return fmt.Errorf("register tool: blank name")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.entries[key]; taken {
		return fmt.Errorf("register tool %q: name taken", spec.Name)
	}
	c.entries[key] = catalogEntry{tool: tool, spec: spec}
	c.order = append(c.order, key)
	return nil
}

// Lookup resolves name case-insensitively.
func (c *StaticToolCatalog) Lookup(name string) (Tool, ToolSpec, bool) {
	c.mu.RLock()
	e, ok := c.entries[catalogKey(name)]
	c.mu.RUnlock()
	return e.tool, e.spec, ok
}

// Specs lists every tool spec.
func (c *StaticToolCatalog) Specs() []ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolSpec, len(c.order))
	for i, key := range c.order {
		out[i] = c.entries[key].spec
	}
	return out
}

func (c *StaticToolCatalog) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Tool, len(c.order))
	for i, key := range c.order {
		out[i] = c.entries[key].tool
	}
	return out
}

// Render lists the catalog as prompt text, one tool per block.
func (c *StaticToolCatalog) Render() string {
	var b strings.Builder
	for _, spec := range c.Specs() {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
		if props, ok := spec.InputSchema["properties"].(map[string]any); ok && len(props) > 0 {
			encoded, err := json.Marshal(props)
			if err == nil {
				fmt.Fprintf(&b, "  arguments: %s\n", encoded)
			}
		}
	}
	return b.String()
}
