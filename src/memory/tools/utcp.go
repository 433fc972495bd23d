package tools

import (
	"context"
	"fmt"
	"strings"

	utcp "github.com/universal-tool-calling-protocol/go-utcp"
	"github.com/universal-tool-calling-protocol/go-utcp/src/providers/base"
	"github.com/universal-tool-calling-protocol/go-utcp/src/providers/cli"
	"github.com/universal-tool-calling-protocol/go-utcp/src/repository"
	utcptools "github.com/universal-tool-calling-protocol/go-utcp/src/tools"
	"github.com/universal-tool-calling-protocol/go-utcp/src/transports"
)

// DefaultProvider is the UTCP provider name used when none is given.
const DefaultProvider = "memory"

func providerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultProvider
	}
	return name
}

// AsUTCPTools exposes every catalogued tool as a UTCP tool named
// "<provider>.<tool>" with an in-process handler. Handlers answer with the
// decoded Result object and read a context.Context from the "context" key of
// their execution context when present.
func AsUTCPTools(catalog *StaticToolCatalog, provider string) []utcptools.Tool {
	provider = providerName(provider)
	var out []utcptools.Tool
	for _, tool := range catalog.Tools() {
		spec := tool.Spec()
		props, _ := spec.InputSchema["properties"].(map[string]any)
		required, _ := spec.InputSchema["required"].([]string)
		out = append(out, utcptools.Tool{
			Name:        provider + "." + spec.Name,
			Description: spec.Description,
			Provider: &base.BaseProvider{
				Name:         provider,
				ProviderType: base.ProviderCLI,
			},
			Inputs: utcptools.ToolInputOutputSchema{
				Type:       "object",
				Properties: props,
				Required:   required,
			},
			Outputs: utcptools.ToolInputOutputSchema{
				Type: "object",
				Properties: map[string]any{
					"success": map[string]any{"type": "boolean"},
					"error":   map[string]any{"type": "string"},
					"data":    map[string]any{"type": "object"},
				},
				Required: []string{"success"},
			},
			Handler: handler(tool),
		})
	}
	return out
}

// handlerContextKey carries the caller's context.Context through the
// untyped execution context UTCP hands to handlers.
const handlerContextKey = "context"

func handlerContext(execCtx map[string]any) context.Context {
	if ctx, ok := execCtx[handlerContextKey].(context.Context); ok && ctx != nil {
		return ctx
	}
	return context.Background()
}

func handler(tool Tool) utcptools.ToolHandler {
	return func(execCtx map[string]any, inputs map[string]any) (map[string]any, error) {
		req := ToolRequest{Arguments: inputs}
		if sid, ok := inputs["session_id"].(string); ok {
			req.SessionID = strings.TrimSpace(sid)
		}
		resp, err := tool.Invoke(handlerContext(execCtx), req)
		if err != nil {
			return nil, err
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", tool.Spec().Name, err)
		}
		return out, nil
	}
}

// memoryCLITransport serves in-process memory tools registered under the CLI
// provider type and forwards everything else to the transport it replaced.
type memoryCLITransport struct {
	inner repository.ClientTransport
	tools map[string][]utcptools.Tool
}

func (t *memoryCLITransport) RegisterToolProvider(ctx context.Context, prov base.Provider) ([]utcptools.Tool, error) {
	p, ok := prov.(*cli.CliProvider)
	if !ok {
		if t.inner != nil {
			return t.inner.RegisterToolProvider(ctx, prov)
		}
		return nil, fmt.Errorf("unsupported provider type %T", prov)
	}
	list, ok := t.tools[p.Name]
	if !ok {
		if t.inner != nil {
			return t.inner.RegisterToolProvider(ctx, prov)
		}
		return nil, fmt.Errorf("memory tools not found for provider %s", p.Name)
	}
	return list, nil
}

func (t *memoryCLITransport) DeregisterToolProvider(ctx context.Context, prov base.Provider) error {
	if p, ok := prov.(*cli.CliProvider); ok {
		if _, ok := t.tools[p.Name]; ok {
			delete(t.tools, p.Name)
			return nil
		}
	}
	if t.inner != nil {
		return t.inner.DeregisterToolProvider(ctx, prov)
	}
	return nil
}

func (t *memoryCLITransport) CallTool(ctx context.Context, toolName string, args map[string]any, prov base.Provider, _ *string) (any, error) {
	if p, ok := prov.(*cli.CliProvider); ok {
		if list, ok := t.tools[p.Name]; ok {
			for _, tool := range list {
				if tool.Name == toolName || strings.HasSuffix(tool.Name, "."+toolName) {
					return tool.Handler(map[string]any{handlerContextKey: ctx}, args)
				}
			}
			return nil, fmt.Errorf("tool %s not found for provider %s", toolName, p.Name)
		}
	}
	if t.inner != nil {
		return t.inner.CallTool(ctx, toolName, args, prov, nil)
	}
	return nil, fmt.Errorf("unsupported provider type %T", prov)
}

func (t *memoryCLITransport) CallToolStream(ctx context.Context, toolName string, args map[string]any, prov base.Provider) (transports.StreamResult, error) {
	if p, ok := prov.(*cli.CliProvider); ok {
		if _, ok := t.tools[p.Name]; ok {
			return nil, fmt.Errorf("streaming not supported for memory tool %s", toolName)
		}
	}
	if t.inner != nil {
		return t.inner.CallToolStream(ctx, toolName, args, prov)
	}
	return nil, fmt.Errorf("unsupported provider type %T", prov)
}

// RegisterUTCPProvider installs the catalog on client under provider. The
// tools become callable as client.CallTool(ctx, "<provider>.<tool>", args).
func RegisterUTCPProvider(ctx context.Context, client utcp.UtcpClientInterface, catalog *StaticToolCatalog, provider string) error {
	if client == nil {
		return fmt.Errorf("utcp client is nil")
	}
	if catalog == nil {
		return fmt.Errorf("tool catalog is nil")
	}
	provider = providerName(provider)

	transportsMap := client.GetTransports()
	if transportsMap == nil {
		return fmt.Errorf("utcp client transports map is nil")
	}
	existing := transportsMap[string(base.ProviderCLI)]
	shim, ok := existing.(*memoryCLITransport)
	if !ok {
		shim = &memoryCLITransport{inner: existing}
		transportsMap[string(base.ProviderCLI)] = shim
	}
	if shim.tools == nil {
		shim.tools = make(map[string][]utcptools.Tool)
	}
	shim.tools[provider] = AsUTCPTools(catalog, provider)

	_, err := client.RegisterToolProvider(ctx, &cli.CliProvider{
		BaseProvider: base.BaseProvider{
			Name:         provider,
			ProviderType: base.ProviderCLI,
		},
	})
	return err
}
