// Package director runs a conversational loop over the hybrid memory. Each
// turn recalls relevant memories, asks the completion service for a reply,
// executes the memory tools the reply requests and records the exchange.
package director

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	jsoniter "github.com/json-iterator/go"

	"github.com/poqudrof/Locrits-sub000/src/memory/decision"
	"github.com/poqudrof/Locrits-sub000/src/memory/model"
	"github.com/poqudrof/Locrits-sub000/src/memory/orchestrator"
	"github.com/poqudrof/Locrits-sub000/src/memory/tools"
	"github.com/poqudrof/Locrits-sub000/src/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const toolPrefix = "tool:"

const defaultSystemPrompt = "You are a Locrit, an assistant with a long-term memory. " +
	"Use the remembered context when it helps and store anything worth keeping."

// Options tunes a Director.
type Options struct {
	SystemPrompt string
	// ContextLimit caps the memories recalled for a complex message.
	ContextLimit int
	// MaxToolRounds bounds how often a reply made only of tool calls is fed
	// back to the model. Zero selects the default, negative disables it.
	MaxToolRounds int
	// Timeout bounds each completion call. Negative disables the bound.
	Timeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		SystemPrompt:  defaultSystemPrompt,
		ContextLimit:  8,
		MaxToolRounds: 2,
		Timeout:       60 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if strings.TrimSpace(o.SystemPrompt) == "" {
		o.SystemPrompt = def.SystemPrompt
	}
	if o.ContextLimit <= 0 {
		o.ContextLimit = def.ContextLimit
	}
	if o.Timeout == 0 {
		o.Timeout = def.Timeout
	}
	switch {
	case o.MaxToolRounds == 0:
		o.MaxToolRounds = def.MaxToolRounds
	case o.MaxToolRounds < 0:
		o.MaxToolRounds = 0
	}
	return o
}

// ToolCall records one tool invocation made during a turn.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    tools.Result   `json:"result"`
}

// Reply is the outcome of one conversational turn.
type Reply struct {
	Text      string                   `json:"text"`
	ToolCalls []ToolCall               `json:"tool_calls,omitempty"`
	Recalled  []model.SearchResult     `json:"recalled,omitempty"`
	Update    orchestrator.UpdateStats `json:"update"`
}

// Director couples a completion model with the memory tools.
type Director struct {
	model   models.Agent
	memory  *orchestrator.Orchestrator
	catalog *tools.StaticToolCatalog
	opts    Options
	logger  *log.Logger
}

// New validates the collaborators. A nil catalog selects the full memory
// tool catalogue over o.
func New(agent models.Agent, o *orchestrator.Orchestrator, catalog *tools.StaticToolCatalog, opts Options) (*Director, error) {
	if agent == nil {
		return nil, errors.New("director: completion model is required")
	}
	if o == nil {
		return nil, errors.New("director: memory orchestrator is required")
	}
	if catalog == nil {
		catalog = tools.NewCatalog(o)
	}
	opts = opts.withDefaults()
	return &Director{
		model:   models.WithTimeout(agent, opts.Timeout),
		memory:  o,
		catalog: catalog,
		opts:    opts,
		logger:  log.NewWithOptions(os.Stderr, log.Options{Prefix: "director"}),
	}, nil
}

// WithLogger overrides the default logger.
func (d *Director) WithLogger(logger *log.Logger) *Director {
	if logger != nil {
		d.logger = logger
	}
	return d
}

// Respond runs one turn for input. Input starting with "tool:" invokes the
// named tool directly without asking the model.
func (d *Director) Respond(ctx context.Context, sessionID, userID, input string) (Reply, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Reply{}, model.NewValidationError("input", "required non-empty string")
	}

	var reply Reply
	if strings.HasPrefix(strings.ToLower(input), toolPrefix) {
		call := d.invoke(ctx, sessionID, strings.TrimSpace(input[len(toolPrefix):]))
		reply.ToolCalls = []ToolCall{call}
		reply.Text = renderCall(call)
	} else {
		reply.Recalled = d.recall(ctx, input)
		text, calls, err := d.complete(ctx, sessionID, input, reply.Recalled)
		if err != nil {
			return Reply{}, err
		}
		reply.Text = text
		reply.ToolCalls = calls
	}

	stats, err := d.memory.UpdateFromConversation(ctx, []orchestrator.Message{
		{Role: "user", Content: input, SessionID: sessionID, UserID: userID},
		{Role: "assistant", Content: reply.Text, SessionID: sessionID, UserID: userID},
	})
	if err != nil {
		d.logger.Warn("conversation not recorded", "session", sessionID, "err", err)
	}
	reply.Update = stats
	return reply, nil
}

func (d *Director) recall(ctx context.Context, input string) []model.SearchResult {
	limit := recallLimit(input, d.opts.ContextLimit)
	if limit == 0 {
		return nil
	}
	results, err := d.memory.Search(ctx, input, decision.StrategyAuto, limit)
	if err != nil {
		d.logger.Warn("memory recall failed", "err", err)
		return nil
	}
	return results
}

func (d *Director) complete(ctx context.Context, sessionID, input string, recalled []model.SearchResult) (string, []ToolCall, error) {
	prompt := d.buildPrompt(input, recalled)
	var calls []ToolCall
	for round := 0; ; round++ {
		out, err := d.model.Generate(ctx, prompt)
		if err != nil {
			return "", calls, fmt.Errorf("director: completion: %w", err)
		}
		text, commands := splitReply(models.Text(out))
		var executed []ToolCall
		for _, cmd := range commands {
			executed = append(executed, d.invoke(ctx, sessionID, cmd))
		}
		calls = append(calls, executed...)
		if text != "" || len(executed) == 0 || round >= d.opts.MaxToolRounds {
			if text == "" && len(executed) > 0 {
				text = renderCall(executed[len(executed)-1])
			}
			return text, calls, nil
		}
		prompt = followUpPrompt(prompt, executed)
	}
}

func (d *Director) buildPrompt(input string, recalled []model.SearchResult) string {
	var sb strings.Builder
	sb.WriteString(d.opts.SystemPrompt)
	sb.WriteString("\n\n")

	if rendered := d.catalog.Render(); rendered != "" {
		sb.WriteString("Available tools:\n")
		sb.WriteString(rendered)
		sb.WriteString("Invoke a tool on its own line with: tool:<name> <json arguments>\n\n")
	}

	if len(recalled) > 0 {
		sb.WriteString("Remembered context:\n")
		for i, r := range recalled {
			content := strings.TrimSpace(r.Item.Content)
			if content == "" {
				continue
			}
			fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, r.Source, content)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Current user message:\n")
	sb.WriteString(input)
	sb.WriteString("\n\nCompose the best possible assistant reply.\n")
	return sb.String()
}

func followUpPrompt(prompt string, executed []ToolCall) string {
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\nTool results:\n")
	for _, call := range executed {
		fmt.Fprintf(&sb, "- %s: %s\n", call.Name, renderCall(call))
	}
	sb.WriteString("\nUse the tool results to answer the user.\n")
	return sb.String()
}

// invoke runs "name {json}" through the catalog. Failures land in the Result.
func (d *Director) invoke(ctx context.Context, sessionID, command string) ToolCall {
	name, rawArgs := splitCommand(command)
	call := ToolCall{Name: name}
	if name == "" {
		call.Result = tools.Result{Error: "tool name is required"}
		return call
	}
	tool, spec, ok := d.catalog.Lookup(name)
	if !ok {
		call.Result = tools.Result{Error: fmt.Sprintf("unknown tool: %s", name)}
		return call
	}
	call.Name = spec.Name
	call.Arguments = parseToolArguments(rawArgs)

	resp, err := tool.Invoke(ctx, tools.ToolRequest{SessionID: sessionID, Arguments: call.Arguments})
	if err != nil {
		call.Result = tools.Result{Error: err.Error()}
		return call
	}
	res, err := tools.DecodeResult(resp)
	if err != nil {
		call.Result = tools.Result{Error: fmt.Sprintf("decode result: %v", err)}
		return call
	}
	call.Result = res
	d.logger.Debug("tool invoked", "tool", call.Name, "success", res.Success)
	return call
}

func renderCall(call ToolCall) string {
	encoded, err := json.Marshal(call.Result)
	if err != nil {
		return fmt.Sprintf("%s failed to encode: %v", call.Name, err)
	}
	return string(encoded)
}

// splitReply separates tool command lines from the prose of a reply.
func splitReply(reply string) (string, []string) {
	var (
		prose    []string
		commands []string
	)
	for _, line := range strings.Split(reply, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), toolPrefix) {
			commands = append(commands, strings.TrimSpace(trimmed[len(toolPrefix):]))
			continue
		}
		prose = append(prose, line)
	}
	return strings.TrimSpace(strings.Join(prose, "\n")), commands
}

func splitCommand(payload string) (string, string) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", ""
	}
	idx := strings.IndexAny(payload, " \t{[")
	if idx < 0 {
		return payload, ""
	}
	return payload[:idx], strings.TrimSpace(payload[idx:])
}

func parseToolArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	if strings.HasPrefix(raw, "{") {
		var out map[string]any
		if err := json.Unmarshal([]byte(raw), &out); err == nil {
			return out
		}
	}
	if strings.HasPrefix(raw, "[") {
		var arr []any
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			return map[string]any{"items": arr}
		}
	}
	return map[string]any{"input": raw}
}
