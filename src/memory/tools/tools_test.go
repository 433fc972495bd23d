package tools

import (
	"context"
	"strings"
	"testing"

	utcp "github.com/universal-tool-calling-protocol/go-utcp"
	utcptools "github.com/universal-tool-calling-protocol/go-utcp/src/tools"

	"github.com/poqudrof/Locrits-sub000/src/memory/embed"
	"github.com/poqudrof/Locrits-sub000/src/memory/graph"
	"github.com/poqudrof/Locrits-sub000/src/memory/model"
	"github.com/poqudrof/Locrits-sub000/src/memory/orchestrator"
	"github.com/poqudrof/Locrits-sub000/src/memory/vector"
)

const (
	factText       = "Alice works at Acme"
	experienceText = "I felt really inspired after reading that book"
)

func newOrchestrator(t *testing.T, withGraph, withVector bool) *orchestrator.Orchestrator {
	t.Helper()
	var (
		g *graph.Service
		v *vector.Service
	)
	if withGraph {
		g = graph.New(graph.NewMemoryBackend(), graph.DefaultOptions())
	}
	if withVector {
		v = vector.New(vector.NewMemoryBackend(), nil, vector.DefaultOptions())
	}
	opts := orchestrator.DefaultOptions()
	opts.AutoUpdate = false
	o := orchestrator.New(g, v, nil, opts)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

// newSemanticOrchestrator embeds vector memories so similarity thresholds apply.
func newSemanticOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	v := vector.New(vector.NewMemoryBackend(), embed.NewHashEmbedder(embed.DefaultDimension), vector.DefaultOptions())
	opts := orchestrator.DefaultOptions()
	opts.AutoUpdate = false
	o := orchestrator.New(nil, v, nil, opts)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func call(t *testing.T, c *StaticToolCatalog, name string, arguments map[string]any) Result {
	t.Helper()
	tool, _, ok := c.Lookup(name)
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	resp, err := tool.Invoke(context.Background(), ToolRequest{SessionID: "s1", Arguments: arguments})
	if err != nil {
		t.Fatalf("%s returned a Go error: %v", name, err)
	}
	res, err := DecodeResult(resp)
	if err != nil {
		t.Fatalf("%s returned undecodable content %q: %v", name, resp.Content, err)
	}
	return res
}

func mustSucceed(t *testing.T, c *StaticToolCatalog, name string, arguments map[string]any) map[string]any {
	t.Helper()
	res := call(t, c, name, arguments)
	if !res.Success {
		t.Fatalf("%s failed: %s", name, res.Error)
	}
	data, _ := res.Data.(map[string]any)
	return data
}

func firstID(t *testing.T, data map[string]any) string {
	t.Helper()
	id, _ := data["id"].(string)
	if id == "" {
		t.Fatalf("missing id in %v", data)
	}
	return id
}

func TestCatalogOrderAndLookup(t *testing.T) {
	c := NewCatalog(newOrchestrator(t, true, true))

	specs := c.Specs()
	names := Names()
	if len(specs) != len(names) || len(names) != 12 {
		t.Fatalf("expected 12 tools, got %d", len(specs))
	}
	for i, spec := range specs {
		if spec.Name != names[i] {
			t.Fatalf("tool %d: expected %s, got %s", i, names[i], spec.Name)
		}
		if spec.InputSchema["type"] != "object" {
			t.Fatalf("%s has no object schema", spec.Name)
		}
	}
	if _, spec, ok := c.Lookup("  STORE_Graph_Memory "); !ok || spec.Name != StoreGraphMemory {
		t.Fatalf("lookup should be case-insensitive")
	}
	if _, _, ok := c.Lookup("forget_everything"); ok {
		t.Fatalf("unknown tool should not resolve")
	}
	if err := c.Register(c.Tools()[0]); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
	if err := c.Register(nil); err == nil {
		t.Fatalf("nil tool should be refused")
	}
	if got := len(NewStaticToolCatalog(append(c.Tools(), c.Tools()[0])).Specs()); got != len(names) {
		t.Fatalf("seeding should drop the duplicate, got %d specs", got)
	}
	rendered := c.Render()
	for _, name := range names {
		if !strings.Contains(rendered, "- "+name+": ") {
			t.Fatalf("render is missing %s:\n%s", name, rendered)
		}
	}
}

func TestStoreToolsOverrideClassification(t *testing.T) {
	o := newOrchestrator(t, true, true)
	c := NewCatalog(o)
	ctx := context.Background()

	// The analyzer would file this under graph memory.
	data := mustSucceed(t, c, StoreVectorMemory, map[string]any{
		"content":            "The meeting is scheduled for 3 PM tomorrow",
		"importance":         0.9,
		"tags":               []any{"Work", "work"},
		model.MetaVectorKind: "souvenir",
	})
	id := firstID(t, data)
	item, err := o.Vector().Retrieve(ctx, id)
	if err != nil {
		t.Fatalf("vector retrieve: %v", err)
	}
	if item.Importance != 0.9 || !item.HasTag("work") || len(item.Tags) != 1 {
		t.Fatalf("explicit importance and tags not applied: %+v", item)
	}
	if item.Metadata[model.MetaSessionID] != "s1" {
		t.Fatalf("request session should be recorded, got %v", item.Metadata)
	}
	if _, err := o.Graph().Retrieve(ctx, id); err == nil {
		t.Fatalf("vector store must not write the graph")
	}

	data = mustSucceed(t, c, StoreGraphMemory, map[string]any{
		"content":           factText,
		model.MetaGraphKind: "fact",
		"metadata":          map[string]any{model.MetaSubject: "Alice", model.MetaPredicate: "works at", model.MetaObject: "Acme"},
	})
	node, err := o.Graph().Node(ctx, firstID(t, data))
	if err != nil {
		t.Fatalf("graph node: %v", err)
	}
	if node.Kind != model.GraphKindFact || model.FactOf(node).Object != "Acme" {
		t.Fatalf("unexpected fact node %+v", node)
	}

	data = mustSucceed(t, c, StoreHybridMemory, map[string]any{"content": "The price went up"})
	ids, _ := data["ids"].([]any)
	if len(ids) != 2 || ids[0] == ids[1] {
		t.Fatalf("hybrid store should return two distinct ids, got %v", data["ids"])
	}
}

func TestToolValidationFailures(t *testing.T) {
	c := NewCatalog(newOrchestrator(t, true, true))
	cases := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"missing content", StoreGraphMemory, map[string]any{}},
		{"blank content", StoreVectorMemory, map[string]any{"content": "   "}},
		{"content not a string", StoreHybridMemory, map[string]any{"content": 42.0}},
		{"importance too high", StoreGraphMemory, map[string]any{"content": factText, "importance": 1.5}},
		{"importance negative", StoreVectorMemory, map[string]any{"content": experienceText, "importance": -0.1}},
		{"tags not a list", StoreGraphMemory, map[string]any{"content": factText, "tags": "a,b"}},
		{"unknown graph kind", StoreGraphMemory, map[string]any{"content": factText, model.MetaGraphKind: "opinion"}},
		{"unknown vector kind", StoreVectorMemory, map[string]any{"content": experienceText, model.MetaVectorKind: "dream"}},
		{"missing query", SearchGraphMemory, map[string]any{}},
		{"limit zero", SearchGraphMemory, map[string]any{"query": "acme", "limit": 0.0}},
		{"limit too high", SearchVectorMemory, map[string]any{"query": "book", "limit": 101.0}},
		{"fractional limit", SearchAllMemory, map[string]any{"query": "book", "limit": 2.5}},
		{"unknown strategy", SearchAllMemory, map[string]any{"query": "book", "strategy": "sideways"}},
		{"threshold out of range", SearchVectorMemory, map[string]any{"query": "book", "threshold": 2.0}},
		{"missing analysis content", AnalyzeMemoryDecision, map[string]any{"role": "user"}},
		{"important not a bool", AnalyzeMemoryDecision, map[string]any{"content": factText, "important": "yes"}},
		{"retention zero", CleanupMemory, map[string]any{"retention_days": 0.0}},
		{"missing endpoint", CreateMemoryRelationship, map[string]any{"from_id": "a", "relationship_type": "MENTIONS"}},
		{"unknown relationship", CreateMemoryRelationship, map[string]any{"from_id": "a", "to_id": "b", "relationship_type": "LOVES"}},
		{"confidence out of range", CreateMemoryRelationship, map[string]any{"from_id": "a", "to_id": "b", "relationship_type": "MENTIONS", "confidence": -1.0}},
		{"missing center", GetMemoryNetwork, map[string]any{}},
		{"radius too large", GetMemoryNetwork, map[string]any{"center_id": "a", "radius": 11.0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := call(t, c, tc.tool, tc.args)
			if res.Success || res.Error == "" {
				t.Fatalf("expected a failure result, got %+v", res)
			}
		})
	}
}

func TestSearchTools(t *testing.T) {
	c := NewCatalog(newOrchestrator(t, true, true))
	mustSucceed(t, c, StoreGraphMemory, map[string]any{"content": factText, model.MetaGraphKind: "fact"})
	mustSucceed(t, c, StoreVectorMemory, map[string]any{"content": experienceText, model.MetaVectorKind: "souvenir"})

	data := mustSucceed(t, c, SearchGraphMemory, map[string]any{"query": "acme", "kinds": []any{"fact"}})
	if data["count"] != 1.0 {
		t.Fatalf("expected one graph hit, got %v", data)
	}
	data = mustSucceed(t, c, SearchGraphMemory, map[string]any{"query": "acme", "kinds": []any{"event"}})
	if data["count"] != 0.0 {
		t.Fatalf("kind filter should exclude the fact, got %v", data)
	}

	data = mustSucceed(t, c, SearchVectorMemory, map[string]any{"query": "inspired after reading", "limit": 3.0})
	results, _ := data["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected one vector hit, got %v", data)
	}

	data = mustSucceed(t, c, SearchAllMemory, map[string]any{"query": "what do we know about Acme"})
	if data["strategy"] != "graph_first" || data["count"] != 1.0 {
		t.Fatalf("auto search should resolve to graph_first and find the fact, got %v", data)
	}
	data = mustSucceed(t, c, SearchAllMemory, map[string]any{"query": "nothing matches this zebra", "strategy": "parallel"})
	if data["count"] != 0.0 {
		t.Fatalf("expected no results, got %v", data)
	}
	if results, ok := data["results"].([]any); !ok || len(results) != 0 {
		t.Fatalf("empty searches should return an empty list, got %v", data["results"])
	}
}

func TestSearchVectorThresholdWithKinds(t *testing.T) {
	c := NewCatalog(newSemanticOrchestrator(t))
	mustSucceed(t, c, StoreVectorMemory, map[string]any{"content": experienceText, model.MetaVectorKind: "souvenir"})
	mustSucceed(t, c, StoreVectorMemory, map[string]any{"content": "Grocery list: milk, eggs, flour", model.MetaVectorKind: "souvenir"})
	mustSucceed(t, c, StoreVectorMemory, map[string]any{"content": experienceText + " again", model.MetaVectorKind: "impression"})

	hits := func(arguments map[string]any) []map[string]any {
		t.Helper()
		data := mustSucceed(t, c, SearchVectorMemory, arguments)
		raw, _ := data["results"].([]any)
		out := make([]map[string]any, 0, len(raw))
		for _, r := range raw {
			m, _ := r.(map[string]any)
			out = append(out, m)
		}
		return out
	}

	strict := hits(map[string]any{"query": experienceText, "threshold": 0.9, "kinds": []any{"souvenir"}})
	if len(strict) != 1 {
		t.Fatalf("expected only the exact souvenir, got %v", strict)
	}
	item, _ := strict[0]["item"].(map[string]any)
	if item["content"] != experienceText {
		t.Fatalf("unexpected hit %v", strict[0])
	}
	if score, _ := strict[0]["relevance_score"].(float64); score < 0.9 {
		t.Fatalf("hit below the requested threshold: %v", strict[0])
	}

	// A threshold under the configured default still widens the search.
	loose := hits(map[string]any{"query": experienceText, "threshold": 0.0, "kinds": []any{"souvenir"}})
	if len(loose) != 2 {
		t.Fatalf("expected both souvenirs, got %v", loose)
	}
	for _, r := range loose {
		item, _ := r["item"].(map[string]any)
		if content, _ := item["content"].(string); strings.HasSuffix(content, " again") {
			t.Fatalf("kind filter let an impression through: %v", r)
		}
	}
}

func TestRelationshipAndNetworkTools(t *testing.T) {
	c := NewCatalog(newOrchestrator(t, true, true))
	a := firstID(t, mustSucceed(t, c, StoreGraphMemory, map[string]any{"content": "Go", model.MetaGraphKind: "concept"}))
	b := firstID(t, mustSucceed(t, c, StoreGraphMemory, map[string]any{"content": "Concurrency", model.MetaGraphKind: "concept"}))

	data := mustSucceed(t, c, CreateMemoryRelationship, map[string]any{
		"from_id":           a,
		"to_id":             b,
		"relationship_type": "relates_to",
		"confidence":        0.8,
	})
	if data["relationship_type"] != string(model.EdgeRelatesTo) {
		t.Fatalf("relationship type should be normalized, got %v", data)
	}

	res := call(t, c, CreateMemoryRelationship, map[string]any{"from_id": a, "to_id": "missing", "relationship_type": "RELATES_TO"})
	if res.Success || !strings.Contains(res.Error, "not found") {
		t.Fatalf("missing endpoint should fail, got %+v", res)
	}

	data = mustSucceed(t, c, GetMemoryNetwork, map[string]any{"center_id": a, "radius": 1.0})
	nodes, _ := data["nodes"].([]any)
	edges, _ := data["edges"].([]any)
	if len(nodes) != 2 || len(edges) != 1 {
		t.Fatalf("expected both concepts and the edge, got %v", data)
	}
	if data["radius"] != 1.0 {
		t.Fatalf("expected radius 1, got %v", data["radius"])
	}
}

func TestStatusMaintenanceAndAnalysisTools(t *testing.T) {
	o := newOrchestrator(t, true, true)
	c := NewCatalog(o)

	data := mustSucceed(t, c, AnalyzeMemoryDecision, map[string]any{"content": "The meeting is scheduled for 3 PM tomorrow"})
	d, _ := data["decision"].(map[string]any)
	if d["memory_type"] != string(model.MemoryTypeGraph) {
		t.Fatalf("expected a graph decision, got %v", data)
	}
	if st, _ := o.Status(context.Background()); st.Graph.Nodes != 0 {
		t.Fatalf("analysis must not store anything")
	}

	_, err := o.UpdateFromConversation(context.Background(), []orchestrator.Message{
		{Role: "user", Content: factText, SessionID: "s1"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	data = mustSucceed(t, c, ForceMemoryUpdate, nil)
	report, _ := data["report"].(map[string]any)
	if data["status"] != "completed" || report["processed"] != 1.0 {
		t.Fatalf("expected the pending write to drain, got %v", data)
	}

	tool, _, _ := c.Lookup(GetMemoryStatus)
	first, _ := tool.Invoke(context.Background(), ToolRequest{})
	second, _ := tool.Invoke(context.Background(), ToolRequest{})
	if first.Content != second.Content {
		t.Fatalf("status should be stable between calls:\n%s\n%s", first.Content, second.Content)
	}
	data = mustSucceed(t, c, GetMemoryStatus, nil)
	services, _ := data["services"].(map[string]any)
	if services["graph"] != true || services["vector"] != true {
		t.Fatalf("unexpected services %v", data)
	}

	data = mustSucceed(t, c, CleanupMemory, map[string]any{"retention_days": 7.0})
	if data["retention_days"] != 7.0 {
		t.Fatalf("expected cleanup with 7 days, got %v", data)
	}
	data = mustSucceed(t, c, CleanupMemory, nil)
	if data["retention_days"] != 30.0 {
		t.Fatalf("expected the default retention, got %v", data)
	}
}

func TestToolsReportMissingServices(t *testing.T) {
	c := NewCatalog(newOrchestrator(t, false, true))
	for _, tc := range []struct {
		tool string
		args map[string]any
	}{
		{StoreGraphMemory, map[string]any{"content": factText}},
		{SearchGraphMemory, map[string]any{"query": "acme"}},
		{CreateMemoryRelationship, map[string]any{"from_id": "a", "to_id": "b", "relationship_type": "MENTIONS"}},
		{GetMemoryNetwork, map[string]any{"center_id": "a"}},
	} {
		res := call(t, c, tc.tool, tc.args)
		if res.Success || !strings.Contains(res.Error, "unavailable") {
			t.Fatalf("%s should report the missing graph, got %+v", tc.tool, res)
		}
	}
	// Hybrid degrades to the service that is up.
	data := mustSucceed(t, c, StoreHybridMemory, map[string]any{"content": experienceText})
	if ids, _ := data["ids"].([]any); len(ids) != 1 {
		t.Fatalf("expected a single vector id, got %v", data)
	}
}

func TestClosedOrchestratorFailsGracefully(t *testing.T) {
	o := newOrchestrator(t, true, true)
	c := NewCatalog(o)
	_ = o.Close()
	res := call(t, c, SearchAllMemory, map[string]any{"query": "anything"})
	if res.Success || res.Error == "" {
		t.Fatalf("expected failure after close, got %+v", res)
	}
}

func TestInvokeRecoversPanics(t *testing.T) {
	tool := &memoryTool{
		spec: ToolSpec{Name: "explode"},
		run: func(context.Context, ToolRequest, args) (any, error) {
			panic("boom")
		},
	}
	resp, err := tool.Invoke(context.Background(), ToolRequest{})
	if err != nil {
		t.Fatalf("panics must not escape as errors: %v", err)
	}
	res, err := DecodeResult(resp)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "boom") || resp.Metadata["status"] != "error" {
		t.Fatalf("unexpected result %+v %v", res, resp.Metadata)
	}
}

func TestAsUTCPTools(t *testing.T) {
	c := NewCatalog(newOrchestrator(t, true, true))
	list := AsUTCPTools(c, "")
	if len(list) != 12 {
		t.Fatalf("expected 12 UTCP tools, got %d", len(list))
	}
	var status utcptools.ToolHandler
	for _, tool := range list {
		if !strings.HasPrefix(tool.Name, DefaultProvider+".") {
			t.Fatalf("tool %s is not namespaced", tool.Name)
		}
		if tool.Name == DefaultProvider+"."+GetMemoryStatus {
			status = tool.Handler
		}
		if tool.Name == DefaultProvider+"."+StoreGraphMemory && len(tool.Inputs.Required) != 1 {
			t.Fatalf("required inputs not exported: %+v", tool.Inputs)
		}
	}
	out, err := status(nil, map[string]any{})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if out["success"] != true {
		t.Fatalf("expected a successful result map, got %#v", out)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := handlerContext(map[string]any{handlerContextKey: ctx}); got != ctx {
		t.Fatalf("handler should run under the caller context")
	}
	if got := handlerContext(nil); got == nil {
		t.Fatalf("missing context should fall back to background")
	}
}

func TestRegisterUTCPProvider(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(newOrchestrator(t, true, true))

	client, err := utcp.NewUTCPClient(ctx, nil, nil, nil)
	if err != nil {
		t.Fatalf("failed to create utcp client: %v", err)
	}
	if err := RegisterUTCPProvider(ctx, client, c, "locrit"); err != nil {
		t.Fatalf("register: %v", err)
	}

	out, err := client.CallTool(ctx, "locrit."+StoreGraphMemory, map[string]any{"content": factText})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"success":true`) {
		t.Fatalf("expected a successful store, got %s", raw)
	}

	out, err = client.CallTool(ctx, "locrit."+SearchGraphMemory, map[string]any{"query": "acme", "limit": 500.0})
	if err != nil {
		t.Fatalf("validation failures should come back as results: %v", err)
	}
	raw, _ = json.Marshal(out)
	if !strings.Contains(string(raw), `"success":false`) {
		t.Fatalf("expected a failure result, got %s", raw)
	}

	if err := RegisterUTCPProvider(ctx, nil, c, "x"); err == nil {
		t.Fatalf("nil client should be rejected")
	}
}
