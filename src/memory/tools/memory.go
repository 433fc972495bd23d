package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/poqudrof/Locrits-sub000/src/memory/decision"
	"github.com/poqudrof/Locrits-sub000/src/memory/graph"
	"github.com/poqudrof/Locrits-sub000/src/memory/model"
	"github.com/poqudrof/Locrits-sub000/src/memory/orchestrator"
	"github.com/poqudrof/Locrits-sub000/src/memory/vector"
)

// Tool names, in catalogue order.
const (
	StoreGraphMemory         = "store_graph_memory"
	StoreVectorMemory        = "store_vector_memory"
	StoreHybridMemory        = "store_hybrid_memory"
	SearchGraphMemory        = "search_graph_memory"
	SearchVectorMemory       = "search_vector_memory"
	SearchAllMemory          = "search_all_memory"
	AnalyzeMemoryDecision    = "analyze_memory_decision"
	ForceMemoryUpdate        = "force_memory_update"
	GetMemoryStatus          = "get_memory_status"
	CleanupMemory            = "cleanup_memory"
	CreateMemoryRelationship = "create_memory_relationship"
	GetMemoryNetwork         = "get_memory_network"
)

const (
	maxRetentionDays = 36500
	defaultRadius    = 2
	maxRadius        = 10
)

// Names lists every tool name in catalogue order.
func Names() []string {
	return []string{
		StoreGraphMemory, StoreVectorMemory, StoreHybridMemory,
		SearchGraphMemory, SearchVectorMemory, SearchAllMemory,
		AnalyzeMemoryDecision, ForceMemoryUpdate, GetMemoryStatus,
		CleanupMemory, CreateMemoryRelationship, GetMemoryNetwork,
	}
}

type runFunc func(ctx context.Context, req ToolRequest, a args) (any, error)

// memoryTool binds a spec to a handler. Invoke turns every failure, panics
// included, into an unsuccessful Result.
type memoryTool struct {
	spec ToolSpec
	run  runFunc
}

func (t *memoryTool) Spec() ToolSpec { return t.spec }

func (t *memoryTool) Invoke(ctx context.Context, req ToolRequest) (resp ToolResponse, _ error) {
	defer func() {
		if r := recover(); r != nil {
			resp = encode(Result{Error: fmt.Sprintf("%s panicked: %v", t.spec.Name, r)})
		}
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := t.run(ctx, req, args(req.Arguments))
	if err != nil {
		return encode(Result{Error: err.Error(), Data: data}), nil
	}
	return encode(Result{Success: true, Data: data}), nil
}

func encode(r Result) ToolResponse {
	status := "ok"
	if !r.Success {
		status = "error"
	}
	raw, err := json.Marshal(r)
	if err != nil {
		raw, _ = json.Marshal(Result{Error: "encode result: " + err.Error()})
		status = "error"
	}
	return ToolResponse{Content: string(raw), Metadata: map[string]string{"status": status}}
}

// schema helpers

func object(required []string, props map[string]any) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func enumProp(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

func listProp(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

func storeProps(kindKey, kindDesc string, kinds ...string) map[string]any {
	props := map[string]any{
		"content":    prop("string", "Text to remember."),
		"importance": prop("number", "Importance in [0,1]; defaults to the analyzer's estimate."),
		"tags":       listProp("Tags attached to the memory."),
		"metadata":   prop("object", "Extra metadata stored with the memory."),
		"session_id": prop("string", "Conversation session the memory belongs to."),
	}
	if kindKey != "" {
		props[kindKey] = enumProp(kindDesc, kinds...)
	}
	return props
}

// NewCatalog exposes o as the twelve memory tools.
func NewCatalog(o *orchestrator.Orchestrator) *StaticToolCatalog {
	c := NewStaticToolCatalog(nil)
	for _, t := range memoryTools(o) {
		if err := c.Register(t); err != nil {
			panic(err)
		}
	}
	return c
}

func memoryTools(o *orchestrator.Orchestrator) []Tool {
	graphKinds := []string{string(model.GraphKindMessage), string(model.GraphKindFact), string(model.GraphKindEvent), string(model.GraphKindConcept)}
	vectorKinds := []string{string(model.VectorKindSouvenir), string(model.VectorKindImpression), string(model.VectorKindTheme)}
	strategies := []string{string(decision.StrategyAuto), string(decision.StrategyGraphFirst), string(decision.StrategyVectorFirst), string(decision.StrategyParallel)}
	edgeTypes := make([]string, 0, len(model.EdgeTypes()))
	for _, e := range model.EdgeTypes() {
		edgeTypes = append(edgeTypes, string(e))
	}

	hybridProps := storeProps(model.MetaGraphKind, "Graph entity kind for the graph copy.", graphKinds...)
	hybridProps[model.MetaVectorKind] = enumProp("Vector entity kind for the vector copy.", vectorKinds...)

	return []Tool{
		&memoryTool{
			spec: ToolSpec{
				Name:        StoreGraphMemory,
				Description: "Store precise, structured information (facts, events, concepts, messages) in graph memory.",
				InputSchema: object([]string{"content"}, storeProps(model.MetaGraphKind, "Graph entity kind.", graphKinds...)),
				Examples: []map[string]any{
					{"content": "Alice works at Acme", model.MetaGraphKind: "fact", model.MetaSubject: "Alice"},
				},
			},
			run: storeRun(o, model.MemoryTypeGraph),
		},
		&memoryTool{
			spec: ToolSpec{
				Name:        StoreVectorMemory,
				Description: "Store an experience, impression or recurring theme in semantic vector memory.",
				InputSchema: object([]string{"content"}, storeProps(model.MetaVectorKind, "Vector entity kind.", vectorKinds...)),
			},
			run: storeRun(o, model.MemoryTypeVector),
		},
		&memoryTool{
			spec: ToolSpec{
				Name:        StoreHybridMemory,
				Description: "Store content in both graph and vector memory.",
				InputSchema: object([]string{"content"}, hybridProps),
			},
			run: storeRun(o, model.MemoryTypeHybrid),
		},
		&memoryTool{
			spec: ToolSpec{
				Name:        SearchGraphMemory,
				Description: "Search graph memory for matching facts, events, concepts and messages.",
				InputSchema: object([]string{"query"}, map[string]any{
					"query":      prop("string", "Search text."),
					"limit":      prop("integer", "Maximum results, 1-100 (default 10)."),
					"kinds":      listProp("Restrict to these graph kinds."),
					"tags":       listProp("Every result must carry all these tags."),
					"session_id": prop("string", "Restrict to one session."),
				}),
			},
			run: searchGraphRun(o),
		},
		&memoryTool{
			spec: ToolSpec{
				Name:        SearchVectorMemory,
				Description: "Search vector memory by semantic similarity.",
				InputSchema: object([]string{"query"}, map[string]any{
					"query":     prop("string", "Search text."),
					"limit":     prop("integer", "Maximum results, 1-100 (default 10)."),
					"threshold": prop("number", "Minimum similarity in [0,1]; defaults to the configured threshold."),
					"kinds":     listProp("Restrict to these vector kinds."),
				}),
			},
			run: searchVectorRun(o),
		},
		&memoryTool{
			spec: ToolSpec{
				Name:        SearchAllMemory,
				Description: "Federated search across graph and vector memory.",
				InputSchema: object([]string{"query"}, map[string]any{
					"query":    prop("string", "Search text."),
					"strategy": enumProp("Search strategy (default auto).", strategies...),
					"limit":    prop("integer", "Maximum results, 1-100 (default 10)."),
				}),
			},
			run: searchAllRun(o),
		},
		&memoryTool{
			spec: ToolSpec{
				Name:        AnalyzeMemoryDecision,
				Description: "Explain where content would be stored, without storing it.",
				InputSchema: object([]string{"content"}, map[string]any{
					"content":      prop("string", "Text to classify."),
					"role":         prop("string", "Speaker role (user, assistant, system)."),
					"content_type": enumProp("Content type hint.", decision.ContentTypeFact, decision.ContentTypeExperience, decision.ContentTypeOpinion),
					"important":    prop("boolean", "Marks the content as important."),
				}),
			},
			run: analyzeRun(o),
		},
		&memoryTool{
			spec: ToolSpec{
				Name:        ForceMemoryUpdate,
				Description: "Drain pending conversation writes now.",
				InputSchema: object(nil, map[string]any{}),
			},
			run: forceRun(o),
		},
		&memoryTool{
			spec: ToolSpec{
				Name:        GetMemoryStatus,
				Description: "Report service availability, sizes, scheduler state and counters.",
				InputSchema: object(nil, map[string]any{}),
			},
			run: func(ctx context.Context, _ ToolRequest, _ args) (any, error) {
				return o.Status(ctx)
			},
		},
		&memoryTool{
			spec: ToolSpec{
				Name:        CleanupMemory,
				Description: "Apply retention to both memories.",
				InputSchema: object(nil, map[string]any{
					"retention_days": prop("integer", "Days to keep non-critical memories; defaults to the configured retention."),
				}),
			},
			run: cleanupRun(o),
		},
		&memoryTool{
			spec: ToolSpec{
				Name:        CreateMemoryRelationship,
				Description: "Link two existing graph memories with a typed relationship.",
				InputSchema: object([]string{"from_id", "to_id", "relationship_type"}, map[string]any{
					"from_id":           prop("string", "Source node id."),
					"to_id":             prop("string", "Target node id."),
					"relationship_type": enumProp("Relationship type.", edgeTypes...),
					"confidence":        prop("number", "Confidence in [0,1]."),
					"properties":        prop("object", "Extra edge properties."),
				}),
			},
			run: relationshipRun(o),
		},
		&memoryTool{
			spec: ToolSpec{
				Name:        GetMemoryNetwork,
				Description: "Return the graph neighborhood around a node.",
				InputSchema: object([]string{"center_id"}, map[string]any{
					"center_id": prop("string", "Center node id."),
					"radius":    prop("integer", "Hops to include, 1-10 (default 2)."),
				}),
			},
			run: networkRun(o),
		},
	}
}

func storeRun(o *orchestrator.Orchestrator, t model.MemoryType) runFunc {
	return func(ctx context.Context, req ToolRequest, a args) (any, error) {
		content, err := a.requiredString("content")
		if err != nil {
			return nil, err
		}
		importance, err := a.unit("importance")
		if err != nil {
			return nil, err
		}
		tags, err := a.stringList("tags")
		if err != nil {
			return nil, err
		}
		meta, err := a.object("metadata")
		if err != nil {
			return nil, err
		}
		if meta == nil {
			meta = map[string]any{}
		}
		session, err := a.optionalString("session_id")
		if err != nil {
			return nil, err
		}
		if session == "" {
			session = req.SessionID
		}
		if session != "" {
			meta[model.MetaSessionID] = session
		}
		if err := kindArg(a, meta, t); err != nil {
			return nil, err
		}
		switch t {
		case model.MemoryTypeGraph:
			if o.Graph() == nil {
				return nil, fmt.Errorf("graph memory: %w", model.ErrBackendUnavailable)
			}
		case model.MemoryTypeVector:
			if o.Vector() == nil {
				return nil, fmt.Errorf("vector memory: %w", model.ErrBackendUnavailable)
			}
		}

		d := o.Analyzer().Analyze(content, decision.Context{Role: model.StringFromAny(meta[model.MetaRole])})
		d.Content = content
		d.MemoryType = t
		d.Rationale = "explicit " + string(t) + " store requested by tool call"
		d.Relationships = nil
		if importance != nil {
			d.Importance = *importance
		}
		if len(tags) > 0 {
			d.Tags = tags
		}
		ids, err := o.StoreDecision(ctx, d, meta)
		data := map[string]any{"ids": ids, "memory_type": t, "importance": d.Importance}
		if len(ids) > 0 {
			data["id"] = ids[0]
		}
		return data, err
	}
}

// kindArg copies the sub-kind arguments into meta after validating them.
func kindArg(a args, meta map[string]any, t model.MemoryType) error {
	if t != model.MemoryTypeVector {
		raw, err := a.optionalString(model.MetaGraphKind)
		if err != nil {
			return err
		}
		if raw != "" {
			kind := model.ParseGraphKind(raw)
			if string(kind) != strings.ToLower(raw) || kind == model.GraphKindSession || kind == model.GraphKindUser {
				return model.NewValidationError(model.MetaGraphKind, "unsupported graph kind "+raw)
			}
			meta[model.MetaGraphKind] = string(kind)
		}
	}
	if t != model.MemoryTypeGraph {
		raw, err := a.optionalString(model.MetaVectorKind)
		if err != nil {
			return err
		}
		if raw != "" {
			kind, ok := model.ParseVectorKind(raw)
			if !ok {
				return model.NewValidationError(model.MetaVectorKind, "unsupported vector kind "+raw)
			}
			meta[model.MetaVectorKind] = string(kind)
		}
	}
	return nil
}

func searchGraphRun(o *orchestrator.Orchestrator) runFunc {
	return func(ctx context.Context, _ ToolRequest, a args) (any, error) {
		query, err := a.requiredString("query")
		if err != nil {
			return nil, err
		}
		limit, err := a.limit()
		if err != nil {
			return nil, err
		}
		var filters graph.Filters
		kinds, err := a.stringList("kinds")
		if err != nil {
			return nil, err
		}
		for _, raw := range kinds {
			kind := model.ParseGraphKind(raw)
			if string(kind) != strings.ToLower(strings.TrimSpace(raw)) {
				return nil, model.NewValidationError("kinds", "unsupported graph kind "+raw)
			}
			filters.Kinds = append(filters.Kinds, kind)
		}
		if filters.Tags, err = a.stringList("tags"); err != nil {
			return nil, err
		}
		if filters.SessionID, err = a.optionalString("session_id"); err != nil {
			return nil, err
		}
		if o.Graph() == nil {
			return nil, fmt.Errorf("graph memory: %w", model.ErrBackendUnavailable)
		}
		results, err := o.Graph().Search(ctx, query, limit, filters)
		if err != nil {
			return nil, err
		}
		return searchData(query, "", results), nil
	}
}

func searchVectorRun(o *orchestrator.Orchestrator) runFunc {
	return func(ctx context.Context, _ ToolRequest, a args) (any, error) {
		query, err := a.requiredString("query")
		if err != nil {
			return nil, err
		}
		limit, err := a.limit()
		if err != nil {
			return nil, err
		}
		threshold, err := a.unit("threshold")
		if err != nil {
			return nil, err
		}
		var filters vector.Filters
		kinds, err := a.stringList("kinds")
		if err != nil {
			return nil, err
		}
		for _, raw := range kinds {
			kind, ok := model.ParseVectorKind(raw)
			if !ok {
				return nil, model.NewValidationError("kinds", "unsupported vector kind "+raw)
			}
			filters.Kinds = append(filters.Kinds, kind)
		}
		if o.Vector() == nil {
			return nil, fmt.Errorf("vector memory: %w", model.ErrBackendUnavailable)
		}
		var results []model.SearchResult
		if threshold != nil {
			results, err = o.Vector().FindSimilarIn(ctx, query, *threshold, limit, filters)
		} else {
			results, err = o.Vector().Search(ctx, query, limit, filters)
		}
		if err != nil {
			return nil, err
		}
		return searchData(query, "", results), nil
	}
}

func searchAllRun(o *orchestrator.Orchestrator) runFunc {
	return func(ctx context.Context, _ ToolRequest, a args) (any, error) {
		query, err := a.requiredString("query")
		if err != nil {
			return nil, err
		}
		strategy, err := a.strategy()
		if err != nil {
			return nil, err
		}
		limit, err := a.limit()
		if err != nil {
			return nil, err
		}
		results, err := o.Search(ctx, query, strategy, limit)
		if err != nil {
			return nil, err
		}
		return searchData(query, orchestrator.ResolveStrategy(query, strategy), results), nil
	}
}

func searchData(query string, strategy decision.Strategy, results []model.SearchResult) map[string]any {
	if results == nil {
		results = []model.SearchResult{}
	}
	data := map[string]any{"query": query, "results": results, "count": len(results)}
	if strategy != "" {
		data["strategy"] = strategy
	}
	return data
}

func analyzeRun(o *orchestrator.Orchestrator) runFunc {
	return func(_ context.Context, _ ToolRequest, a args) (any, error) {
		content, err := a.requiredString("content")
		if err != nil {
			return nil, err
		}
		role, err := a.optionalString("role")
		if err != nil {
			return nil, err
		}
		contentType, err := a.optionalString("content_type")
		if err != nil {
			return nil, err
		}
		important, err := a.boolean("important")
		if err != nil {
			return nil, err
		}
		d := o.Analyzer().Analyze(content, decision.Context{
			Role:        strings.ToLower(role),
			ContentType: strings.ToLower(contentType),
			Important:   important,
		})
		return map[string]any{
			"decision":        d,
			"search_strategy": decision.DetectStrategy(content),
			"available":       o.Available(),
		}, nil
	}
}

func forceRun(o *orchestrator.Orchestrator) runFunc {
	return func(ctx context.Context, _ ToolRequest, _ args) (any, error) {
		report, err := o.ForceUpdate(ctx)
		if errors.Is(err, orchestrator.ErrDrainInProgress) {
			return map[string]any{"status": orchestrator.DrainInProgress}, nil
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": "completed", "report": report}, nil
	}
}

func cleanupRun(o *orchestrator.Orchestrator) runFunc {
	return func(ctx context.Context, _ ToolRequest, a args) (any, error) {
		var days *int
		if a.has("retention_days") {
			n, err := a.intIn("retention_days", 0, 1, maxRetentionDays)
			if err != nil {
				return nil, err
			}
			days = &n
		}
		report, err := o.Cleanup(ctx, days)
		if err != nil {
			return report, err
		}
		return report, nil
	}
}

func relationshipRun(o *orchestrator.Orchestrator) runFunc {
	return func(ctx context.Context, _ ToolRequest, a args) (any, error) {
		from, err := a.requiredString("from_id")
		if err != nil {
			return nil, err
		}
		to, err := a.requiredString("to_id")
		if err != nil {
			return nil, err
		}
		rawType, err := a.requiredString("relationship_type")
		if err != nil {
			return nil, err
		}
		edgeType, err := model.ParseEdgeType(rawType)
		if err != nil {
			return nil, err
		}
		confidence, err := a.unit("confidence")
		if err != nil {
			return nil, err
		}
		props, err := a.object("properties")
		if err != nil {
			return nil, err
		}
		if confidence != nil {
			if props == nil {
				props = map[string]any{}
			}
			props[model.MetaConfidence] = *confidence
		}
		if o.Graph() == nil {
			return nil, fmt.Errorf("graph memory: %w", model.ErrBackendUnavailable)
		}
		created, err := o.Graph().CreateRelationship(ctx, from, to, edgeType, props)
		if err != nil {
			return nil, err
		}
		return map[string]any{"created": created, "from_id": from, "to_id": to, "relationship_type": edgeType}, nil
	}
}

func networkRun(o *orchestrator.Orchestrator) runFunc {
	return func(ctx context.Context, _ ToolRequest, a args) (any, error) {
		center, err := a.requiredString("center_id")
		if err != nil {
			return nil, err
		}
		radius, err := a.intIn("radius", defaultRadius, 1, maxRadius)
		if err != nil {
			return nil, err
		}
		if o.Graph() == nil {
			return nil, fmt.Errorf("graph memory: %w", model.ErrBackendUnavailable)
		}
		return o.Graph().GetNetwork(ctx, center, radius)
	}
}
