package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/poqudrof/Locrits-sub000/src/concurrent"
	"github.com/poqudrof/Locrits-sub000/src/memory/decision"
	"github.com/poqudrof/Locrits-sub000/src/memory/graph"
	"github.com/poqudrof/Locrits-sub000/src/memory/model"
	"github.com/poqudrof/Locrits-sub000/src/memory/vector"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// ResolveStrategy turns auto into the concrete strategy Search would run.
func ResolveStrategy(query string, s decision.Strategy) decision.Strategy {
	if s == "" || s == decision.StrategyAuto {
		return decision.DetectStrategy(query)
	}
	return s
}

// Search federates query across both memories. Results are deduplicated by
// normalized content, keeping the most relevant copy, and ordered by
// relevance then id. A failing branch is logged and skipped; an error is
// returned only when no branch succeeded.
func (o *Orchestrator) Search(ctx context.Context, query string, strategy decision.Strategy, limit int) ([]model.SearchResult, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, model.NewValidationError("query", "query must not be empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	o.metrics.IncSearched()

	var (
		results []model.SearchResult
		err     error
	)
	switch s := ResolveStrategy(query, strategy); s {
	case decision.StrategyGraphFirst:
		results, err = o.primaryFirst(ctx, query, limit, o.searchGraph, o.searchVector)
	case decision.StrategyVectorFirst:
		results, err = o.primaryFirst(ctx, query, limit, o.searchVector, o.searchGraph)
	case decision.StrategyParallel:
		results, err = o.parallel(ctx, query, limit)
	default:
		return nil, model.NewValidationError("strategy", "unknown strategy "+string(s))
	}
	if err != nil {
		return nil, err
	}
	model.SortByRelevance(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

type branch func(ctx context.Context, query string, limit int) ([]model.SearchResult, error)

func (o *Orchestrator) searchGraph(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	if o.graph == nil {
		return nil, model.ErrBackendUnavailable
	}
	return o.graph.Search(ctx, query, limit, graph.Filters{})
}

func (o *Orchestrator) searchVector(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	if o.vector == nil {
		return nil, model.ErrBackendUnavailable
	}
	return o.vector.Search(ctx, query, limit, vector.Filters{})
}

// primaryFirst asks primary for the full limit and tops up from secondary
// only when primary came back short.
func (o *Orchestrator) primaryFirst(ctx context.Context, query string, limit int, primary, secondary branch) ([]model.SearchResult, error) {
	first, pErr := primary(ctx, query, limit)
	if pErr != nil {
		o.logger.Warn("primary search branch failed", "err", pErr)
	}
	merged := o.dedup(first)
	if len(merged) >= limit {
		return merged, nil
	}
	second, sErr := secondary(ctx, query, limit)
	if sErr != nil {
		if pErr != nil {
			return nil, errors.Join(pErr, sErr)
		}
		o.logger.Warn("secondary search branch failed", "err", sErr)
		return merged, nil
	}
	seen := make(map[string]struct{}, len(merged))
	for _, r := range merged {
		seen[model.ContentKey(r.Item.Content)] = struct{}{}
	}
	dropped := 0
	for _, r := range second {
		if len(merged) >= limit {
			break
		}
		key := model.ContentKey(r.Item.Content)
		if _, dup := seen[key]; dup {
			dropped++
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, r)
	}
	o.metrics.IncDeduplicated(dropped)
	return merged, nil
}

// parallel splits limit between the services, the graph taking the odd
// slot, and runs both branches concurrently. A missing service hands its
// share to the other.
func (o *Orchestrator) parallel(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	graphLimit, vectorLimit := (limit+1)/2, limit/2
	switch {
	case o.graph == nil:
		graphLimit, vectorLimit = 0, limit
	case o.vector == nil:
		graphLimit, vectorLimit = limit, 0
	}
	var fromGraph, fromVector []model.SearchResult
	gErr, vErr := concurrent.Both(ctx,
		func(ctx context.Context) error {
			if graphLimit == 0 {
				return nil
			}
			var err error
			fromGraph, err = o.searchGraph(ctx, query, graphLimit)
			return err
		},
		func(ctx context.Context) error {
			if vectorLimit == 0 {
				return nil
			}
			var err error
			fromVector, err = o.searchVector(ctx, query, vectorLimit)
			return err
		},
	)
	if gErr != nil {
		o.logger.Warn("graph search branch failed", "err", gErr)
	}
	if vErr != nil {
		o.logger.Warn("vector search branch failed", "err", vErr)
	}
	graphDown := graphLimit == 0 || gErr != nil
	vectorDown := vectorLimit == 0 || vErr != nil
	if graphDown && vectorDown && (gErr != nil || vErr != nil) {
		return nil, errors.Join(wrapBranch("graph", gErr), wrapBranch("vector", vErr))
	}
	return o.dedup(append(fromGraph, fromVector...)), nil
}

// dedup keeps one result per content key, the one with the highest
// relevance; ties keep the lower id.
func (o *Orchestrator) dedup(results []model.SearchResult) []model.SearchResult {
	index := make(map[string]int, len(results))
	out := make([]model.SearchResult, 0, len(results))
	for _, r := range results {
		key := model.ContentKey(r.Item.Content)
		i, dup := index[key]
		if !dup {
			index[key] = len(out)
			out = append(out, r)
			continue
		}
		cur := out[i]
		if r.RelevanceScore > cur.RelevanceScore ||
			(r.RelevanceScore == cur.RelevanceScore && r.Item.ID < cur.Item.ID) {
			out[i] = r
		}
	}
	o.metrics.IncDeduplicated(len(results) - len(out))
	return out
}
