package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

func (s *Service) boundDepth(depth int) int {
	if depth <= 0 || depth > s.opts.MaxRelationshipDepth {
		return s.opts.MaxRelationshipDepth
	}
	return depth
}

func typeSet(types []model.EdgeType) map[model.EdgeType]struct{} {
	if len(types) == 0 {
		return nil
	}
	set := make(map[model.EdgeType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

func other(e model.Edge, id string) string {
	if e.From == id {
		return e.To
	}
	return e.From
}

// GetRelated walks edges in both directions from id, optionally restricted to
// types, up to maxDepth hops (capped by the configured maximum). Relevance is
// 1/depth.
func (s *Service) GetRelated(ctx context.Context, id string, types []model.EdgeType, maxDepth int) ([]model.SearchResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := s.backend.GetNode(ctx, id); err != nil {
		return nil, err
	}
	for _, t := range types {
		if _, err := model.ParseEdgeType(string(t)); err != nil {
			return nil, err
		}
	}
	allowed := typeSet(types)
	depthLimit := s.boundDepth(maxDepth)

	type visit struct {
		id    string
		depth int
	}
	visited := map[string]struct{}{id: {}}
	queue := []visit{{id: id}}
	var results []model.SearchResult
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= depthLimit {
			continue
		}
		edges, err := s.backend.Edges(ctx, cur.id)
		if err != nil {
			return nil, fmt.Errorf("graph edges %s: %w", cur.id, err)
		}
		sortEdges(edges)
		for _, e := range edges {
			if allowed != nil {
				if _, ok := allowed[e.Type]; !ok {
					continue
				}
			}
			next := other(e, cur.id)
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			n, err := s.backend.GetNode(ctx, next)
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return nil, err
			}
			depth := cur.depth + 1
			results = append(results, model.SearchResult{
				Item:           n.MemoryItem.Clone(),
				RelevanceScore: 1 / float64(depth),
				Rationale:      fmt.Sprintf("%d hop(s) via %s", depth, e.Type),
				Source:         model.SourceGraph,
			})
			queue = append(queue, visit{id: next, depth: depth})
		}
	}
	model.SortByRelevance(results)
	return results, nil
}

// GetNetwork returns the neighborhood of center within radius hops. Nodes
// reached along several paths appear once and only edges between included
// nodes are returned.
func (s *Service) GetNetwork(ctx context.Context, center string, radius int) (model.Network, error) {
	if err := s.ready(); err != nil {
		return model.Network{}, err
	}
	root, err := s.backend.GetNode(ctx, center)
	if err != nil {
		return model.Network{}, err
	}
	if radius < 0 {
		radius = 0
	}
	if radius > s.opts.MaxRelationshipDepth {
		radius = s.opts.MaxRelationshipDepth
	}

	nodes := map[string]model.Node{center: root}
	order := []string{center}
	incidentOf := map[string][]model.Edge{}
	frontier := []string{center}
	for depth := 0; depth < radius && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			incident, err := s.backend.Edges(ctx, id)
			if err != nil {
				return model.Network{}, fmt.Errorf("graph edges %s: %w", id, err)
			}
			sortEdges(incident)
			incidentOf[id] = incident
			for _, e := range incident {
				nb := other(e, id)
				if _, ok := nodes[nb]; ok {
					continue
				}
				n, err := s.backend.GetNode(ctx, nb)
				if err != nil {
					if isNotFound(err) {
						continue
					}
					return model.Network{}, err
				}
				nodes[nb] = n
				order = append(order, nb)
				next = append(next, nb)
			}
		}
		frontier = next
	}

	// Edges between two boundary nodes were never expanded by the walk.
	edges := map[string]model.Edge{}
	net := model.Network{CenterID: center, Radius: radius}
	for _, id := range order {
		net.Nodes = append(net.Nodes, nodes[id])
		incident, ok := incidentOf[id]
		if !ok && radius > 0 {
			var err error
			if incident, err = s.backend.Edges(ctx, id); err != nil {
				return model.Network{}, fmt.Errorf("graph edges %s: %w", id, err)
			}
		}
		for _, e := range incident {
			_, okFrom := nodes[e.From]
			_, okTo := nodes[e.To]
			if okFrom && okTo {
				edges[e.Key()] = e
			}
		}
	}
	for _, e := range edges {
		net.Edges = append(net.Edges, e)
	}
	sortEdges(net.Edges)
	return net, nil
}

func sortEdges(edges []model.Edge) {
	sort.Slice(edges, func(i, j int) bool { return edges[i].Key() < edges[j].Key() })
}
