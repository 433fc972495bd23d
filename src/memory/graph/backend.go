package graph

import (
	"context"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// Backend is the storage capability the graph service runs on. Every
// implementation is scoped to one agent namespace.
//
// Lookups of missing ids return an error wrapping model.ErrNotFound. PutEdge
// must refuse edges whose endpoints do not exist, and DeleteNode removes every
// edge incident to the node.
type Backend interface {
	Name() string
	PutNode(ctx context.Context, n model.Node) error
	GetNode(ctx context.Context, id string) (model.Node, error)
	FindByKey(ctx context.Context, kind model.GraphKind, key string) (model.Node, error)
	DeleteNode(ctx context.Context, id string) error
	PutEdge(ctx context.Context, e model.Edge) error
	Edges(ctx context.Context, id string) ([]model.Edge, error)
	Scan(ctx context.Context, fn func(model.Node) bool) error
	CountEdges(ctx context.Context) (int, error)
	Close() error
}

// Matcher is implemented by backends able to prefilter lexical search server
// side. Match returns nodes of the given kinds whose search text contains at
// least one of the lower-cased terms.
type Matcher interface {
	Match(ctx context.Context, terms []string, kinds []model.GraphKind) ([]model.Node, error)
}
