package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// Neo4jAccessMode controls whether a session is opened for read or write operations.
type Neo4jAccessMode string

const (
	AccessModeWrite Neo4jAccessMode = "write"
	AccessModeRead  Neo4jAccessMode = "read"
)

// Neo4jSessionConfig mirrors the minimal subset of Neo4j session configuration we require.
type Neo4jSessionConfig struct {
	AccessMode   Neo4jAccessMode
	DatabaseName string
}

// neo4jDriver abstracts the driver capabilities used by the backend so tests
// can provide lightweight fakes.
type neo4jDriver interface {
	NewSession(ctx context.Context, config Neo4jSessionConfig) (neo4jSession, error)
	Close(ctx context.Context) error
}

type neo4jSession interface {
	BeginTransaction(ctx context.Context) (neo4jTransaction, error)
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Close(ctx context.Context) error
}

type neo4jTransaction interface {
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

type neo4jResult interface {
	Next(ctx context.Context) bool
	Record() neo4jRecord
	Err() error
	Close(ctx context.Context) error
}

type neo4jRecord interface {
	Get(key string) (any, bool)
}

// ErrNeo4jUnavailable is returned when graph operations are attempted without a configured driver.
var ErrNeo4jUnavailable = errors.New("neo4j driver not configured")

// Neo4jBackend stores the graph in Neo4j. Every node carries the agent
// namespace and every query filters on it.
type Neo4jBackend struct {
	driver    neo4jDriver
	database  string
	namespace string
}

var (
	_ Backend = (*Neo4jBackend)(nil)
	_ Matcher = (*Neo4jBackend)(nil)
)

// NewNeo4jBackend wraps an already connected driver.
func NewNeo4jBackend(driver neo4jDriver, database, namespace string) (*Neo4jBackend, error) {
	if driver == nil {
		return nil, ErrNeo4jUnavailable
	}
	return &Neo4jBackend{driver: driver, database: database, namespace: model.Namespace(namespace)}, nil
}

func (b *Neo4jBackend) Name() string { return "neo4j" }

// CreateSchema ensures the uniqueness constraint and lookup indexes exist.
func (b *Neo4jBackend) CreateSchema(ctx context.Context) error {
	session, err := b.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: AccessModeWrite, DatabaseName: b.database})
	if err != nil {
		return fmt.Errorf("neo4j new session: %w", err)
	}
	defer session.Close(ctx)
	queries := []string{
		"CREATE CONSTRAINT locrit_node_id IF NOT EXISTS FOR (n:LocritNode) REQUIRE (n.namespace, n.id) IS UNIQUE",
		"CREATE INDEX locrit_node_key IF NOT EXISTS FOR (n:LocritNode) ON (n.namespace, n.kind, n.key)",
	}
	for _, query := range queries {
		res, runErr := session.Run(ctx, query, nil)
		if runErr != nil {
			return fmt.Errorf("neo4j schema query: %w", runErr)
		}
		if res != nil {
			_ = res.Close(ctx)
		}
	}
	return nil
}

func (b *Neo4jBackend) PutNode(ctx context.Context, n model.Node) error {
	params := b.nodeParams(n)
	return b.write(ctx, neo4jPutNodeCypher, params, nil)
}

func (b *Neo4jBackend) GetNode(ctx context.Context, id string) (model.Node, error) {
	nodes, err := b.readNodes(ctx, neo4jGetNodeCypher, map[string]any{"ns": b.namespace, "id": id})
	if err != nil {
		return model.Node{}, err
	}
	if len(nodes) == 0 {
		return model.Node{}, model.NotFoundError("graph node", id)
	}
	return nodes[0], nil
}

func (b *Neo4jBackend) FindByKey(ctx context.Context, kind model.GraphKind, key string) (model.Node, error) {
	nodes, err := b.readNodes(ctx, neo4jFindByKeyCypher, map[string]any{"ns": b.namespace, "kind": string(kind), "key": key})
	if err != nil {
		return model.Node{}, err
	}
	if len(nodes) == 0 {
		return model.Node{}, model.NotFoundError(string(kind), key)
	}
	return nodes[0], nil
}

func (b *Neo4jBackend) DeleteNode(ctx context.Context, id string) error {
	var deleted int64
	err := b.write(ctx, neo4jDeleteNodeCypher, map[string]any{"ns": b.namespace, "id": id}, func(rec neo4jRecord) {
		if v, ok := rec.Get("deleted"); ok {
			deleted = model.IntFromAny(v)
		}
	})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return model.NotFoundError("graph node", id)
	}
	return nil
}

func (b *Neo4jBackend) PutEdge(ctx context.Context, e model.Edge) error {
	if err := e.Validate(); err != nil {
		return model.NewValidationError("edge", err.Error())
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	params := map[string]any{
		"ns":         b.namespace,
		"from":       e.From,
		"to":         e.To,
		"weight":     e.Weight,
		"properties": model.EncodeMetadata(e.Properties),
		"created_at": created.UTC().Format(time.RFC3339Nano),
	}
	var linked int64
	// The relationship type is validated against the closed edge set above.
	query := fmt.Sprintf(neo4jPutEdgeCypher, string(e.Type))
	err := b.write(ctx, query, params, func(rec neo4jRecord) {
		if v, ok := rec.Get("linked"); ok {
			linked = model.IntFromAny(v)
		}
	})
	if err != nil {
		return err
	}
	if linked == 0 {
		for _, id := range []string{e.From, e.To} {
			if _, err := b.GetNode(ctx, id); err != nil {
				return err
			}
		}
		return model.NotFoundError("graph edge endpoint", e.From+"->"+e.To)
	}
	return nil
}

func (b *Neo4jBackend) Edges(ctx context.Context, id string) ([]model.Edge, error) {
	var edges []model.Edge
	err := b.read(ctx, neo4jEdgesCypher, map[string]any{"ns": b.namespace, "id": id}, func(rec neo4jRecord) error {
		edges = append(edges, mapNeo4jEdge(rec))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEdges(edges)
	return edges, nil
}

func (b *Neo4jBackend) Scan(ctx context.Context, fn func(model.Node) bool) error {
	nodes, err := b.readNodes(ctx, neo4jScanCypher, map[string]any{"ns": b.namespace})
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if !fn(n) {
			break
		}
	}
	return nil
}

func (b *Neo4jBackend) Match(ctx context.Context, terms []string, kinds []model.GraphKind) ([]model.Node, error) {
	kindNames := make([]string, len(kinds))
	for i, k := range kinds {
		kindNames[i] = string(k)
	}
	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}
	return b.readNodes(ctx, neo4jMatchCypher, map[string]any{"ns": b.namespace, "terms": lowered, "kinds": kindNames})
}

func (b *Neo4jBackend) CountEdges(ctx context.Context) (int, error) {
	var count int64
	err := b.read(ctx, neo4jCountEdgesCypher, map[string]any{"ns": b.namespace}, func(rec neo4jRecord) error {
		if v, ok := rec.Get("edges"); ok {
			count = model.IntFromAny(v)
		}
		return nil
	})
	return int(count), err
}

// Close releases the Neo4j driver.
func (b *Neo4jBackend) Close() error {
	if b.driver == nil {
		return nil
	}
	return b.driver.Close(context.Background())
}

func (b *Neo4jBackend) nodeParams(n model.Node) map[string]any {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"ns":            b.namespace,
		"id":            n.ID,
		"kind":          string(n.Kind),
		"key":           n.Key,
		"content":       n.Content,
		"memory_type":   string(n.MemoryType),
		"importance":    n.Importance,
		"created_at":    n.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_accessed": n.LastAccessed.UTC().Format(time.RFC3339Nano),
		"metadata":      model.EncodeMetadata(n.Metadata),
		"tags":          tags,
		"search_text":   strings.ToLower(n.SearchText()),
	}
}

// write runs query in an explicit write transaction. onRecord, when set,
// sees every returned record before commit.
func (b *Neo4jBackend) write(ctx context.Context, query string, params map[string]any, onRecord func(neo4jRecord)) error {
	session, err := b.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: AccessModeWrite, DatabaseName: b.database})
	if err != nil {
		return fmt.Errorf("neo4j new session: %w", err)
	}
	defer session.Close(ctx)
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("neo4j begin tx: %w", err)
	}
	defer tx.Close(ctx)
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		tx.Rollback(ctx)
		return fmt.Errorf("neo4j write: %w", err)
	}
	if res != nil {
		for res.Next(ctx) {
			if onRecord != nil {
				if rec := res.Record(); rec != nil {
					onRecord(rec)
				}
			}
		}
		if err := res.Err(); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("neo4j write result: %w", err)
		}
		_ = res.Close(ctx)
	}
	if err := tx.Commit(ctx); err != nil {
		tx.Rollback(ctx)
		return fmt.Errorf("neo4j commit: %w", err)
	}
	return nil
}

func (b *Neo4jBackend) read(ctx context.Context, query string, params map[string]any, fn func(neo4jRecord) error) error {
	session, err := b.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: AccessModeRead, DatabaseName: b.database})
	if err != nil {
		return fmt.Errorf("neo4j new session: %w", err)
	}
	defer session.Close(ctx)
	res, err := session.Run(ctx, query, params)
	if err != nil {
		return fmt.Errorf("neo4j read: %w", err)
	}
	defer res.Close(ctx)
	for res.Next(ctx) {
		rec := res.Record()
		if rec == nil {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return res.Err()
}

func (b *Neo4jBackend) readNodes(ctx context.Context, query string, params map[string]any) ([]model.Node, error) {
	var nodes []model.Node
	err := b.read(ctx, query, params, func(rec neo4jRecord) error {
		nodes = append(nodes, mapNeo4jNode(rec))
		return nil
	})
	return nodes, err
}

const neo4jNodeReturn = `
RETURN n.id AS id, n.kind AS kind, n.key AS key, n.content AS content,
       n.memory_type AS memory_type, n.importance AS importance,
       n.created_at AS created_at, n.last_accessed AS last_accessed,
       n.metadata AS metadata, n.tags AS tags`

const (
	neo4jPutNodeCypher = `
MERGE (n:LocritNode {namespace: $ns, id: $id})
SET n.kind = $kind,
    n.key = $key,
    n.content = $content,
    n.memory_type = $memory_type,
    n.importance = $importance,
    n.created_at = $created_at,
    n.last_accessed = $last_accessed,
    n.metadata = $metadata,
    n.tags = $tags,
    n.search_text = $search_text
`
	neo4jGetNodeCypher = `
MATCH (n:LocritNode {namespace: $ns, id: $id})` + neo4jNodeReturn + `
LIMIT 1`
	neo4jFindByKeyCypher = `
MATCH (n:LocritNode {namespace: $ns, kind: $kind, key: $key})` + neo4jNodeReturn + `
LIMIT 1`
	neo4jScanCypher = `
MATCH (n:LocritNode {namespace: $ns})` + neo4jNodeReturn + `
ORDER BY id`
	neo4jMatchCypher = `
MATCH (n:LocritNode {namespace: $ns})
WHERE n.kind IN $kinds AND any(t IN $terms WHERE n.search_text CONTAINS t)` + neo4jNodeReturn + `
ORDER BY id`
	neo4jDeleteNodeCypher = `
MATCH (n:LocritNode {namespace: $ns, id: $id})
DETACH DELETE n
RETURN count(*) AS deleted`
	neo4jPutEdgeCypher = `
MATCH (a:LocritNode {namespace: $ns, id: $from})
MATCH (b:LocritNode {namespace: $ns, id: $to})
MERGE (a)-[r:%s]->(b)
ON CREATE SET r.created_at = $created_at
SET r.weight = $weight,
    r.properties = $properties
RETURN count(r) AS linked`
	neo4jEdgesCypher = `
MATCH (n:LocritNode {namespace: $ns, id: $id})-[r]-(:LocritNode {namespace: $ns})
RETURN startNode(r).id AS from, endNode(r).id AS to, type(r) AS type,
       r.weight AS weight, r.properties AS properties, r.created_at AS created_at`
	neo4jCountEdgesCypher = `
MATCH (:LocritNode {namespace: $ns})-[r]->(:LocritNode {namespace: $ns})
RETURN count(r) AS edges`
)

func mapNeo4jNode(rec neo4jRecord) model.Node {
	get := func(key string) any {
		v, _ := rec.Get(key)
		return v
	}
	n := model.Node{
		MemoryItem: model.MemoryItem{
			ID:           model.StringFromAny(get("id")),
			Content:      model.StringFromAny(get("content")),
			MemoryType:   model.MemoryType(model.StringFromAny(get("memory_type"))),
			Importance:   model.FloatFromAny(get("importance")),
			CreatedAt:    model.TimeFromAny(get("created_at")),
			LastAccessed: model.TimeFromAny(get("last_accessed")),
			Metadata:     model.DecodeMetadata(model.StringFromAny(get("metadata"))),
			Tags:         model.StringsFromAny(get("tags")),
		},
		Kind: model.ParseGraphKind(get("kind")),
		Key:  model.StringFromAny(get("key")),
	}
	return n
}

func mapNeo4jEdge(rec neo4jRecord) model.Edge {
	get := func(key string) any {
		v, _ := rec.Get(key)
		return v
	}
	return model.Edge{
		From:       model.StringFromAny(get("from")),
		To:         model.StringFromAny(get("to")),
		Type:       model.EdgeType(model.StringFromAny(get("type"))),
		Weight:     model.FloatFromAny(get("weight")),
		Properties: model.DecodeMetadata(model.StringFromAny(get("properties"))),
		CreatedAt:  model.TimeFromAny(get("created_at")),
	}
}
