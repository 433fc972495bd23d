package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// PostgresBackend keeps the graph in two tables inside a per-agent schema.
// Edges reference nodes with ON DELETE CASCADE.
type PostgresBackend struct {
	DB     *pgxpool.Pool
	schema string
	nodes  string
	edges  string
}

var (
	_ Backend = (*PostgresBackend)(nil)
	_ Matcher = (*PostgresBackend)(nil)
)

// NewPostgresBackend connects to Postgres and creates the namespace schema when missing.
func NewPostgresBackend(ctx context.Context, connStr, namespace string) (*PostgresBackend, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	b := newPostgresBackend(db, namespace)
	if err := b.CreateSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func newPostgresBackend(db *pgxpool.Pool, namespace string) *PostgresBackend {
	schema := "locrit_" + model.Namespace(namespace)
	return &PostgresBackend{
		DB:     db,
		schema: schema,
		nodes:  pgx.Identifier{schema, "graph_nodes"}.Sanitize(),
		edges:  pgx.Identifier{schema, "graph_edges"}.Sanitize(),
	}
}

func (b *PostgresBackend) Name() string { return "postgres" }

// CreateSchema is idempotent.
func (b *PostgresBackend) CreateSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgx.Identifier{b.schema}.Sanitize()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
                id TEXT PRIMARY KEY,
                kind TEXT NOT NULL,
                key TEXT NOT NULL DEFAULT '',
                content TEXT NOT NULL,
                memory_type TEXT NOT NULL,
                importance DOUBLE PRECISION NOT NULL,
                created_at TIMESTAMPTZ NOT NULL,
                last_accessed TIMESTAMPTZ NOT NULL,
                metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
                tags TEXT[] NOT NULL DEFAULT '{}',
                search_text TEXT NOT NULL DEFAULT ''
        )`, b.nodes),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS graph_nodes_identity ON %s (kind, key) WHERE key <> ''`, b.nodes),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
                from_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
                to_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
                type TEXT NOT NULL,
                weight DOUBLE PRECISION NOT NULL DEFAULT 1,
                properties JSONB NOT NULL DEFAULT '{}'::jsonb,
                created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
                PRIMARY KEY (from_id, to_id, type)
        )`, b.edges, b.nodes, b.nodes),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS graph_edges_to ON %s (to_id)`, b.edges),
	}
	for _, stmt := range stmts {
		if _, err := b.DB.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("graph schema: %w", err)
		}
	}
	return nil
}

func (b *PostgresBackend) PutNode(ctx context.Context, n model.Node) error {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := b.DB.Exec(ctx, fmt.Sprintf(`
                INSERT INTO %s (id, kind, key, content, memory_type, importance, created_at, last_accessed, metadata, tags, search_text)
                VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11)
                ON CONFLICT (id) DO UPDATE SET
                        kind = EXCLUDED.kind,
                        key = EXCLUDED.key,
                        content = EXCLUDED.content,
                        memory_type = EXCLUDED.memory_type,
                        importance = EXCLUDED.importance,
                        last_accessed = EXCLUDED.last_accessed,
                        metadata = EXCLUDED.metadata,
                        tags = EXCLUDED.tags,
                        search_text = EXCLUDED.search_text
        `, b.nodes), n.ID, string(n.Kind), n.Key, n.Content, string(n.MemoryType), n.Importance,
		n.CreatedAt.UTC(), n.LastAccessed.UTC(), model.EncodeMetadata(n.Metadata), tags, strings.ToLower(n.SearchText()))
	return err
}

const pgNodeColumns = `id, kind, key, content, memory_type, importance, created_at, last_accessed, metadata::text, tags`

func scanPgNode(row pgx.Row) (model.Node, error) {
	var (
		n        model.Node
		kind     string
		memType  string
		metadata string
	)
	err := row.Scan(&n.ID, &kind, &n.Key, &n.Content, &memType, &n.Importance, &n.CreatedAt, &n.LastAccessed, &metadata, &n.Tags)
	if err != nil {
		return model.Node{}, err
	}
	n.Kind = model.ParseGraphKind(kind)
	n.MemoryType = model.MemoryType(memType)
	n.Metadata = model.DecodeMetadata(metadata)
	return n, nil
}

func (b *PostgresBackend) GetNode(ctx context.Context, id string) (model.Node, error) {
	row := b.DB.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, pgNodeColumns, b.nodes), id)
	n, err := scanPgNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Node{}, model.NotFoundError("graph node", id)
	}
	return n, err
}

func (b *PostgresBackend) FindByKey(ctx context.Context, kind model.GraphKind, key string) (model.Node, error) {
	row := b.DB.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE kind = $1 AND key = $2`, pgNodeColumns, b.nodes), string(kind), key)
	n, err := scanPgNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Node{}, model.NotFoundError(string(kind), key)
	}
	return n, err
}

func (b *PostgresBackend) DeleteNode(ctx context.Context, id string) error {
	tag, err := b.DB.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, b.nodes), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.NotFoundError("graph node", id)
	}
	return nil
}

func (b *PostgresBackend) PutEdge(ctx context.Context, e model.Edge) error {
	if err := e.Validate(); err != nil {
		return model.NewValidationError("edge", err.Error())
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := b.DB.Exec(ctx, fmt.Sprintf(`
                INSERT INTO %s (from_id, to_id, type, weight, properties, created_at)
                VALUES ($1, $2, $3, $4, $5::jsonb, $6)
                ON CONFLICT (from_id, to_id, type) DO UPDATE SET
                        weight = EXCLUDED.weight,
                        properties = EXCLUDED.properties
        `, b.edges), e.From, e.To, string(e.Type), e.Weight, model.EncodeMetadata(e.Properties), created.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return model.NotFoundError("graph edge endpoint", e.From+"->"+e.To)
	}
	return err
}

func (b *PostgresBackend) Edges(ctx context.Context, id string) ([]model.Edge, error) {
	rows, err := b.DB.Query(ctx, fmt.Sprintf(`
                SELECT from_id, to_id, type, weight, properties::text, created_at
                FROM %s
                WHERE from_id = $1 OR to_id = $1
                ORDER BY from_id, to_id, type
        `, b.edges), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []model.Edge
	for rows.Next() {
		var (
			e     model.Edge
			typ   string
			props string
		)
		if err := rows.Scan(&e.From, &e.To, &typ, &e.Weight, &props, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = model.EdgeType(typ)
		e.Properties = model.DecodeMetadata(props)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (b *PostgresBackend) Scan(ctx context.Context, fn func(model.Node) bool) error {
	nodes, err := b.queryNodes(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, pgNodeColumns, b.nodes))
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

func (b *PostgresBackend) Match(ctx context.Context, terms []string, kinds []model.GraphKind) ([]model.Node, error) {
	patterns := make([]string, len(terms))
	for i, t := range terms {
		patterns[i] = "%" + likeEscaper.Replace(strings.ToLower(t)) + "%"
	}
	kindNames := make([]string, len(kinds))
	for i, k := range kinds {
		kindNames[i] = string(k)
	}
	return b.queryNodes(ctx, fmt.Sprintf(`
                SELECT %s FROM %s
                WHERE kind = ANY($1) AND search_text LIKE ANY($2)
                ORDER BY id
        `, pgNodeColumns, b.nodes), kindNames, patterns)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// queryNodes collects rows before returning so callers may issue further
// queries from the scan callback.
func (b *PostgresBackend) queryNodes(ctx context.Context, query string, args ...any) ([]model.Node, error) {
	rows, err := b.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var nodes []model.Node
	for rows.Next() {
		n, err := scanPgNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (b *PostgresBackend) CountEdges(ctx context.Context) (int, error) {
	var count int
	err := b.DB.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, b.edges)).Scan(&count)
	return count, err
}

func (b *PostgresBackend) Close() error {
	if b.DB != nil {
		b.DB.Close()
	}
	return nil
}
