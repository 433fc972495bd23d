package vector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// PostgresBackend implements Backend using Postgres + pgvector, one schema
// per agent.
type PostgresBackend struct {
	DB        *pgxpool.Pool
	schema    string
	table     string
	dimension int
}

var _ Backend = (*PostgresBackend)(nil)

// NewPostgresBackend connects and creates the schema and table when missing.
func NewPostgresBackend(ctx context.Context, connStr, namespace string, dimension int) (*PostgresBackend, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	schema := "locrit_" + model.Namespace(namespace)
	b := &PostgresBackend{
		DB:        db,
		schema:    schema,
		table:     pgx.Identifier{schema, "vector_items"}.Sanitize(),
		dimension: dimension,
	}
	if err := b.CreateSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) Name() string { return "postgres" }

// CreateSchema ensures the pgvector extension and the records table exist.
func (b *PostgresBackend) CreateSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgx.Identifier{b.schema}.Sanitize()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
                id TEXT PRIMARY KEY,
                content TEXT NOT NULL,
                memory_type TEXT NOT NULL,
                vector_kind TEXT NOT NULL DEFAULT '',
                importance DOUBLE PRECISION NOT NULL,
                created_at TIMESTAMPTZ NOT NULL,
                last_accessed TIMESTAMPTZ NOT NULL,
                metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
                tags TEXT[] NOT NULL DEFAULT '{}',
                embedding vector(%d)
        )`, b.table, b.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS vector_items_embedding_idx ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`, b.table),
	}
	for _, stmt := range stmts {
		if _, err := b.DB.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create vector schema: %w", err)
		}
	}
	return nil
}

func (b *PostgresBackend) Put(ctx context.Context, item model.MemoryItem) error {
	if item.ID == "" {
		return model.NewValidationError("id", "record id is empty")
	}
	var embedding any
	if len(item.Embedding) > 0 {
		embedding = vectorLiteral(item.Embedding)
	}
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := b.DB.Exec(ctx, fmt.Sprintf(`
                INSERT INTO %s (id, content, memory_type, vector_kind, importance, created_at, last_accessed, metadata, tags, embedding)
                VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10::vector)
                ON CONFLICT (id) DO UPDATE SET
                        content = EXCLUDED.content,
                        memory_type = EXCLUDED.memory_type,
                        vector_kind = EXCLUDED.vector_kind,
                        importance = EXCLUDED.importance,
                        last_accessed = EXCLUDED.last_accessed,
                        metadata = EXCLUDED.metadata,
                        tags = EXCLUDED.tags,
                        embedding = EXCLUDED.embedding`, b.table),
		item.ID, item.Content, string(item.MemoryType), string(model.KindOf(item)), item.Importance,
		item.CreatedAt.UTC(), item.LastAccessed.UTC(), model.EncodeMetadata(item.Metadata), tags, embedding)
	if err != nil {
		return fmt.Errorf("upsert vector item: %w", err)
	}
	return nil
}

const pgSelectColumns = `id, content, memory_type, importance, created_at, last_accessed, metadata::text, tags, COALESCE(embedding::text, '')`

func (b *PostgresBackend) Get(ctx context.Context, id string) (model.MemoryItem, error) {
	row := b.DB.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, pgSelectColumns, b.table), id)
	item, err := scanPgItem(row, nil)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.MemoryItem{}, model.NotFoundError("vector record", id)
	}
	return item, err
}

func (b *PostgresBackend) Delete(ctx context.Context, id string) error {
	tag, err := b.DB.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, b.table), id)
	if err != nil {
		return fmt.Errorf("delete vector item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFoundError("vector record", id)
	}
	return nil
}

// Query filters on the raw cosine 2t-1 in SQL and reports (cos+1)/2.
func (b *PostgresBackend) Query(ctx context.Context, vec []float32, threshold float64, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := b.DB.Query(ctx, fmt.Sprintf(`
                SELECT %s, 1 - (embedding <=> $1::vector) AS cosine
                FROM %s
                WHERE embedding IS NOT NULL AND 1 - (embedding <=> $1::vector) >= $2
                ORDER BY embedding <=> $1::vector, id
                LIMIT $3`, pgSelectColumns, b.table),
		vectorLiteral(vec), 2*threshold-1, limit)
	if err != nil {
		return nil, fmt.Errorf("query vector items: %w", err)
	}
	defer rows.Close()
	var hits []Hit
	for rows.Next() {
		var cosine float64
		item, err := scanPgItem(rows, &cosine)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Item: item, Score: (cosine + 1) / 2})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rankHits(hits, limit), nil
}

// Scan collects the rows first so fn can write through the pool.
func (b *PostgresBackend) Scan(ctx context.Context, fn func(model.MemoryItem) bool) error {
	rows, err := b.DB.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, pgSelectColumns, b.table))
	if err != nil {
		return fmt.Errorf("scan vector items: %w", err)
	}
	var items []model.MemoryItem
	for rows.Next() {
		item, err := scanPgItem(rows, nil)
		if err != nil {
			rows.Close()
			return err
		}
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, item := range items {
		if !fn(item) {
			break
		}
	}
	return nil
}

func (b *PostgresBackend) Count(ctx context.Context) (int, error) {
	var n int
	if err := b.DB.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, b.table)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (b *PostgresBackend) Close() error {
	if b.DB != nil {
		b.DB.Close()
	}
	return nil
}

func scanPgItem(row pgx.Row, cosine *float64) (model.MemoryItem, error) {
	var (
		item          model.MemoryItem
		memoryType    string
		created, seen time.Time
		metadataText  string
		embeddingText string
	)
	dest := []any{&item.ID, &item.Content, &memoryType, &item.Importance, &created, &seen, &metadataText, &item.Tags, &embeddingText}
	if cosine != nil {
		dest = append(dest, cosine)
	}
	if err := row.Scan(dest...); err != nil {
		return model.MemoryItem{}, err
	}
	item.MemoryType = model.MemoryType(memoryType)
	item.CreatedAt = created.UTC()
	item.LastAccessed = seen.UTC()
	item.Metadata = model.DecodeMetadata(metadataText)
	item.Embedding = parseVector(embeddingText)
	return item, nil
}

// vectorLiteral renders the pgvector text form "[x,y,...]".
func vectorLiteral(vec []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

func parseVector(text string) []float32 {
	text = strings.Trim(text, "[]")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			continue
		}
		vec = append(vec, float32(f))
	}
	return vec
}
