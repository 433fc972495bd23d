package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// SQLiteBackend keeps vector records in a single-file database. Embeddings
// are little-endian float32 blobs scored by brute force.
type SQLiteBackend struct {
	db *sql.DB
}

var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend creates or opens the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create vector db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	b := &SQLiteBackend{db: db}
	if err := b.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS vector_items (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			vector_kind TEXT NOT NULL DEFAULT '',
			importance REAL NOT NULL,
			created_at_ms INTEGER NOT NULL,
			last_accessed_ms INTEGER NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			tags_json TEXT NOT NULL DEFAULT '[]',
			embedding BLOB
		);`,
		`CREATE INDEX IF NOT EXISTS vector_items_kind_idx ON vector_items(vector_kind, last_accessed_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.Exec(stmt); err != nil {
			return fmt.Errorf("init vector sqlite: %w", err)
		}
	}
	return nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) Put(ctx context.Context, item model.MemoryItem) error {
	if item.ID == "" {
		return model.NewValidationError("id", "record id is empty")
	}
	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	var blob any
	if len(item.Embedding) > 0 {
		blob = encodeEmbedding(item.Embedding)
	}
	_, err = b.db.ExecContext(ctx, `INSERT INTO vector_items
		(id, content, memory_type, vector_kind, importance, created_at_ms, last_accessed_ms, metadata_json, tags_json, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content,
			memory_type=excluded.memory_type,
			vector_kind=excluded.vector_kind,
			importance=excluded.importance,
			last_accessed_ms=excluded.last_accessed_ms,
			metadata_json=excluded.metadata_json,
			tags_json=excluded.tags_json,
			embedding=excluded.embedding`,
		item.ID, item.Content, string(item.MemoryType), string(model.KindOf(item)), item.Importance,
		item.CreatedAt.UnixMilli(), item.LastAccessed.UnixMilli(),
		model.EncodeMetadata(item.Metadata), string(tags), blob)
	if err != nil {
		return fmt.Errorf("upsert vector item: %w", err)
	}
	return nil
}

const sqliteSelect = `SELECT id, content, memory_type, importance, created_at_ms, last_accessed_ms, metadata_json, tags_json, embedding FROM vector_items`

func (b *SQLiteBackend) Get(ctx context.Context, id string) (model.MemoryItem, error) {
	row := b.db.QueryRowContext(ctx, sqliteSelect+` WHERE id = ?`, id)
	item, err := scanSQLiteItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MemoryItem{}, model.NotFoundError("vector record", id)
	}
	return item, err
}

func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM vector_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete vector item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFoundError("vector record", id)
	}
	return nil
}

func (b *SQLiteBackend) Query(ctx context.Context, vec []float32, threshold float64, limit int) ([]Hit, error) {
	items, err := b.load(ctx, sqliteSelect+` WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	return bruteForce(items, vec, threshold, limit), nil
}

// Scan reads every row before calling fn, so fn may write through the
// backend while the single connection is free.
func (b *SQLiteBackend) Scan(ctx context.Context, fn func(model.MemoryItem) bool) error {
	items, err := b.load(ctx, sqliteSelect+` ORDER BY id`)
	if err != nil {
		return err
	}
	for _, item := range items {
		if !fn(item) {
			break
		}
	}
	return nil
}

func (b *SQLiteBackend) Count(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vector items: %w", err)
	}
	return n, nil
}

func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *SQLiteBackend) load(ctx context.Context, query string) ([]model.MemoryItem, error) {
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query vector items: %w", err)
	}
	defer rows.Close()
	var out []model.MemoryItem
	for rows.Next() {
		item, err := scanSQLiteItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteItem(row rowScanner) (model.MemoryItem, error) {
	var (
		item                 model.MemoryItem
		memoryType           string
		createdMs, accessMs  int64
		metadataJSON, tagsJS string
		blob                 []byte
	)
	if err := row.Scan(&item.ID, &item.Content, &memoryType, &item.Importance, &createdMs, &accessMs, &metadataJSON, &tagsJS, &blob); err != nil {
		return model.MemoryItem{}, err
	}
	item.MemoryType = model.MemoryType(memoryType)
	item.CreatedAt = time.UnixMilli(createdMs).UTC()
	item.LastAccessed = time.UnixMilli(accessMs).UTC()
	item.Metadata = model.DecodeMetadata(metadataJSON)
	_ = json.Unmarshal([]byte(tagsJS), &item.Tags)
	item.Embedding = decodeEmbedding(blob)
	return item, nil
}

func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}
