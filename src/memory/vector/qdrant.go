package vector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// qdrantVectorName is the named vector holding embeddings. Named vectors let
// a point exist without one, which keeps unembedded records in the collection.
const qdrantVectorName = "text"

// QdrantBackend stores records as points in one collection per agent. The
// payload carries the full record; point ids are uuids derived from the
// record id.
type QdrantBackend struct {
	baseURL    string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

var _ Backend = (*QdrantBackend)(nil)

// NewQdrantBackend targets collection locrit_<namespace> on baseURL.
func NewQdrantBackend(baseURL, apiKey, namespace string, dimension int) *QdrantBackend {
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	return &QdrantBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: "locrit_" + model.Namespace(namespace),
		dimension:  dimension,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (b *QdrantBackend) WithHTTPClient(c *http.Client) *QdrantBackend {
	if c != nil {
		b.client = c
	}
	return b
}

func (b *QdrantBackend) Name() string { return "qdrant" }

// Collection returns the collection name in use.
func (b *QdrantBackend) Collection() string { return b.collection }

// qdrantStatus supports both `status: "ok"` and `status: {"error":"..."}`.
type qdrantStatus struct {
	State string
	Error string
}

func (s *qdrantStatus) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Time   float64      `json:"time"`
	Result T            `json:"result"`
}

type qdrantPoint struct {
	ID      any                  `json:"id"`
	Score   float64              `json:"score,omitempty"`
	Payload map[string]any       `json:"payload"`
	Vector  map[string][]float32 `json:"vector"`
}

type qdrantScrollResult struct {
	Points []qdrantPoint `json:"points"`
	Offset any           `json:"next_page_offset"`
}

type qdrantCountResult struct {
	Count int `json:"count"`
}

// EnsureCollection creates the collection with a cosine named vector. An
// existing collection is accepted.
func (b *QdrantBackend) EnsureCollection(ctx context.Context) error {
	req := map[string]any{
		"vectors": map[string]any{
			qdrantVectorName: map[string]any{"size": b.dimension, "distance": "Cosine"},
		},
	}
	var resp qdrantEnvelope[jsoniter.RawMessage]
	err := b.do(ctx, http.MethodPut, b.path(""), req, &resp)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return nil
	}
	return err
}

func (b *QdrantBackend) path(suffix string) string {
	return fmt.Sprintf("/collections/%s%s", url.PathEscape(b.collection), suffix)
}

// pointID maps a record id onto a uuid accepted by Qdrant.
func pointID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("locrit:"+id)).String()
}

func (b *QdrantBackend) Put(ctx context.Context, item model.MemoryItem) error {
	if item.ID == "" {
		return model.NewValidationError("id", "record id is empty")
	}
	vectors := map[string][]float32{}
	if len(item.Embedding) > 0 {
		vectors[qdrantVectorName] = item.Embedding
	}
	req := map[string]any{
		"points": []map[string]any{{
			"id":      pointID(item.ID),
			"vector":  vectors,
			"payload": qdrantPayload(item),
		}},
	}
	var resp qdrantEnvelope[jsoniter.RawMessage]
	if err := b.do(ctx, http.MethodPut, b.path("/points?wait=true"), req, &resp); err != nil {
		return err
	}
	if resp.Status.Error != "" {
		return errors.New(resp.Status.Error)
	}
	return nil
}

func (b *QdrantBackend) Get(ctx context.Context, id string) (model.MemoryItem, error) {
	req := map[string]any{
		"ids":          []string{pointID(id)},
		"with_payload": true,
		"with_vector":  true,
	}
	var resp qdrantEnvelope[[]qdrantPoint]
	if err := b.do(ctx, http.MethodPost, b.path("/points"), req, &resp); err != nil {
		return model.MemoryItem{}, err
	}
	if len(resp.Result) == 0 {
		return model.MemoryItem{}, model.NotFoundError("vector record", id)
	}
	return qdrantItem(resp.Result[0]), nil
}

func (b *QdrantBackend) Delete(ctx context.Context, id string) error {
	if _, err := b.Get(ctx, id); err != nil {
		return err
	}
	req := map[string]any{"points": []string{pointID(id)}}
	return b.do(ctx, http.MethodPost, b.path("/points/delete?wait=true"), req, nil)
}

// Query asks Qdrant for cosine matches. The normalized threshold t becomes
// the raw cosine bound 2t-1.
func (b *QdrantBackend) Query(ctx context.Context, vec []float32, threshold float64, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":          map[string]any{"name": qdrantVectorName, "vector": vec},
		"limit":           limit,
		"score_threshold": 2*threshold - 1,
		"with_payload":    true,
		"with_vector":     true,
	}
	var resp qdrantEnvelope[[]qdrantPoint]
	if err := b.do(ctx, http.MethodPost, b.path("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, p := range resp.Result {
		score := (p.Score + 1) / 2
		if score < threshold {
			continue
		}
		hits = append(hits, Hit{Item: qdrantItem(p), Score: score})
	}
	return rankHits(hits, limit), nil
}

// Scan pages through the collection. Pages are fetched before fn runs, so fn
// may write through the backend.
func (b *QdrantBackend) Scan(ctx context.Context, fn func(model.MemoryItem) bool) error {
	const (
		pageSize = 128
		maxPages = 100000
	)
	var offset any
	prev := ""
	for page := 0; page < maxPages; page++ {
		req := map[string]any{
			"limit":        pageSize,
			"with_payload": true,
			"with_vector":  true,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp qdrantEnvelope[qdrantScrollResult]
		if err := b.do(ctx, http.MethodPost, b.path("/points/scroll"), req, &resp); err != nil {
			return err
		}
		for _, p := range resp.Result.Points {
			if !fn(qdrantItem(p)) {
				return nil
			}
		}
		raw := jsonString(resp.Result.Offset)
		if len(resp.Result.Points) == 0 || raw == "" || raw == "null" || raw == prev {
			return nil
		}
		prev = raw
		offset = resp.Result.Offset
	}
	return fmt.Errorf("qdrant scan: hit page limit (%d)", maxPages)
}

func (b *QdrantBackend) Count(ctx context.Context) (int, error) {
	var resp qdrantEnvelope[qdrantCountResult]
	if err := b.do(ctx, http.MethodPost, b.path("/points/count"), map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (b *QdrantBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func (b *QdrantBackend) do(ctx context.Context, method, path string, body any, out any) error {
	u := b.baseURL + path
	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewBuffer(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("api-key", b.apiKey)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: qdrant: %v", model.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("qdrant %s %s -> http %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return err
		}
	}
	return nil
}

func qdrantPayload(item model.MemoryItem) map[string]any {
	return map[string]any{
		"id":            item.ID,
		"content":       item.Content,
		"memory_type":   string(item.MemoryType),
		"vector_kind":   string(model.KindOf(item)),
		"importance":    item.Importance,
		"created_at":    item.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_accessed": item.LastAccessed.UTC().Format(time.RFC3339Nano),
		"metadata":      model.CloneMetadata(item.Metadata),
		"tags":          item.Tags,
	}
}

func qdrantItem(p qdrantPoint) model.MemoryItem {
	pl := p.Payload
	if pl == nil {
		pl = map[string]any{}
	}
	meta, ok := pl["metadata"].(map[string]any)
	if !ok {
		meta = model.DecodeMetadata(model.StringFromAny(pl["metadata"]))
	}
	item := model.MemoryItem{
		ID:           model.StringFromAny(pl["id"]),
		Content:      model.StringFromAny(pl["content"]),
		MemoryType:   model.MemoryType(model.StringFromAny(pl["memory_type"])),
		Importance:   model.FloatFromAny(pl["importance"]),
		CreatedAt:    model.TimeFromAny(pl["created_at"]),
		LastAccessed: model.TimeFromAny(pl["last_accessed"]),
		Metadata:     meta,
		Tags:         model.StringsFromAny(pl["tags"]),
	}
	if item.ID == "" {
		item.ID = jsonString(p.ID)
		item.ID = strings.Trim(item.ID, `"`)
	}
	if vec := p.Vector[qdrantVectorName]; len(vec) > 0 {
		item.Embedding = vec
	}
	return item
}

// jsonString returns a compact JSON representation of v, or "" for nil.
func jsonString(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
