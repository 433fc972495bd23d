package vector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

const (
	mongoCloseTimeout = 5 * time.Second
	mongoVectorIndex  = "vector_index"
	mongoCollection   = "vector_items"
)

// MongoBackend keeps records in database locrit_<namespace>. Query uses
// Atlas $vectorSearch and falls back to client-side cosine when the server
// has no vector index.
type MongoBackend struct {
	client     *mongo.Client
	collection *mongo.Collection
	// noVectorSearch latches once $vectorSearch has failed.
	noVectorSearch atomic.Bool
}

var _ Backend = (*MongoBackend)(nil)

// NewMongoBackend connects, pings and ensures indexes.
func NewMongoBackend(ctx context.Context, uri, namespace string) (*MongoBackend, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: mongodb: %v", model.ErrBackendUnavailable, err)
	}
	b := &MongoBackend{
		client:     client,
		collection: client.Database("locrit_" + model.Namespace(namespace)).Collection(mongoCollection),
	}
	if err := b.CreateSchema(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return b, nil
}

func (b *MongoBackend) Name() string { return "mongodb" }

// CreateSchema ensures the secondary indexes. The vector index itself is an
// Atlas search index and is managed outside the driver.
func (b *MongoBackend) CreateSchema(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "vector_kind", Value: 1}, {Key: "last_accessed", Value: -1}},
			Options: options.Index().SetName("kind_last_accessed"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetName("created_at"),
		},
	}
	_, err := b.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

type mongoVectorDocument struct {
	ID           string    `bson:"_id"`
	Content      string    `bson:"content"`
	MemoryType   string    `bson:"memory_type"`
	VectorKind   string    `bson:"vector_kind"`
	Importance   float64   `bson:"importance"`
	CreatedAt    time.Time `bson:"created_at"`
	LastAccessed time.Time `bson:"last_accessed"`
	Metadata     string    `bson:"metadata"`
	Tags         []string  `bson:"tags"`
	Embedding    []float64 `bson:"embedding,omitempty"`
}

func mongoDocument(item model.MemoryItem) mongoVectorDocument {
	return mongoVectorDocument{
		ID:           item.ID,
		Content:      item.Content,
		MemoryType:   string(item.MemoryType),
		VectorKind:   string(model.KindOf(item)),
		Importance:   item.Importance,
		CreatedAt:    item.CreatedAt.UTC(),
		LastAccessed: item.LastAccessed.UTC(),
		Metadata:     model.EncodeMetadata(item.Metadata),
		Tags:         item.Tags,
		Embedding:    float64Embedding(item.Embedding),
	}
}

func (doc mongoVectorDocument) toItem() model.MemoryItem {
	return model.MemoryItem{
		ID:           doc.ID,
		Content:      doc.Content,
		MemoryType:   model.MemoryType(doc.MemoryType),
		Importance:   doc.Importance,
		CreatedAt:    doc.CreatedAt.UTC(),
		LastAccessed: doc.LastAccessed.UTC(),
		Metadata:     model.DecodeMetadata(doc.Metadata),
		Tags:         doc.Tags,
		Embedding:    float32Embedding(doc.Embedding),
	}
}

func (b *MongoBackend) Put(ctx context.Context, item model.MemoryItem) error {
	if item.ID == "" {
		return model.NewValidationError("id", "record id is empty")
	}
	_, err := b.collection.ReplaceOne(ctx, bson.M{"_id": item.ID}, mongoDocument(item), options.Replace().SetUpsert(true))
	return err
}

func (b *MongoBackend) Get(ctx context.Context, id string) (model.MemoryItem, error) {
	var doc mongoVectorDocument
	err := b.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.MemoryItem{}, model.NotFoundError("vector record", id)
	}
	if err != nil {
		return model.MemoryItem{}, err
	}
	return doc.toItem(), nil
}

func (b *MongoBackend) Delete(ctx context.Context, id string) error {
	res, err := b.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return model.NotFoundError("vector record", id)
	}
	return nil
}

// Query prefers $vectorSearch, whose cosine score is already (1+cos)/2.
func (b *MongoBackend) Query(ctx context.Context, vec []float32, threshold float64, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	if !b.noVectorSearch.Load() {
		hits, err := b.vectorSearch(ctx, vec, threshold, limit)
		if err == nil {
			return hits, nil
		}
		b.noVectorSearch.Store(true)
	}
	items, err := b.find(ctx, bson.M{"embedding": bson.M{"$exists": true}})
	if err != nil {
		return nil, err
	}
	return bruteForce(items, vec, threshold, limit), nil
}

func (b *MongoBackend) vectorSearch(ctx context.Context, vec []float32, threshold float64, limit int) ([]Hit, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: mongoVectorIndex},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: float64Embedding(vec)},
			{Key: "numCandidates", Value: int64(limit * 10)},
			{Key: "limit", Value: int64(limit)},
		}}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
		{{Key: "$match", Value: bson.D{{Key: "score", Value: bson.D{{Key: "$gte", Value: threshold}}}}}},
	}
	cursor, err := b.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var hits []Hit
	for cursor.Next(ctx) {
		var doc struct {
			mongoVectorDocument `bson:",inline"`
			Score               float64 `bson:"score"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Item: doc.toItem(), Score: doc.Score})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return rankHits(hits, limit), nil
}

func (b *MongoBackend) find(ctx context.Context, filter bson.M) ([]model.MemoryItem, error) {
	cursor, err := b.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var out []model.MemoryItem
	for cursor.Next(ctx) {
		var doc mongoVectorDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toItem())
	}
	return out, cursor.Err()
}

func (b *MongoBackend) Scan(ctx context.Context, fn func(model.MemoryItem) bool) error {
	items, err := b.find(ctx, bson.M{})
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

func (b *MongoBackend) Count(ctx context.Context) (int, error) {
	n, err := b.collection.CountDocuments(ctx, bson.M{})
	return int(n), err
}

// Close releases the underlying MongoDB client.
func (b *MongoBackend) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return b.client.Disconnect(ctx)
}

func float64Embedding(vec []float32) []float64 {
	if len(vec) == 0 {
		return nil
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

func float32Embedding(vec []float64) []float32 {
	if len(vec) == 0 {
		return nil
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}
