package repositories

import (
	"context"

	"github.com/qdrant/go-client/qdrant"

	"knowledge-ingest/internal/models"
)

// QdrantVectorRepository implements VectorRepository against a Qdrant
// collection
type QdrantVectorRepository struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantVectorRepository creates a new Qdrant-backed vector repository
func NewQdrantVectorRepository(client *qdrant.Client, collection string) *QdrantVectorRepository {
	return &QdrantVectorRepository{client: client, collection: collection}
}

// Upsert writes the vector with Wait=true so a returned nil means the
// point is durably stored, not just accepted.
func (r *QdrantVectorRepository) Upsert(ctx context.Context, chunkID string, vector []float32, payload models.VectorPayload) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(chunkID),
		Vectors: qdrant.NewVectors(vector...),
		Payload: qdrant.NewValueMap(payloadMap(payload)),
	}

	_, err := r.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: r.collection,
		Points:         []*qdrant.PointStruct{point},
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return NewVectorRepositoryError("upsert_vector", chunkID, err, "")
	}
	return nil
}

// Delete removes points by chunk id
func (r *QdrantVectorRepository) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		ids = append(ids, qdrant.NewID(id))
	}

	_, err := r.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: r.collection,
		Points:         qdrant.NewPointsSelector(ids...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return NewVectorRepositoryError("delete_vectors", "", err, "")
	}
	return nil
}

// Has reports whether a point with the chunk id exists
func (r *QdrantVectorRepository) Has(ctx context.Context, chunkID string) (bool, error) {
	points, err := r.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: r.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(chunkID)},
	})
	if err != nil {
		return false, NewVectorRepositoryError("get_vector", chunkID, err, "")
	}
	return len(points) > 0, nil
}

// Search returns the nearest points with their payloads
func (r *QdrantVectorRepository) Search(ctx context.Context, vector []float32, limit int) ([]VectorMatch, error) {
	if limit <= 0 {
		limit = 10
	}

	points, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: r.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, NewVectorRepositoryError("search_vectors", "", err, "")
	}

	matches := make([]VectorMatch, 0, len(points))
	for _, p := range points {
		matches = append(matches, VectorMatch{
			ChunkID: p.GetId().GetUuid(),
			Score:   p.GetScore(),
			Payload: payloadFromValues(p.GetPayload()),
		})
	}
	return matches, nil
}

// Ping checks the vector store connection
func (r *QdrantVectorRepository) Ping(ctx context.Context) error {
	_, err := r.client.HealthCheck(ctx)
	return err
}

func payloadMap(p models.VectorPayload) map[string]any {
	topics := make([]any, 0, len(p.MainTopics))
	for _, t := range p.MainTopics {
		topics = append(topics, t)
	}
	return map[string]any{
		"url":                       p.URL,
		"title":                     p.Title,
		"chunk_index":               int64(p.ChunkIndex),
		"category":                  p.Category,
		"sentiment":                 p.Sentiment,
		"main_topics":               topics,
		"uses_contextual_embedding": p.UsesContextualEmbedding,
	}
}

func payloadFromValues(values map[string]*qdrant.Value) models.VectorPayload {
	p := models.VectorPayload{
		URL:                     values["url"].GetStringValue(),
		Title:                   values["title"].GetStringValue(),
		ChunkIndex:              int(values["chunk_index"].GetIntegerValue()),
		Category:                values["category"].GetStringValue(),
		Sentiment:               values["sentiment"].GetStringValue(),
		UsesContextualEmbedding: values["uses_contextual_embedding"].GetBoolValue(),
	}
	for _, v := range values["main_topics"].GetListValue().GetValues() {
		p.MainTopics = append(p.MainTopics, v.GetStringValue())
	}
	return p
}
