package db

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantClient wraps the Qdrant gRPC client
type QdrantClient struct {
	client *qdrant.Client
	config QdrantConfig
}

// QdrantConfig holds configuration for the vector store connection
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// NewQdrantClient creates a new Qdrant client
func NewQdrantClient(config QdrantConfig) (*QdrantClient, error) {
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantClient{client: client, config: config}, nil
}

// Client returns the underlying Qdrant client
func (c *QdrantClient) Client() *qdrant.Client {
	return c.client
}

// Ping checks if the vector store is reachable
func (c *QdrantClient) Ping(ctx context.Context) error {
	_, err := c.client.HealthCheck(ctx)
	return err
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist. The client does not normalize vectors; the store computes
// cosine similarity on insert.
func (c *QdrantClient) EnsureCollection(ctx context.Context, name string, dimensions int) error {
	exists, err := c.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}

	err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

// Close shuts down the client connection
func (c *QdrantClient) Close() error {
	return c.client.Close()
}
