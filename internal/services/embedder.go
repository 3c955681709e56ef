package services

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"knowledge-ingest/internal/models"
)

// EmbeddingClient is the slice of the OpenAI client the embedder uses
type EmbeddingClient interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// EmbedderConfig holds embedder tuning; zero values take the defaults
type EmbedderConfig struct {
	Model          string
	Dimensions     int
	BatchSize      int
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	RequestTimeout time.Duration
}

// EmbedResult is the per-text outcome of an embedding call
type EmbedResult struct {
	Vector []float32
	Err    error
}

// Embedder produces fixed-dimension vectors. Texts are batched; a
// failed batch falls back to per-item calls so one poison input does
// not sink its batch mates. Vectors are not normalized; the vector
// store computes cosine distance itself.
type Embedder struct {
	client EmbeddingClient
	config EmbedderConfig
	log    Logger
}

// NewEmbedder creates an embedder
func NewEmbedder(client EmbeddingClient, config EmbedderConfig, log Logger) *Embedder {
	if config.Model == "" {
		config.Model = string(openai.SmallEmbedding3)
	}
	if config.Dimensions == 0 {
		config.Dimensions = 1536
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}
	if config.BackoffBase == 0 {
		config.BackoffBase = time.Second
	}
	if config.BackoffCap == 0 {
		config.BackoffCap = 30 * time.Second
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}
	return &Embedder{client: client, config: config, log: log}
}

// Dimensions returns the configured vector width
func (e *Embedder) Dimensions() int {
	return e.config.Dimensions
}

// Embed returns one result per input text, in input order
func (e *Embedder) Embed(ctx context.Context, texts []string) []EmbedResult {
	results := make([]EmbedResult, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		e.embedBatch(ctx, texts[start:end], results[start:end])
	}
	return results
}

// embedBatch fills results for one batch, falling back to per-item
// calls when the batch as a whole fails.
func (e *Embedder) embedBatch(ctx context.Context, texts []string, results []EmbedResult) {
	vectors, err := e.request(ctx, texts)
	if err == nil {
		for i := range results {
			results[i] = e.checkVector(vectors, i)
		}
		return
	}

	if models.KindOf(err) == models.ErrCancelled {
		for i := range results {
			results[i].Err = err
		}
		return
	}

	e.log.Warn("embedding batch of %d failed, isolating per item: %v", len(texts), err)
	for i, text := range texts {
		vectors, itemErr := e.request(ctx, []string{text})
		if itemErr != nil {
			results[i].Err = itemErr
			continue
		}
		results[i] = e.checkVector(vectors, 0)
	}
}

func (e *Embedder) checkVector(vectors [][]float32, i int) EmbedResult {
	if i >= len(vectors) {
		return EmbedResult{Err: models.NewPipelineError(models.ErrProviderSchema, "embed", nil,
			"provider returned fewer vectors than inputs")}
	}
	if len(vectors[i]) != e.config.Dimensions {
		return EmbedResult{Err: models.NewPipelineError(models.ErrProviderSchema, "embed", nil,
			fmt.Sprintf("expected %d dimensions, got %d", e.config.Dimensions, len(vectors[i])))}
	}
	return EmbedResult{Vector: vectors[i]}
}

// request calls the provider once per attempt with retry on transient
// failures, mirroring the analyzer's policy.
func (e *Embedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := providerBackoff(e.config.BackoffBase, e.config.BackoffCap, attempt-1)
			select {
			case <-ctx.Done():
				return nil, models.NewPipelineError(models.ErrCancelled, "embed", ctx.Err(), "")
			case <-time.After(delay):
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
		resp, err := e.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(e.config.Model),
		})
		cancel()
		if err == nil {
			vectors := make([][]float32, len(resp.Data))
			for i, item := range resp.Data {
				vectors[i] = item.Embedding
			}
			return vectors, nil
		}

		lastErr = classifyProviderError("embed", err, ctx)
		if !models.KindOf(lastErr).IsRetryable() {
			return nil, lastErr
		}
	}
	return nil, lastErr
}
