package models

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// EmbeddingStatus tracks the vector-store side of a chunk
type EmbeddingStatus string

const (
	EmbeddingStatusPending    EmbeddingStatus = "pending"
	EmbeddingStatusProcessing EmbeddingStatus = "processing"
	EmbeddingStatusComplete   EmbeddingStatus = "complete"
	EmbeddingStatusFailed     EmbeddingStatus = "failed"
	EmbeddingStatusSkipped    EmbeddingStatus = "skipped"
)

// IsValid checks if the embedding status is recognized
func (s EmbeddingStatus) IsValid() bool {
	switch s {
	case EmbeddingStatusPending, EmbeddingStatusProcessing, EmbeddingStatusComplete,
		EmbeddingStatusFailed, EmbeddingStatusSkipped:
		return true
	default:
		return false
	}
}

// Chunk is the atomic unit of analysis, embedding and retrieval. A chunk
// row written with embedding_status=failed and no vector is the recovery
// anchor the cleanup service works from.
type Chunk struct {
	ChunkID    string `json:"chunk_id"`
	SessionID  string `json:"session_id"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkText  string `json:"chunk_text"`

	// ContextualSummary is present iff contextual embeddings are enabled
	// for the session that produced this chunk.
	ContextualSummary string `json:"contextual_summary,omitempty"`

	EmbeddingStatus  EmbeddingStatus `json:"embedding_status"`
	ProcessingStatus SessionStatus   `json:"processing_status"`

	Analysis Analysis `json:"analysis"`

	UsesContextualEmbedding bool `json:"uses_contextual_embedding"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewChunkID derives the stable chunk id from session id and chunk index.
// The id is UUID-shaped (8-4-4-4-12 hex, version and variant bits forced)
// so it is accepted verbatim as a vector store point id. Re-running a
// session over the same input yields the same ids.
func NewChunkID(sessionID string, chunkIndex int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", sessionID, chunkIndex)))
	h[6] = (h[6] & 0x0f) | 0x50
	h[8] = (h[8] & 0x3f) | 0x80
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		h[0:4], h[4:6], h[6:8], h[8:10], h[10:16])
}

// Validate checks if the chunk is valid
func (c *Chunk) Validate() error {
	if c.ChunkID == "" {
		return &ValidationError{Field: "chunk_id", Message: "chunk ID is required"}
	}
	if c.SessionID == "" {
		return &ValidationError{Field: "session_id", Message: "session ID is required"}
	}
	if c.URL == "" {
		return &ValidationError{Field: "url", Message: "url is required"}
	}
	if c.ChunkText == "" {
		return &ValidationError{Field: "chunk_text", Message: "chunk text is required"}
	}
	if c.ChunkIndex < 0 {
		return &ValidationError{Field: "chunk_index", Message: "chunk index cannot be negative"}
	}
	if c.ContextualSummary != "" && !c.UsesContextualEmbedding {
		return &ValidationError{Field: "uses_contextual_embedding", Message: "contextual summary requires uses_contextual_embedding"}
	}
	return nil
}

// ChunkDraft is the chunker's output before analysis and embedding
type ChunkDraft struct {
	Index int
	Text  string
	Start int
	End   int
}

// VectorPayload is the metadata stored alongside a chunk's vector
type VectorPayload struct {
	URL                     string   `json:"url"`
	Title                   string   `json:"title"`
	ChunkIndex              int      `json:"chunk_index"`
	Category                string   `json:"category"`
	Sentiment               string   `json:"sentiment"`
	MainTopics              []string `json:"main_topics"`
	UsesContextualEmbedding bool     `json:"uses_contextual_embedding"`
}

// PayloadFor builds the vector payload for a chunk
func (c *Chunk) PayloadFor() VectorPayload {
	return VectorPayload{
		URL:                     c.URL,
		Title:                   c.Title,
		ChunkIndex:              c.ChunkIndex,
		Category:                c.Analysis.Category,
		Sentiment:               c.Analysis.Sentiment,
		MainTopics:              c.Analysis.MainTopics,
		UsesContextualEmbedding: c.UsesContextualEmbedding,
	}
}

// EmbeddingInput returns the text handed to the embedder: the contextual
// summary prefixed to the chunk text when contextual mode is on, the raw
// chunk text otherwise.
func (c *Chunk) EmbeddingInput() string {
	if c.UsesContextualEmbedding && c.ContextualSummary != "" {
		return c.ContextualSummary + "\n\n" + c.ChunkText
	}
	return c.ChunkText
}
