package handlers

import (
	"encoding/json"
	"net/http"

	"knowledge-ingest/internal/repositories"
	"knowledge-ingest/internal/services"
)

// SearchHandler handles vector similarity search over ingested chunks
type SearchHandler struct {
	embedder *services.Embedder
	vectors  repositories.VectorRepository
	chunks   repositories.ChunkRepository
	log      Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(embedder *services.Embedder, vectors repositories.VectorRepository, chunks repositories.ChunkRepository, log Logger) *SearchHandler {
	return &SearchHandler{
		embedder: embedder,
		vectors:  vectors,
		chunks:   chunks,
		log:      log,
	}
}

// SearchRequestBody is the body of a search request
type SearchRequestBody struct {
	Query       string `json:"query"`
	Limit       int    `json:"limit,omitempty"`
	IncludeText bool   `json:"include_text,omitempty"`
}

// SearchResult is a single search hit
type SearchResult struct {
	ChunkID    string   `json:"chunk_id"`
	Score      float32  `json:"score"`
	URL        string   `json:"url"`
	Title      string   `json:"title"`
	ChunkIndex int      `json:"chunk_index"`
	Category   string   `json:"category"`
	Sentiment  string   `json:"sentiment"`
	MainTopics []string `json:"main_topics,omitempty"`
	ChunkText  string   `json:"chunk_text,omitempty"`
}

// SearchResponse is the search envelope
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

// Search embeds the query and returns the nearest chunks
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.log, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		sendError(w, h.log, http.StatusBadRequest, "query is required")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	embedded := h.embedder.Embed(r.Context(), []string{req.Query})
	if embedded[0].Err != nil {
		h.log.Error("failed to embed search query: %v", embedded[0].Err)
		sendServiceError(w, h.log, embedded[0].Err)
		return
	}

	matches, err := h.vectors.Search(r.Context(), embedded[0].Vector, limit)
	if err != nil {
		h.log.Error("vector search failed: %v", err)
		sendServiceError(w, h.log, err)
		return
	}

	results := make([]SearchResult, 0, len(matches))
	for _, match := range matches {
		result := SearchResult{
			ChunkID:    match.ChunkID,
			Score:      match.Score,
			URL:        match.Payload.URL,
			Title:      match.Payload.Title,
			ChunkIndex: match.Payload.ChunkIndex,
			Category:   match.Payload.Category,
			Sentiment:  match.Payload.Sentiment,
			MainTopics: match.Payload.MainTopics,
		}
		if req.IncludeText {
			result.ChunkText = h.chunkText(r, match.ChunkID)
		}
		results = append(results, result)
	}

	sendJSON(w, h.log, http.StatusOK, SearchResponse{
		Query:   req.Query,
		Results: results,
		Count:   len(results),
	})
}

// chunkText fetches the text of a hit best-effort. A vector whose row
// was cleaned up still returns as a hit, just without text.
func (h *SearchHandler) chunkText(r *http.Request, chunkID string) string {
	chunk, err := h.chunks.Get(r.Context(), chunkID)
	if err != nil {
		if !repositories.IsNotFound(err) {
			h.log.Warn("failed to load chunk %s for search result: %v", chunkID, err)
		}
		return ""
	}
	return chunk.ChunkText
}
