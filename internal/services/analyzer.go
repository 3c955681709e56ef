package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jdkato/prose/v2"
	openai "github.com/sashabaranov/go-openai"

	"knowledge-ingest/internal/models"
)

// ChatClient is the slice of the OpenAI client the analyzer uses
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// AnalyzerConfig holds analyzer tuning; zero values take the defaults
type AnalyzerConfig struct {
	Model          string
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	RequestTimeout time.Duration
	// DocumentContextLimit bounds how much of the whole document is sent
	// as auxiliary context per chunk.
	DocumentContextLimit int
}

// AnalyzeRequest carries one chunk plus its document context
type AnalyzeRequest struct {
	ChunkText        string
	DocumentText     string
	ChunkIndex       int
	EnableContextual bool
	GenerateSummary  bool
}

// Analyzer produces the per-chunk analysis. Provider failures are
// retried with backoff; output that cannot be decoded is coerced into a
// default analysis with heuristic entities instead of failing the chunk.
type Analyzer struct {
	client ChatClient
	config AnalyzerConfig
	log    Logger
}

// NewAnalyzer creates an analyzer
func NewAnalyzer(client ChatClient, config AnalyzerConfig, log Logger) *Analyzer {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
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
		config.RequestTimeout = 60 * time.Second
	}
	if config.DocumentContextLimit == 0 {
		config.DocumentContextLimit = 8000
	}
	return &Analyzer{client: client, config: config, log: log}
}

const analyzerSystemPrompt = `You analyze a text chunk within its source document.
Respond with a single JSON object using exactly these keys:
"sentiment" (positive|negative|neutral|mixed), "category" (short label),
"content_type" (article|documentation|tutorial|reference|narrative|data|other),
"technical_level" (beginner|intermediate|advanced),
"main_topics" (array of up to 5 strings), "key_concepts" (comma-separated string),
"emotions" (array of strings), "tags" (comma-separated string),
"key_entities" (object with "people", "organizations", "locations" string arrays),
"contextual_summary" (at most 2 sentences describing how this chunk fits in the document; empty string if not requested),
"document_summary" (3-5 sentence summary of the whole document; empty string if not requested).`

// Analyze runs the model on one chunk. The returned analysis is always
// usable; the error is non-nil only when the provider could not be
// reached at all within the retry budget.
func (a *Analyzer) Analyze(ctx context.Context, req AnalyzeRequest) (models.Analysis, error) {
	raw, err := a.complete(ctx, a.buildPrompt(req))
	if err != nil {
		return models.Analysis{}, err
	}

	analysis, decodeErr := decodeAnalysis(raw)
	if decodeErr != nil {
		a.log.Warn("analysis output rejected for chunk %d, falling back to defaults: %v", req.ChunkIndex, decodeErr)
		analysis = a.fallbackAnalysis(req.ChunkText)
		analysis.AnalysisError = decodeErr.Error()
	}
	if !req.EnableContextual {
		analysis.ContextualSummary = ""
	}
	if !req.GenerateSummary {
		analysis.DocumentSummary = ""
	}
	analysis.Normalize()
	return analysis, nil
}

func (a *Analyzer) buildPrompt(req AnalyzeRequest) []openai.ChatCompletionMessage {
	docContext := req.DocumentText
	if len(docContext) > a.config.DocumentContextLimit {
		docContext = docContext[:a.config.DocumentContextLimit]
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Document context:\n%s\n\n", docContext)
	fmt.Fprintf(&user, "Chunk %d:\n%s\n\n", req.ChunkIndex, req.ChunkText)
	if req.EnableContextual {
		user.WriteString("Include a contextual_summary.\n")
	} else {
		user.WriteString("Set contextual_summary to an empty string.\n")
	}
	if req.GenerateSummary {
		user.WriteString("Include a document_summary.\n")
	} else {
		user.WriteString("Set document_summary to an empty string.\n")
	}

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: analyzerSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: user.String()},
	}
}

// complete calls the provider with retry on transient failures
func (a *Analyzer) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= a.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := providerBackoff(a.config.BackoffBase, a.config.BackoffCap, attempt-1)
			a.log.Debug("retrying analysis in %s (attempt %d/%d)", delay, attempt, a.config.MaxAttempts)
			select {
			case <-ctx.Done():
				return "", models.NewPipelineError(models.ErrCancelled, "analyze", ctx.Err(), "")
			case <-time.After(delay):
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
		resp, err := a.client.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
			Model:    a.config.Model,
			Messages: messages,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		cancel()
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", models.NewPipelineError(models.ErrProviderSchema, "analyze", nil, "provider returned no choices")
			}
			return resp.Choices[0].Message.Content, nil
		}

		lastErr = classifyProviderError("analyze", err, ctx)
		if !models.KindOf(lastErr).IsRetryable() {
			return "", lastErr
		}
	}
	return "", lastErr
}

// fallbackAnalysis builds the default analysis enriched with keyword
// topics and named entities from local NER, so a failed model call
// still yields searchable metadata.
func (a *Analyzer) fallbackAnalysis(chunkText string) models.Analysis {
	analysis := models.DefaultAnalysis()
	if topics := topKeywords(chunkText, 5); len(topics) > 0 {
		analysis.MainTopics = topics
	}

	doc, err := prose.NewDocument(chunkText)
	if err != nil {
		return analysis
	}
	seen := make(map[string]bool)
	for _, ent := range doc.Entities() {
		text := strings.TrimSpace(ent.Text)
		if text == "" || seen[ent.Label+text] {
			continue
		}
		seen[ent.Label+text] = true
		switch ent.Label {
		case "PERSON":
			analysis.KeyEntities.People = append(analysis.KeyEntities.People, text)
		case "GPE":
			analysis.KeyEntities.Locations = append(analysis.KeyEntities.Locations, text)
		default:
			analysis.KeyEntities.Organizations = append(analysis.KeyEntities.Organizations, text)
		}
	}
	return analysis
}

func decodeAnalysis(raw string) (models.Analysis, error) {
	raw = strings.TrimSpace(raw)
	// Models sometimes fence the JSON despite the response format
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var analysis models.Analysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return models.Analysis{}, fmt.Errorf("invalid analysis json: %w", err)
	}
	if analysis.Sentiment == "" && analysis.Category == "" && len(analysis.MainTopics) == 0 {
		return models.Analysis{}, fmt.Errorf("analysis json is empty")
	}
	return analysis, nil
}

// classifyProviderError maps provider errors onto the error kinds the
// retry policy dispatches on.
func classifyProviderError(operation string, err error, ctx context.Context) error {
	if ctx.Err() != nil {
		return models.NewPipelineError(models.ErrCancelled, operation, ctx.Err(), "")
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return models.NewPipelineError(models.ErrProviderRateLimit, operation, err, "")
		case apiErr.HTTPStatusCode >= 500:
			return models.NewPipelineError(models.ErrNetworkTransient, operation, err, "")
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return models.NewPipelineError(models.ErrValidation, operation, err, "provider rejected credentials")
		default:
			return models.NewPipelineError(models.ErrProviderSchema, operation, err, "")
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewPipelineError(models.ErrTimeout, operation, err, "")
	}
	return models.NewPipelineError(models.ErrNetworkTransient, operation, err, "")
}

// providerBackoff returns base*2^(attempt-1) capped, with ±20% jitter
func providerBackoff(base, limit time.Duration, attempt int) time.Duration {
	delay := base << (attempt - 1)
	if delay > limit || delay <= 0 {
		delay = limit
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(float64(delay) * jitter)
}
