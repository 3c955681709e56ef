package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"knowledge-ingest/internal/extractors"
	"knowledge-ingest/internal/models"
	"knowledge-ingest/internal/repositories"
)

// OrchestratorConfig holds per-job execution limits; zero values take
// the defaults.
type OrchestratorConfig struct {
	ChunkConcurrency     int
	SessionTimeout       time.Duration
	ContextualEmbeddings bool // global default for the payload option
}

// Orchestrator drives one job through extract, chunk, per-chunk
// analysis/embedding, and persistence. Chunk workers run concurrently
// and push outcomes into a channel; a single actor loop drains it and
// commits, so session state has exactly one writer.
type Orchestrator struct {
	extractor *extractors.Extractor
	chunker   *Chunker
	analyzer  *Analyzer
	embedder  *Embedder
	writer    *PersistenceWriter
	sessions  *SessionService
	stream    *StreamService
	blobs     repositories.BlobRepository
	config    OrchestratorConfig
	log       Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(
	extractor *extractors.Extractor,
	chunker *Chunker,
	analyzer *Analyzer,
	embedder *Embedder,
	writer *PersistenceWriter,
	sessions *SessionService,
	stream *StreamService,
	blobs repositories.BlobRepository,
	config OrchestratorConfig,
	log Logger,
) *Orchestrator {
	if config.ChunkConcurrency == 0 {
		config.ChunkConcurrency = 5
	}
	if config.SessionTimeout == 0 {
		config.SessionTimeout = 8 * time.Minute
	}
	return &Orchestrator{
		extractor: extractor,
		chunker:   chunker,
		analyzer:  analyzer,
		embedder:  embedder,
		writer:    writer,
		sessions:  sessions,
		stream:    stream,
		blobs:     blobs,
		config:    config,
		log:       log,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Execute runs one job to completion and returns the job result object.
// A returned error means the job layer should apply its retry policy;
// partial chunk failures are not errors.
func (o *Orchestrator) Execute(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	payload, err := models.DecodeIngestPayload(job.Payload)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrValidation, "execute_job", err, "undecodable job payload")
	}
	if payload.JobType == "" {
		payload.JobType = job.Type
	}
	if err := payload.Validate(); err != nil {
		return nil, models.NewPipelineError(models.ErrValidation, "execute_job", err, "")
	}
	payload.Options.Clamp()

	jobCtx, cancel := context.WithTimeout(ctx, o.config.SessionTimeout)
	defer cancel()
	o.registerCancel(job.ID, cancel)
	defer o.unregisterCancel(job.ID)

	switch payload.JobType {
	case models.JobTypeBatchProcessing:
		return o.executeBatch(jobCtx, payload)
	default:
		result, err := o.runSession(jobCtx, payload)
		if result == nil {
			return nil, err
		}
		return resultObject(result), err
	}
}

// CancelJob signals cancellation to a running job. In-flight chunks
// finish; nothing new starts.
func (o *Orchestrator) CancelJob(jobID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (o *Orchestrator) registerCancel(jobID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregisterCancel(jobID string) {
	o.mu.Lock()
	delete(o.cancels, jobID)
	o.mu.Unlock()
}

// executeBatch runs one session per URL. A failed URL does not stop the
// batch; the job fails only when every URL failed.
func (o *Orchestrator) executeBatch(ctx context.Context, payload *models.IngestPayload) (map[string]interface{}, error) {
	var sessionResults []map[string]interface{}
	var firstErr error
	succeeded := 0

	for _, url := range payload.URLs {
		single := *payload
		single.JobType = models.JobTypeURLProcessing
		single.URL = url
		single.URLs = nil
		single.Options.SessionID = "" // each batch entry gets its own session

		result, err := o.runSession(ctx, &single)
		if result != nil {
			sessionResults = append(sessionResults, resultObject(result))
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if models.KindOf(err) == models.ErrCancelled {
				break
			}
			continue
		}
		succeeded++
	}

	batch := map[string]interface{}{
		"sessions":  sessionResults,
		"succeeded": succeeded,
		"failed":    len(payload.URLs) - succeeded,
	}
	if succeeded == 0 && firstErr != nil {
		return batch, firstErr
	}
	return batch, nil
}

// runSession is the per-session pipeline: acquire, extract, chunk,
// per-chunk fan-out, finalize.
func (o *Orchestrator) runSession(ctx context.Context, payload *models.IngestPayload) (*models.SessionResult, error) {
	source, sessionURL, filename, err := o.resolveSource(ctx, payload)
	if err != nil {
		return nil, err
	}

	session, err := o.acquireSession(ctx, sessionURL, filename, payload.Options.SessionID)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrRelationalStoreUnavailable, "acquire_session", err, "")
	}
	sessionID := session.SessionID

	o.stream.Publish(models.NewEvent(sessionID, models.EventProcessingStarted, map[string]interface{}{
		"session_id": sessionID,
		"url":        sessionURL,
	}))

	result, runErr := o.processSession(ctx, sessionID, source, sessionURL, payload.Options)
	if result == nil {
		// Infrastructure failure: the session stays processing and the
		// retried job (or cleanup) picks it up.
		return &models.SessionResult{SessionID: sessionID, Status: string(models.SessionStatusProcessing)}, runErr
	}

	if payload.UploadRef != "" && runErr == nil {
		if err := o.blobs.Delete(ctx, payload.UploadRef); err != nil {
			o.log.Warn("failed to delete consumed upload %s: %v", payload.UploadRef, err)
		}
	}
	return result, runErr
}

// processSession runs extract onward against an already-created session
func (o *Orchestrator) processSession(ctx context.Context, sessionID string, source extractors.Source, sessionURL string, opts models.ProcessingOptions) (*models.SessionResult, error) {
	if cancelled(ctx) {
		return o.finishCancelled(sessionID)
	}

	content, err := o.extractor.Fetch(ctx, source)
	if err != nil {
		return o.finishFatal(ctx, sessionID, err)
	}

	if cancelled(ctx) {
		return o.finishCancelled(sessionID)
	}

	drafts := o.chunker.Chunk(content.Text, opts)
	if len(drafts) == 0 {
		return o.finishFatal(ctx, sessionID,
			models.NewPipelineError(models.ErrValidation, "chunk", nil, "empty content"))
	}

	total := len(drafts)
	if err := o.sessions.UpdateProgress(ctx, sessionID, models.ProgressUpdate{
		TotalChunks: &total,
		Stage:       "chunking",
		Force:       true,
	}); err != nil {
		return nil, models.NewPipelineError(models.ErrRelationalStoreUnavailable, "update_progress", err, "")
	}

	contextual := opts.EnableContextualEmbeddings || o.config.ContextualEmbeddings
	outcomes := o.fanOutChunks(ctx, drafts, content.Text, contextual, opts.GenerateSummary)

	return o.commitLoop(ctx, sessionID, sessionURL, content.Title, total, contextual, outcomes)
}

// chunkOutcome is what a chunk worker hands to the commit actor
type chunkOutcome struct {
	draft    models.ChunkDraft
	analysis models.Analysis
	vector   []float32
	err      error
}

// fanOutChunks runs analysis and embedding for each draft with bounded
// concurrency. The cancel signal is polled before each chunk starts;
// chunks already running always deliver an outcome.
func (o *Orchestrator) fanOutChunks(ctx context.Context, drafts []models.ChunkDraft, documentText string, contextual, generateSummary bool) <-chan chunkOutcome {
	outcomes := make(chan chunkOutcome, o.config.ChunkConcurrency)
	semaphore := make(chan struct{}, o.config.ChunkConcurrency)

	go func() {
		var wg sync.WaitGroup
		for _, draft := range drafts {
			if cancelled(ctx) {
				outcomes <- chunkOutcome{draft: draft, err: models.NewPipelineError(models.ErrCancelled, "process_chunk", ctx.Err(), "")}
				continue
			}
			semaphore <- struct{}{}
			wg.Add(1)
			go func(draft models.ChunkDraft) {
				defer wg.Done()
				defer func() { <-semaphore }()
				outcomes <- o.processChunk(ctx, draft, documentText, contextual, generateSummary)
			}(draft)
		}
		wg.Wait()
		close(outcomes)
	}()

	return outcomes
}

// processChunk runs the analyze and embed stages for one draft
func (o *Orchestrator) processChunk(ctx context.Context, draft models.ChunkDraft, documentText string, contextual, generateSummary bool) chunkOutcome {
	if cancelled(ctx) {
		return chunkOutcome{draft: draft, err: models.NewPipelineError(models.ErrCancelled, "process_chunk", ctx.Err(), "")}
	}

	analysis, err := o.analyzer.Analyze(ctx, AnalyzeRequest{
		ChunkText:        draft.Text,
		DocumentText:     documentText,
		ChunkIndex:       draft.Index,
		EnableContextual: contextual,
		GenerateSummary:  generateSummary && draft.Index == 0,
	})
	if err != nil {
		return chunkOutcome{draft: draft, err: err}
	}

	input := draft.Text
	if contextual && analysis.ContextualSummary != "" {
		input = analysis.ContextualSummary + "\n\n" + draft.Text
	}
	results := o.embedder.Embed(ctx, []string{input})
	if results[0].Err != nil {
		return chunkOutcome{draft: draft, analysis: analysis, err: results[0].Err}
	}
	return chunkOutcome{draft: draft, analysis: analysis, vector: results[0].Vector}
}

// commitLoop is the single actor that drains chunk outcomes, persists
// them, updates progress and emits events.
func (o *Orchestrator) commitLoop(ctx context.Context, sessionID, url, title string, total int, contextual bool, outcomes <-chan chunkOutcome) (*models.SessionResult, error) {
	completed := 0
	failed := 0
	skipped := 0
	var firstChunkErr error

	for outcome := range outcomes {
		// A chunk that never ran leaves no row behind
		if models.KindOf(outcome.err) == models.ErrCancelled {
			skipped++
			continue
		}

		chunk := o.buildChunk(sessionID, url, title, outcome, contextual)

		if outcome.err == nil {
			o.stream.Publish(models.NewEvent(sessionID, models.EventAnalysisCompleted, map[string]interface{}{
				"session_id":  sessionID,
				"chunk_index": outcome.draft.Index,
			}))
			o.stream.Publish(models.NewEvent(sessionID, models.EventEmbeddingCreated, map[string]interface{}{
				"session_id":  sessionID,
				"chunk_index": outcome.draft.Index,
				"dimensions":  len(outcome.vector),
			}))

			err := o.writer.PersistChunk(ctx, chunk, outcome.vector)
			if err == nil {
				completed++
				o.stream.Publish(models.NewEvent(sessionID, models.EventChunkProcessed, map[string]interface{}{
					"session_id":  sessionID,
					"chunk_index": outcome.draft.Index,
					"chunk_id":    chunk.ChunkID,
				}))
				o.progress(ctx, sessionID, completed, failed, "processing")
				continue
			}
			if models.KindOf(err) == models.ErrRelationalStoreUnavailable {
				o.abort(ctx, sessionID, err, outcomes)
				return nil, err
			}
			// Vector store failure: the row is already the recovery
			// anchor, account the chunk as failed and move on.
			outcome.err = err
		}

		failed++
		if firstChunkErr == nil {
			firstChunkErr = outcome.err
		}
		chunk.ProcessingStatus = models.SessionStatusFailed
		if persistErr := o.writer.PersistFailedChunk(ctx, chunk); persistErr != nil {
			if models.KindOf(persistErr) == models.ErrRelationalStoreUnavailable {
				o.abort(ctx, sessionID, persistErr, outcomes)
				return nil, persistErr
			}
			o.log.Error("failed to record failed chunk %d of session %s: %v", outcome.draft.Index, sessionID, persistErr)
		}
		o.stream.Publish(models.NewEvent(sessionID, models.EventErrorOccurred, map[string]interface{}{
			"session_id":  sessionID,
			"chunk_index": outcome.draft.Index,
			"error":       outcome.err.Error(),
			"kind":        string(models.KindOf(outcome.err)),
		}))
		o.progress(ctx, sessionID, completed, failed, "processing")
	}

	return o.finalize(ctx, sessionID, total, completed, failed, skipped, firstChunkErr)
}

// finalize applies the terminal decision rules
func (o *Orchestrator) finalize(ctx context.Context, sessionID string, total, completed, failed, skipped int, firstChunkErr error) (*models.SessionResult, error) {
	o.progressForce(ctx, sessionID, completed, failed, total)

	if skipped > 0 || cancelled(ctx) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result, err := o.end(sessionID, models.SessionStatusFailed, "session timeout exceeded")
			if err != nil {
				return nil, err
			}
			return result, models.NewPipelineError(models.ErrTimeout, "process_session", ctx.Err(), "session timeout exceeded")
		}
		return o.finishCancelled(sessionID)
	}

	switch {
	case completed == 0:
		message := "all chunks failed"
		if firstChunkErr != nil {
			message = firstChunkErr.Error()
		}
		result, err := o.end(sessionID, models.SessionStatusFailed, message)
		if err != nil {
			return nil, err
		}
		return result, wrapChunkFailure(firstChunkErr, message)
	case failed*2 > total:
		message := fmt.Sprintf("chunk failure rate exceeded 50%% (%d of %d)", failed, total)
		result, err := o.end(sessionID, models.SessionStatusFailed, message)
		if err != nil {
			return nil, err
		}
		return result, wrapChunkFailure(firstChunkErr, message)
	default:
		result, err := o.end(sessionID, models.SessionStatusCompleted, "")
		return result, err
	}
}

func wrapChunkFailure(firstChunkErr error, message string) error {
	kind := models.KindOf(firstChunkErr)
	if kind == "" {
		kind = models.ErrInternal
	}
	return models.NewPipelineError(kind, "process_session", firstChunkErr, message)
}

func (o *Orchestrator) buildChunk(sessionID, url, title string, outcome chunkOutcome, contextual bool) *models.Chunk {
	analysis := outcome.analysis
	if outcome.err != nil && analysis.Sentiment == "" {
		analysis = models.DefaultAnalysis()
		analysis.AnalysisError = outcome.err.Error()
	}
	analysis.Normalize()

	usesContextual := contextual && analysis.ContextualSummary != ""
	return &models.Chunk{
		ChunkID:                 models.NewChunkID(sessionID, outcome.draft.Index),
		SessionID:               sessionID,
		URL:                     url,
		Title:                   title,
		ChunkIndex:              outcome.draft.Index,
		ChunkText:               outcome.draft.Text,
		ContextualSummary:       analysis.ContextualSummary,
		EmbeddingStatus:         models.EmbeddingStatusPending,
		ProcessingStatus:        models.SessionStatusCompleted,
		Analysis:                analysis,
		UsesContextualEmbedding: usesContextual,
	}
}

// resolveSource turns a payload into an extractor source and the
// session's canonical URL.
func (o *Orchestrator) resolveSource(ctx context.Context, payload *models.IngestPayload) (extractors.Source, string, string, error) {
	if payload.UploadRef != "" {
		upload, err := o.blobs.Get(ctx, payload.UploadRef)
		if err != nil {
			return extractors.Source{}, "", "", models.NewPipelineError(models.ErrValidation, "resolve_source", err, "")
		}
		url := models.SyntheticFileURL(upload.Data, upload.Filename)
		return extractors.Source{
			Data:     upload.Data,
			Filename: upload.Filename,
			MIMEType: upload.MIMEType,
		}, url, upload.Filename, nil
	}
	return extractors.Source{URL: payload.URL}, payload.URL, "", nil
}

// acquireSession creates the session, adopting an existing processing
// session with the same client-supplied id so a retried job continues
// instead of colliding.
func (o *Orchestrator) acquireSession(ctx context.Context, url, filename, sessionID string) (*models.Session, error) {
	session, err := o.sessions.Start(ctx, url, filename, sessionID)
	if err == nil {
		return session, nil
	}
	if sessionID != "" {
		if existing, getErr := o.sessions.Get(ctx, sessionID); getErr == nil &&
			existing.Status == models.SessionStatusProcessing {
			o.log.Info("adopting existing session %s for retried job", sessionID)
			return existing, nil
		}
	}
	return nil, err
}

func (o *Orchestrator) progress(ctx context.Context, sessionID string, completed, failed int, stage string) {
	if err := o.sessions.UpdateProgress(ctx, sessionID, models.ProgressUpdate{
		CompletedChunks: completed,
		FailedChunks:    failed,
		Stage:           stage,
	}); err != nil {
		o.log.Warn("progress update failed for session %s: %v", sessionID, err)
	}
}

func (o *Orchestrator) progressForce(ctx context.Context, sessionID string, completed, failed, total int) {
	if err := o.sessions.UpdateProgress(ctx, sessionID, models.ProgressUpdate{
		CompletedChunks: completed,
		FailedChunks:    failed,
		TotalChunks:     &total,
		Stage:           "finalizing",
		Force:           true,
	}); err != nil {
		o.log.Warn("final progress update failed for session %s: %v", sessionID, err)
	}
}

// abort drains remaining outcomes so workers do not block, then records
// the infrastructure failure.
func (o *Orchestrator) abort(ctx context.Context, sessionID string, cause error, outcomes <-chan chunkOutcome) {
	go func() {
		for range outcomes {
		}
	}()
	if err := o.sessions.RecordError(context.WithoutCancel(ctx), sessionID, cause, nil); err != nil {
		o.log.Error("failed to record abort cause for session %s: %v", sessionID, err)
	}
}

// finishFatal ends the session as failed with the cause. Extract and
// chunk phase errors land here.
func (o *Orchestrator) finishFatal(ctx context.Context, sessionID string, cause error) (*models.SessionResult, error) {
	if models.KindOf(cause) == models.ErrCancelled {
		return o.finishCancelled(sessionID)
	}

	message := cause.Error()
	var pe *models.PipelineError
	if errors.As(cause, &pe) && pe.Message != "" {
		message = pe.Message
	}

	result, err := o.end(sessionID, models.SessionStatusFailed, message)
	if err != nil {
		return nil, err
	}

	if models.KindOf(cause).IsRetryable() {
		return result, cause
	}
	// Fatal but non-retryable: the session is failed, the job is done
	return result, models.NewPipelineError(models.KindOf(cause), "process_session", cause, message)
}

func (o *Orchestrator) finishCancelled(sessionID string) (*models.SessionResult, error) {
	result, err := o.end(sessionID, models.SessionStatusCancelled, "")
	if err != nil {
		return nil, err
	}
	return result, models.NewPipelineError(models.ErrCancelled, "process_session", nil, "job cancelled")
}

// end runs the terminal transition outside the job context so that a
// cancelled or expired job can still record its terminal state.
func (o *Orchestrator) end(sessionID string, status models.SessionStatus, message string) (*models.SessionResult, error) {
	endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := o.sessions.End(endCtx, sessionID, status, message)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrRelationalStoreUnavailable, "end_session", err, "")
	}
	return result, nil
}

func resultObject(result *models.SessionResult) map[string]interface{} {
	obj := map[string]interface{}{
		"session_id":       result.SessionID,
		"status":           result.Status,
		"completed_chunks": result.CompletedChunks,
		"failed_chunks":    result.FailedChunks,
	}
	if result.ErrorMessage != "" {
		obj["error_message"] = result.ErrorMessage
	}
	return obj
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
