package workers

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"knowledge-ingest/internal/models"
	"knowledge-ingest/internal/repositories"
)

// JobExecutor runs one claimed job end to end. Implemented by the
// pipeline orchestrator.
type JobExecutor interface {
	Execute(ctx context.Context, job *models.Job) (map[string]interface{}, error)
	CancelJob(jobID string) bool
}

// IngestWorker claims ingestion jobs from the durable queue and hands
// them to the executor. Retry scheduling dispatches on the error kind:
// transient kinds go back on the queue with backoff, everything else
// fails permanently on the first attempt.
type IngestWorker struct {
	*BaseWorker
	jobs     repositories.JobRepository
	executor JobExecutor
	log      Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewIngestWorker creates an ingest worker
func NewIngestWorker(config WorkerConfig, jobs repositories.JobRepository, executor JobExecutor, log Logger) *IngestWorker {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 30 * time.Second
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = 10 * time.Minute
	}
	return &IngestWorker{
		BaseWorker: NewBaseWorker(config),
		jobs:       jobs,
		executor:   executor,
		log:        log,
		stop:       make(chan struct{}),
	}
}

// Start launches the poll loops
func (w *IngestWorker) Start(ctx context.Context) error {
	if w.IsRunning() {
		return NewWorkerError(w.Name(), "start", nil, "worker already running")
	}

	w.setRunning(true)
	w.log.Info("starting ingest worker %s with %d goroutines", w.Name(), w.config.Concurrency)

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.pollLoop(ctx, fmt.Sprintf("%s-%d", w.Name(), i))
	}
	return nil
}

// Stop halts the poll loops and waits for in-flight jobs up to the
// shutdown timeout.
func (w *IngestWorker) Stop(ctx context.Context) error {
	if !w.IsRunning() {
		return nil
	}
	w.once.Do(func() { close(w.stop) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	timeout := w.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(timeout):
		w.log.Warn("ingest worker %s shutdown timed out with jobs in flight", w.Name())
	case <-ctx.Done():
	}

	w.setRunning(false)
	w.log.Info("ingest worker %s stopped", w.Name())
	return nil
}

// pollLoop claims and processes jobs until the worker stops. Each tick
// drains the queue so a burst does not wait one interval per job.
func (w *IngestWorker) pollLoop(ctx context.Context, workerID string) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.drain(ctx, workerID)
		}
	}
}

func (w *IngestWorker) drain(ctx context.Context, workerID string) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.jobs.Claim(ctx, workerID)
		if err != nil {
			w.log.Error("failed to claim job: %v", err)
			return
		}
		if job == nil {
			return
		}
		w.processJob(ctx, job)
	}
}

// processJob runs one claimed job and records the terminal outcome
func (w *IngestWorker) processJob(ctx context.Context, job *models.Job) {
	startTime := w.recordJobStart()
	w.log.Info("processing job %s (type %s, attempt %d/%d)", job.ID, job.Type, job.Attempts, job.MaxAttempts)

	result, err := w.execute(ctx, job)
	if err == nil {
		w.recordJobSuccess(startTime)
		if completeErr := w.jobs.Complete(ctx, job.ID, result); completeErr != nil {
			w.log.Error("failed to mark job %s completed: %v", job.ID, completeErr)
			return
		}
		w.log.Info("job %s completed in %s", job.ID, time.Since(startTime))
		return
	}

	w.recordJobFailure(startTime)
	kind := models.KindOf(err)
	if !kind.IsRetryable() {
		w.log.Error("job %s failed permanently (%s): %v", job.ID, kind, err)
		if failErr := w.jobs.Fail(ctx, job.ID, err.Error()); failErr != nil {
			w.log.Error("failed to mark job %s failed: %v", job.ID, failErr)
		}
		return
	}

	retryAfter := time.Now().Add(w.retryDelay(job.Attempts))
	status, retryErr := w.jobs.FailOrRetry(ctx, job.ID, err.Error(), retryAfter)
	if retryErr != nil {
		w.log.Error("failed to record failed attempt for job %s: %v", job.ID, retryErr)
		return
	}
	if status == models.JobStatusRetrying {
		w.log.Warn("job %s failed (%s), retry %d/%d scheduled for %s: %v",
			job.ID, kind, job.Attempts, job.MaxAttempts, retryAfter.Format(time.RFC3339), err)
	} else {
		w.log.Error("job %s failed permanently after %d attempts: %v", job.ID, job.Attempts, err)
	}
}

// execute wraps the executor call with panic recovery
func (w *IngestWorker) execute(ctx context.Context, job *models.Job) (result map[string]interface{}, err error) {
	if w.config.EnableRecovery {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("panic while processing job %s: %v", job.ID, r)
				err = &WorkerPanicError{Panic: r}
			}
		}()
	}
	return w.executor.Execute(ctx, job)
}

// retryDelay doubles the base per attempt, capped, with ±20% jitter so
// retries from a burst of failures spread out.
func (w *IngestWorker) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := w.config.RetryBaseDelay << (attempt - 1)
	if delay <= 0 || delay > w.config.RetryMaxDelay {
		delay = w.config.RetryMaxDelay
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(float64(delay) * jitter)
}
