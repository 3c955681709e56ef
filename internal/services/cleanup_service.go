package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"knowledge-ingest/internal/models"
	"knowledge-ingest/internal/repositories"
)

// ErrUnsafeCleanup is returned when the pressure check aborts a
// non-forced scan.
var ErrUnsafeCleanup = errors.New("cleanup aborted: too many sessions are processing")

// CleanupConfig holds the scan periods and thresholds; zero values take
// the defaults.
type CleanupConfig struct {
	CleanupInterval   time.Duration // timeout + orphan scan period
	EmergencyInterval time.Duration // heartbeat scan period
	HeartbeatTimeout  time.Duration
	SessionTimeout    time.Duration
	JobRetention      time.Duration // how long terminal jobs are kept
	OrphanBatch       int
}

func (c *CleanupConfig) applyDefaults() {
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 2 * time.Minute
	}
	if c.EmergencyInterval == 0 {
		c.EmergencyInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 90 * time.Second
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 8 * time.Minute
	}
	if c.JobRetention == 0 {
		c.JobRetention = 24 * time.Hour
	}
	if c.OrphanBatch == 0 {
		c.OrphanBatch = 100
	}
}

// CleanupService runs the periodic scans that fail stuck sessions and
// recover orphaned chunks. Scan failures never propagate; the next tick
// retries.
type CleanupService struct {
	sessions repositories.SessionRepository
	chunks   repositories.ChunkRepository
	vectors  repositories.VectorRepository
	jobs     repositories.JobRepository
	config   CleanupConfig
	log      Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewCleanupService creates a cleanup service
func NewCleanupService(
	sessions repositories.SessionRepository,
	chunks repositories.ChunkRepository,
	vectors repositories.VectorRepository,
	jobs repositories.JobRepository,
	config CleanupConfig,
	log Logger,
) *CleanupService {
	config.applyDefaults()
	return &CleanupService{
		sessions: sessions,
		chunks:   chunks,
		vectors:  vectors,
		jobs:     jobs,
		config:   config,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Start launches the scan loops. The heartbeat scan runs on the
// emergency interval; the timeout, orphan and job scans share the main
// interval.
func (s *CleanupService) Start() {
	s.wg.Add(2)

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.EmergencyInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.runLogged("heartbeat scan", func(ctx context.Context) (int, error) {
					return s.RunHeartbeatScan(ctx, false)
				})
			}
		}
	}()

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.runLogged("timeout scan", func(ctx context.Context) (int, error) {
					return s.RunTimeoutScan(ctx, false)
				})
				s.runLogged("orphan scan", s.RunOrphanScan)
				s.runLogged("job scan", s.RunJobScan)
			}
		}
	}()

	s.log.Info("cleanup service started (heartbeat every %s, cleanup every %s)",
		s.config.EmergencyInterval, s.config.CleanupInterval)
}

// Stop halts the scan loops and waits for in-flight scans
func (s *CleanupService) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *CleanupService) runLogged(name string, scan func(context.Context) (int, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.EmergencyInterval)
	defer cancel()

	count, err := scan(ctx)
	if errors.Is(err, ErrUnsafeCleanup) {
		s.log.Warn("%s skipped: %v", name, err)
		return
	}
	if err != nil {
		s.log.Error("%s failed: %v", name, err)
		return
	}
	if count > 0 {
		s.log.Info("%s cleaned %d entries", name, count)
	}
}

// RunHeartbeatScan fails processing sessions whose heartbeat went stale
func (s *CleanupService) RunHeartbeatScan(ctx context.Context, force bool) (int, error) {
	if err := s.checkPressure(ctx, force); err != nil {
		return 0, err
	}

	stuck, err := s.sessions.FindStuck(ctx, time.Now().Add(-s.config.HeartbeatTimeout))
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(stuck))
	for _, session := range stuck {
		s.log.Warn("session %s heartbeat stale since %s", session.SessionID, session.LastHeartbeat.Format(time.RFC3339))
		ids = append(ids, session.SessionID)
	}
	return s.sessions.FailBatch(ctx, ids, "heartbeat timeout")
}

// RunTimeoutScan fails processing sessions that outlived the session
// lifetime.
func (s *CleanupService) RunTimeoutScan(ctx context.Context, force bool) (int, error) {
	if err := s.checkPressure(ctx, force); err != nil {
		return 0, err
	}

	expired, err := s.sessions.FindExpired(ctx, time.Now().Add(-s.config.SessionTimeout))
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(expired))
	for _, session := range expired {
		s.log.Warn("session %s exceeded lifetime, created %s", session.SessionID, session.CreatedAt.Format(time.RFC3339))
		ids = append(ids, session.SessionID)
	}
	return s.sessions.FailBatch(ctx, ids, "session timeout exceeded")
}

// RunOrphanScan reconciles chunks whose session row no longer exists: a
// chunk with a live vector is marked complete, one without is marked
// failed.
func (s *CleanupService) RunOrphanScan(ctx context.Context) (int, error) {
	orphans, err := s.chunks.FindOrphaned(ctx, s.config.OrphanBatch)
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, chunk := range orphans {
		s.log.Warn("orphaned chunk %s (session %s gone)", chunk.ChunkID, chunk.SessionID)

		status := models.EmbeddingStatusFailed
		if exists, hasErr := s.vectors.Has(ctx, chunk.ChunkID); hasErr == nil && exists {
			status = models.EmbeddingStatusComplete
		}
		if chunk.EmbeddingStatus == status {
			continue
		}
		if err := s.chunks.SetEmbeddingStatus(ctx, chunk.ChunkID, status); err != nil {
			s.log.Error("failed to reconcile orphan chunk %s: %v", chunk.ChunkID, err)
			continue
		}
		reconciled++
	}
	return reconciled, nil
}

// RunJobScan fails processing jobs whose worker died and deletes
// terminal jobs past retention.
func (s *CleanupService) RunJobScan(ctx context.Context) (int, error) {
	staleCutoff := time.Now().Add(-(s.config.SessionTimeout + s.config.CleanupInterval))
	stale, err := s.jobs.FailStale(ctx, staleCutoff, "worker died mid-job")
	if err != nil {
		return 0, err
	}

	removed, err := s.jobs.CleanupTerminal(ctx, time.Now().Add(-s.config.JobRetention))
	if err != nil {
		return stale, err
	}
	return stale + removed, nil
}

// checkPressure aborts non-forced scans when more than half of a
// non-trivial session population is processing: that pattern looks like
// a healthy burst, not a pile of corpses, and mass-failing it would do
// more harm than waiting one interval.
func (s *CleanupService) checkPressure(ctx context.Context, force bool) error {
	if force {
		return nil
	}

	counts, err := s.sessions.CountByStatus(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	processing := counts[models.SessionStatusProcessing]
	if total > 100 && processing*2 > total {
		return ErrUnsafeCleanup
	}
	return nil
}
