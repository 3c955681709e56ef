package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sashabaranov/go-openai"

	"knowledge-ingest/internal/config"
	"knowledge-ingest/internal/db"
	"knowledge-ingest/internal/extractors"
	"knowledge-ingest/internal/handlers"
	"knowledge-ingest/internal/logger"
	"knowledge-ingest/internal/repositories"
	"knowledge-ingest/internal/routes"
	"knowledge-ingest/internal/server"
	"knowledge-ingest/internal/services"
	"knowledge-ingest/internal/workers"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Config{Level: cfg.Logger.Level, Format: cfg.Logger.Format})
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.ZapLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Backing stores
	postgres, err := db.NewPostgresClient(ctx, db.PostgresConfig{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return err
	}
	defer postgres.Close()
	if err := postgres.Migrate(ctx); err != nil {
		return err
	}

	qdrantClient, err := db.NewQdrantClient(db.QdrantConfig{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		APIKey: cfg.Qdrant.APIKey,
		UseTLS: cfg.Qdrant.UseTLS,
	})
	if err != nil {
		return err
	}
	defer qdrantClient.Close()
	if err := qdrantClient.EnsureCollection(ctx, cfg.Qdrant.Collection, cfg.Pipeline.EmbeddingDimensions); err != nil {
		return err
	}

	redisClient := db.NewRedisClient(db.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()

	// Repositories
	sessionRepo := repositories.NewPostgresSessionRepository(postgres.Pool())
	chunkRepo := repositories.NewPostgresChunkRepository(postgres.Pool())
	jobRepo := repositories.NewPostgresJobRepository(postgres.Pool())
	vectorRepo := repositories.NewQdrantVectorRepository(qdrantClient.Client(), cfg.Qdrant.Collection)
	blobRepo := repositories.NewRedisBlobRepository(redisClient.GetClient())

	// LLM provider
	providerConfig := openai.DefaultConfig(cfg.Provider.APIKey)
	if cfg.Provider.BaseURL != "" {
		providerConfig.BaseURL = cfg.Provider.BaseURL
	}
	providerClient := openai.NewClientWithConfig(providerConfig)

	// Pipeline services
	stream := services.NewStreamService(cfg.Stream.KeepAliveInterval, log.Named("stream"))
	sessions := services.NewSessionService(sessionRepo, stream, cfg.Pipeline.ProgressUpdateInterval, log.Named("sessions"))
	analyzer := services.NewAnalyzer(providerClient, services.AnalyzerConfig{
		Model: cfg.Provider.ChatModel,
	}, log.Named("analyzer"))
	embedder := services.NewEmbedder(providerClient, services.EmbedderConfig{
		Model:      cfg.Provider.EmbeddingModel,
		Dimensions: cfg.Pipeline.EmbeddingDimensions,
		BatchSize:  cfg.Pipeline.BatchSize,
	}, log.Named("embedder"))
	writer := services.NewPersistenceWriter(chunkRepo, vectorRepo, log.Named("persistence"))
	fetcher := extractors.NewURLFetcher(extractors.URLFetcherConfig{})
	extractor := extractors.NewExtractor(fetcher, log.Named("extractor"))

	orchestrator := services.NewOrchestrator(
		extractor,
		services.NewChunker(),
		analyzer,
		embedder,
		writer,
		sessions,
		stream,
		blobRepo,
		services.OrchestratorConfig{
			ChunkConcurrency:     cfg.Pipeline.MaxConcurrentOperations,
			SessionTimeout:       cfg.Cleanup.SessionTimeout,
			ContextualEmbeddings: cfg.Pipeline.EnableContextualEmbeddings,
		},
		log.Named("orchestrator"),
	)

	cleanup := services.NewCleanupService(sessionRepo, chunkRepo, vectorRepo, jobRepo, services.CleanupConfig{
		CleanupInterval:   cfg.Cleanup.CleanupInterval,
		EmergencyInterval: cfg.Cleanup.EmergencyInterval,
		HeartbeatTimeout:  cfg.Cleanup.HeartbeatTimeout,
		SessionTimeout:    cfg.Cleanup.SessionTimeout,
	}, log.Named("cleanup"))
	cleanup.Start()
	defer cleanup.Stop()

	// Workers
	workerConfig := workers.DefaultWorkerConfig("ingest-worker")
	workerConfig.Concurrency = cfg.Pipeline.WorkerPoolSize
	workerConfig.PollInterval = cfg.Pipeline.PollInterval

	pool := workers.NewWorkerPool()
	pool.AddWorker(workers.NewIngestWorker(workerConfig, jobRepo, orchestrator, log.Named("worker")))
	if err := pool.StartAll(ctx); err != nil {
		return err
	}

	// HTTP layer
	healthHandler := handlers.NewHealthHandler(log.Named("health"))
	healthHandler.AddCheck("postgres", postgres)
	healthHandler.AddCheck("qdrant", qdrantClient)
	healthHandler.AddCheck("redis", blobRepo)

	h := &routes.Handlers{
		Ingest:  handlers.NewIngestHandler(jobRepo, blobRepo, orchestrator, cfg.Redis.UploadTTL, log.Named("ingest")),
		Session: handlers.NewSessionHandler(sessions, chunkRepo, log.Named("session")),
		Stream:  handlers.NewStreamHandler(stream, log.Named("stream")),
		Search:  handlers.NewSearchHandler(embedder, vectorRepo, chunkRepo, log.Named("search")),
		Health:  healthHandler,
		Ops:     handlers.NewOpsHandler(pool, cleanup, log.Named("ops")),
	}

	srv := server.New(cfg.Server, h, log.Named("server"))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown did not finish cleanly: %v", err)
	}
	if err := pool.StopAll(shutdownCtx); err != nil {
		log.Warn("worker shutdown did not finish cleanly: %v", err)
	}
	stream.CloseAll()
	return nil
}
