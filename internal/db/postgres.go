package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresClient wraps a pgx connection pool
type PostgresClient struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds configuration for the relational store
type PostgresConfig struct {
	URL            string
	MaxConns       int
	ConnectTimeout time.Duration
}

// NewPostgresClient creates a connection pool against the relational store
func NewPostgresClient(ctx context.Context, config PostgresConfig) (*PostgresClient, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 5 * time.Second
	}

	poolConfig, err := pgxpool.ParseConfig(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = int32(config.MaxConns)
	}

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

// Ping checks if the relational store is reachable
func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Pool returns the underlying connection pool
func (c *PostgresClient) Pool() *pgxpool.Pool {
	return c.pool
}

// Close releases all pooled connections
func (c *PostgresClient) Close() {
	c.pool.Close()
}

// Migrate applies the schema. Statements are idempotent so startup can
// run them unconditionally.
func (c *PostgresClient) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id       UUID PRIMARY KEY,
			url              TEXT NOT NULL,
			filename         TEXT,
			status           TEXT NOT NULL DEFAULT 'processing',
			total_chunks     INT,
			completed_chunks INT NOT NULL DEFAULT 0,
			failed_chunks    INT NOT NULL DEFAULT 0,
			last_heartbeat   TIMESTAMPTZ NOT NULL DEFAULT now(),
			error_message    TEXT,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status_heartbeat
			ON sessions (status, last_heartbeat)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			chunk_id                  UUID PRIMARY KEY,
			session_id                UUID NOT NULL REFERENCES sessions (session_id),
			url                       TEXT NOT NULL,
			title                     TEXT,
			chunk_index               INT NOT NULL,
			chunk_text                TEXT NOT NULL,
			contextual_summary        TEXT,
			embedding_status          TEXT NOT NULL DEFAULT 'pending',
			processing_status         TEXT NOT NULL DEFAULT 'processing',
			sentiment                 TEXT,
			category                  TEXT,
			content_type              TEXT,
			technical_level           TEXT,
			main_topics               JSONB NOT NULL DEFAULT '[]',
			key_concepts              TEXT,
			emotions                  JSONB NOT NULL DEFAULT '[]',
			tags                      TEXT,
			key_entities              JSONB NOT NULL DEFAULT '{}',
			uses_contextual_embedding BOOLEAN NOT NULL DEFAULT false,
			created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (session_id, chunk_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_url ON chunks (url)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_embedding_status ON chunks (embedding_status)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id        UUID PRIMARY KEY,
			job_type      TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'queued',
			priority      INT NOT NULL DEFAULT 0,
			payload       JSONB NOT NULL DEFAULT '{}',
			result        JSONB,
			error_message TEXT,
			attempts      INT NOT NULL DEFAULT 0,
			max_attempts  INT NOT NULL DEFAULT 3,
			retry_after   TIMESTAMPTZ,
			worker_id     TEXT,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			started_at    TIMESTAMPTZ,
			completed_at  TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_claim
			ON jobs (status, priority DESC, created_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_retry_after ON jobs (retry_after)`,
	}

	for _, stmt := range statements {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
