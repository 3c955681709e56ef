package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application. The struct is
// threaded through constructors; nothing reads the environment after
// Load returns.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Qdrant   QdrantConfig
	Provider ProviderConfig
	Pipeline PipelineConfig
	Cleanup  CleanupConfig
	Stream   StreamConfig
	Logger   LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds the relational store configuration
type DatabaseConfig struct {
	URL      string
	MaxConns int
}

// RedisConfig holds the upload blob store configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// UploadTTL bounds how long uploaded bytes wait for their job.
	UploadTTL time.Duration
}

// QdrantConfig holds the vector store configuration
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// ProviderConfig holds LLM provider credentials and models
type ProviderConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
}

// PipelineConfig holds processing defaults and limits
type PipelineConfig struct {
	EmbeddingDimensions        int
	BatchSize                  int
	MaxConcurrentOperations    int
	WorkerPoolSize             int
	PollInterval               time.Duration
	EnableContextualEmbeddings bool
	ProgressUpdateInterval     time.Duration
}

// CleanupConfig holds cleanup service timings
type CleanupConfig struct {
	CleanupInterval   time.Duration
	EmergencyInterval time.Duration
	SessionTimeout    time.Duration
	HeartbeatTimeout  time.Duration
}

// StreamConfig holds event stream settings
type StreamConfig struct {
	KeepAliveInterval time.Duration
}

// LoggerConfig holds logging settings
type LoggerConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment, applying the documented
// defaults. A .env file is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	workerPool := runtime.NumCPU()
	if workerPool > 10 {
		workerPool = 10
	}

	return &Config{
		Server: ServerConfig{
			Host:         envString("SERVER_HOST", ""),
			Port:         envString("SERVER_PORT", "8080"),
			ReadTimeout:  envDurationSeconds("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: envDurationSeconds("SERVER_WRITE_TIMEOUT", 0),
		},
		Database: DatabaseConfig{
			URL:      envString("DATABASE_URL", "postgres://localhost:5432/knowledge?sslmode=disable"),
			MaxConns: envInt("DATABASE_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:      envString("REDIS_ADDR", "localhost:6379"),
			Password:  envString("REDIS_PASSWORD", ""),
			DB:        envInt("REDIS_DB", 0),
			PoolSize:  envInt("REDIS_POOL_SIZE", 10),
			UploadTTL: envDurationMillis("UPLOAD_TTL", 24*time.Hour),
		},
		Qdrant: QdrantConfig{
			Host:       envString("QDRANT_HOST", qdrantHostFromURL(os.Getenv("QDRANT_URL"))),
			Port:       envInt("QDRANT_PORT", 6334),
			APIKey:     envString("QDRANT_API_KEY", ""),
			UseTLS:     envBool("QDRANT_USE_TLS", false),
			Collection: envString("QDRANT_COLLECTION", "knowledge_chunks"),
		},
		Provider: ProviderConfig{
			APIKey:         envString("OPENAI_API_KEY", ""),
			BaseURL:        envString("OPENAI_BASE_URL", ""),
			ChatModel:      envString("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			EmbeddingModel: envString("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Pipeline: PipelineConfig{
			EmbeddingDimensions:        envInt("EMBEDDING_DIMENSIONS", 1536),
			BatchSize:                  envInt("BATCH_SIZE", 100),
			MaxConcurrentOperations:    envInt("MAX_CONCURRENT_OPERATIONS", 5),
			WorkerPoolSize:             envInt("WORKER_POOL_SIZE", workerPool),
			PollInterval:               envDurationMillis("JOB_POLL_INTERVAL", 2*time.Second),
			EnableContextualEmbeddings: envBool("ENABLE_CONTEXTUAL_EMBEDDINGS", false),
			ProgressUpdateInterval:     envDurationMillis("PROGRESS_UPDATE_INTERVAL", 5*time.Second),
		},
		Cleanup: CleanupConfig{
			CleanupInterval:   envDurationMillis("SESSION_CLEANUP_INTERVAL", 2*time.Minute),
			EmergencyInterval: envDurationMillis("EMERGENCY_CLEANUP_INTERVAL", 30*time.Second),
			SessionTimeout:    envDurationMillis("SESSION_TIMEOUT", 8*time.Minute),
			HeartbeatTimeout:  envDurationMillis("HEARTBEAT_TIMEOUT", 90*time.Second),
		},
		Stream: StreamConfig{
			KeepAliveInterval: envDurationMillis("STREAM_KEEPALIVE_INTERVAL", 30*time.Second),
		},
		Logger: LoggerConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDurationMillis reads a duration expressed in milliseconds, the unit
// the deployment environment uses for all pipeline timings.
func envDurationMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}

func envDurationSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

// qdrantHostFromURL keeps compatibility with deployments that set
// QDRANT_URL instead of host and port.
func qdrantHostFromURL(raw string) string {
	if raw == "" {
		return "localhost"
	}
	host := raw
	for _, prefix := range []string{"http://", "https://"} {
		if len(host) > len(prefix) && host[:len(prefix)] == prefix {
			host = host[len(prefix):]
		}
	}
	for i := 0; i < len(host); i++ {
		if host[i] == ':' || host[i] == '/' {
			return host[:i]
		}
	}
	return host
}
