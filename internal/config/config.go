package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

type Config struct {
	DBHost    string `envconfig:"DB_HOST" default:"postgres"`
	DBPort    int    `envconfig:"DB_PORT" default:"5432"`
	DBUser    string `envconfig:"DB_USER" default:"articles"`
	DBPass    string `envconfig:"DB_PASS" default:"password"`
	DBName    string `envconfig:"DB_NAME" default:"articles"`
	DBSSLMode string `envconfig:"DB_SSLMODE" default:"disable"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Embedding provider
	EmbeddingProvider       string  `envconfig:"EMBEDDING_PROVIDER" default:"ollama"`
	EmbeddingModel          string  `envconfig:"EMBEDDING_MODEL"`
	EmbeddingDimension      int     `envconfig:"EMBEDDING_DIMENSION" default:"768"`
	EmbeddingTimeoutSeconds int     `envconfig:"EMBEDDING_TIMEOUT_SECONDS" default:"60"`
	EmbeddingRatePerSecond  float64 `envconfig:"EMBEDDING_RATE_PER_SECOND" default:"10"`
	EmbeddingCacheSize      int     `envconfig:"EMBEDDING_CACHE_SIZE" default:"2048"`
	GeminiAPIKey            string  `envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey            string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL           string  `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OllamaURL               string  `envconfig:"OLLAMA_URL" default:"http://ollama:11434"`

	// Chunking
	ChunkWords        int `envconfig:"CHUNK_WORDS" default:"500"`
	ChunkOverlapWords int `envconfig:"CHUNK_OVERLAP_WORDS" default:"50"`

	// Worker
	WorkerEnabled            bool          `envconfig:"WORKER_ENABLED" default:"true"`
	WorkerPollInterval       time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"5s"`
	WorkerHeartbeatInterval  time.Duration `envconfig:"WORKER_HEARTBEAT_INTERVAL" default:"30s"`
	WorkerMetricsInterval    time.Duration `envconfig:"WORKER_METRICS_INTERVAL" default:"60s"`
	WorkerStuckTimeout       time.Duration `envconfig:"WORKER_STUCK_TIMEOUT" default:"30m"`
	WorkerStuckSweepInterval time.Duration `envconfig:"WORKER_STUCK_SWEEP_INTERVAL" default:"10m"`
	WorkerRetryBaseDelay     time.Duration `envconfig:"WORKER_RETRY_BASE_DELAY" default:"1s"`
	WorkerMaxRetryDelay      time.Duration `envconfig:"WORKER_MAX_RETRY_DELAY" default:"1h"`
	WorkerDrainTimeout       time.Duration `envconfig:"WORKER_DRAIN_TIMEOUT" default:"30s"`

	// Queue & retention
	QueueMaxAttempts        int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3"`
	QueueCompletedRetention time.Duration `envconfig:"QUEUE_COMPLETED_RETENTION" default:"168h"`
	MetricsRetention        time.Duration `envconfig:"METRICS_RETENTION" default:"720h"`

	// Audit events
	AuditEnabled bool   `envconfig:"AUDIT_ENABLED" default:"false"`
	NSQDHost     string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	AuditTopic   string `envconfig:"AUDIT_TOPIC" default:"embedding.audit"`

	// Article change intake
	IntakeEnabled      bool   `envconfig:"INTAKE_ENABLED" default:"false"`
	NSQLookupd         string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	ArticleEventsTopic string `envconfig:"ARTICLE_EVENTS_TOPIC" default:"article.changed"`
	IntakeChannel      string `envconfig:"INTAKE_CHANNEL" default:"embedding"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.EmbeddingProvider {
	case ProviderGemini, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER=%q", ErrInvalidValue, c.EmbeddingProvider)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSION must be positive", ErrInvalidValue)
	}
	if c.ChunkWords <= 0 || c.ChunkOverlapWords < 0 || c.ChunkOverlapWords >= c.ChunkWords {
		return fmt.Errorf("%w: CHUNK_OVERLAP_WORDS must be in [0, CHUNK_WORDS)", ErrInvalidValue)
	}
	if c.QueueMaxAttempts <= 0 {
		return fmt.Errorf("%w: QUEUE_MAX_ATTEMPTS must be positive", ErrInvalidValue)
	}
	if c.AuditEnabled && c.NSQDHost == "" {
		return fmt.Errorf("%w: NSQD_HOST", ErrMissingRequired)
	}
	if c.IntakeEnabled && c.NSQLookupd == "" {
		return fmt.Errorf("%w: NSQ_LOOKUPD", ErrMissingRequired)
	}
	return nil
}

// DSN builds the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName, c.DBSSLMode)
}

// DefaultModel returns the configured model or the provider's default one.
func (c *Config) DefaultModel() string {
	if c.EmbeddingModel != "" {
		return c.EmbeddingModel
	}
	switch c.EmbeddingProvider {
	case ProviderGemini:
		return "text-embedding-004"
	case ProviderOpenAI:
		return "text-embedding-3-small"
	default:
		return "nomic-embed-text"
	}
}
