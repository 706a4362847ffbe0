package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every variable, e.g. DOCPIPE_DATABASE_URL.
const EnvPrefix = "DOCPIPE"

const (
	VectorBackendBolt     = "bolt"
	VectorBackendPgvector = "pgvector"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL    string   `envconfig:"DATABASE_URL" required:"true"`
	MaxBodyBytes   int64    `envconfig:"MAX_BODY_BYTES" default:"67108864"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	BlobDir     string `envconfig:"BLOB_DIR" default:"data/blobs"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"docpipe-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	VectorStoreBackend string `envconfig:"VECTOR_STORE_BACKEND" default:"bolt"`
	VectorStoreDir     string `envconfig:"VECTOR_STORE_DIR" default:"data/vectors"`

	LocalEmbeddingModel      string `envconfig:"LOCAL_EMBEDDING_MODEL" default:"hashing"`
	LocalEmbeddingDimensions int    `envconfig:"LOCAL_EMBEDDING_DIMENSIONS" default:"384"`
	LocalEmbeddingWorkers    int    `envconfig:"LOCAL_EMBEDDING_WORKERS" default:"0"`
	OllamaURL                string `envconfig:"OLLAMA_URL"`

	RemoteEmbeddingProvider string        `envconfig:"REMOTE_EMBEDDING_PROVIDER" default:"openai"`
	RemoteEmbeddingModel    string        `envconfig:"REMOTE_EMBEDDING_MODEL"`
	RemoteTimeout           time.Duration `envconfig:"REMOTE_TIMEOUT" default:"30s"`
	RemoteMaxRetries        int           `envconfig:"REMOTE_MAX_RETRIES" default:"3"`
	RemoteRetryBaseDelay    time.Duration `envconfig:"REMOTE_RETRY_BASE_DELAY" default:"500ms"`
	RemoteRequestsPerSecond float64       `envconfig:"REMOTE_REQUESTS_PER_SECOND" default:"0"`

	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	DeepSeekAPIKey string `envconfig:"DEEPSEEK_API_KEY"`
	QwenAPIKey     string `envconfig:"QWEN_API_KEY"`
	MoonshotAPIKey string `envconfig:"MOONSHOT_API_KEY"`
	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`

	EmbeddingCacheDir string `envconfig:"EMBEDDING_CACHE_DIR"`

	WorkerPollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"2s"`
	WorkerConcurrency  int           `envconfig:"WORKER_CONCURRENCY" default:"4"`

	// Bootstrap: create an initial API key for INIT_IDENTITY on startup
	InitIdentity string `envconfig:"INIT_IDENTITY"`
	InitAPIKey   string `envconfig:"INIT_API_KEY"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate checks the settings envconfig cannot express.
func (c *Config) Validate() error {
	c.VectorStoreBackend = strings.ToLower(c.VectorStoreBackend)
	switch c.VectorStoreBackend {
	case VectorBackendBolt, VectorBackendPgvector:
	default:
		return fmt.Errorf("invalid %s_VECTOR_STORE_BACKEND %q: want %s or %s",
			EnvPrefix, c.VectorStoreBackend, VectorBackendBolt, VectorBackendPgvector)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("%s_WORKER_CONCURRENCY must be positive", EnvPrefix)
	}
	if c.RemoteMaxRetries < 0 {
		return fmt.Errorf("%s_REMOTE_MAX_RETRIES must not be negative", EnvPrefix)
	}
	if (c.InitIdentity == "") != (c.InitAPIKey == "") {
		return fmt.Errorf("%s_INIT_IDENTITY and %s_INIT_API_KEY must be set together", EnvPrefix, EnvPrefix)
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasEmbeddingCache() bool {
	return c.EmbeddingCacheDir != ""
}

func (c *Config) HasBootstrapKey() bool {
	return c.InitIdentity != "" && c.InitAPIKey != ""
}

// ProviderKeys returns the process-wide fallback credentials by provider name.
func (c *Config) ProviderKeys() map[string]string {
	keys := map[string]string{}
	for provider, key := range map[string]string{
		"openai":   c.OpenAIAPIKey,
		"deepseek": c.DeepSeekAPIKey,
		"qwen":     c.QwenAPIKey,
		"moonshot": c.MoonshotAPIKey,
		"gemini":   c.GeminiAPIKey,
	} {
		if key != "" {
			keys[provider] = key
		}
	}
	return keys
}
