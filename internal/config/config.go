package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`

	OpenAIAPIKey        string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string  `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel      string  `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int     `envconfig:"EMBEDDING_DIMENSIONS" default:"0"`
	ChatModel           string  `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
	MaxOutputTokens     int     `envconfig:"MAX_OUTPUT_TOKENS" default:"300"`
	Temperature         float32 `envconfig:"TEMPERATURE" default:"0.2"`

	// Knowledge document sources, tried S3 first, then files in order, then the built-in FAQ.
	KnowledgePaths []string `envconfig:"KNOWLEDGE_PATHS" default:"documents/website_doc.txt"`
	KnowledgeS3Key string   `envconfig:"KNOWLEDGE_S3_KEY"`
	WatchKnowledge bool     `envconfig:"WATCH_KNOWLEDGE" default:"false"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"taxbot-knowledge"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	ChunkSize        int           `envconfig:"CHUNK_SIZE" default:"300"`
	ChunkOverlap     int           `envconfig:"CHUNK_OVERLAP" default:"100"`
	TopK             int           `envconfig:"TOP_K" default:"3"`
	PreviewChars     int           `envconfig:"PREVIEW_CHARS" default:"500"`
	ContextMaxChars  int           `envconfig:"CONTEXT_MAX_CHARS" default:"2000"`
	BuildConcurrency int           `envconfig:"BUILD_CONCURRENCY" default:"4"`
	EmbedTimeout     time.Duration `envconfig:"EMBED_TIMEOUT" default:"15s"`
	GenerateTimeout  time.Duration `envconfig:"GENERATE_TIMEOUT" default:"30s"`
	BuildTimeout     time.Duration `envconfig:"BUILD_TIMEOUT" default:"5m"`
	RefreshInterval  time.Duration `envconfig:"REFRESH_INTERVAL" default:"0s"`

	// Optional Postgres chunk cache; embeddings survive restarts when set.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	AdminToken string `envconfig:"ADMIN_TOKEN"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("TAXBOT", &cfg); err != nil {
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

// Validate rejects settings the retrieval pipeline cannot run with.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("TOP_K must be positive, got %d", c.TopK)
	}
	if c.BuildConcurrency <= 0 {
		return fmt.Errorf("BUILD_CONCURRENCY must be positive, got %d", c.BuildConcurrency)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasS3Knowledge() bool {
	return c.HasS3() && c.KnowledgeS3Key != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) HasAdminToken() bool {
	return c.AdminToken != ""
}
