package admin

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloo-solutions/taxbot/internal/config"
	"github.com/cloo-solutions/taxbot/internal/database"
	"github.com/cloo-solutions/taxbot/internal/knowledge"
	"github.com/cloo-solutions/taxbot/internal/metrics"
	"github.com/cloo-solutions/taxbot/internal/openai"
	"github.com/cloo-solutions/taxbot/internal/repository"
	"github.com/cloo-solutions/taxbot/internal/service"
	"github.com/cloo-solutions/taxbot/internal/storage"
	goopenai "github.com/sashabaranov/go-openai"
)

// newLogger builds the process logger from LOG_FORMAT and DEBUG.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("service", "taxbot")
}

// app holds the wired chatbot pipeline shared by serve and index.
type app struct {
	index   *service.CorpusIndex
	chatbot *service.ChatbotService
	metrics *metrics.Metrics
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type setupOptions struct {
	migrate bool
}

func setupApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts setupOptions) (*app, error) {
	a := &app{metrics: metrics.New()}

	var cache service.ChunkCache
	if cfg.HasDatabase() {
		if opts.migrate {
			if err := database.RunMigrations(cfg.DatabaseURL, logger); err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		cache = repository.NewCorpusChunkRepository(pool)
		logger.Info("chunk cache enabled")
	}

	source, err := knowledgeSource(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	// Interfaces stay nil without a provider so the pipeline degrades.
	var (
		embedder  service.EmbeddingClient
		generator service.TextGenerator
	)
	if cfg.HasOpenAI() {
		client := openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			BaseURL:             cfg.OpenAIBaseURL,
			EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
			EmbeddingDimensions: cfg.EmbeddingDimensions,
			ChatModel:           cfg.ChatModel,
		})
		embedder = client
		generator = client
	} else {
		logger.Warn("no provider API key configured; answers will degrade")
	}

	a.index = service.NewCorpusIndexWithCache(source, embedder, cache, service.CorpusConfig{
		Chunk:          service.ChunkConfig{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		Concurrency:    cfg.BuildConcurrency,
		EmbedTimeout:   cfg.EmbedTimeout,
		BuildTimeout:   cfg.BuildTimeout,
		EmbeddingModel: cfg.EmbeddingModel,
	}, logger).WithMetrics(a.metrics)

	retriever := service.NewRetriever(a.index, embedder, service.RetrieverConfig{
		TopK:         cfg.TopK,
		PreviewChars: cfg.PreviewChars,
		EmbedTimeout: cfg.EmbedTimeout,
	}, logger).WithMetrics(a.metrics)

	answers := service.NewAnswerGenerator(generator, service.GeneratorConfig{
		MaxOutputTokens: cfg.MaxOutputTokens,
		Temperature:     cfg.Temperature,
		Timeout:         cfg.GenerateTimeout,
	}, logger).WithMetrics(a.metrics)

	a.chatbot = service.NewChatbotService(a.index, retriever, answers, service.ChatbotConfig{
		TopK:            cfg.TopK,
		ContextMaxChars: cfg.ContextMaxChars,
	}, logger).WithMetrics(a.metrics)

	return a, nil
}

// knowledgeSource orders the document sources: S3, then files, then the built-in FAQ.
func knowledgeSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (knowledge.Source, error) {
	var sources []knowledge.Source

	if cfg.HasS3Knowledge() {
		s3Client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		sources = append(sources, knowledge.NewS3Source(s3Client, cfg.KnowledgeS3Key))
	}
	if len(cfg.KnowledgePaths) > 0 {
		sources = append(sources, knowledge.NewFileSource(cfg.KnowledgePaths...))
	}
	sources = append(sources, knowledge.NewEmbeddedSource())

	return knowledge.NewChainSource(logger, sources...), nil
}

func newS3Client(ctx context.Context, cfg *config.Config) (*storage.S3Client, error) {
	client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return client, nil
}
