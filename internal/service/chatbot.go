package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cloo-solutions/taxbot/internal/domain"
	"github.com/cloo-solutions/taxbot/internal/metrics"
	"github.com/cloo-solutions/taxbot/internal/telemetry"
)

// NoInformationAnswer is returned when retrieval finds nothing to ground on.
const NoInformationAnswer = "I don't have specific information about that in my documentation. " +
	"For more details, please refer to our FAQ section or contact support."

const (
	debugDocumentPreviewChars = 200
	debugChunkPreviewChars    = 100
	noChunksPreview           = "No chunks available"
)

// CorpusBuilder is the part of the corpus index the chatbot drives.
type CorpusBuilder interface {
	CorpusReader
	IsEmpty() bool
	Build(ctx context.Context) (*BuildResult, error)
	Rebuild(ctx context.Context) (*BuildResult, error)
}

// ChunkRetriever ranks chunks for a question.
type ChunkRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) *domain.RetrievalResult
}

// Generator produces answer text and never fails.
type Generator interface {
	Generate(ctx context.Context, prompt string) string
}

// ChatbotConfig holds per-request tuning.
type ChatbotConfig struct {
	TopK            int
	ContextMaxChars int
}

// AskInput is one user question.
type AskInput struct {
	Question string
	Context  string
}

// AskOutput is the answer plus how it was grounded.
type AskOutput struct {
	Answer  string
	Mode    domain.RetrievalMode
	Sources []int
}

// ChatbotStatus is the operational view served by the debug endpoint.
type ChatbotStatus struct {
	ChunksCount       int
	DocumentLoaded    bool
	DocumentLength    int
	DocumentPreview   string
	FirstChunkPreview string
	DocumentOrigin    string
	Source            domain.CorpusSource
	BuiltAt           time.Time
}

// ChatbotService coordinates lazy corpus builds, retrieval and generation.
type ChatbotService struct {
	corpus    CorpusBuilder
	retriever ChunkRetriever
	generator Generator
	cfg       ChatbotConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// failureSurfaced is set once a total build failure has been reported as a
	// server error; afterwards requests fall through to degraded retrieval.
	failureSurfaced atomic.Bool
}

func NewChatbotService(
	corpus CorpusBuilder,
	retriever ChunkRetriever,
	generator Generator,
	cfg ChatbotConfig,
	logger *slog.Logger,
) *ChatbotService {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.ContextMaxChars <= 0 {
		cfg.ContextMaxChars = DefaultContextMaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatbotService{
		corpus:    corpus,
		retriever: retriever,
		generator: generator,
		cfg:       cfg,
		logger:    logger.With("component", "chatbot"),
	}
}

// WithMetrics attaches collectors.
func (s *ChatbotService) WithMetrics(m *metrics.Metrics) *ChatbotService {
	s.metrics = m
	return s
}

// Ask answers one question.
func (s *ChatbotService) Ask(ctx context.Context, input AskInput) (*AskOutput, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, domain.ErrQuestionRequired
	}

	if s.corpus.IsEmpty() {
		if err := s.lazyBuild(ctx); err != nil {
			return nil, err
		}
	}

	result := s.retriever.Retrieve(ctx, question, s.cfg.TopK)
	if len(result.Chunks) == 0 {
		s.logger.Info("no chunks retrieved, returning no-information answer")
		s.metrics.AnswerServed(metrics.AnswerNoInformation)
		return &AskOutput{Answer: NoInformationAnswer, Mode: result.Mode}, nil
	}

	prompt := BuildPrompt(question, input.Context, result.Texts(), s.cfg.ContextMaxChars)
	answer := s.generator.Generate(ctx, prompt)

	sources := make([]int, 0, len(result.Chunks))
	for _, c := range result.Chunks {
		sources = append(sources, c.Index)
	}
	return &AskOutput{Answer: answer, Mode: result.Mode, Sources: sources}, nil
}

// lazyBuild runs the synchronous build backstop. Without a document every
// failure is a server error. With one, only the first failure is; later
// requests retry and then continue in degraded mode.
func (s *ChatbotService) lazyBuild(ctx context.Context) error {
	s.logger.Info("corpus is empty, building before answering")
	_, err := s.corpus.Build(ctx)
	if err == nil {
		return nil
	}

	if errors.Is(err, domain.ErrNoDocument) || !s.corpus.Snapshot().HasDocument() {
		s.logger.Error("no document content available", "error", err)
		telemetry.CaptureError(ctx, err)
		return domain.ErrCorpusUnavailable.WithCause(err)
	}
	if s.failureSurfaced.CompareAndSwap(false, true) {
		return domain.ErrCorpusUnavailable.WithCause(err)
	}
	s.logger.Warn("corpus build failed, answering from document preview", "error", err)
	return nil
}

// ProcessDocuments forces a rebuild from the knowledge source.
func (s *ChatbotService) ProcessDocuments(ctx context.Context) (*BuildResult, error) {
	result, err := s.corpus.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	s.failureSurfaced.Store(false)
	return result, nil
}

// Status summarises the published corpus.
func (s *ChatbotService) Status() *ChatbotStatus {
	corpus := s.corpus.Snapshot()

	status := &ChatbotStatus{
		ChunksCount:       len(corpus.Chunks),
		DocumentLoaded:    corpus.HasDocument(),
		DocumentPreview:   "...",
		FirstChunkPreview: noChunksPreview,
		Source:            corpus.Source,
		BuiltAt:           corpus.BuiltAt,
	}
	if corpus.HasDocument() {
		status.DocumentLength = len([]rune(corpus.Document.Text))
		status.DocumentPreview = truncateRunes(corpus.Document.Text, debugDocumentPreviewChars) + "..."
		status.DocumentOrigin = corpus.Document.Origin
	}
	if !corpus.IsEmpty() {
		status.FirstChunkPreview = truncateRunes(corpus.Chunks[0].Text, debugChunkPreviewChars) + "..."
	}
	return status
}
