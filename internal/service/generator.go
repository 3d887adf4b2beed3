package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloo-solutions/taxbot/internal/metrics"
	"github.com/cloo-solutions/taxbot/internal/telemetry"
)

// ApologyAnswer replaces any generation failure.
const ApologyAnswer = "I'm having trouble connecting to my knowledge base right now. Please try again later."

// TextGenerator calls the generative provider.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
}

// GeneratorConfig bounds each generation call.
type GeneratorConfig struct {
	MaxOutputTokens int
	Temperature     float32
	Timeout         time.Duration
}

// DefaultGeneratorConfig favours short grounded answers.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxOutputTokens: 300,
		Temperature:     0.2,
		Timeout:         30 * time.Second,
	}
}

// AnswerGenerator turns a prompt into answer text. It never fails.
type AnswerGenerator struct {
	client  TextGenerator
	cfg     GeneratorConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewAnswerGenerator(client TextGenerator, cfg GeneratorConfig, logger *slog.Logger) *AnswerGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerGenerator{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "generator"),
	}
}

// WithMetrics attaches collectors.
func (g *AnswerGenerator) WithMetrics(m *metrics.Metrics) *AnswerGenerator {
	g.metrics = m
	return g
}

// Generate returns the model answer, or ApologyAnswer on any failure.
func (g *AnswerGenerator) Generate(ctx context.Context, prompt string) string {
	if g.client == nil {
		g.logger.Error("no generative provider configured")
		g.metrics.AnswerServed(metrics.AnswerApology)
		return ApologyAnswer
	}

	ctx, span := telemetry.StartSpan(ctx, "answer.generate", telemetry.SpanAttributes{Operation: "generate"})
	defer span.End()

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	answer, err := g.client.GenerateText(ctx, prompt, g.cfg.MaxOutputTokens, g.cfg.Temperature)
	if err != nil {
		g.logger.Error("error generating answer", "error", err)
		span.SetError(err)
		g.metrics.AnswerServed(metrics.AnswerApology)
		return ApologyAnswer
	}

	g.metrics.AnswerServed(metrics.AnswerGenerated)
	return answer
}
