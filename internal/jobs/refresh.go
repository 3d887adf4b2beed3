package jobs

import (
	"context"
	"log/slog"

	"github.com/cloo-solutions/taxbot/internal/service"
	"github.com/cloo-solutions/taxbot/internal/telemetry"
	"github.com/getsentry/sentry-go"
)

// CorpusRefresher is the slice of the corpus index the refresh job drives.
type CorpusRefresher interface {
	IsEmpty() bool
	Build(ctx context.Context) (*service.BuildResult, error)
	Refresh(ctx context.Context) (bool, error)
}

// RefreshProcessor rebuilds the corpus when the knowledge document changes.
// An empty corpus gets a plain Build so the chunk cache is consulted.
type RefreshProcessor struct {
	index  CorpusRefresher
	logger *slog.Logger
}

func NewRefreshProcessor(index CorpusRefresher, logger *slog.Logger) *RefreshProcessor {
	return &RefreshProcessor{index: index, logger: logger}
}

func (p *RefreshProcessor) ProcessJobs(ctx context.Context) (err error) {
	ctx, span := telemetry.StartTransaction(ctx, "corpus.refresh", "job")
	defer func() {
		if err != nil {
			span.SetStatus(sentry.SpanStatusInternalError)
		}
		span.End()
	}()

	if p.index.IsEmpty() {
		result, err := p.index.Build(ctx)
		if err != nil {
			return err
		}
		p.logger.Info("corpus built by refresh job", "chunks", result.ChunkCount, "source", result.Source)
		return nil
	}

	rebuilt, err := p.index.Refresh(ctx)
	if err != nil {
		return err
	}
	if rebuilt {
		p.logger.Info("corpus refreshed after document change")
	}
	return nil
}
