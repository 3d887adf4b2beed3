package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/cloo-solutions/taxbot/internal/domain"
	"github.com/cloo-solutions/taxbot/internal/metrics"
	"github.com/cloo-solutions/taxbot/internal/telemetry"
)

const (
	// DefaultTopK is the number of chunks returned when no positive topK is configured
	DefaultTopK = 3
	// DefaultPreviewChars is the rune length of the degraded-mode document preview
	DefaultPreviewChars = 500
)

// CorpusReader exposes the published corpus snapshot.
type CorpusReader interface {
	Snapshot() *domain.Corpus
}

// RetrieverConfig controls ranking and fallbacks.
type RetrieverConfig struct {
	TopK         int
	PreviewChars int
	EmbedTimeout time.Duration
}

// Retriever ranks corpus chunks against a query by cosine similarity.
type Retriever struct {
	index   CorpusReader
	client  EmbeddingClient
	cfg     RetrieverConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRetriever creates a Retriever. client may be nil; queries then fall back
// to unranked chunks.
func NewRetriever(index CorpusReader, client EmbeddingClient, cfg RetrieverConfig, logger *slog.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = DefaultPreviewChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		index:  index,
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "retriever"),
	}
}

// WithMetrics attaches collectors.
func (r *Retriever) WithMetrics(m *metrics.Metrics) *Retriever {
	r.metrics = m
	return r
}

// Retrieve returns at most topK chunks for query. The corpus snapshot is read
// once, so a concurrent rebuild never produces a mixed result.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) *domain.RetrievalResult {
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	corpus := r.index.Snapshot()

	ctx, span := telemetry.StartSpan(ctx, "corpus.retrieve", telemetry.SpanAttributes{
		Fingerprint: corpus.Fingerprint,
		Operation:   "retrieve",
	})
	defer span.End()

	result := r.retrieve(ctx, corpus, query, topK)
	span.SetData("mode", string(result.Mode))
	span.SetData("results", len(result.Chunks))
	r.metrics.Retrieved(string(result.Mode))
	return result
}

func (r *Retriever) retrieve(ctx context.Context, corpus *domain.Corpus, query string, topK int) *domain.RetrievalResult {
	if corpus.IsEmpty() {
		return r.degraded(corpus)
	}

	if r.client == nil {
		r.logger.Warn("no embedding provider, returning unranked chunks")
		return unranked(corpus, topK)
	}

	queryEmbedding, err := embedWithTimeout(ctx, r.client, query, r.cfg.EmbedTimeout)
	if err == nil && len(queryEmbedding) != corpus.Dimensions() {
		err = domain.NewDomainError(domain.ErrCodeInternalError, "query embedding dimensions do not match corpus")
	}
	if err != nil {
		r.logger.Warn("error embedding query, returning unranked chunks", "error", err)
		telemetry.AddBreadcrumb(ctx, "retrieval", "query embedding failed, serving unranked chunks")
		return unranked(corpus, topK)
	}

	scored := make([]domain.ScoredChunk, len(corpus.Chunks))
	for i, chunk := range corpus.Chunks {
		scored[i] = domain.ScoredChunk{
			Index: chunk.Index,
			Text:  chunk.Text,
			Score: CosineSimilarity(queryEmbedding, chunk.Embedding),
		}
	}
	// Chunks are stored in index order, so a stable sort breaks ties by index.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	r.logger.Debug("retrieved chunks", "count", len(scored), "top_score", scored[0].Score)
	return &domain.RetrievalResult{Chunks: scored, Mode: domain.RetrievalModeRanked}
}

// degraded serves a bounded preview of the raw document while no chunk is embedded.
func (r *Retriever) degraded(corpus *domain.Corpus) *domain.RetrievalResult {
	result := &domain.RetrievalResult{Mode: domain.RetrievalModeDegraded}
	if !corpus.HasDocument() || corpus.Document.Text == "" {
		return result
	}
	r.logger.Warn("corpus is empty, using document preview")
	result.Chunks = []domain.ScoredChunk{{
		Index: 0,
		Text:  truncateRunes(corpus.Document.Text, r.cfg.PreviewChars),
	}}
	return result
}

func unranked(corpus *domain.Corpus, topK int) *domain.RetrievalResult {
	n := min(topK, len(corpus.Chunks))
	chunks := make([]domain.ScoredChunk, n)
	for i := range n {
		chunks[i] = domain.ScoredChunk{Index: corpus.Chunks[i].Index, Text: corpus.Chunks[i].Text}
	}
	return &domain.RetrievalResult{Chunks: chunks, Mode: domain.RetrievalModeUnranked}
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
