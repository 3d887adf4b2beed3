package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloo-solutions/taxbot/internal/domain"
	"github.com/cloo-solutions/taxbot/internal/metrics"
	"github.com/cloo-solutions/taxbot/internal/telemetry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DocumentSource supplies the raw knowledge document.
type DocumentSource interface {
	Load(ctx context.Context) (*domain.KnowledgeDocument, error)
}

// ChunkCache persists embedded chunks keyed by corpus fingerprint.
type ChunkCache interface {
	LoadChunks(ctx context.Context, fingerprint string) ([]domain.Chunk, error)
	SaveChunks(ctx context.Context, fingerprint string, chunks []domain.Chunk) error
}

// CorpusConfig controls corpus builds.
type CorpusConfig struct {
	Chunk          ChunkConfig
	Concurrency    int
	EmbedTimeout   time.Duration
	BuildTimeout   time.Duration
	EmbeddingModel string
}

// DefaultCorpusConfig mirrors the service defaults.
func DefaultCorpusConfig() CorpusConfig {
	return CorpusConfig{
		Chunk:        DefaultChunkConfig(),
		Concurrency:  4,
		EmbedTimeout: 15 * time.Second,
		BuildTimeout: 5 * time.Minute,
	}
}

// BuildResult summarises one corpus build.
type BuildResult struct {
	ChunkCount  int
	TotalChunks int
	Skipped     int
	Source      domain.CorpusSource
	Fingerprint string
	Duration    time.Duration
}

// CorpusIndex owns the process-wide corpus. Readers get an immutable snapshot;
// builds assemble a new snapshot locally and publish it with one atomic swap.
// Build, Rebuild and Refresh hold buildMu for their whole run, so a slower
// build can never publish over a newer one.
type CorpusIndex struct {
	source  DocumentSource
	client  EmbeddingClient
	cache   ChunkCache
	cfg     CorpusConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	current atomic.Pointer[domain.Corpus]
	flight  singleflight.Group
	buildMu sync.Mutex
}

// NewCorpusIndex creates an EMPTY index. client may be nil when no embedding
// provider is configured; builds then fail and retrieval degrades.
func NewCorpusIndex(source DocumentSource, client EmbeddingClient, cfg CorpusConfig, logger *slog.Logger) *CorpusIndex {
	return NewCorpusIndexWithCache(source, client, nil, cfg, logger)
}

func NewCorpusIndexWithCache(
	source DocumentSource,
	client EmbeddingClient,
	cache ChunkCache,
	cfg CorpusConfig,
	logger *slog.Logger,
) *CorpusIndex {
	if cfg.Chunk.Size <= 0 {
		cfg.Chunk = DefaultChunkConfig()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	idx := &CorpusIndex{
		source: source,
		client: client,
		cache:  cache,
		cfg:    cfg,
		logger: logger.With("component", "corpus"),
	}
	idx.current.Store(&domain.Corpus{})
	return idx
}

// WithMetrics attaches collectors. Call before the index is shared.
func (c *CorpusIndex) WithMetrics(m *metrics.Metrics) *CorpusIndex {
	c.metrics = m
	return c
}

// Snapshot returns the published corpus. It is never nil and must not be mutated.
func (c *CorpusIndex) Snapshot() *domain.Corpus {
	return c.current.Load()
}

// IsEmpty reports whether the published corpus has zero chunks.
func (c *CorpusIndex) IsEmpty() bool {
	return c.Snapshot().IsEmpty()
}

// Load reads the knowledge document and, while the index is EMPTY, publishes
// it so degraded retrieval can serve a preview before any build succeeds.
func (c *CorpusIndex) Load(ctx context.Context) (*domain.KnowledgeDocument, error) {
	doc, err := c.loadDocument(ctx)
	if err != nil {
		return nil, err
	}
	c.publishDocument(doc)
	return doc, nil
}

// Build embeds the current document (loading it first if needed) and publishes
// the result. Concurrent callers share one build. When another build published
// a READY corpus while this one waited its turn, that corpus is reported
// instead of embedding again.
func (c *CorpusIndex) Build(ctx context.Context) (*BuildResult, error) {
	return c.do(ctx, "build", func(ctx context.Context) (*BuildResult, error) {
		before := c.Snapshot()

		c.buildMu.Lock()
		defer c.buildMu.Unlock()

		if current := c.Snapshot(); current != before && !current.IsEmpty() {
			return publishedResult(current), nil
		}

		doc, err := c.ensureDocument(ctx)
		if err != nil {
			return nil, err
		}
		return c.buildFrom(ctx, doc, true)
	})
}

// Rebuild reloads the document and re-embeds it without consulting the cache.
// A loader failure falls back to the document already held.
func (c *CorpusIndex) Rebuild(ctx context.Context) (*BuildResult, error) {
	return c.do(ctx, "rebuild", func(ctx context.Context) (*BuildResult, error) {
		c.buildMu.Lock()
		defer c.buildMu.Unlock()

		doc, err := c.loadDocument(ctx)
		if err != nil {
			current := c.Snapshot()
			if !current.HasDocument() {
				return nil, err
			}
			c.logger.Warn("reload failed, rebuilding current document", "error", err)
			doc = current.Document
		}
		return c.buildFrom(ctx, doc, false)
	})
}

// Refresh reloads the document and rebuilds only when its version changed or
// the index is still EMPTY. It reports whether a new corpus was published.
func (c *CorpusIndex) Refresh(ctx context.Context) (bool, error) {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	doc, err := c.loadDocument(ctx)
	if err != nil {
		return false, err
	}

	current := c.Snapshot()
	if !current.IsEmpty() && current.HasDocument() &&
		doc.Version != "" && doc.Version == current.Document.Version {
		return false, nil
	}

	c.logger.Info("knowledge document changed, rebuilding",
		"origin", doc.Origin, "version", doc.Version)
	if _, err := c.buildFrom(ctx, doc, true); err != nil {
		return false, err
	}
	return true, nil
}

// do runs fn once for every concurrent caller of key. The shared run is
// detached from the first caller's cancellation and bounded by BuildTimeout
// instead, so one disconnecting client cannot fail the others.
func (c *CorpusIndex) do(ctx context.Context, key string, fn func(context.Context) (*BuildResult, error)) (*BuildResult, error) {
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		buildCtx := context.WithoutCancel(ctx)
		if c.cfg.BuildTimeout > 0 {
			var cancel context.CancelFunc
			buildCtx, cancel = context.WithTimeout(buildCtx, c.cfg.BuildTimeout)
			defer cancel()
		}
		return fn(buildCtx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*BuildResult), nil
}

func publishedResult(corpus *domain.Corpus) *BuildResult {
	return &BuildResult{
		ChunkCount:  len(corpus.Chunks),
		TotalChunks: len(corpus.Chunks),
		Source:      corpus.Source,
		Fingerprint: corpus.Fingerprint,
	}
}

func (c *CorpusIndex) loadDocument(ctx context.Context) (*domain.KnowledgeDocument, error) {
	if c.source == nil {
		return nil, domain.ErrNoDocument
	}
	doc, err := c.source.Load(ctx)
	if err != nil {
		return nil, domain.ErrNoDocument.WithCause(err)
	}
	if doc == nil {
		return nil, domain.ErrNoDocument
	}
	c.logger.Info("knowledge document loaded",
		"origin", doc.Origin, "version", doc.Version, "length", len(doc.Text))
	return doc, nil
}

func (c *CorpusIndex) ensureDocument(ctx context.Context) (*domain.KnowledgeDocument, error) {
	if current := c.Snapshot(); current.HasDocument() {
		return current.Document, nil
	}
	return c.Load(ctx)
}

// publishDocument installs doc without chunks, only while the index is EMPTY.
func (c *CorpusIndex) publishDocument(doc *domain.KnowledgeDocument) {
	for {
		current := c.Snapshot()
		if !current.IsEmpty() || current.Document == doc {
			return
		}
		if c.current.CompareAndSwap(current, &domain.Corpus{Document: doc}) {
			return
		}
	}
}

func (c *CorpusIndex) buildFrom(ctx context.Context, doc *domain.KnowledgeDocument, useCache bool) (*BuildResult, error) {
	start := time.Now()
	fingerprint := CorpusFingerprint(doc.Text, c.cfg.Chunk, c.cfg.EmbeddingModel)

	ctx, span := telemetry.StartSpan(ctx, "corpus.build", telemetry.SpanAttributes{
		DocumentOrigin: doc.Origin,
		Fingerprint:    fingerprint,
		Operation:      "build",
	})
	defer span.End()

	texts, err := ChunkText(doc.Text, c.cfg.Chunk)
	if err != nil {
		return nil, c.buildFailed(span, doc, err)
	}
	c.logger.Info("split document into chunks", "chunks", len(texts))
	if len(texts) == 0 {
		return nil, c.buildFailed(span, doc, domain.ErrBuildFailed.WithCause(errors.New("document is empty")))
	}

	if useCache && c.cache != nil {
		if chunks := c.loadCached(ctx, fingerprint, len(texts)); len(chunks) > 0 {
			result := &BuildResult{
				ChunkCount:  len(chunks),
				TotalChunks: len(texts),
				Skipped:     len(texts) - len(chunks),
				Source:      domain.CorpusSourceCache,
				Fingerprint: fingerprint,
			}
			c.publish(doc, chunks, fingerprint, domain.CorpusSourceCache)
			result.Duration = time.Since(start)
			c.metrics.BuildFinished(metrics.BuildFromCache)
			c.logger.Info("corpus restored from cache", "chunks", len(chunks), "fingerprint", fingerprint)
			span.SetData("chunk_count", len(chunks))
			return result, nil
		}
	}

	if c.client == nil {
		return nil, c.buildFailed(span, doc, domain.ErrBuildFailed.WithCause(domain.ErrProviderMissing))
	}

	chunks := c.embedChunks(ctx, texts)
	if len(chunks) == 0 {
		return nil, c.buildFailed(span, doc, domain.ErrBuildFailed)
	}

	c.publish(doc, chunks, fingerprint, domain.CorpusSourceProvider)
	result := &BuildResult{
		ChunkCount:  len(chunks),
		TotalChunks: len(texts),
		Skipped:     len(texts) - len(chunks),
		Source:      domain.CorpusSourceProvider,
		Fingerprint: fingerprint,
		Duration:    time.Since(start),
	}
	c.metrics.BuildFinished(metrics.BuildSucceeded)
	c.logger.Info("document processing complete",
		"embedded", result.ChunkCount, "total", result.TotalChunks, "duration", result.Duration)
	span.SetData("chunk_count", len(chunks))

	if c.cache != nil {
		if err := c.cache.SaveChunks(ctx, fingerprint, chunks); err != nil {
			c.logger.Warn("failed to cache corpus", "error", err)
		}
	}

	return result, nil
}

// embedChunks embeds every chunk with bounded fan-out. Failed chunks are
// skipped; the rest keep their original order and index.
func (c *CorpusIndex) embedChunks(ctx context.Context, texts []string) []domain.Chunk {
	results := make([]*domain.Chunk, len(texts))

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			c.logger.Debug("skipping blank chunk", "index", i)
			continue
		}
		g.Go(func() error {
			embedding, err := embedWithTimeout(ctx, c.client, text, c.cfg.EmbedTimeout)
			if err != nil {
				c.metrics.ChunkEmbedFailed()
				c.logger.Warn("error embedding chunk", "index", i, "chars", len(text), "error", err)
				return nil
			}
			results[i] = &domain.Chunk{Index: i, Text: text, Embedding: embedding}
			return nil
		})
	}
	_ = g.Wait()

	chunks := make([]domain.Chunk, 0, len(texts))
	dims := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		if dims == 0 {
			dims = len(r.Embedding)
		}
		if len(r.Embedding) != dims {
			c.metrics.ChunkEmbedFailed()
			c.logger.Warn("dropping chunk with mismatched embedding dimensions",
				"index", r.Index, "dims", len(r.Embedding), "expected", dims)
			continue
		}
		chunks = append(chunks, *r)
	}
	return chunks
}

func (c *CorpusIndex) loadCached(ctx context.Context, fingerprint string, total int) []domain.Chunk {
	chunks, err := c.cache.LoadChunks(ctx, fingerprint)
	switch {
	case errors.Is(err, domain.ErrCorpusSnapshotNotFound):
		c.logger.Debug("no cached corpus", "fingerprint", fingerprint)
		return nil
	case err != nil:
		c.logger.Warn("failed to read cached corpus", "error", err)
		return nil
	}

	dims := 0
	valid := make([]domain.Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if ch.Index < 0 || ch.Index >= total || len(ch.Embedding) == 0 {
			continue
		}
		if dims == 0 {
			dims = len(ch.Embedding)
		}
		if len(ch.Embedding) == dims {
			valid = append(valid, ch)
		}
	}
	return valid
}

func (c *CorpusIndex) publish(doc *domain.KnowledgeDocument, chunks []domain.Chunk, fingerprint string, source domain.CorpusSource) {
	c.current.Store(&domain.Corpus{
		Document:    doc,
		Chunks:      chunks,
		Fingerprint: fingerprint,
		Source:      source,
		BuiltAt:     time.Now().UTC(),
	})
	c.metrics.SetCorpusChunks(len(chunks))
}

// buildFailed keeps a READY corpus untouched. While EMPTY it still publishes
// doc so degraded retrieval previews the newest document.
func (c *CorpusIndex) buildFailed(span *telemetry.Span, doc *domain.KnowledgeDocument, err error) error {
	c.publishDocument(doc)
	c.metrics.BuildFinished(metrics.BuildFailed)
	c.logger.Error("failed to process document chunks", "error", err)
	span.SetError(err)
	return err
}
