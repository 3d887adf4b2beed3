package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/taxbot/internal/domain"
	"github.com/cloo-solutions/taxbot/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const refundDocument = "Refunds: contact support@x.com within 30 days."

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCorpusConfig(size, overlap int) CorpusConfig {
	cfg := DefaultCorpusConfig()
	cfg.Chunk = ChunkConfig{Size: size, Overlap: overlap}
	cfg.EmbeddingModel = "test-model"
	return cfg
}

func chunkIndices(c *domain.Corpus) []int {
	indices := make([]int, 0, len(c.Chunks))
	for _, ch := range c.Chunks {
		indices = append(indices, ch.Index)
	}
	return indices
}

func TestCorpusIndex_NewIsEmpty(t *testing.T) {
	idx := NewCorpusIndex(newSequenceSource(), nil, DefaultCorpusConfig(), testLogger())

	require.NotNil(t, idx.Snapshot())
	assert.True(t, idx.IsEmpty())
	assert.False(t, idx.Snapshot().HasDocument())
}

func TestCorpusIndex_Build_RefundDocument(t *testing.T) {
	doc := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	embedder := newKeywordEmbedder("refund", "contact", "support", "days")
	idx := NewCorpusIndex(newSequenceSource(doc), embedder, testCorpusConfig(20, 5), testLogger())

	result, err := idx.Build(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, result.ChunkCount)
	assert.Equal(t, 3, result.TotalChunks)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, domain.CorpusSourceProvider, result.Source)

	snap := idx.Snapshot()
	assert.False(t, idx.IsEmpty())
	assert.Same(t, doc, snap.Document)
	assert.Equal(t, []int{0, 1, 2}, chunkIndices(snap))
	assert.Equal(t, 5, snap.Dimensions())
	assert.Equal(t, result.Fingerprint, snap.Fingerprint)
	assert.False(t, snap.BuiltAt.IsZero())
}

func TestCorpusIndex_Build_SkipsFailedChunk(t *testing.T) {
	doc := domain.NewKnowledgeDocument("aaaaaaaaaabbbbbbbbbbccccccccccdddddddddd", "test", "v1")
	mockClient := new(MockEmbeddingClient)
	mockClient.On("GenerateEmbedding", mock.Anything, "cccccccccc").Return(nil, errors.New("provider timeout"))
	mockClient.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{0.1, 0.2, 0.3}, nil)

	m := metrics.New()
	idx := NewCorpusIndex(newSequenceSource(doc), mockClient, testCorpusConfig(10, 0), testLogger()).WithMetrics(m)

	result, err := idx.Build(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, result.ChunkCount)
	assert.Equal(t, 4, result.TotalChunks)
	assert.Equal(t, 1, result.Skipped)

	snap := idx.Snapshot()
	assert.Equal(t, []int{0, 1, 3}, chunkIndices(snap))
	assert.Equal(t, "aaaaaaaaaa", snap.Chunks[0].Text)
	assert.Equal(t, "bbbbbbbbbb", snap.Chunks[1].Text)
	assert.Equal(t, "dddddddddd", snap.Chunks[2].Text)
	mockClient.AssertNumberOfCalls(t, "GenerateEmbedding", 4)
}

func TestCorpusIndex_Build_AllChunksFail(t *testing.T) {
	doc := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	embedder := newKeywordEmbedder("refund")
	embedder.fail = func(string) bool { return true }
	idx := NewCorpusIndex(newSequenceSource(doc), embedder, testCorpusConfig(20, 5), testLogger())

	result, err := idx.Build(context.Background())

	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrBuildFailed)
	assert.True(t, idx.IsEmpty())
	assert.Same(t, doc, idx.Snapshot().Document, "document stays available for degraded retrieval")
}

func TestCorpusIndex_Build_NoDocument(t *testing.T) {
	source := newSequenceSource()
	source.setErr(errors.New("file not found"))
	idx := NewCorpusIndex(source, newKeywordEmbedder("refund"), DefaultCorpusConfig(), testLogger())

	_, err := idx.Build(context.Background())

	assert.ErrorIs(t, err, domain.ErrNoDocument)
	assert.True(t, idx.IsEmpty())
	assert.False(t, idx.Snapshot().HasDocument())
}

func TestCorpusIndex_Build_EmptyDocument(t *testing.T) {
	doc := domain.NewKnowledgeDocument("", "test", "v1")
	idx := NewCorpusIndex(newSequenceSource(doc), newKeywordEmbedder("refund"), DefaultCorpusConfig(), testLogger())

	_, err := idx.Build(context.Background())

	assert.ErrorIs(t, err, domain.ErrBuildFailed)
	assert.True(t, idx.IsEmpty())
}

func TestCorpusIndex_Build_NoProvider(t *testing.T) {
	doc := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	idx := NewCorpusIndex(newSequenceSource(doc), nil, testCorpusConfig(20, 5), testLogger())

	_, err := idx.Build(context.Background())

	assert.ErrorIs(t, err, domain.ErrBuildFailed)
	assert.ErrorIs(t, err, domain.ErrProviderMissing)
	assert.True(t, idx.Snapshot().HasDocument())
}

func TestCorpusIndex_Build_SkipsBlankChunks(t *testing.T) {
	doc := domain.NewKnowledgeDocument("refund    ", "test", "v1")
	embedder := newKeywordEmbedder("refund")
	idx := NewCorpusIndex(newSequenceSource(doc), embedder, testCorpusConfig(6, 0), testLogger())

	result, err := idx.Build(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunkCount)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, int32(1), embedder.calls.Load())
}

func TestCorpusIndex_Build_DropsMismatchedDimensions(t *testing.T) {
	doc := domain.NewKnowledgeDocument("aaaaaaaaaabbbbbbbbbbcccccccccc", "test", "v1")
	mockClient := new(MockEmbeddingClient)
	mockClient.On("GenerateEmbedding", mock.Anything, "bbbbbbbbbb").Return([]float32{1, 2}, nil)
	mockClient.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{1, 2, 3}, nil)
	idx := NewCorpusIndex(newSequenceSource(doc), mockClient, testCorpusConfig(10, 0), testLogger())

	result, err := idx.Build(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, result.ChunkCount)
	assert.Equal(t, []int{0, 2}, chunkIndices(idx.Snapshot()))
	assert.Equal(t, 3, idx.Snapshot().Dimensions())
}

func TestCorpusIndex_Rebuild_SwapsDocument(t *testing.T) {
	first := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	second := domain.NewKnowledgeDocument("Support is open 9am to 5pm on weekdays.", "test", "v2")
	embedder := newKeywordEmbedder("refund", "support")
	idx := NewCorpusIndex(newSequenceSource(first, second), embedder, testCorpusConfig(20, 5), testLogger())

	_, err := idx.Build(context.Background())
	require.NoError(t, err)
	before := idx.Snapshot()

	result, err := idx.Rebuild(context.Background())

	require.NoError(t, err)
	after := idx.Snapshot()
	assert.NotSame(t, before, after)
	assert.Same(t, second, after.Document)
	assert.Equal(t, result.ChunkCount, len(after.Chunks))
	assert.Same(t, first, before.Document, "published snapshots are never mutated")
}

func TestCorpusIndex_Rebuild_FailureKeepsSnapshot(t *testing.T) {
	doc := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	embedder := newKeywordEmbedder("refund")
	idx := NewCorpusIndex(newSequenceSource(doc), embedder, testCorpusConfig(20, 5), testLogger())

	_, err := idx.Build(context.Background())
	require.NoError(t, err)
	before := idx.Snapshot()

	embedder.fail = func(string) bool { return true }
	_, err = idx.Rebuild(context.Background())

	assert.ErrorIs(t, err, domain.ErrBuildFailed)
	assert.Same(t, before, idx.Snapshot())
}

func TestCorpusIndex_Rebuild_LoaderFailureUsesCurrentDocument(t *testing.T) {
	doc := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	source := newSequenceSource(doc)
	idx := NewCorpusIndex(source, newKeywordEmbedder("refund"), testCorpusConfig(20, 5), testLogger())

	_, err := idx.Build(context.Background())
	require.NoError(t, err)

	source.setErr(errors.New("bucket unreachable"))
	result, err := idx.Rebuild(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, result.ChunkCount)
	assert.Same(t, doc, idx.Snapshot().Document)
}

func TestCorpusIndex_Rebuild_LoaderFailureWithoutDocument(t *testing.T) {
	source := newSequenceSource()
	source.setErr(errors.New("bucket unreachable"))
	idx := NewCorpusIndex(source, newKeywordEmbedder("refund"), DefaultCorpusConfig(), testLogger())

	_, err := idx.Rebuild(context.Background())

	assert.ErrorIs(t, err, domain.ErrNoDocument)
}

func TestCorpusIndex_Build_UsesCache(t *testing.T) {
	doc := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	cfg := testCorpusConfig(20, 5)
	fingerprint := CorpusFingerprint(refundDocument, cfg.Chunk, cfg.EmbeddingModel)
	cached := []domain.Chunk{
		{Index: 0, Text: "Refunds: contact sup", Embedding: []float32{1, 0}},
		{Index: 1, Text: "t support@x.com with", Embedding: []float32{0, 1}},
	}

	cache := new(MockChunkCache)
	cache.On("LoadChunks", mock.Anything, fingerprint).Return(cached, nil)
	embedder := newKeywordEmbedder("refund")

	idx := NewCorpusIndexWithCache(newSequenceSource(doc), embedder, cache, cfg, testLogger())
	result, err := idx.Build(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.CorpusSourceCache, result.Source)
	assert.Equal(t, 2, result.ChunkCount)
	assert.Equal(t, int32(0), embedder.calls.Load())
	assert.Equal(t, cached, idx.Snapshot().Chunks)
	cache.AssertNotCalled(t, "SaveChunks", mock.Anything, mock.Anything, mock.Anything)
}

func TestCorpusIndex_Build_CacheMissSaves(t *testing.T) {
	doc := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	cfg := testCorpusConfig(20, 5)
	fingerprint := CorpusFingerprint(refundDocument, cfg.Chunk, cfg.EmbeddingModel)

	cache := new(MockChunkCache)
	cache.On("LoadChunks", mock.Anything, fingerprint).Return(nil, domain.ErrCorpusSnapshotNotFound)
	cache.On("SaveChunks", mock.Anything, fingerprint, mock.MatchedBy(func(chunks []domain.Chunk) bool {
		return len(chunks) == 3
	})).Return(nil)

	idx := NewCorpusIndexWithCache(newSequenceSource(doc), newKeywordEmbedder("refund"), cache, cfg, testLogger())
	result, err := idx.Build(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.CorpusSourceProvider, result.Source)
	cache.AssertExpectations(t)
}

func TestCorpusIndex_Build_CacheErrorsAreNotFatal(t *testing.T) {
	doc := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	cache := new(MockChunkCache)
	cache.On("LoadChunks", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	cache.On("SaveChunks", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	idx := NewCorpusIndexWithCache(newSequenceSource(doc), newKeywordEmbedder("refund"), cache, testCorpusConfig(20, 5), testLogger())
	result, err := idx.Build(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, result.ChunkCount)
}

func TestCorpusIndex_Rebuild_BypassesCache(t *testing.T) {
	doc := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	cache := new(MockChunkCache)
	cache.On("SaveChunks", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	idx := NewCorpusIndexWithCache(newSequenceSource(doc), newKeywordEmbedder("refund"), cache, testCorpusConfig(20, 5), testLogger())
	_, err := idx.Rebuild(context.Background())

	require.NoError(t, err)
	cache.AssertNotCalled(t, "LoadChunks", mock.Anything, mock.Anything)
	cache.AssertCalled(t, "SaveChunks", mock.Anything, mock.Anything, mock.Anything)
}

func TestCorpusIndex_Refresh(t *testing.T) {
	v1 := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	v1Again := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	v2 := domain.NewKnowledgeDocument("Refunds take 30 days.", "test", "v2")
	embedder := newKeywordEmbedder("refund")
	idx := NewCorpusIndex(newSequenceSource(v1, v1Again, v2), embedder, testCorpusConfig(20, 5), testLogger())

	changed, err := idx.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, changed, "an EMPTY index always builds")

	changed, err = idx.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Same(t, v1, idx.Snapshot().Document)

	changed, err = idx.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Same(t, v2, idx.Snapshot().Document)
}

func TestCorpusIndex_Load_OnlyWhileEmpty(t *testing.T) {
	first := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	second := domain.NewKnowledgeDocument("something else", "test", "v2")
	idx := NewCorpusIndex(newSequenceSource(first, second), newKeywordEmbedder("refund"), testCorpusConfig(20, 5), testLogger())

	doc, err := idx.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, doc)
	assert.Same(t, first, idx.Snapshot().Document)

	_, err = idx.Build(context.Background())
	require.NoError(t, err)

	doc, err = idx.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, second, doc)
	assert.Same(t, first, idx.Snapshot().Document, "a READY corpus is only replaced by a build")
}

func TestCorpusIndex_ConcurrentBuildsPublishWholeSnapshots(t *testing.T) {
	doc := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	idx := NewCorpusIndex(newSequenceSource(doc), newKeywordEmbedder("refund"), testCorpusConfig(20, 5), testLogger())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := idx.Build(context.Background())
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			n := len(idx.Snapshot().Chunks)
			assert.True(t, n == 0 || n == 3, "observed partial corpus of %d chunks", n)
		}()
	}
	wg.Wait()

	assert.Len(t, idx.Snapshot().Chunks, 3)
}

// gatedEmbedder holds back chunks containing gate until release is closed.
type gatedEmbedder struct {
	*keywordEmbedder
	gate    string
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedEmbedder(gate string, vocab ...string) *gatedEmbedder {
	return &gatedEmbedder{
		keywordEmbedder: newKeywordEmbedder(vocab...),
		gate:            gate,
		started:         make(chan struct{}),
		release:         make(chan struct{}),
	}
}

func (e *gatedEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, e.gate) {
		e.once.Do(func() { close(e.started) })
		select {
		case <-e.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.keywordEmbedder.GenerateEmbedding(ctx, text)
}

func TestCorpusIndex_SlowBuildDoesNotOverwriteRebuild(t *testing.T) {
	first := domain.NewKnowledgeDocument("Refunds take 30 days.", "test", "v1")
	second := domain.NewKnowledgeDocument("Support is open on weekdays.", "test", "v2")
	embedder := newGatedEmbedder("Refunds", "refund", "support")
	idx := NewCorpusIndex(newSequenceSource(first, second), embedder, testCorpusConfig(100, 0), testLogger())

	buildDone := make(chan error, 1)
	go func() {
		_, err := idx.Build(context.Background())
		buildDone <- err
	}()
	<-embedder.started

	rebuildDone := make(chan error, 1)
	go func() {
		_, err := idx.Rebuild(context.Background())
		rebuildDone <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(embedder.release)

	require.NoError(t, <-buildDone)
	require.NoError(t, <-rebuildDone)
	assert.Same(t, second, idx.Snapshot().Document)
}

func TestCorpusIndex_BuildWaitingOnRebuildReportsPublishedCorpus(t *testing.T) {
	first := domain.NewKnowledgeDocument("Refunds take 30 days.", "test", "v1")
	source := newSequenceSource(first)
	embedder := newGatedEmbedder("Refunds", "refund")
	idx := NewCorpusIndex(source, embedder, testCorpusConfig(100, 0), testLogger())

	rebuildDone := make(chan error, 1)
	go func() {
		_, err := idx.Rebuild(context.Background())
		rebuildDone <- err
	}()
	<-embedder.started

	buildDone := make(chan *BuildResult, 1)
	go func() {
		result, err := idx.Build(context.Background())
		assert.NoError(t, err)
		buildDone <- result
	}()
	time.Sleep(50 * time.Millisecond)
	close(embedder.release)

	require.NoError(t, <-rebuildDone)
	result := <-buildDone
	require.NotNil(t, result)
	assert.Equal(t, 1, result.ChunkCount)
	assert.Same(t, first, idx.Snapshot().Document)
	assert.Equal(t, int32(1), embedder.calls.Load(), "the waiting build reuses the published corpus")
	assert.Equal(t, 1, source.calls)
}

func TestCorpusIndex_SharedBuildSurvivesCallerCancellation(t *testing.T) {
	doc := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	embedder := newBlockingEmbedder([]float32{0.1, 0.2, 0.3})
	idx := NewCorpusIndex(newSequenceSource(doc), embedder, testCorpusConfig(20, 5), testLogger())

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := idx.Build(ctxA)
		errA <- err
	}()
	<-embedder.started

	errB := make(chan error, 1)
	go func() {
		_, err := idx.Build(context.Background())
		errB <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	time.Sleep(20 * time.Millisecond)
	close(embedder.release)

	require.NoError(t, <-errB)
	require.NoError(t, <-errA)
	assert.Len(t, idx.Snapshot().Chunks, 3)
}

func TestCorpusIndex_BuildTimeoutBoundsSharedBuild(t *testing.T) {
	doc := domain.NewKnowledgeDocument(refundDocument, "test", "v1")
	embedder := newBlockingEmbedder([]float32{0.1})
	cfg := testCorpusConfig(20, 5)
	cfg.EmbedTimeout = 0
	cfg.BuildTimeout = 50 * time.Millisecond
	idx := NewCorpusIndex(newSequenceSource(doc), embedder, cfg, testLogger())

	_, err := idx.Build(context.Background())

	assert.ErrorIs(t, err, domain.ErrBuildFailed)
	assert.True(t, idx.IsEmpty())
}
