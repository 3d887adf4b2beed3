//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/cloo-solutions/taxbot/internal/domain"
	"github.com/cloo-solutions/taxbot/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorpusChunkRepository_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc)

	repo := NewCorpusChunkRepository(pool)

	chunks := []domain.Chunk{
		{Index: 0, Text: "Refunds: contact sup", Embedding: []float32{0.1, 0.2, 0.3}},
		{Index: 2, Text: " within 30 days.", Embedding: []float32{0.4, 0.5, 0.6}},
	}
	require.NoError(t, repo.SaveChunks(ctx, "fp-1", chunks))

	loaded, err := repo.LoadChunks(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, chunks, loaded)
}

func TestCorpusChunkRepository_LoadMissing(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc)

	repo := NewCorpusChunkRepository(pool)

	_, err := repo.LoadChunks(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrCorpusSnapshotNotFound)
}

func TestCorpusChunkRepository_SavePrunesOldFingerprints(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc)

	repo := NewCorpusChunkRepository(pool)

	require.NoError(t, repo.SaveChunks(ctx, "old", []domain.Chunk{{Index: 0, Text: "a", Embedding: []float32{1, 0}}}))
	require.NoError(t, repo.SaveChunks(ctx, "new", []domain.Chunk{
		{Index: 0, Text: "b", Embedding: []float32{0, 1}},
		{Index: 1, Text: "c", Embedding: []float32{1, 1}},
	}))

	counts, err := repo.Fingerprints(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"new": 2}, counts)

	_, err = repo.LoadChunks(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrCorpusSnapshotNotFound)
}

func TestCorpusChunkRepository_ResaveSameFingerprint(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc)

	repo := NewCorpusChunkRepository(pool)
	chunks := []domain.Chunk{{Index: 0, Text: "a", Embedding: []float32{1, 0}}}

	require.NoError(t, repo.SaveChunks(ctx, "fp", chunks))
	require.NoError(t, repo.SaveChunks(ctx, "fp", chunks))

	require.NoError(t, testutil.TruncateAll(ctx, pool))
	_, err := repo.LoadChunks(ctx, "fp")
	assert.ErrorIs(t, err, domain.ErrCorpusSnapshotNotFound)
}
