package repository

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/taxbot/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// CorpusChunkRepository caches embedded corpus chunks keyed by fingerprint.
type CorpusChunkRepository struct {
	db dbtx
}

func NewCorpusChunkRepository(pool *pgxpool.Pool) *CorpusChunkRepository {
	return &CorpusChunkRepository{db: pool}
}

// LoadChunks returns the chunks stored for fingerprint in index order.
func (r *CorpusChunkRepository) LoadChunks(ctx context.Context, fingerprint string) ([]domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT chunk_index, content, embedding
		 FROM corpus_chunks
		 WHERE fingerprint = $1
		 ORDER BY chunk_index`,
		fingerprint,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var (
			c         domain.Chunk
			embedding pgvector.Vector
		)
		if err := rows.Scan(&c.Index, &c.Text, &embedding); err != nil {
			return nil, err
		}
		c.Embedding = embedding.Slice()
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(chunks) == 0 {
		return nil, domain.ErrCorpusSnapshotNotFound
	}
	return chunks, nil
}

// SaveChunks replaces the cached corpus. Chunks of every other fingerprint are
// pruned so the table only ever holds the latest corpus.
func (r *CorpusChunkRepository) SaveChunks(ctx context.Context, fingerprint string, chunks []domain.Chunk) error {
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM corpus_chunks`); err != nil {
			return fmt.Errorf("failed to prune corpus chunks: %w", err)
		}

		batch := &pgx.Batch{}
		for _, c := range chunks {
			batch.Queue(
				`INSERT INTO corpus_chunks (fingerprint, chunk_index, content, embedding)
				 VALUES ($1, $2, $3, $4)`,
				fingerprint,
				c.Index,
				c.Text,
				pgvector.NewVector(c.Embedding),
			)
		}

		results := tx.SendBatch(ctx, batch)
		for range chunks {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("failed to insert corpus chunk: %w", err)
			}
		}
		return results.Close()
	})
}

// Fingerprints lists the cached corpus fingerprints with their chunk counts.
func (r *CorpusChunkRepository) Fingerprints(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT fingerprint, COUNT(*) FROM corpus_chunks GROUP BY fingerprint`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			fingerprint string
			count       int
		)
		if err := rows.Scan(&fingerprint, &count); err != nil {
			return nil, err
		}
		counts[fingerprint] = count
	}
	return counts, rows.Err()
}
