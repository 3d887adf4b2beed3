package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// embedWithTimeout runs one embedding call bounded by timeout. A zero timeout
// only inherits the parent deadline.
func embedWithTimeout(ctx context.Context, client EmbeddingClient, text string, timeout time.Duration) ([]float32, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return client.GenerateEmbedding(ctx, text)
}

// CorpusFingerprint identifies a corpus by everything that determines its chunk
// embeddings: the document text, the chunking parameters and the model.
func CorpusFingerprint(text string, cfg ChunkConfig, embeddingModel string) string {
	h := sha256.New()
	fmt.Fprintf(h, "size=%d\noverlap=%d\nmodel=%s\n", cfg.Size, cfg.Overlap, embeddingModel)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
