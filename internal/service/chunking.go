package service

import (
	"fmt"

	"github.com/cloo-solutions/taxbot/internal/domain"
)

// ChunkConfig controls how the knowledge document is windowed. Sizes are in runes.
type ChunkConfig struct {
	Size    int
	Overlap int
}

// DefaultChunkConfig keeps chunks small so retrieval stays focused.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Size:    300,
		Overlap: 100,
	}
}

// Validate requires 0 <= Overlap < Size.
func (c ChunkConfig) Validate() error {
	if c.Size <= 0 || c.Overlap < 0 || c.Overlap >= c.Size {
		return domain.ErrInvalidChunkConfig.WithCause(
			fmt.Errorf("size=%d overlap=%d", c.Size, c.Overlap))
	}
	return nil
}

// ChunkText splits text into windows of cfg.Size runes, each starting
// cfg.Size-cfg.Overlap runes after the previous one. The last window may be
// shorter. Text no longer than cfg.Size yields a single chunk; empty text none.
func ChunkText(text string, cfg ChunkConfig) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	if len(runes) <= cfg.Size {
		return []string{text}, nil
	}

	step := cfg.Size - cfg.Overlap
	chunks := make([]string, 0, (len(runes)-cfg.Overlap+step-1)/step)
	for start := 0; ; start += step {
		end := start + cfg.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}
