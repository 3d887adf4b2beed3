package service

import (
	"strings"
	"testing"

	"github.com/cloo-solutions/taxbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// merge reassembles chunks produced with the given overlap.
func merge(chunks []string, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		r := []rune(c)
		if i > 0 {
			r = r[overlap:]
		}
		b.WriteString(string(r))
	}
	return b.String()
}

func expectedChunkCount(length, size, overlap int) int {
	if length <= size {
		return 1
	}
	step := size - overlap
	return (length - overlap + step - 1) / step
}

func TestChunkText_Empty(t *testing.T) {
	chunks, err := ChunkText("", DefaultChunkConfig())

	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkText_ShortTextSingleChunk(t *testing.T) {
	chunks, err := ChunkText("short", ChunkConfig{Size: 10, Overlap: 3})

	require.NoError(t, err)
	assert.Equal(t, []string{"short"}, chunks)
}

func TestChunkText_ExactSize(t *testing.T) {
	chunks, err := ChunkText("0123456789", ChunkConfig{Size: 10, Overlap: 3})

	require.NoError(t, err)
	assert.Equal(t, []string{"0123456789"}, chunks)
}

func TestChunkText_RefundDocument(t *testing.T) {
	text := "Refunds: contact support@x.com within 30 days."

	chunks, err := ChunkText(text, ChunkConfig{Size: 20, Overlap: 5})

	require.NoError(t, err)
	assert.Equal(t, []string{
		"Refunds: contact sup",
		"t support@x.com with",
		" within 30 days.",
	}, chunks)
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		assert.Equal(t, string(prev[len(prev)-5:]), string([]rune(chunks[i])[:5]), "chunk %d overlaps its predecessor", i)
	}
}

func TestChunkText_CountAndReconstruction(t *testing.T) {
	text := strings.Repeat("abcdefghijklmnopqrstuvwxyz", 13)

	configs := []ChunkConfig{
		{Size: 1, Overlap: 0},
		{Size: 7, Overlap: 0},
		{Size: 7, Overlap: 6},
		{Size: 20, Overlap: 5},
		{Size: 300, Overlap: 100},
		{Size: 50, Overlap: 49},
	}

	for _, cfg := range configs {
		chunks, err := ChunkText(text, cfg)
		require.NoError(t, err)

		assert.Len(t, chunks, expectedChunkCount(len(text), cfg.Size, cfg.Overlap), "size=%d overlap=%d", cfg.Size, cfg.Overlap)
		assert.Equal(t, text, merge(chunks, cfg.Overlap), "size=%d overlap=%d", cfg.Size, cfg.Overlap)
		for _, c := range chunks {
			assert.LessOrEqual(t, len([]rune(c)), cfg.Size)
		}
	}
}

func TestChunkText_MultiByteRunes(t *testing.T) {
	text := strings.Repeat("₹ GST रिटर्न ", 10)

	chunks, err := ChunkText(text, ChunkConfig{Size: 8, Overlap: 2})

	require.NoError(t, err)
	assert.Equal(t, text, merge(chunks, 2))
	for _, c := range chunks {
		assert.True(t, strings.ToValidUTF8(c, "?") == c, "chunk %q split a rune", c)
	}
}

func TestChunkText_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  ChunkConfig
	}{
		{"zero size", ChunkConfig{Size: 0, Overlap: 0}},
		{"negative overlap", ChunkConfig{Size: 10, Overlap: -1}},
		{"overlap equals size", ChunkConfig{Size: 10, Overlap: 10}},
		{"overlap exceeds size", ChunkConfig{Size: 10, Overlap: 11}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := ChunkText("some text", tt.cfg)

			assert.Nil(t, chunks)
			assert.ErrorIs(t, err, domain.ErrInvalidChunkConfig)
		})
	}
}
