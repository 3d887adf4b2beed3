package domain

import "time"

// Chunk is one embedded window of the knowledge document.
type Chunk struct {
	Index     int
	Text      string
	Embedding []float32
}

// Corpus is an immutable snapshot of the indexed knowledge document.
// A corpus with no chunks is EMPTY; the document may still be present.
type Corpus struct {
	Document    *KnowledgeDocument
	Chunks      []Chunk
	Fingerprint string
	Source      CorpusSource
	BuiltAt     time.Time
}

// CorpusSource records where the chunk embeddings of a corpus came from.
type CorpusSource string

const (
	CorpusSourceNone     CorpusSource = ""
	CorpusSourceProvider CorpusSource = "provider"
	CorpusSourceCache    CorpusSource = "cache"
)

// IsEmpty reports whether the corpus holds zero chunks.
func (c *Corpus) IsEmpty() bool {
	return c == nil || len(c.Chunks) == 0
}

// HasDocument reports whether a knowledge document has been loaded.
func (c *Corpus) HasDocument() bool {
	return c != nil && c.Document != nil
}

// Dimensions returns the embedding dimensionality shared by all chunks.
func (c *Corpus) Dimensions() int {
	if c.IsEmpty() {
		return 0
	}
	return len(c.Chunks[0].Embedding)
}

// RetrievalMode describes how a retrieval result was produced.
type RetrievalMode string

const (
	RetrievalModeRanked   RetrievalMode = "ranked"
	RetrievalModeUnranked RetrievalMode = "unranked"
	RetrievalModeDegraded RetrievalMode = "degraded"
)

// ScoredChunk is a chunk text returned by retrieval with its similarity score.
type ScoredChunk struct {
	Index int
	Text  string
	Score float64
}

// RetrievalResult is the ranked list returned for one query.
type RetrievalResult struct {
	Chunks []ScoredChunk
	Mode   RetrievalMode
}

// Texts returns the chunk texts in result order.
func (r *RetrievalResult) Texts() []string {
	texts := make([]string, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		texts = append(texts, c.Text)
	}
	return texts
}
