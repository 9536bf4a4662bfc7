package models

import "time"

// Document is an ingested source text. It is immutable once ingested;
// re-uploading the same source replaces it wholesale.
type Document struct {
	ID        string
	Source    string
	Text      string
	CreatedAt time.Time
}

// Chunk is a contiguous span of a document's text, the unit of retrieval.
// Start and End are byte offsets into the document text, Seq defines
// document order. The embedding is computed lazily and cached.
type Chunk struct {
	DocumentID string
	Seq        int
	Start      int
	End        int
	Text       string
	Embedding  []float32
}

// ScoredChunk is a chunk paired with a retrieval score. The meaning of the
// score depends on the producer (cosine similarity, BM25 or fused RRF).
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// Answer is the result slot for one question of a batch. Err is set when
// synthesis for that question failed; the slot still occupies its input
// position so callers can retry individually.
type Answer struct {
	Question string
	Text     string
	// Sources lists the sequence numbers of the chunks the answer was
	// grounded on, in fused-rank order.
	Sources []int
	Err     error
}

// Failed reports whether this slot is a failure marker rather than an answer.
func (a Answer) Failed() bool { return a.Err != nil }
