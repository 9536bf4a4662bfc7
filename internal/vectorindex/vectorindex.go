// Package vectorindex provides nearest-neighbour search over chunk
// embeddings, backed by an in-memory chromem-go collection per document.
package vectorindex

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"document-qa/internal/embedding"
	"document-qa/internal/models"
)

// Hit is one similarity search result. Seq references a chunk by its
// sequence index; Similarity is cosine similarity, higher is better.
type Hit struct {
	Seq        int
	Similarity float64
}

// Index is a built vector index for one document. A build either commits
// every chunk or nothing; a committed Index is read-only.
type Index struct {
	collection *chromem.Collection
	size       int
}

// Build embeds any chunks that lack a cached vector and commits all of them
// to a fresh collection. The chunk slice is updated in place with the
// computed embeddings so callers can persist them. If embedding fails,
// nothing is committed and the error wraps ErrEmbeddingUnavailable.
func Build(ctx context.Context, docID string, chunks []models.Chunk, embedder embedding.Embedder) (*Index, error) {
	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection(docID, map[string]string{"hnsw:space": "cosine"}, nil)
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}

	if len(chunks) == 0 {
		return &Index{collection: collection}, nil
	}

	if err := embedding.EmbedChunks(ctx, embedder, chunks); err != nil {
		return nil, err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        strconv.Itoa(c.Seq),
			Content:   c.Text,
			Metadata:  map[string]string{"document_id": c.DocumentID},
			Embedding: c.Embedding,
		}
	}
	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("adding documents to collection: %w", err)
	}

	log.Debug().Str("document_id", docID).Int("chunks", len(chunks)).Msg("Vector index built")
	return &Index{collection: collection, size: len(chunks)}, nil
}

// Query returns up to k chunks nearest to the query embedding, best first.
// Querying an empty index yields an empty result, never an error.
func (idx *Index) Query(ctx context.Context, queryEmbedding []float32, k int) ([]Hit, error) {
	if idx.size == 0 || k <= 0 {
		return nil, nil
	}
	if k > idx.size {
		k = idx.size
	}

	results, err := idx.collection.QueryEmbedding(ctx, queryEmbedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		seq, err := strconv.Atoi(r.ID)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{Seq: seq, Similarity: float64(r.Similarity)})
	}
	return hits, nil
}

// Size returns the number of indexed chunks.
func (idx *Index) Size() int { return idx.size }
