// Package retriever fuses vector and lexical rankings into a single ordered
// result set per query using reciprocal-rank fusion.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"document-qa/internal/embedding"
	"document-qa/internal/lexical"
	"document-qa/internal/models"
	"document-qa/internal/vectorindex"
)

// Options bound the retrieval fan-out. Overfetch is how many candidates each
// sub-index contributes before fusion; TopK is the final result count.
type Options struct {
	Overfetch int
	TopK      int
	RRFOffset int
}

func (o Options) withDefaults() Options {
	if o.Overfetch <= 0 {
		o.Overfetch = models.DefaultTopKInitial
	}
	if o.TopK <= 0 {
		o.TopK = models.DefaultTopKFinal
	}
	if o.RRFOffset <= 0 {
		o.RRFOffset = models.DefaultRRFOffset
	}
	return o
}

// Retriever runs hybrid retrieval against one document's index pair. Either
// index may be nil; retrieval degrades to the remaining source rather than
// failing the query.
type Retriever struct {
	chunks   []models.Chunk // by sequence index
	vec      *vectorindex.Index
	lex      *lexical.Index
	embedder embedding.Embedder
	opts     Options
}

func New(chunks []models.Chunk, vec *vectorindex.Index, lex *lexical.Index, embedder embedding.Embedder, opts Options) *Retriever {
	return &Retriever{
		chunks:   chunks,
		vec:      vec,
		lex:      lex,
		embedder: embedder,
		opts:     opts.withDefaults(),
	}
}

// Retrieve returns the top fused chunks for the query, best first. Both
// sub-index lookups run concurrently; an error only surfaces when no source
// produced a ranking.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]models.ScoredChunk, error) {
	var (
		wg         sync.WaitGroup
		vecHits    []vectorindex.Hit
		lexHits    []lexical.Hit
		vecErr     error
		haveVector = r.vec != nil && r.embedder != nil
		haveLex    = r.lex != nil
	)

	if haveVector {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vecHits, vecErr = r.vectorSearch(ctx, query)
		}()
	}
	if haveLex {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lexHits = r.lex.Query(query, r.opts.Overfetch)
		}()
	}
	wg.Wait()

	if !haveVector && !haveLex {
		return nil, fmt.Errorf("retrieve: %w", models.ErrIndexNotBuilt)
	}
	if vecErr != nil {
		if !haveLex {
			return nil, fmt.Errorf("retrieve: %w", vecErr)
		}
		log.Warn().Err(vecErr).Msg("Vector search failed, degrading to lexical ranking")
		vecHits = nil
	}

	ranks := make([][]int, 0, 2)
	if len(vecHits) > 0 {
		seqs := make([]int, len(vecHits))
		for i, h := range vecHits {
			seqs[i] = h.Seq
		}
		ranks = append(ranks, seqs)
	}
	if len(lexHits) > 0 {
		seqs := make([]int, len(lexHits))
		for i, h := range lexHits {
			seqs[i] = h.Seq
		}
		ranks = append(ranks, seqs)
	}

	return r.fuse(ranks), nil
}

func (r *Retriever) vectorSearch(ctx context.Context, query string) ([]vectorindex.Hit, error) {
	queryEmbedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
	}
	return r.vec.Query(ctx, queryEmbedding, r.opts.Overfetch)
}

// fuse combines the rankings by reciprocal-rank fusion: each chunk scores
// the sum of 1/(offset+rank+1) over the rankings that contain it. Ties break
// on the lower sequence index.
func (r *Retriever) fuse(rankings [][]int) []models.ScoredChunk {
	scores := make(map[int]float64)
	for _, ranking := range rankings {
		for rank, seq := range ranking {
			scores[seq] += 1.0 / float64(r.opts.RRFOffset+rank+1)
		}
	}

	fused := make([]models.ScoredChunk, 0, len(scores))
	for seq, score := range scores {
		if seq < 0 || seq >= len(r.chunks) {
			continue
		}
		fused = append(fused, models.ScoredChunk{Chunk: r.chunks[seq], Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].Chunk.Seq < fused[j].Chunk.Seq
	})
	if len(fused) > r.opts.TopK {
		fused = fused[:r.opts.TopK]
	}
	return fused
}
