package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qa/internal/lexical"
	"document-qa/internal/models"
	"document-qa/internal/vectorindex"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("connection refused")
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("connection refused")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.EmbedQuery(context.Background(), t)
	}
	return out, nil
}

func policyFixture(t *testing.T) ([]models.Chunk, *vectorindex.Index, *lexical.Index, *fakeEmbedder) {
	t.Helper()
	chunks := []models.Chunk{
		{DocumentID: "d1", Seq: 0, Text: "grace period is 30 days"},
		{DocumentID: "d1", Seq: 1, Text: "waiting period is 36 months"},
		{DocumentID: "d1", Seq: 2, Text: "maternity covered after 24 months"},
	}
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"grace period is 30 days":           {1, 0, 0},
		"waiting period is 36 months":       {0.6, 0.8, 0},
		"maternity covered after 24 months": {0, 0, 1},
		"What is the grace period?":         {0.95, 0.31, 0},
	}}
	vec, err := vectorindex.Build(context.Background(), "d1", chunks, emb)
	require.NoError(t, err)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return chunks, vec, lexical.Build(texts), emb
}

// The chunk ranked first by both sub-indexes must be the top fused result.
func TestRetrieve_FusionMonotonicity(t *testing.T) {
	chunks, vec, lex, emb := policyFixture(t)
	r := New(chunks, vec, lex, emb, Options{TopK: 3})

	results, err := r.Retrieve(context.Background(), "What is the grace period?")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, 0, results[0].Chunk.Seq)
	assert.Equal(t, "grace period is 30 days", results[0].Chunk.Text)
}

func TestRetrieve_ChunkInBothRankingsAccumulatesBothTerms(t *testing.T) {
	chunks, vec, lex, emb := policyFixture(t)
	r := New(chunks, vec, lex, emb, Options{TopK: 3, RRFOffset: 60})

	results, err := r.Retrieve(context.Background(), "What is the grace period?")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	// Rank 0 in both rankings: 2/61. Any single-ranking chunk scores < 1/61*2.
	assert.InDelta(t, 2.0/61.0, results[0].Score, 1e-9)
}

func TestRetrieve_DegradesToVectorWhenLexicalMissing(t *testing.T) {
	chunks, vec, _, emb := policyFixture(t)
	r := New(chunks, vec, nil, emb, Options{TopK: 3})

	results, err := r.Retrieve(context.Background(), "What is the grace period?")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, 0, results[0].Chunk.Seq)
}

func TestRetrieve_DegradesToLexicalWhenEmbeddingFails(t *testing.T) {
	chunks, vec, lex, emb := policyFixture(t)
	emb.fail = true
	r := New(chunks, vec, lex, emb, Options{TopK: 3})

	results, err := r.Retrieve(context.Background(), "What is the grace period?")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, 0, results[0].Chunk.Seq)
}

func TestRetrieve_ErrorWhenNoSourceAvailable(t *testing.T) {
	chunks, _, _, emb := policyFixture(t)
	r := New(chunks, nil, nil, emb, Options{})

	_, err := r.Retrieve(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIndexNotBuilt))
}

func TestRetrieve_VectorOnlyFailurePropagates(t *testing.T) {
	chunks, vec, _, emb := policyFixture(t)
	emb.fail = true
	r := New(chunks, vec, nil, emb, Options{})

	_, err := r.Retrieve(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrEmbeddingUnavailable))
}

func TestRetrieve_BoundsToTopK(t *testing.T) {
	chunks, vec, lex, emb := policyFixture(t)
	r := New(chunks, vec, lex, emb, Options{TopK: 1})

	results, err := r.Retrieve(context.Background(), "period months days")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestFuse_TieBreaksByDocumentOrder(t *testing.T) {
	chunks := []models.Chunk{{Seq: 0}, {Seq: 1}, {Seq: 2}}
	r := New(chunks, nil, nil, nil, Options{TopK: 3, RRFOffset: 60})

	// Seq 2 and seq 1 hold rank 0 in one ranking each: identical scores.
	fused := r.fuse([][]int{{2, 0}, {1}})
	require.Len(t, fused, 3)
	assert.Equal(t, 1, fused[0].Chunk.Seq)
	assert.Equal(t, 2, fused[1].Chunk.Seq)
	assert.Equal(t, 0, fused[2].Chunk.Seq)
}
