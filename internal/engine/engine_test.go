package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

// hashEmbedder derives a deterministic unit vector from token overlap, so
// similar texts get similar vectors without an external service.
type hashEmbedder struct {
	mu      sync.Mutex
	batches int32
	fail    bool
}

func (h *hashEmbedder) embed(text string) []float32 {
	v := make([]float32, 16)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		sum := 0
		for _, r := range tok {
			sum += int(r)
		}
		v[sum%16]++
	}
	var norm float32
	for _, x := range v {
		norm += x * x
	}
	if norm > 0 {
		inv := 1 / float32(norm)
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

func (h *hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if h.fail {
		return nil, errors.New("connection refused")
	}
	return h.embed(text), nil
}

func (h *hashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if h.fail {
		return nil, errors.New("connection refused")
	}
	atomic.AddInt32(&h.batches, 1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
	}
	return out, nil
}

// echoCompleter answers with the prompt's question line; failOn induces a
// per-question synthesis failure.
type echoCompleter struct {
	mu     sync.Mutex
	calls  int
	failOn string
	delay  time.Duration
}

func (c *echoCompleter) Complete(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.failOn != "" && strings.Contains(prompt, c.failOn) {
		return "", models.ErrSynthesisUnavailable
	}
	return "answer to: " + prompt[strings.LastIndex(prompt, "Query:"):], nil
}

const policyText = `The grace period for premium payment is 30 days from the due date. ` +
	`The waiting period for pre-existing diseases is 36 months of continuous coverage. ` +
	`Maternity expenses are covered after 24 months of continuous coverage. ` +
	`Cataract surgery has a specific waiting period of two years. ` +
	`The policy covers hospitalization expenses for inpatient treatment.`

// memorySnapshots is an in-memory SnapshotStore with injectable failures.
type memorySnapshots struct {
	mu      sync.Mutex
	docs    map[string]models.Document
	chunks  map[string][]models.Chunk
	saveErr error
	loadErr error
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{
		docs:   make(map[string]models.Document),
		chunks: make(map[string][]models.Chunk),
	}
}

func (m *memorySnapshots) Save(_ context.Context, doc models.Document, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.docs[doc.ID] = doc
	m.chunks[doc.ID] = append([]models.Chunk(nil), chunks...)
	return nil
}

func (m *memorySnapshots) Load(_ context.Context, docID string) (models.Document, []models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return models.Document{}, nil, m.loadErr
	}
	doc, ok := m.docs[docID]
	if !ok {
		return models.Document{}, nil, errors.New("no snapshot")
	}
	return doc, m.chunks[docID], nil
}

func testEngine(t *testing.T, llm *echoCompleter) (*Engine, *hashEmbedder) {
	t.Helper()
	e, emb := testEngineWithSnapshots(t, llm, nil)
	return e, emb
}

func testEngineWithSnapshots(t *testing.T, llm *echoCompleter, snaps SnapshotStore) (*Engine, *hashEmbedder) {
	t.Helper()
	cfg := config.Default()
	cfg.RAG.ChunkSize = 120
	cfg.RAG.ChunkOverlap = 40
	cfg.RAG.Workers = 3
	emb := &hashEmbedder{}
	return New(cfg, emb, llm, snaps), emb
}

func TestIngestAndAnswerSingle(t *testing.T) {
	e, _ := testEngine(t, &echoCompleter{})
	ctx := context.Background()

	docID, err := e.Ingest(ctx, "policy.pdf", policyText)
	require.NoError(t, err)
	require.NotEmpty(t, docID)

	answer, err := e.AnswerSingle(ctx, docID, "What is the grace period?")
	require.NoError(t, err)
	assert.False(t, answer.Failed())
	assert.Contains(t, answer.Text, "grace period")
	assert.NotEmpty(t, answer.Sources)
}

func TestIngest_EmptyTextRejected(t *testing.T) {
	e, _ := testEngine(t, &echoCompleter{})
	_, err := e.Ingest(context.Background(), "empty.pdf", "   ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestIngest_EmbeddingFailureLeavesRegistryUntouched(t *testing.T) {
	e, emb := testEngine(t, &echoCompleter{})
	emb.fail = true

	docID, err := e.Ingest(context.Background(), "policy.pdf", policyText)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrEmbeddingUnavailable))

	_, err = e.AnswerSingle(context.Background(), docID, "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIndexNotBuilt))
}

func TestIngest_IdenticalContentYieldsIdenticalChunks(t *testing.T) {
	e, _ := testEngine(t, &echoCompleter{})
	ctx := context.Background()

	docID, err := e.Ingest(ctx, "policy.pdf", policyText)
	require.NoError(t, err)
	first, ok := e.Chunks(docID)
	require.True(t, ok)

	_, err = e.Ingest(ctx, "policy.pdf", policyText)
	require.NoError(t, err)
	second, ok := e.Chunks(docID)
	require.True(t, ok)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Start, second[i].Start)
		assert.Equal(t, first[i].End, second[i].End)
		assert.Equal(t, first[i].Text, second[i].Text)
	}
}

func TestAnswerBatch_PreservesOrderAndLength(t *testing.T) {
	llm := &echoCompleter{delay: 5 * time.Millisecond}
	e, _ := testEngine(t, llm)
	ctx := context.Background()

	docID, err := e.Ingest(ctx, "policy.pdf", policyText)
	require.NoError(t, err)

	questions := []string{
		"What is the grace period?",
		"What is the waiting period for pre-existing diseases?",
		"When is maternity covered?",
		"Is cataract surgery covered?",
		"Does the policy cover hospitalization?",
	}
	answers, err := e.AnswerBatch(ctx, docID, questions)
	require.NoError(t, err)
	require.Len(t, answers, len(questions))
	for i, a := range answers {
		assert.Equal(t, questions[i], a.Question, "slot %d answers the wrong question", i)
		assert.False(t, a.Failed(), "slot %d unexpectedly failed", i)
	}
}

func TestAnswerBatch_PartialFailureIsolatedToSlot(t *testing.T) {
	llm := &echoCompleter{failOn: "cataract"}
	e, _ := testEngine(t, llm)
	ctx := context.Background()

	docID, err := e.Ingest(ctx, "policy.pdf", policyText)
	require.NoError(t, err)

	questions := []string{"What is the grace period?", "Is cataract surgery covered?"}
	answers, err := e.AnswerBatch(ctx, docID, questions)
	require.NoError(t, err)
	require.Len(t, answers, 2)

	assert.False(t, answers[0].Failed())
	require.True(t, answers[1].Failed())
	assert.True(t, errors.Is(answers[1].Err, models.ErrSynthesisUnavailable))
	assert.Equal(t, "Is cataract surgery covered?", answers[1].Question)
}

func TestAnswerBatch_UnknownDocument(t *testing.T) {
	e, _ := testEngine(t, &echoCompleter{})
	_, err := e.AnswerBatch(context.Background(), "nope", []string{"q"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIndexNotBuilt))
}

func TestAnswerBatch_BuildOnceReuseN(t *testing.T) {
	e, emb := testEngine(t, &echoCompleter{})
	ctx := context.Background()

	docID, err := e.Ingest(ctx, "policy.pdf", policyText)
	require.NoError(t, err)
	buildBatches := atomic.LoadInt32(&emb.batches)

	_, err = e.AnswerBatch(ctx, docID, []string{"q one", "q two", "q three"})
	require.NoError(t, err)
	assert.Equal(t, buildBatches, atomic.LoadInt32(&emb.batches),
		"answering must not re-embed the corpus")
}

func TestAnswerBatch_CancelledContextMarksSlots(t *testing.T) {
	llm := &echoCompleter{delay: 20 * time.Millisecond}
	e, _ := testEngine(t, llm)

	docID, err := e.Ingest(context.Background(), "policy.pdf", policyText)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	answers, err := e.AnswerBatch(ctx, docID, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, answers, 3)
	for _, a := range answers {
		assert.True(t, a.Failed())
	}
}

func TestAnswerBatch_ZeroWorkerConfigStillAnswers(t *testing.T) {
	e, _ := testEngine(t, &echoCompleter{})
	e.cfg.RAG.Workers = 0
	ctx := context.Background()

	docID, err := e.Ingest(ctx, "policy.pdf", policyText)
	require.NoError(t, err)

	answers, err := e.AnswerBatch(ctx, docID, []string{"What is the grace period?"})
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.False(t, answers[0].Failed())
}

func TestAnswerBatch_WarmStartFromSnapshotSkipsEmbedding(t *testing.T) {
	snaps := newMemorySnapshots()
	ctx := context.Background()

	first, _ := testEngineWithSnapshots(t, &echoCompleter{}, snaps)
	docID, err := first.Ingest(ctx, "policy.pdf", policyText)
	require.NoError(t, err)

	// A fresh engine sharing only the snapshot store must answer without
	// a single corpus embedding call: the cached vectors carry over.
	second, emb := testEngineWithSnapshots(t, &echoCompleter{}, snaps)
	answers, err := second.AnswerBatch(ctx, docID, []string{"What is the grace period?"})
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.False(t, answers[0].Failed())
	assert.Zero(t, atomic.LoadInt32(&emb.batches),
		"warm start must not re-embed the corpus")

	chunks, ok := second.Chunks(docID)
	require.True(t, ok)
	assert.NotEmpty(t, chunks)
}

func TestAnswerBatch_StaleSnapshotRequiresReingest(t *testing.T) {
	snaps := newMemorySnapshots()
	snaps.loadErr = models.ErrSnapshotVersion

	e, _ := testEngineWithSnapshots(t, &echoCompleter{}, snaps)
	_, err := e.AnswerBatch(context.Background(), "doc1", []string{"q"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIndexNotBuilt))
}

func TestIngest_SnapshotSaveFailureDoesNotFailIngest(t *testing.T) {
	snaps := newMemorySnapshots()
	snaps.saveErr = errors.New("connection refused")
	ctx := context.Background()

	e, _ := testEngineWithSnapshots(t, &echoCompleter{}, snaps)
	docID, err := e.Ingest(ctx, "policy.pdf", policyText)
	require.NoError(t, err)

	answer, err := e.AnswerSingle(ctx, docID, "What is the grace period?")
	require.NoError(t, err)
	assert.False(t, answer.Failed())
}

func TestConcurrentIngestSameDocumentBuildsOnce(t *testing.T) {
	e, emb := testEngine(t, &echoCompleter{})
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := e.Ingest(ctx, "policy.pdf", policyText)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	// Concurrent ingests may coalesce; they must never exceed one embedding
	// batch per surviving build.
	assert.LessOrEqual(t, atomic.LoadInt32(&emb.batches), int32(8))
}
