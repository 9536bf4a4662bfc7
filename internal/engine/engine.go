// Package engine ties the pipeline together: a process-wide registry of
// per-document index pairs, build-once ingestion and order-preserving batch
// answering over a bounded worker pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"document-qa/internal/chunker"
	"document-qa/internal/config"
	"document-qa/internal/embedding"
	"document-qa/internal/helper"
	"document-qa/internal/lexical"
	"document-qa/internal/models"
	"document-qa/internal/retriever"
	"document-qa/internal/synthesizer"
	"document-qa/internal/vectorindex"
)

// SnapshotStore persists built chunk sets, embeddings included, so a
// restart can rebuild indexes without re-embedding. Optional.
type SnapshotStore interface {
	Save(ctx context.Context, doc models.Document, chunks []models.Chunk) error
	Load(ctx context.Context, docID string) (models.Document, []models.Chunk, error)
}

// documentIndex is one registry entry: the shared index pair for a document
// plus everything needed to answer questions against it. Entries are
// immutable once ready; re-ingest replaces the whole entry.
type documentIndex struct {
	doc    models.Document
	chunks []models.Chunk
	ret    *retriever.Retriever

	ready    chan struct{}
	buildErr error
}

// Engine is the core exposed to the service layer.
type Engine struct {
	cfg       *config.Config
	embedder  embedding.Embedder
	synth     *synthesizer.Synthesizer
	snapshots SnapshotStore

	mu      sync.Mutex
	docs    map[string]*documentIndex
	pending map[string]*documentIndex
}

// New creates an engine. snapshots may be nil to disable persistence.
func New(cfg *config.Config, embedder embedding.Embedder, llm synthesizer.Completer, snapshots SnapshotStore) *Engine {
	return &Engine{
		cfg:       cfg,
		embedder:  embedder,
		synth:     synthesizer.New(llm, cfg.RAG.ContextBudget),
		snapshots: snapshots,
		docs:      make(map[string]*documentIndex),
		pending:   make(map[string]*documentIndex),
	}
}

// Ingest chunks the document text and builds its vector and lexical indexes,
// returning the document id. The build is atomic: a failed build leaves the
// registry untouched. Concurrent ingests of the same source serialize on a
// single build; re-ingesting a built document replaces its entry wholesale,
// while readers keep using the old entry until the new one is ready.
func (e *Engine) Ingest(ctx context.Context, source, text string) (string, error) {
	docID := helper.HashID(source)

	e.mu.Lock()
	if entry, ok := e.pending[docID]; ok {
		e.mu.Unlock()
		if err := waitReady(ctx, entry); err != nil {
			return docID, err
		}
		return docID, entry.buildErr
	}
	entry := &documentIndex{ready: make(chan struct{})}
	e.pending[docID] = entry
	e.mu.Unlock()

	err := e.build(ctx, docID, source, text, entry)

	e.mu.Lock()
	delete(e.pending, docID)
	if err == nil {
		e.docs[docID] = entry
	}
	e.mu.Unlock()
	entry.buildErr = err
	close(entry.ready)

	if err != nil {
		return docID, err
	}

	if e.snapshots != nil {
		if serr := e.snapshots.Save(ctx, entry.doc, entry.chunks); serr != nil {
			log.Warn().Err(serr).Str("document_id", docID).Msg("Snapshot save failed")
		}
	}
	return docID, nil
}

func (e *Engine) build(ctx context.Context, docID, source, text string, entry *documentIndex) error {
	chunks, err := chunker.Chunk(docID, text, e.cfg.RAG.ChunkSize, e.cfg.RAG.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("chunking document: %w", err)
	}

	vec, err := vectorindex.Build(ctx, docID, chunks, e.embedder)
	if err != nil {
		return fmt.Errorf("building vector index: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	lex := lexical.Build(texts)

	entry.doc = models.Document{ID: docID, Source: source, Text: text, CreatedAt: time.Now().UTC()}
	entry.chunks = chunks
	entry.ret = retriever.New(chunks, vec, lex, e.embedder, retriever.Options{
		Overfetch: e.cfg.RAG.TopKInitial,
		TopK:      e.cfg.RAG.TopKFinal,
		RRFOffset: e.cfg.RAG.RRFOffset,
	})

	log.Info().Str("document_id", docID).Int("chunks", len(chunks)).Msg("Document ingested")
	return nil
}

// AnswerBatch answers every question against one shared index pair. The
// result always has one slot per question, in input order; a question whose
// retrieval or synthesis failed carries the error in its slot instead of
// aborting the batch. Cancellation marks the unstarted slots with the
// context error.
func (e *Engine) AnswerBatch(ctx context.Context, docID string, questions []string) ([]models.Answer, error) {
	idx, err := e.lookup(ctx, docID)
	if err != nil {
		return nil, err
	}

	results := make([]models.Answer, len(questions))
	if len(questions) == 0 {
		return results, nil
	}

	workers := e.cfg.RAG.Workers
	if workers > len(questions) {
		workers = len(questions)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = e.answerOne(ctx, idx, questions[i])
			}
		}()
	}
	for i := range questions {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results, nil
}

// AnswerSingle is a batch of size one.
func (e *Engine) AnswerSingle(ctx context.Context, docID, question string) (models.Answer, error) {
	answers, err := e.AnswerBatch(ctx, docID, []string{question})
	if err != nil {
		return models.Answer{}, err
	}
	return answers[0], nil
}

func (e *Engine) answerOne(ctx context.Context, idx *documentIndex, question string) models.Answer {
	if err := ctx.Err(); err != nil {
		return models.Answer{Question: question, Err: err}
	}

	retrieved, err := idx.ret.Retrieve(ctx, question)
	if err != nil {
		log.Error().Err(err).Str("question", question).Msg("Retrieval failed")
		return models.Answer{Question: question, Err: err}
	}

	answer, err := e.synth.Synthesize(ctx, question, retrieved)
	if err != nil {
		log.Error().Err(err).Str("question", question).Msg("Synthesis failed")
		return models.Answer{Question: question, Err: err}
	}
	return answer
}

// lookup returns the ready entry for docID, waiting out an in-flight build
// and falling back to a snapshot restore before giving up.
func (e *Engine) lookup(ctx context.Context, docID string) (*documentIndex, error) {
	e.mu.Lock()
	if idx, ok := e.docs[docID]; ok {
		e.mu.Unlock()
		return idx, nil
	}
	entry, building := e.pending[docID]
	e.mu.Unlock()

	if building {
		if err := waitReady(ctx, entry); err != nil {
			return nil, err
		}
		if entry.buildErr != nil {
			return nil, fmt.Errorf("%w: build failed: %v", models.ErrIndexNotBuilt, entry.buildErr)
		}
		return entry, nil
	}

	if e.snapshots != nil {
		if idx, err := e.restore(ctx, docID); err == nil {
			return idx, nil
		} else if errors.Is(err, models.ErrSnapshotVersion) {
			log.Warn().Str("document_id", docID).Msg("Stale snapshot format, re-ingest required")
		}
	}
	return nil, fmt.Errorf("%w: document %s", models.ErrIndexNotBuilt, docID)
}

// restore rebuilds the index pair from persisted chunks. Cached embeddings
// make this a local operation unless the snapshot predates them.
func (e *Engine) restore(ctx context.Context, docID string) (*documentIndex, error) {
	doc, chunks, err := e.snapshots.Load(ctx, docID)
	if err != nil {
		return nil, err
	}

	vec, err := vectorindex.Build(ctx, docID, chunks, e.embedder)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	entry := &documentIndex{
		doc:    doc,
		chunks: chunks,
		ret: retriever.New(chunks, vec, lexical.Build(texts), e.embedder, retriever.Options{
			Overfetch: e.cfg.RAG.TopKInitial,
			TopK:      e.cfg.RAG.TopKFinal,
			RRFOffset: e.cfg.RAG.RRFOffset,
		}),
		ready: make(chan struct{}),
	}
	close(entry.ready)

	e.mu.Lock()
	e.docs[docID] = entry
	e.mu.Unlock()

	log.Info().Str("document_id", docID).Int("chunks", len(chunks)).Msg("Document restored from snapshot")
	return entry, nil
}

// Chunks exposes a ready document's chunk set, for snippet hydration at the
// service boundary.
func (e *Engine) Chunks(docID string) ([]models.Chunk, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.docs[docID]
	if !ok {
		return nil, false
	}
	return idx.chunks, true
}

func waitReady(ctx context.Context, entry *documentIndex) error {
	select {
	case <-entry.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
