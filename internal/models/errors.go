package models

import "errors"

// Domain errors. Callers branch with errors.Is; call sites wrap these with
// fmt.Errorf("...: %w", err) to add context.
var (
	// ErrInvalidInput indicates malformed input (empty document, bad
	// chunking parameters, unknown request fields). Rejected before any
	// index work is done.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbeddingUnavailable indicates the embedding capability failed
	// after retries. An index build hitting this is aborted atomically.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrSynthesisUnavailable indicates the language-model capability
	// failed after retries. Within a batch this is a per-question
	// failure, never a batch abort.
	ErrSynthesisUnavailable = errors.New("synthesis service unavailable")

	// ErrIndexNotBuilt indicates a query targeted a document whose index
	// build has not completed or failed. The caller should re-ingest.
	ErrIndexNotBuilt = errors.New("index not built")

	// ErrUnsupportedFormat indicates a document format the loader cannot
	// extract text from.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrSnapshotVersion indicates a persisted snapshot was written with
	// a different format version and must be rebuilt, not reinterpreted.
	ErrSnapshotVersion = errors.New("snapshot format version mismatch")
)
