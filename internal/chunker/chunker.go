package chunker

import (
	"fmt"
	"strings"

	"document-qa/internal/models"
)

// breakBytes are the characters a chunk prefers to end after.
const breakBytes = ".!?\n"

// Chunk splits text into overlapping chunks of at most size bytes.
//
// Boundaries snap backwards to the nearest sentence end or newline within a
// bounded lookback window; when no such break exists the cut is a hard one.
// Consecutive chunks overlap by up to overlap bytes and the sequence covers
// the whole text with no gaps. The result depends only on the inputs, so
// identical text always yields identical boundaries.
func Chunk(docID, text string, size, overlap int) ([]models.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty document text", models.ErrInvalidInput)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d must be positive", models.ErrInvalidInput, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", models.ErrInvalidInput, overlap, size)
	}

	var chunks []models.Chunk
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = snapToBreak(text, start, end)
		}

		chunks = append(chunks, models.Chunk{
			DocumentID: docID,
			Seq:        len(chunks),
			Start:      start,
			End:        end,
			Text:       text[start:end],
		})

		if end >= len(text) {
			break
		}
		next := end - overlap
		if next <= start {
			// Short snapped chunk; step past it rather than stall.
			next = start + 1
		}
		start = next
	}
	return chunks, nil
}

// snapToBreak moves end backwards to just after a sentence end or newline,
// searching at most a fifth of the chunk. When the window holds no sentence
// break it falls back to a word boundary, and failing that returns the
// original end, which produces a hard cut.
func snapToBreak(text string, start, end int) int {
	lookback := (end - start) / 5
	for i := end - 1; i >= end-lookback && i > start; i-- {
		if strings.IndexByte(breakBytes, text[i]) >= 0 {
			return i + 1
		}
	}
	for i := end - 1; i >= end-lookback && i > start; i-- {
		if text[i] == ' ' {
			return i + 1
		}
	}
	return end
}
