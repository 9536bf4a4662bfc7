// Package synthesizer turns a question and its retrieved passages into a
// grounded answer via the external language-model capability.
package synthesizer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"document-qa/internal/models"
)

// Completer is the language-model capability. Satisfied by llmservice.Client
// and by deterministic fakes in tests.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Synthesizer assembles bounded-size prompts and invokes the completer.
type Synthesizer struct {
	llm Completer
	// contextBudget caps the combined byte size of the passages placed in
	// the prompt. Truncation drops whole chunks from the bottom of the
	// fused ranking, never part of a retained chunk.
	contextBudget int
}

func New(llm Completer, contextBudget int) *Synthesizer {
	if contextBudget <= 0 {
		contextBudget = 6000
	}
	return &Synthesizer{llm: llm, contextBudget: contextBudget}
}

// Synthesize answers the question from the retrieved chunks. With no chunks
// it returns the fixed no-context answer without calling the model. A model
// failure surfaces as an error wrapping ErrSynthesisUnavailable.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, retrieved []models.ScoredChunk) (models.Answer, error) {
	answer := models.Answer{Question: question}

	if len(retrieved) == 0 {
		log.Warn().Str("question", question).Msg("No passages retrieved, returning fallback answer")
		answer.Text = models.NoContextAnswer
		return answer, nil
	}

	kept := s.fitToBudget(retrieved)
	context := joinChunks(kept)
	for _, sc := range kept {
		answer.Sources = append(answer.Sources, sc.Chunk.Seq)
	}

	prompt := fmt.Sprintf(models.AnswerPromptTemplate, context, question)
	text, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return models.Answer{Question: question}, fmt.Errorf("synthesize: %w", err)
	}
	answer.Text = text
	return answer, nil
}

// fitToBudget keeps a prefix of the fused ranking whose combined size,
// including separators, stays within the context budget. The top chunk is
// always kept so the prompt is never empty.
func (s *Synthesizer) fitToBudget(retrieved []models.ScoredChunk) []models.ScoredChunk {
	kept := retrieved[:1]
	total := len(retrieved[0].Chunk.Text)
	for _, sc := range retrieved[1:] {
		added := len(models.ContextSeparator) + len(sc.Chunk.Text)
		if total+added > s.contextBudget {
			break
		}
		kept = append(kept, sc)
		total += added
	}
	if len(kept) < len(retrieved) {
		log.Debug().
			Int("kept", len(kept)).
			Int("retrieved", len(retrieved)).
			Msg("Context budget exceeded, dropped lowest-ranked chunks")
	}
	return kept
}

func joinChunks(chunks []models.ScoredChunk) string {
	out := ""
	for i, sc := range chunks {
		if i > 0 {
			out += models.ContextSeparator
		}
		out += sc.Chunk.Text
	}
	return out
}
