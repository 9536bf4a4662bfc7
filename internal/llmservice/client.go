// Package llmservice wraps the external language-model capability behind a
// rate-limited, retrying client.
package llmservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

const retryBaseDelay = 500 * time.Millisecond

// Client calls the configured language model. A token bucket caps the
// sustained request rate so batch fan-out cannot overwhelm the provider.
type Client struct {
	llm        llms.Model
	limiter    *rate.Limiter
	maxTokens  int
	maxRetries int
}

// NewClient builds a client for the configured provider.
func NewClient(cfg *config.LLMConfig) (*Client, error) {
	var (
		llm llms.Model
		err error
	)
	switch cfg.Provider {
	case "", "ollama":
		llm, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	case "openai":
		llm, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("%w: unknown LLM provider %q", models.ErrInvalidInput, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing LLM: %w", err)
	}

	return &Client{
		llm:        llm,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		maxTokens:  cfg.MaxTokens,
		maxRetries: cfg.MaxRetries,
	}, nil
}

// Complete sends the prompt and returns the model's text. Transient failures
// are retried with exponential backoff; once retries are exhausted the error
// wraps ErrSynthesisUnavailable.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: prompt}},
		},
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: %v", models.ErrSynthesisUnavailable, err)
		}

		res, err := c.llm.GenerateContent(ctx, messages,
			llms.WithMaxTokens(c.maxTokens),
			llms.WithTemperature(0),
		)
		if err == nil {
			if len(res.Choices) == 0 {
				lastErr = fmt.Errorf("empty response")
			} else {
				return strings.TrimSpace(res.Choices[0].Content), nil
			}
		} else {
			lastErr = err
		}

		log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("LLM call failed")
		if ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(retryBaseDelay << attempt):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", models.ErrSynthesisUnavailable, ctx.Err())
		}
	}

	return "", fmt.Errorf("%w: %v", models.ErrSynthesisUnavailable, lastErr)
}
