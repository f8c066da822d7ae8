// Package extract wraps the LLM behind the typed calls the pipeline
// needs: email classification, suborder extraction, order-line
// resolution, and reply drafting. Structured calls never propagate
// parse failures; a malformed response degrades to an empty result and
// a warning, and the pipeline continues with what it has.
package extract

import (
	"context"
	"strings"

	"golang.org/x/time/rate"

	"github.com/fernwood/orderdesk/internal/config"
	"github.com/fernwood/orderdesk/internal/resilience"
	"github.com/fernwood/orderdesk/pkg/anthropic"
)

// Adapter issues rate-limited, retried LLM calls. Classification and
// extraction run on Haiku; reply drafting runs on Sonnet.
type Adapter struct {
	client  anthropic.Client
	cfg     config.AnthropicConfig
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewAdapter builds an Adapter from config. RequestsPerMinute bounds
// the sustained call rate across all operations.
func NewAdapter(client anthropic.Client, cfg config.AnthropicConfig) *Adapter {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 50
	}
	return &Adapter{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 5),
		retry:   resilience.DefaultRetryConfig(),
	}
}

// createMessage is the single funnel for LLM traffic: waits for a rate
// token, then retries transient failures with backoff.
func (a *Adapter) createMessage(ctx context.Context, operation string, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	cfg := a.retry
	cfg.OnRetry = resilience.RetryLogger("anthropic", operation)
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.client.CreateMessage(ctx, req)
	})
}

// extractText concatenates all text content blocks from a message response.
func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
