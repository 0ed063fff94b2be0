package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sashabaranov/go-openai"
)

const llmMaxRetries = 3

// llmClient wraps the chat-completion API behind the engine. The zero value
// is unusable; newLLMClient returns nil when no API key is configured, which
// the engine treats as template-only mode.
type llmClient struct {
	client *openai.Client
	model  string
}

func newLLMClient(baseURL, apiKey, model string) *llmClient {
	if apiKey == "" {
		return nil
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &llmClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// complete runs one system+user completion with exponential backoff retry.
// Context cancellation aborts the retry loop and is returned unwrapped so
// callers can distinguish deadline from provider failure.
func (c *llmClient) complete(ctx context.Context, system, user string) (string, error) {
	var result string
	err := c.doWithRetry(ctx, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty chat response")
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// doWithRetry executes a function with exponential backoff retry.
func (c *llmClient) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < llmMaxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return err
			}
			lastErr = err
			if attempt < llmMaxRetries-1 {
				waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
				slog.Debug("LLM request failed, retrying",
					"attempt", attempt+1,
					"wait_time", waitTime,
					"error", err)
				select {
				case <-time.After(waitTime):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return lastErr
}
