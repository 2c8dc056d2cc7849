// Package anthropicclient implements extractor.ChatClient against the
// Anthropic Messages API via the official anthropic-sdk-go client,
// following the SDK's documented public surface (NewClient/
// option.WithAPIKey, client.Messages.New).
package anthropicclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Client is a ChatClient backed by the Anthropic Messages API.
type Client struct {
	sdk   anthropic.Client
	model string
}

// New builds a Client for model, talking to baseURL if non-empty
// (otherwise the SDK's default endpoint).
func New(apiKey, baseURL, model string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{sdk: anthropic.NewClient(opts...), model: model}
}

// Complete sends prompt as a single user message and returns the
// concatenated text blocks of the reply plus total tokens used.
// repetitionPenalty has no Anthropic Messages API equivalent and is
// accepted only to satisfy extractor.ChatClient's shared signature with
// other upstreams; it's ignored here.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int, temperature, repetitionPenalty float64) (string, int, error) {
	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", -1, classify(err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	used := int(msg.Usage.InputTokens + msg.Usage.OutputTokens)
	return text, used, nil
}

// IsTransient classifies timeouts, 429, and 5xx responses as retryable;
// anything else (bad request, auth failure, parse error) is permanent.
func IsTransient(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func classify(err error) error {
	return fmt.Errorf("anthropicclient: %w", err)
}
