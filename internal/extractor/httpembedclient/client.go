// Package httpembedclient implements extractor.EmbeddingClient against a
// generic OpenAI-compatible embeddings endpoint over plain net/http: a
// JSON request body, bearer auth header, and status-based error
// classification, with no generic request/response wrapper since this
// client only ever calls the one endpoint.
package httpembedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Client calls an embeddings endpoint over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// New builds a Client against baseURL (e.g. "https://api.openai.com/v1").
func New(apiKey, baseURL, model string) *Client {
	return &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// httpStatusError carries the response status so IsTransient can classify
// 429/5xx as retryable.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("httpembedclient: status %d: %s", e.status, e.body)
}

// Embed posts texts to the embeddings endpoint and returns one vector per
// input in order, plus the reported token usage.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, -1, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, -1, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, -1, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, -1, err
	}

	if resp.StatusCode >= 300 {
		return nil, -1, &httpStatusError{status: resp.StatusCode, body: string(respBody)}
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, -1, fmt.Errorf("httpembedclient: decode response: %w", err)
	}

	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vectors[i] = d.Embedding
	}
	return vectors, parsed.Usage.TotalTokens, nil
}

// IsTransient classifies 429/5xx as retryable, matching extractor's
// shared transient-error convention.
func IsTransient(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status == http.StatusTooManyRequests || statusErr.status >= 500
	}
	return errors.Is(err, context.DeadlineExceeded)
}
