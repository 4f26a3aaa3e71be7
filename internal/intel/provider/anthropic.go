package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	anthropicDefaultBase = "https://api.anthropic.com"
	anthropicVersion     = "2023-06-01"
)

type anthropicClient struct {
	opts Options
}

func newAnthropic(opts Options) *anthropicClient {
	if opts.BaseURL == "" {
		opts.BaseURL = anthropicDefaultBase
	}
	if opts.Model == "" {
		opts.Model = "claude-3-5-haiku-latest"
	}
	return &anthropicClient{opts: opts}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends a messages request and concatenates the text blocks.
func (c *anthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(anthropicRequest{
		Model:     c.opts.Model,
		MaxTokens: 2048,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("encode anthropic request: %w", err)
	}

	endpoint := strings.TrimRight(c.opts.BaseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.opts.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	body, err := doProviderRequest(c.opts.client(), req, KindAnthropic)
	if err != nil {
		return "", err
	}

	var out anthropicResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}
	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic response had no text blocks")
	}
	return sb.String(), nil
}
