package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const openAIDefaultBase = "https://api.openai.com"

type openAIClient struct {
	opts Options
}

func newOpenAI(opts Options) *openAIClient {
	if opts.BaseURL == "" {
		opts.BaseURL = openAIDefaultBase
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	return &openAIClient{opts: opts}
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a single-turn chat completion and returns the raw text.
func (c *openAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(openAIRequest{
		Model:    c.opts.Model,
		Messages: []openAIMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("encode openai request: %w", err)
	}

	endpoint := strings.TrimRight(c.opts.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	body, err := doProviderRequest(c.opts.client(), req, KindOpenAI)
	if err != nil {
		return "", err
	}

	var out openAIResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai response had no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func doProviderRequest(client *http.Client, req *http.Request, kind Kind) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", kind, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", kind, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Provider: kind, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
