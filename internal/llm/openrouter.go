package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// OpenRouterClient calls the OpenAI-compatible chat completions endpoint.
type OpenRouterClient struct {
	apiKey     string
	baseURL    string
	defaults   Params
	timeout    time.Duration
	httpClient *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		FinishReason string      `json:"finish_reason"`
		Message      chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

func (c *OpenRouterClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	p := req.Params.merge(c.defaults)
	var msgs []chatMessage
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})

	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(chatCompletionRequest{
		Model:       p.Model,
		Messages:    msgs,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	}); err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Title", "directorate")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var cr chatCompletionResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}
	out := strings.TrimSpace(cr.Choices[0].Message.Content)
	if out == "" {
		return nil, ErrEmptyCompletion
	}

	r := &Response{Text: out, Model: cr.Model}
	if cr.Usage != nil {
		r.InputTokens = cr.Usage.PromptTokens
		r.OutputTokens = cr.Usage.CompletionTokens
	}
	slog.Debug("openrouter completion", "model", p.Model, "duration", time.Since(start))
	return r, nil
}
