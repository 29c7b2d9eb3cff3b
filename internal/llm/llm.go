// Package llm talks to the hosted reasoning service used by directors and the
// router. Two providers are supported: the Anthropic Messages API and the
// OpenAI-compatible OpenRouter chat completions API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mtzanidakis/directorate/internal/config"
)

var (
	ErrRateLimited     = errors.New("rate limited")
	ErrEmptyCompletion = errors.New("empty completion")
	ErrNoAPIKey        = errors.New("api key not configured")
)

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api request failed with status %d: %s", e.StatusCode, e.Body)
}

// Params are the per-call model parameters. A nil Temperature takes the
// client default, so an explicit 0 is sent as 0.
type Params struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Temperature returns a pointer for Params.Temperature.
func Temperature(t float64) *float64 { return &t }

type Request struct {
	System string
	Prompt string
	Params
}

type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// New returns the client for the configured provider.
func New(cfg config.LLMConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	defaults := Params{
		Model:       cfg.Model,
		Temperature: Temperature(cfg.Temperature),
		MaxTokens:   cfg.MaxTokens,
	}

	switch cfg.Provider {
	case "", "anthropic":
		return &AnthropicClient{
			apiKey:     cfg.APIKey,
			baseURL:    orDefault(cfg.BaseURL, "https://api.anthropic.com/v1"),
			defaults:   defaults,
			timeout:    timeout,
			httpClient: &http.Client{},
		}, nil
	case "openrouter":
		return &OpenRouterClient{
			apiKey:     cfg.APIKey,
			baseURL:    orDefault(cfg.BaseURL, "https://openrouter.ai/api/v1"),
			defaults:   defaults,
			timeout:    timeout,
			httpClient: &http.Client{},
		}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// withTimeout bounds a call when the caller did not set a deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func (p Params) merge(defaults Params) Params {
	if p.Model == "" {
		p.Model = defaults.Model
	}
	if p.Temperature == nil {
		p.Temperature = defaults.Temperature
	}
	if p.Temperature == nil {
		p.Temperature = Temperature(0)
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = defaults.MaxTokens
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = 1024
	}
	return p
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
