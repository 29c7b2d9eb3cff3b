package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mtzanidakis/directorate/internal/config"
)

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(config.LLMConfig{Provider: "anthropic"}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
	if _, err := New(config.LLMConfig{Provider: "bedrock", APIKey: "k"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestAnthropicComplete(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("expected /messages, got %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("expected api key header, got %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("unexpected anthropic-version %q", r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"claude-3-haiku-20240307","content":[{"type":"text","text":" hello "}],"usage":{"input_tokens":12,"output_tokens":3}}`))
	}))
	defer srv.Close()

	c, err := New(config.LLMConfig{
		Provider:    "anthropic",
		APIKey:      "sk-test",
		BaseURL:     srv.URL,
		Model:       "claude-3-haiku-20240307",
		Temperature: 0.3,
		MaxTokens:   2000,
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := c.Complete(context.Background(), Request{
		System: "sys",
		Prompt: "hi",
		Params: Params{MaxTokens: 1500},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hello" {
		t.Errorf("expected trimmed text hello, got %q", resp.Text)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("unexpected usage: %+v", resp)
	}
	if got.MaxTokens != 1500 {
		t.Errorf("expected per-call max_tokens 1500, got %d", got.MaxTokens)
	}
	if got.Model != "claude-3-haiku-20240307" || got.Temperature == nil || *got.Temperature != 0.3 {
		t.Errorf("expected defaults merged, got %+v", got)
	}
	if got.System != "sys" || len(got.Messages) != 1 || got.Messages[0].Content != "hi" {
		t.Errorf("unexpected request body: %+v", got)
	}
}

func TestAnthropicErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, func(err error) bool { return errors.Is(err, ErrRateLimited) }},
		{"server error", http.StatusInternalServerError, `boom`, func(err error) bool {
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.StatusCode == 500 && apiErr.Body == "boom"
		}},
		{"empty", http.StatusOK, `{"content":[]}`, func(err error) bool { return errors.Is(err, ErrEmptyCompletion) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _ := New(config.LLMConfig{APIKey: "k", BaseURL: srv.URL})
			_, err := c.Complete(context.Background(), Request{Prompt: "x"})
			if !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCompleteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, _ := New(config.LLMConfig{APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestOpenRouterComplete(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer or-key" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"model":"anthropic/claude-3-haiku","choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	c, err := New(config.LLMConfig{Provider: "openrouter", APIKey: "or-key", BaseURL: srv.URL, Model: "anthropic/claude-3-haiku"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != `{"ok":true}` {
		t.Errorf("unexpected text %q", resp.Text)
	}
	if resp.InputTokens != 5 || resp.OutputTokens != 2 {
		t.Errorf("unexpected usage %+v", resp)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("expected system + user messages, got %+v", got.Messages)
	}
}

func TestOpenRouterNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, _ := New(config.LLMConfig{Provider: "openrouter", APIKey: "k", BaseURL: srv.URL})
	if _, err := c.Complete(context.Background(), Request{Prompt: "x"}); !errors.Is(err, ErrEmptyCompletion) {
		t.Errorf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestExplicitZeroTemperature(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer srv.Close()

	c, err := New(config.LLMConfig{APIKey: "k", BaseURL: srv.URL, Temperature: 0.3})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		params Params
		want   float64
	}{
		{"explicit zero", Params{Temperature: Temperature(0)}, 0},
		{"unset", Params{}, 0.3},
		{"explicit", Params{Temperature: Temperature(0.9)}, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw = nil
			if _, err := c.Complete(context.Background(), Request{Prompt: "x", Params: tt.params}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, ok := raw["temperature"].(float64)
			if !ok || got != tt.want {
				t.Errorf("expected temperature %v, got %v", tt.want, raw["temperature"])
			}
		})
	}
}
