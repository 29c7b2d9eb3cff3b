package router

import (
	"context"
	"errors"
	"testing"

	"github.com/mtzanidakis/directorate/internal/config"
	"github.com/mtzanidakis/directorate/internal/llm"
	"github.com/mtzanidakis/directorate/internal/llm/llmtest"
)

func TestParseOverride(t *testing.T) {
	tests := []struct {
		in       string
		task     string
		override Complexity
	}{
		{"@simple fix the typo", "fix the typo", Simple},
		{"@complex Add login with Google", "Add login with Google", Complex},
		{"@COMPLEX shout", "shout", Complex},
		{"@cto do it", "@cto do it", ""},
		{"plain task", "plain task", ""},
		{"@simple", "", Simple},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			task, d := ParseOverride(tt.in)
			if task != tt.task {
				t.Errorf("expected task %q, got %q", tt.task, task)
			}
			if tt.override == "" {
				if d != nil {
					t.Errorf("expected no override, got %+v", d)
				}
				return
			}
			if d == nil || d.Complexity != tt.override || !d.Override {
				t.Errorf("expected %s override, got %+v", tt.override, d)
			}
		})
	}
}

func TestHeuristic(t *testing.T) {
	tests := []struct {
		task string
		want Complexity
	}{
		{"Fix the footer copyright year", Simple},
		{"Add login with Google OAuth", Complex},
		{"Migrate the users table", Complex},
		{"Change the button color on the pricing page and also update the hero text and the footer links", Complex},
	}
	for _, tt := range tests {
		d, err := HeuristicClassifier{}.Classify(context.Background(), tt.task)
		if err != nil {
			t.Fatal(err)
		}
		if d.Complexity != tt.want {
			t.Errorf("%q: expected %s, got %s (%s)", tt.task, tt.want, d.Complexity, d.Reason)
		}
	}
}

func TestLLMClassifier(t *testing.T) {
	client := llmtest.New().On("You classify software tasks", llmtest.Reply{Text: `{"complexity":"simple","reason":"one endpoint"}`})
	c := NewLLMClassifier(client, llm.Params{Model: "claude-3-haiku-20240307"})

	d, err := c.Classify(context.Background(), "Add login with Google OAuth")
	if err != nil {
		t.Fatal(err)
	}
	if d.Complexity != Simple || d.Reason != "one endpoint" {
		t.Errorf("expected llm decision, got %+v", d)
	}
	if calls := client.Calls(); len(calls) != 1 || calls[0].MaxTokens != 200 {
		t.Errorf("expected one call with default max tokens, got %+v", calls)
	}
}

func TestLLMClassifierFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		reply llmtest.Reply
	}{
		{"service error", llmtest.Reply{Err: errors.New("connection refused")}},
		{"unknown label", llmtest.Reply{Text: `{"complexity":"medium"}`}},
		{"prose", llmtest.Reply{Text: "It's complicated"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := llmtest.New().On("You classify software tasks", tt.reply)
			d, err := NewLLMClassifier(client, llm.Params{}).Classify(context.Background(), "Add login with Google OAuth")
			if err != nil {
				t.Fatalf("expected fallback, got error %v", err)
			}
			if d.Complexity != Complex {
				t.Errorf("expected heuristic complex, got %s", d.Complexity)
			}
		})
	}
}

func TestNewSelectsClassifier(t *testing.T) {
	if _, ok := New(config.RouterConfig{UseLLM: true}, nil, llm.Params{}).(HeuristicClassifier); !ok {
		t.Error("expected heuristic without client")
	}
	if _, ok := New(config.RouterConfig{UseLLM: true}, llmtest.New(), llm.Params{}).(*LLMClassifier); !ok {
		t.Error("expected llm classifier")
	}
	if _, ok := New(config.RouterConfig{}, llmtest.New(), llm.Params{}).(HeuristicClassifier); !ok {
		t.Error("expected heuristic when use_llm is off")
	}
}
