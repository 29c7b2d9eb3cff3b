// Package router decides whether a task is simple or complex, which selects
// the branch of the pipeline that runs after the product owner.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/directorate/internal/config"
	"github.com/mtzanidakis/directorate/internal/llm"
)

type Complexity string

const (
	Simple  Complexity = "simple"
	Complex Complexity = "complex"
)

func (c Complexity) Valid() bool {
	return c == Simple || c == Complex
}

type Decision struct {
	Complexity Complexity `json:"complexity"`
	Reason     string     `json:"reason"`
	Override   bool       `json:"-"`
}

type Classifier interface {
	Classify(ctx context.Context, task string) (Decision, error)
}

// New returns the classifier selected by cfg. The LLM classifier is used only
// when enabled and a client is available.
func New(cfg config.RouterConfig, client llm.Client, params llm.Params) Classifier {
	if cfg.UseLLM && client != nil {
		return NewLLMClassifier(client, params)
	}
	return HeuristicClassifier{}
}

// ParseOverride strips a leading "@simple " or "@complex " from task and
// returns the forced decision, if any.
func ParseOverride(task string) (string, *Decision) {
	trimmed := strings.TrimSpace(task)
	if !strings.HasPrefix(trimmed, "@") {
		return task, nil
	}
	parts := strings.SplitN(trimmed, " ", 2)
	c := Complexity(strings.ToLower(strings.TrimPrefix(parts[0], "@")))
	if !c.Valid() {
		// Unknown prefix stays part of the task
		return task, nil
	}
	cleaned := ""
	if len(parts) > 1 {
		cleaned = strings.TrimSpace(parts[1])
	}
	return cleaned, Forced(c)
}

// Forced returns the decision for a complexity named by a task prefix.
func Forced(c Complexity) *Decision {
	return &Decision{Complexity: c, Reason: "forced by @" + string(c) + " prefix", Override: true}
}

// LLMClassifier asks the reasoning service for a label and falls back to the
// heuristic when the call fails or the answer is unusable.
type LLMClassifier struct {
	client   llm.Client
	params   llm.Params
	fallback Classifier
}

func NewLLMClassifier(client llm.Client, params llm.Params) *LLMClassifier {
	if params.MaxTokens == 0 {
		params.MaxTokens = 200
	}
	return &LLMClassifier{client: client, params: params, fallback: HeuristicClassifier{}}
}

const classifierSystem = `You classify software tasks for a team of directors.

A task is "simple" when it is a small, well-understood change that needs no new
architecture: copy changes, a single endpoint, a config flag, a small UI tweak.

A task is "complex" when it touches several components, introduces new
infrastructure or third-party integrations, changes data models, or carries
security, scaling or migration risk.

Respond with only a JSON object: {"complexity": "simple" or "complex", "reason": "one sentence"}`

func (c *LLMClassifier) Classify(ctx context.Context, task string) (Decision, error) {
	resp, err := c.client.Complete(ctx, llm.Request{
		System: classifierSystem,
		Prompt: fmt.Sprintf("Task: %s", task),
		Params: c.params,
	})
	if err != nil {
		slog.Debug("classifier call failed, using heuristic", "error", err)
		return c.fallback.Classify(ctx, task)
	}

	var d Decision
	if err := llm.DecodeJSON(resp.Text, &d); err != nil || !d.Complexity.Valid() {
		slog.Debug("classifier returned unusable label, using heuristic", "text", resp.Text)
		return c.fallback.Classify(ctx, task)
	}
	return d, nil
}

// HeuristicClassifier labels a task complex when it is long or mentions
// integration, data or infrastructure work.
type HeuristicClassifier struct{}

const maxSimpleWords = 12

var complexKeywords = []string{
	"architecture", "integrat", "migrat", "scal", "distributed", "microservice",
	"oauth", "sso", "payment", "billing", "security", "encrypt", "real-time",
	"realtime", "queue", "database", "schema", "multi-tenant", "third-party",
}

func (HeuristicClassifier) Classify(_ context.Context, task string) (Decision, error) {
	lower := strings.ToLower(task)
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return Decision{Complexity: Complex, Reason: fmt.Sprintf("mentions %q", kw)}, nil
		}
	}
	if n := len(strings.Fields(task)); n > maxSimpleWords {
		return Decision{Complexity: Complex, Reason: fmt.Sprintf("%d words", n)}, nil
	}
	return Decision{Complexity: Simple, Reason: "short task without integration keywords"}, nil
}
