// Package director implements the three software directors. Each one turns
// its view of the run into one completion and a typed analysis.
package director

import (
	"context"
	"fmt"
	"strings"

	"github.com/mtzanidakis/directorate/internal/document"
	"github.com/mtzanidakis/directorate/internal/llm"
)

const (
	ProductOwner       = string(document.KindProductOwner)
	StaffEngineer      = string(document.KindStaffEngineer)
	EngineeringManager = string(document.KindEngineeringManager)
)

// Outgoing is a message a director wants delivered after its step.
type Outgoing struct {
	To      string
	Key     string
	Content string
}

type Output struct {
	Analysis document.Analysis
	Messages []Outgoing
	Summary  string
}

type Director interface {
	Name() string
	Run(ctx context.Context, view document.View) (*Output, error)
}

// ParamResolver supplies model parameters per director.
type ParamResolver interface {
	Resolve(name string) llm.Params
}

// Factory builds the director for a name.
type Factory func(name string) (Director, error)

// NewFactory returns a Factory whose directors call client with the
// parameters resolved for them at construction time.
func NewFactory(client llm.Client, params ParamResolver, stack string) Factory {
	return func(name string) (Director, error) {
		return New(name, client, params.Resolve(name), stack)
	}
}

func New(name string, client llm.Client, params llm.Params, stack string) (Director, error) {
	b := base{name: name, client: client, params: params, stack: stack}
	switch name {
	case ProductOwner:
		return &productOwner{b}, nil
	case StaffEngineer:
		return &staffEngineer{b}, nil
	case EngineeringManager:
		return &engineeringManager{b}, nil
	default:
		return nil, fmt.Errorf("unknown director %q", name)
	}
}

type base struct {
	name   string
	client llm.Client
	params llm.Params
	stack  string
}

func (b base) Name() string { return b.name }

// complete makes the single completion for a step and decodes the JSON
// payload into v.
func (b base) complete(ctx context.Context, system, prompt string, v any) error {
	resp, err := b.client.Complete(ctx, llm.Request{
		System: system,
		Prompt: prompt,
		Params: b.params,
	})
	if err != nil {
		return fmt.Errorf("%s completion: %w", b.name, err)
	}
	if err := llm.DecodeJSON(resp.Text, v); err != nil {
		return fmt.Errorf("%s output: %w", b.name, err)
	}
	return nil
}

// header writes the task, stack and inbox sections shared by every prompt.
func (b base) header(sb *strings.Builder, view document.View) {
	sb.WriteString("## Client Task\n\n")
	sb.WriteString(view.Task)
	sb.WriteString("\n\n")
	if b.stack != "" {
		fmt.Fprintf(sb, "Stack: %s\n\n", b.stack)
	}
	if len(view.Inbox) > 0 {
		sb.WriteString("## Messages from Other Directors\n\n")
		for _, m := range view.Inbox {
			fmt.Fprintf(sb, "- %s (%s): %s\n", m.From, m.Key, m.Content)
		}
		sb.WriteString("\n")
	}
}

func bullets(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(sb, "- %s\n", it)
	}
	sb.WriteString("\n")
}

func numbered(items []string) string {
	var sb strings.Builder
	for i, it := range items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, it)
	}
	return strings.TrimRight(sb.String(), "\n")
}
