package director

import (
	"context"
	"fmt"
	"strings"

	"github.com/mtzanidakis/directorate/internal/document"
)

const productOwnerSystem = `You are the Product Owner of a software directorate. Your job is to:
1. Ask intelligent clarifying questions about the task
2. Analyze the business context and user needs
3. Write executable specifications, not user stories
4. Question assumptions and identify missing information

Other directors read your output, so be specific and technical.
Respond with a single JSON object and nothing else.`

type productOwner struct{ base }

func (p *productOwner) Run(ctx context.Context, view document.View) (*Output, error) {
	var sb strings.Builder
	p.header(&sb, view)
	sb.WriteString(`## Instructions

1. QUESTIONS: 5-7 questions you would ask the client to clarify this task
2. ASSUMPTIONS: the assumptions you are making about this feature
3. SPECIFICATIONS: 4-6 executable specifications
4. BUSINESS_CONTEXT: the business value this provides

Format your response as JSON:
{
  "questions": ["Question 1?", "Question 2?"],
  "assumptions": ["Assumption 1"],
  "specifications": ["Spec 1", "Spec 2"],
  "business_context": "Business value explanation"
}
`)

	var a document.ProductOwnerAnalysis
	if err := p.complete(ctx, productOwnerSystem, sb.String(), &a); err != nil {
		return nil, err
	}
	analysis := document.Analysis{Kind: document.KindProductOwner, ProductOwner: &a}
	if err := analysis.Validate(); err != nil {
		return nil, err
	}

	content := fmt.Sprintf("I've analyzed %q and produced %d specifications:\n%s",
		view.Task, len(a.Specifications), numbered(a.Specifications))
	if len(a.Questions) > 0 {
		content += "\n\nOpen client questions:\n" + numbered(a.Questions)
	}

	return &Output{
		Analysis: analysis,
		Messages: []Outgoing{{To: StaffEngineer, Key: "client_interrogation", Content: content}},
		Summary:  fmt.Sprintf("%d specifications, %d questions", len(a.Specifications), len(a.Questions)),
	}, nil
}
