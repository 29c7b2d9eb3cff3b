package director

import (
	"context"
	"fmt"
	"strings"

	"github.com/mtzanidakis/directorate/internal/document"
)

const staffEngineerSystem = `You are the Staff Engineer of a software directorate. Your job is to:
1. Question the specifications you receive from a technical perspective
2. Identify missing technical requirements and edge cases
3. Define the system architecture and technology choices
4. Estimate complexity and technical risks

Be direct and technical. Focus on architecture, scalability and implementation details.
Respond with a single JSON object and nothing else.`

type staffEngineer struct{ base }

func (s *staffEngineer) Run(ctx context.Context, view document.View) (*Output, error) {
	var sb strings.Builder
	s.header(&sb, view)
	if po := view.ProductOwner(); po != nil {
		sb.WriteString("## Product Specifications\n\n")
		bullets(&sb, "Specifications", po.Specifications)
		bullets(&sb, "Assumptions", po.Assumptions)
		if po.BusinessContext != "" {
			fmt.Fprintf(&sb, "Business context: %s\n\n", po.BusinessContext)
		}
	}
	sb.WriteString(`## Instructions

1. TECHNICAL_QUESTIONS: 5-7 technical questions about the specifications
2. ARCHITECTURE: components, data flow and APIs
3. TECHNOLOGY_DECISIONS: technology choices with justification
4. COMPLEXITY_ANALYSIS: risks, effort and technical debt
5. IMPLEMENTATION_PHASES: technical implementation phases
6. SCALABILITY_CONCERNS: performance and scaling considerations

Format as JSON:
{
  "technical_questions": ["Technical question 1?"],
  "architecture": {
    "components": ["Component 1"],
    "data_flow": "Description of data flow",
    "apis": ["API 1"]
  },
  "technology_decisions": ["Decision 1: Justification"],
  "complexity_analysis": {
    "high_risk": ["Risk 1"],
    "estimated_effort": "X weeks",
    "technical_debt": ["Debt 1"]
  },
  "implementation_phases": ["Phase 1: Description"],
  "scalability_concerns": ["Concern 1"]
}
`)

	var a document.StaffEngineerAnalysis
	if err := s.complete(ctx, staffEngineerSystem, sb.String(), &a); err != nil {
		return nil, err
	}
	analysis := document.Analysis{Kind: document.KindStaffEngineer, StaffEngineer: &a}
	if err := analysis.Validate(); err != nil {
		return nil, err
	}

	var msgs []Outgoing
	if len(a.TechnicalQuestions) > 0 {
		msgs = append(msgs, Outgoing{
			To:      ProductOwner,
			Key:     "technical_questions",
			Content: "Technical questions on the specifications:\n" + numbered(a.TechnicalQuestions),
		})
	}
	msgs = append(msgs, Outgoing{
		To:  EngineeringManager,
		Key: "architecture_ready",
		Content: fmt.Sprintf("Architecture for %q is defined with %d implementation phases:\n%s",
			view.Task, len(a.ImplementationPhases), numbered(a.ImplementationPhases)),
	})

	summary := fmt.Sprintf("%d components, %d phases", len(a.Architecture.Components), len(a.ImplementationPhases))
	if a.ComplexityAnalysis.EstimatedEffort != "" {
		summary += ", effort " + a.ComplexityAnalysis.EstimatedEffort
	}
	return &Output{Analysis: analysis, Messages: msgs, Summary: summary}, nil
}
