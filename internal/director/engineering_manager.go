package director

import (
	"context"
	"fmt"
	"strings"

	"github.com/mtzanidakis/directorate/internal/document"
)

const engineeringManagerSystem = `You are the Engineering Manager of a software directorate. Your job is to:
1. Reconcile the business specifications with the technical architecture
2. Resolve conflicts and fill the gaps between them
3. Write specific, actionable prompts for a coding agent to implement the solution
4. Plan the execution and define quality gates

Only report conflicts that would change what gets built.
Respond with a single JSON object and nothing else.`

type engineeringManager struct{ base }

func (e *engineeringManager) Run(ctx context.Context, view document.View) (*Output, error) {
	var sb strings.Builder
	e.header(&sb, view)
	if po := view.ProductOwner(); po != nil {
		sb.WriteString("## Product Specifications\n\n")
		bullets(&sb, "Specifications", po.Specifications)
	}
	if se := view.StaffEngineer(); se != nil {
		sb.WriteString("## Technical Architecture\n\n")
		bullets(&sb, "Components", se.Architecture.Components)
		bullets(&sb, "Implementation phases", se.ImplementationPhases)
		bullets(&sb, "High risks", se.ComplexityAnalysis.HighRisk)
		if se.ComplexityAnalysis.EstimatedEffort != "" {
			fmt.Fprintf(&sb, "Estimated effort: %s\n\n", se.ComplexityAnalysis.EstimatedEffort)
		}
	}
	sb.WriteString(`## Instructions

1. COORDINATION: conflicts between specifications and architecture, and their resolutions
2. IMPLEMENTATION_PROMPTS: 3-5 prompts a coding agent can follow
3. EXECUTION_PLAN: a step-by-step execution plan
4. QUALITY_GATES: validation checkpoints
5. PRIORITY_ASSESSMENT: priority, business impact and timeline

Format as JSON:
{
  "coordination": {
    "conflicts_identified": ["Conflict 1"],
    "resolutions": ["Resolution 1"]
  },
  "implementation_prompts": ["Prompt 1: Create the database schema for..."],
  "execution_plan": ["Step 1: ..."],
  "quality_gates": ["Gate 1: ..."],
  "priority_assessment": {
    "priority_level": "high/medium/low",
    "business_impact": "Description",
    "recommended_timeline": "X weeks"
  }
}
`)

	var a document.EngineeringManagerAnalysis
	if err := e.complete(ctx, engineeringManagerSystem, sb.String(), &a); err != nil {
		return nil, err
	}
	analysis := document.Analysis{Kind: document.KindEngineeringManager, EngineeringManager: &a}
	if err := analysis.Validate(); err != nil {
		return nil, err
	}

	key := "implementation_ready"
	content := fmt.Sprintf("Implementation is ready: %d execution steps, %d implementation prompts.",
		len(a.ExecutionPlan), len(a.ImplementationPrompts))
	if a.HasConflicts() {
		key = "coordination_feedback"
		content = "Conflicts found:\n" + numbered(a.Coordination.ConflictsIdentified)
		if len(a.Coordination.Resolutions) > 0 {
			content += "\n\nProposed resolutions:\n" + numbered(a.Coordination.Resolutions)
		}
	}

	return &Output{
		Analysis: analysis,
		Messages: []Outgoing{
			{To: ProductOwner, Key: key, Content: content},
			{To: StaffEngineer, Key: key, Content: content},
		},
		Summary: fmt.Sprintf("%d steps, %d conflicts", len(a.ExecutionPlan), len(a.Coordination.ConflictsIdentified)),
	}, nil
}
