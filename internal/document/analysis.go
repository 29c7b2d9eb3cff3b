package document

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AnalysisKind names the director that produced an analysis.
type AnalysisKind string

const (
	KindProductOwner       AnalysisKind = "product_owner"
	KindStaffEngineer      AnalysisKind = "staff_engineer"
	KindEngineeringManager AnalysisKind = "engineering_manager"
)

// Analysis is a tagged variant: exactly one payload, matching Kind.
type Analysis struct {
	Kind               AnalysisKind                `json:"kind"`
	ProductOwner       *ProductOwnerAnalysis       `json:"product_owner,omitempty"`
	StaffEngineer      *StaffEngineerAnalysis      `json:"staff_engineer,omitempty"`
	EngineeringManager *EngineeringManagerAnalysis `json:"engineering_manager,omitempty"`
}

type ProductOwnerAnalysis struct {
	Questions       []string `json:"questions"`
	Assumptions     []string `json:"assumptions"`
	Specifications  []string `json:"specifications"`
	BusinessContext string   `json:"business_context"`
}

type Architecture struct {
	Components []string `json:"components"`
	DataFlow   string   `json:"data_flow"`
	APIs       []string `json:"apis"`
}

type ComplexityAnalysis struct {
	HighRisk        []string `json:"high_risk"`
	EstimatedEffort string   `json:"estimated_effort"`
	TechnicalDebt   []string `json:"technical_debt"`
}

type StaffEngineerAnalysis struct {
	TechnicalQuestions   []string           `json:"technical_questions"`
	Architecture         Architecture       `json:"architecture"`
	TechnologyDecisions  []string           `json:"technology_decisions"`
	ComplexityAnalysis   ComplexityAnalysis `json:"complexity_analysis"`
	ImplementationPhases []string           `json:"implementation_phases"`
	ScalabilityConcerns  []string           `json:"scalability_concerns"`
}

type Coordination struct {
	ConflictsIdentified []string `json:"conflicts_identified"`
	Resolutions         []string `json:"resolutions"`
}

type PriorityAssessment struct {
	PriorityLevel       string `json:"priority_level"`
	BusinessImpact      string `json:"business_impact"`
	RecommendedTimeline string `json:"recommended_timeline"`
}

type EngineeringManagerAnalysis struct {
	Coordination          Coordination       `json:"coordination"`
	ImplementationPrompts []string           `json:"implementation_prompts"`
	ExecutionPlan         []string           `json:"execution_plan"`
	QualityGates          []string           `json:"quality_gates"`
	PriorityAssessment    PriorityAssessment `json:"priority_assessment"`
}

// Validate checks the tag and the payload it selects.
func (a Analysis) Validate() error {
	n := 0
	if a.ProductOwner != nil {
		n++
	}
	if a.StaffEngineer != nil {
		n++
	}
	if a.EngineeringManager != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("%w: analysis %q has %d payloads", ErrSchema, a.Kind, n)
	}

	switch a.Kind {
	case KindProductOwner:
		if a.ProductOwner == nil {
			return fmt.Errorf("%w: analysis kind %q without matching payload", ErrSchema, a.Kind)
		}
		return a.ProductOwner.Validate()
	case KindStaffEngineer:
		if a.StaffEngineer == nil {
			return fmt.Errorf("%w: analysis kind %q without matching payload", ErrSchema, a.Kind)
		}
		return a.StaffEngineer.Validate()
	case KindEngineeringManager:
		if a.EngineeringManager == nil {
			return fmt.Errorf("%w: analysis kind %q without matching payload", ErrSchema, a.Kind)
		}
		return a.EngineeringManager.Validate()
	default:
		return fmt.Errorf("%w: unknown analysis kind %q", ErrSchema, a.Kind)
	}
}

func (p *ProductOwnerAnalysis) Validate() error {
	if len(nonBlank(p.Specifications)) == 0 {
		return fmt.Errorf("%w: product owner analysis has no specifications", ErrSchema)
	}
	return nil
}

func (s *StaffEngineerAnalysis) Validate() error {
	if len(nonBlank(s.Architecture.Components)) == 0 {
		return fmt.Errorf("%w: staff engineer analysis has no architecture components", ErrSchema)
	}
	if len(nonBlank(s.ImplementationPhases)) == 0 {
		return fmt.Errorf("%w: staff engineer analysis has no implementation phases", ErrSchema)
	}
	return nil
}

func (e *EngineeringManagerAnalysis) Validate() error {
	if len(nonBlank(e.ExecutionPlan)) == 0 {
		return fmt.Errorf("%w: engineering manager analysis has no execution plan", ErrSchema)
	}
	return nil
}

// HasConflicts reports whether the manager found conflicts worth feeding back.
func (e *EngineeringManagerAnalysis) HasConflicts() bool {
	return len(nonBlank(e.Coordination.ConflictsIdentified)) > 0
}

// UnmarshalJSON rejects analyses that do not validate, so a malformed
// document fails at load time instead of deep inside a run.
func (a *Analysis) UnmarshalJSON(data []byte) error {
	type plain Analysis
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if err := Analysis(p).Validate(); err != nil {
		return err
	}
	*a = Analysis(p)
	return nil
}

func nonBlank(items []string) []string {
	var out []string
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
