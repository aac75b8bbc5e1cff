package assistant

import (
	"encoding/json"

	"github.com/quillflow/quillflow/core"
)

// ChatResponse is the chat endpoint's payload. The Phase field
// discriminates how the rest of the payload is interpreted.
type ChatResponse struct {
	Content                 string                      `json:"content"`
	Phase                   core.Phase                  `json:"phase,omitempty"`
	NodeActions             []core.NodeAction           `json:"nodeActions,omitempty"`
	TestResult              *core.TestExecution         `json:"testResult,omitempty"`
	InteractiveQuestions    []core.InteractiveQuestion  `json:"interactiveQuestions,omitempty"`
	RequirementConfirmation *RequirementConfirmation    `json:"requirementConfirmation,omitempty"`
	Diagnosis               *NodeDiagnosis              `json:"diagnosis,omitempty"`
	LayoutPreview           json.RawMessage             `json:"layoutPreview,omitempty"`
	Optimization            *OptimizationState          `json:"optimization,omitempty"`
}

// RequirementConfirmation summarizes gathered requirements for sign-off.
type RequirementConfirmation struct {
	Summary      string   `json:"summary"`
	Requirements []string `json:"requirements,omitempty"`
}

// NodeDiagnosis is the planner's analysis of a failing node.
type NodeDiagnosis struct {
	NodeID     string            `json:"nodeId"`
	Problem    string            `json:"problem"`
	Suggestion string            `json:"suggestion,omitempty"`
	FixActions []core.NodeAction `json:"fixActions,omitempty"`
}

// OptimizationState is the planner's opaque auto-optimization progress.
// Iteration limits and goal detection are supplied by the planner and not
// validated locally.
type OptimizationState struct {
	Iteration int    `json:"iteration"`
	IsGoalMet bool   `json:"isGoalMet"`
	Goal      string `json:"goal,omitempty"`
}

// ResponseVariant is the closed set of response shapes the orchestrator
// dispatches on. Every response maps to exactly one variant; anything that
// carries no recognized phase degrades to VariantMessage so a malformed
// response can never crash the state machine.
type ResponseVariant int

const (
	// VariantMessage is a plain content-only reply.
	VariantMessage ResponseVariant = iota
	// VariantPlan carries node actions to replay against the canvas.
	VariantPlan
	// VariantTestingPending tells the client to start the poll loop.
	VariantTestingPending
	// VariantFixSuggestion proposes actions awaiting user confirmation.
	VariantFixSuggestion
	// VariantRequirementConfirmation asks the user to sign off a summary.
	VariantRequirementConfirmation
	// VariantInteractive carries clarifying questions.
	VariantInteractive
	// VariantNodeDiagnosis carries a failing-node analysis.
	VariantNodeDiagnosis
	// VariantRequestNodeConfig pauses for confirmation before a deeper
	// diagnostic call that would upload node configuration.
	VariantRequestNodeConfig
)

// Variant maps the response's phase tag onto the closed variant set.
func (r *ChatResponse) Variant() ResponseVariant {
	switch r.Phase {
	case core.PhasePlanning, core.PhaseWorkflowGeneration:
		if len(r.NodeActions) > 0 {
			return VariantPlan
		}
		return VariantMessage
	case core.PhaseTestingPending:
		return VariantTestingPending
	case core.PhaseFixSuggestion:
		return VariantFixSuggestion
	case core.PhaseRequirementConfirmation:
		return VariantRequirementConfirmation
	case core.PhaseRequirementClarification, core.PhaseTestDataSelection, core.PhaseNodeSelection:
		if len(r.InteractiveQuestions) > 0 {
			return VariantInteractive
		}
		return VariantMessage
	case core.PhaseNodeDiagnosis:
		if r.Diagnosis != nil {
			return VariantNodeDiagnosis
		}
		return VariantMessage
	case core.PhaseRequestNodeConfig:
		return VariantRequestNodeConfig
	default:
		// Unrecognized or absent phase: degrade to a generic message
		// rather than crash the state machine.
		if len(r.NodeActions) > 0 {
			return VariantPlan
		}
		return VariantMessage
	}
}
