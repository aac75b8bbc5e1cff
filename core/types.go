// Package core provides the foundational types shared across QuillFlow.
//
// This package contains:
//   - Canvas primitives: NodeType, Node, Edge, Position
//   - NodeAction, the structured graph mutation emitted by the AI planner
//   - Conversation types: Phase, AIMessage, InteractiveQuestion
//   - Test execution records mirrored between server and client
package core

import (
	"time"
)

// NodeType identifies the type of a canvas node.
// The node's Config shape depends on its type; the core treats Config as
// opaque data it mutates, not executes.
type NodeType string

const (
	NodeTypeInput        NodeType = "input"
	NodeTypeProcess      NodeType = "process"
	NodeTypeCode         NodeType = "code"
	NodeTypeOutput       NodeType = "output"
	NodeTypeCondition    NodeType = "condition"
	NodeTypeLoop         NodeType = "loop"
	NodeTypeHTTP         NodeType = "http"
	NodeTypeMerge        NodeType = "merge"
	NodeTypeNotification NodeType = "notification"
	NodeTypeImageGen     NodeType = "image_gen"
	NodeTypeSwitch       NodeType = "switch"
	NodeTypeTrigger      NodeType = "trigger"
	NodeTypeGroup        NodeType = "group"
	NodeTypeMCP          NodeType = "mcp"
)

// String returns the string representation of the NodeType.
func (t NodeType) String() string {
	return string(t)
}

// ParseNodeType converts a string to a NodeType.
func ParseNodeType(s string) NodeType {
	return NodeType(s)
}

// Position is a node's location on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a typed unit of work on the workflow canvas.
// Nodes inside a group carry the group's ID in ParentID.
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Name     string         `json:"name"`
	Position Position       `json:"position"`
	ParentID string         `json:"parentId,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// EdgeData carries structural metadata for an edge. When a group is
// collapsed, edges are re-pointed at the group node and OriginalTarget
// records the true child target for when the group is expanded again.
type EdgeData struct {
	OriginalTarget string `json:"_originalTarget,omitempty"`
}

// Edge is a directed connection from one node's output to another node's input.
type Edge struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Target       string    `json:"target"`
	SourceHandle string    `json:"sourceHandle,omitempty"`
	TargetHandle string    `json:"targetHandle,omitempty"`
	Data         *EdgeData `json:"data,omitempty"`
}

// ActionType discriminates the NodeAction union.
type ActionType string

const (
	ActionAdd     ActionType = "add"
	ActionUpdate  ActionType = "update"
	ActionDelete  ActionType = "delete"
	ActionConnect ActionType = "connect"
)

// NodeAction is a structured graph mutation emitted by the AI planner and
// replayed by the actions package. Source and Target on connect actions may
// be symbolic ("new_1") referring to the 1-indexed order of prior add
// actions within the same batch.
//
// NodeActions are ephemeral: produced by the planner, consumed once, never
// persisted as-is.
type NodeAction struct {
	Action ActionType `json:"action"`

	// add
	NodeType NodeType       `json:"nodeType,omitempty"`
	NodeName string         `json:"nodeName,omitempty"`
	Position *Position      `json:"position,omitempty"`
	Config   map[string]any `json:"config,omitempty"`

	// update / delete
	NodeID string `json:"nodeId,omitempty"`

	// connect
	Source       string `json:"source,omitempty"`
	Target       string `json:"target,omitempty"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Phase is the discriminator tag describing which stage of the guided
// authoring conversation is active. The server is authoritative: the client
// mirrors the phase carried by each response, with one exception — a locally
// observed graph mutation forces PhaseTesting (see the assistant package).
type Phase string

const (
	PhaseRequirementGathering     Phase = "requirement_gathering"
	PhaseRequirementClarification Phase = "requirement_clarification"
	PhaseWorkflowDesign           Phase = "workflow_design"
	PhaseWorkflowGeneration       Phase = "workflow_generation"
	PhaseTesting                  Phase = "testing"
	PhaseOptimization             Phase = "optimization"
	PhaseCompleted                Phase = "completed"

	// Response-discriminated sub-phases.
	PhaseTestingPending          Phase = "testing_pending"
	PhaseFixSuggestion           Phase = "fix_suggestion"
	PhaseRequirementConfirmation Phase = "requirement_confirmation"
	PhasePlanning                Phase = "planning"
	PhaseTestDataSelection       Phase = "test_data_selection"
	PhaseNodeSelection           Phase = "node_selection"
	PhaseNodeDiagnosis           Phase = "node_diagnosis"
	PhaseRequestNodeConfig       Phase = "request_node_config"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// FixStatus records the user's verdict on a suggested fix. It is the only
// in-place mutation performed on an appended AIMessage.
type FixStatus string

const (
	FixStatusApplied  FixStatus = "applied"
	FixStatusRejected FixStatus = "rejected"
)

// InteractiveQuestion is a structured question the planner asks the user
// during requirement clarification.
type InteractiveQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Multiple bool     `json:"multiple,omitempty"`
}

// AIMessage is one entry in the append-only conversation log.
type AIMessage struct {
	ID                   string                `json:"id"`
	Role                 string                `json:"role"`
	Content              string                `json:"content"`
	Phase                Phase                 `json:"phase,omitempty"`
	NodeActions          []NodeAction          `json:"nodeActions,omitempty"`
	TestResult           *TestExecution        `json:"testResult,omitempty"`
	InteractiveQuestions []InteractiveQuestion `json:"interactiveQuestions,omitempty"`
	FixStatus            FixStatus             `json:"fixStatus,omitempty"`
	CreatedAt            time.Time             `json:"createdAt"`
}

// NodeResult is the per-node outcome within a test execution.
type NodeResult struct {
	NodeID     string `json:"nodeId"`
	NodeName   string `json:"nodeName,omitempty"`
	Status     string `json:"status"` // "pending" | "running" | "success" | "failed" | "skipped"
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration,omitempty"`
	Tokens     int    `json:"tokens,omitempty"`
}

// Node result statuses.
const (
	NodeStatusPending = "pending"
	NodeStatusRunning = "running"
	NodeStatusSuccess = "success"
	NodeStatusFailed  = "failed"
	NodeStatusSkipped = "skipped"
)

// TestExecution is the server-owned record of one test run. The client only
// polls and mirrors it locally.
type TestExecution struct {
	ExecutionID string       `json:"executionId"`
	Status      string       `json:"status"` // "running" | "completed" | "failed"
	NodeResults []NodeResult `json:"nodeResults,omitempty"`
	Completed   bool         `json:"completed"`
	Success     bool         `json:"success"`
	Output      string       `json:"output,omitempty"`
	Error       string       `json:"error,omitempty"`
	DurationMs  int64        `json:"duration,omitempty"`
	TotalTokens int          `json:"totalTokens,omitempty"`
}

// Execution statuses.
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)
