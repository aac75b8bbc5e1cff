// Package planner turns conversation turns into structured workflow edits.
// It is the server side of the assistant chat endpoint: it prompts an LLM
// with the current canvas and conversation, and parses the model's JSON
// reply into a phase-tagged response carrying NodeActions.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quillflow/quillflow/canvas"
	"github.com/quillflow/quillflow/core"
	"github.com/quillflow/quillflow/registry"
)

// Turn is one prior conversation message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one planning round.
type Request struct {
	Message         string             `json:"message"`
	Model           string             `json:"model,omitempty"`
	WorkflowID      string             `json:"workflowId,omitempty"`
	WorkflowContext *canvas.Definition `json:"workflowContext,omitempty"`
	History         []Turn             `json:"history,omitempty"`
}

// Response is the phase-tagged planning result sent back to the client.
// Its JSON shape is the chat endpoint's wire contract.
type Response struct {
	Content              string                     `json:"content"`
	Phase                core.Phase                 `json:"phase,omitempty"`
	NodeActions          []core.NodeAction          `json:"nodeActions,omitempty"`
	InteractiveQuestions []core.InteractiveQuestion `json:"interactiveQuestions,omitempty"`
}

// Planner drives one LLM-backed planning round per request.
type Planner struct {
	client core.LLMClient
	model  string
	logger *slog.Logger
}

// New creates a Planner over the given LLM client and default model.
func New(client core.LLMClient, model string, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{client: client, model: model, logger: logger}
}

// responseSchema constrains the model to the wire shape of Response.
var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"content":     map[string]any{"type": "string"},
		"phase":       map[string]any{"type": "string"},
		"nodeActions": map[string]any{"type": "array"},
		"interactiveQuestions": map[string]any{
			"type": "array",
		},
	},
	"required": []any{"content"},
}

// Plan runs one planning round. A reply that is not valid JSON degrades to
// a content-only response; the state machine never sees a hard failure for
// malformed model output.
func (p *Planner) Plan(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]core.LLMMessage, 0, len(req.History))
	for _, turn := range req.History {
		messages = append(messages, core.LLMMessage{Role: turn.Role, Content: turn.Content})
	}

	llmResp, err := p.client.Complete(ctx, core.LLMRequest{
		Model:      model,
		System:     systemPrompt(),
		Messages:   messages,
		InputText:  userPrompt(req),
		JSONSchema: responseSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("planning round: %w", err)
	}

	resp := parseReply(llmResp)
	resp.NodeActions = p.filterActions(resp.NodeActions)
	return resp, nil
}

// Optimize runs one optimization round. The model is asked to critique the
// current workflow against the stated goal and propose concrete edits, using
// the same wire shape as Plan.
func (p *Planner) Optimize(ctx context.Context, req Request) (*Response, error) {
	req.Message = "Review the current workflow against this goal and propose concrete " +
		"node edits that move it closer. Goal:\n" + req.Message
	return p.Plan(ctx, req)
}

// parseReply decodes the model output, falling back to a content-only
// response when the JSON is malformed.
func parseReply(llmResp core.LLMResponse) *Response {
	payload := llmResp.Text
	if llmResp.JSON != nil {
		if data, err := json.Marshal(llmResp.JSON); err == nil {
			payload = string(data)
		}
	}

	var resp Response
	if err := json.Unmarshal([]byte(payload), &resp); err != nil || resp.Content == "" && len(resp.NodeActions) == 0 {
		return &Response{Content: llmResp.Text}
	}
	return &resp
}

// filterActions drops add actions whose node type is not registered.
// Everything else passes through untouched; endpoint resolution is the
// applier's concern.
func (p *Planner) filterActions(batch []core.NodeAction) []core.NodeAction {
	if len(batch) == 0 {
		return batch
	}
	reg := registry.Global()
	kept := batch[:0]
	for _, action := range batch {
		if action.Action == core.ActionAdd && !reg.Has(action.NodeType) {
			p.logger.Warn("dropping add action with unknown node type", "type", action.NodeType)
			continue
		}
		kept = append(kept, action)
	}
	return kept
}

func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a workflow authoring assistant. You help the user build a ")
	b.WriteString("workflow of typed nodes connected by edges.\n\n")
	b.WriteString("Reply with a single JSON object: {\"content\": string, \"phase\": string, ")
	b.WriteString("\"nodeActions\": [...], \"interactiveQuestions\": [...]}.\n")
	b.WriteString("Node actions are one of:\n")
	b.WriteString(`  {"action":"add","nodeType":"...","nodeName":"...","config":{...}}` + "\n")
	b.WriteString(`  {"action":"update","nodeId":"...","config":{...}}` + "\n")
	b.WriteString(`  {"action":"delete","nodeId":"..."}` + "\n")
	b.WriteString(`  {"action":"connect","source":"...","target":"..."}` + "\n")
	b.WriteString("In connect actions, \"new_N\" refers to the Nth add action of this reply (1-indexed).\n")
	b.WriteString("Available node types:\n")
	for _, def := range registry.Global().All() {
		fmt.Fprintf(&b, "  - %s: %s\n", def.Type, def.Description)
	}
	b.WriteString("\nUpstream values are referenced as {{NodeName.field}} or {{NodeName}} templates.")
	return b.String()
}

func userPrompt(req Request) string {
	var b strings.Builder
	if req.WorkflowContext != nil {
		if data, err := json.Marshal(req.WorkflowContext); err == nil {
			b.WriteString("Current workflow:\n")
			b.Write(data)
			b.WriteString("\n\n")
		}
	}
	b.WriteString(req.Message)
	return b.String()
}
