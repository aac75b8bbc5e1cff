package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/quillflow/quillflow/canvas"
	"github.com/quillflow/quillflow/core"
)

type fakeLLM struct {
	resp    core.LLMResponse
	err     error
	lastReq core.LLMRequest
}

func (f *fakeLLM) Complete(_ context.Context, req core.LLMRequest) (core.LLMResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func TestPlanParsesStructuredReply(t *testing.T) {
	llm := &fakeLLM{resp: core.LLMResponse{
		Text: `{"content":"Adding two nodes","phase":"workflow_generation",` +
			`"nodeActions":[{"action":"add","nodeType":"input","nodeName":"Seed"},` +
			`{"action":"connect","source":"new_1","target":"new_2"}]}`,
	}}
	p := New(llm, "test-model", nil)

	resp, err := p.Plan(context.Background(), Request{Message: "build it"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Adding two nodes" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Phase != core.PhaseWorkflowGeneration {
		t.Errorf("phase = %q", resp.Phase)
	}
	if len(resp.NodeActions) != 2 {
		t.Fatalf("actions = %d, want 2", len(resp.NodeActions))
	}
}

func TestPlanMalformedReplyDegradesToContent(t *testing.T) {
	llm := &fakeLLM{resp: core.LLMResponse{Text: "I could not produce JSON this time."}}
	p := New(llm, "test-model", nil)

	resp, err := p.Plan(context.Background(), Request{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "I could not produce JSON this time." {
		t.Errorf("content = %q, want raw text", resp.Content)
	}
	if len(resp.NodeActions) != 0 {
		t.Errorf("actions = %v, want none", resp.NodeActions)
	}
}

func TestPlanPrefersParsedJSONPayload(t *testing.T) {
	llm := &fakeLLM{resp: core.LLMResponse{
		Text: "garbage",
		JSON: map[string]any{"content": "from structured output"},
	}}
	p := New(llm, "test-model", nil)

	resp, err := p.Plan(context.Background(), Request{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "from structured output" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestPlanFiltersUnknownAddTypes(t *testing.T) {
	llm := &fakeLLM{resp: core.LLMResponse{
		Text: `{"content":"ok","nodeActions":[` +
			`{"action":"add","nodeType":"quantum","nodeName":"Q"},` +
			`{"action":"add","nodeType":"process","nodeName":"P"},` +
			`{"action":"update","nodeId":"x","nodeType":"quantum"}]}`,
	}}
	p := New(llm, "test-model", nil)

	resp, err := p.Plan(context.Background(), Request{Message: "go"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.NodeActions) != 2 {
		t.Fatalf("actions = %+v, want unknown-type add dropped only", resp.NodeActions)
	}
	if resp.NodeActions[0].NodeType != core.NodeTypeProcess {
		t.Errorf("first surviving action = %+v", resp.NodeActions[0])
	}
	if resp.NodeActions[1].Action != core.ActionUpdate {
		t.Errorf("non-add actions must pass through: %+v", resp.NodeActions[1])
	}
}

func TestPlanErrorPropagates(t *testing.T) {
	llm := &fakeLLM{err: errors.New("rate limited")}
	p := New(llm, "test-model", nil)

	if _, err := p.Plan(context.Background(), Request{Message: "go"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestPlanBuildsPromptFromContext(t *testing.T) {
	llm := &fakeLLM{resp: core.LLMResponse{Text: `{"content":"ok"}`}}
	p := New(llm, "default-model", nil)

	_, err := p.Plan(context.Background(), Request{
		Message: "add a summarizer",
		Model:   "override-model",
		WorkflowContext: &canvas.Definition{
			Nodes: []core.Node{{ID: "n1", Type: core.NodeTypeInput, Name: "Seed"}},
		},
		History: []Turn{
			{Role: "user", Content: "earlier question"},
			{Role: "assistant", Content: "earlier answer"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if llm.lastReq.Model != "override-model" {
		t.Errorf("model = %q, want request override", llm.lastReq.Model)
	}
	if len(llm.lastReq.Messages) != 2 {
		t.Errorf("messages = %d, want history forwarded", len(llm.lastReq.Messages))
	}
	if !strings.Contains(llm.lastReq.InputText, "add a summarizer") {
		t.Errorf("input text missing user message: %q", llm.lastReq.InputText)
	}
	if !strings.Contains(llm.lastReq.InputText, `"Seed"`) {
		t.Errorf("input text missing workflow context: %q", llm.lastReq.InputText)
	}
	if !strings.Contains(llm.lastReq.System, "new_N") {
		t.Errorf("system prompt missing alias rule")
	}
}

func TestOptimizeWrapsGoal(t *testing.T) {
	llm := &fakeLLM{resp: core.LLMResponse{Text: `{"content":"ok"}`}}
	p := New(llm, "m", nil)

	_, err := p.Optimize(context.Background(), Request{Message: "make it cheaper"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(llm.lastReq.InputText, "make it cheaper") {
		t.Errorf("goal missing from prompt: %q", llm.lastReq.InputText)
	}
	if !strings.Contains(llm.lastReq.InputText, "Review the current workflow") {
		t.Errorf("optimize framing missing: %q", llm.lastReq.InputText)
	}
}
