package runner

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/quillflow/quillflow/canvas"
	"github.com/quillflow/quillflow/core"
)

// echoLLM answers every completion with a fixed prefix plus the prompt, so
// tests can assert that templates were resolved before the call.
type echoLLM struct {
	mu       sync.Mutex
	requests []core.LLMRequest
}

func (e *echoLLM) Complete(_ context.Context, req core.LLMRequest) (core.LLMResponse, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	return core.LLMResponse{
		Text:  "echo: " + req.InputText,
		Usage: core.LLMTokenUsage{TotalTokens: 7},
	}, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (c *capturePublisher) Publish(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *capturePublisher) kinds() []EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventKind, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Kind)
	}
	return out
}

func linearDef() *canvas.Definition {
	return &canvas.Definition{
		Name: "demo",
		Nodes: []core.Node{
			{ID: "in", Type: core.NodeTypeInput, Name: "Seed", Config: map[string]any{
				"fields": []any{map[string]any{"name": "topic", "default": "weather"}},
			}},
			{ID: "proc", Type: core.NodeTypeProcess, Name: "Draft", Config: map[string]any{
				"userPrompt": "Write about {{Seed.topic}}",
			}},
			{ID: "out", Type: core.NodeTypeOutput, Name: "Result"},
		},
		Edges: []core.Edge{
			{Source: "in", Target: "proc"},
			{Source: "proc", Target: "out"},
		},
	}
}

func TestRunLinearWorkflow(t *testing.T) {
	llm := &echoLLM{}
	pub := &capturePublisher{}
	r := New(llm, pub, nil)

	exec, err := r.Run(context.Background(), "exec-1", linearDef(), Options{
		Inputs: map[string]any{"topic": "solar flares"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if exec.Status != core.ExecutionStatusCompleted || !exec.Success {
		t.Fatalf("status = %q success = %v, error = %q", exec.Status, exec.Success, exec.Error)
	}
	if len(exec.NodeResults) != 3 {
		t.Fatalf("node results = %d, want 3", len(exec.NodeResults))
	}
	for _, nr := range exec.NodeResults {
		if nr.Status != core.NodeStatusSuccess {
			t.Errorf("node %s status = %q", nr.NodeID, nr.Status)
		}
	}
	if exec.TotalTokens != 7 {
		t.Errorf("tokens = %d, want 7", exec.TotalTokens)
	}

	// Seeded input reaches the process prompt through the template.
	if len(llm.requests) != 1 {
		t.Fatalf("llm calls = %d, want 1", len(llm.requests))
	}
	if got := llm.requests[0].InputText; got != "Write about solar flares" {
		t.Errorf("prompt = %q", got)
	}

	// Output node passes the single upstream value through.
	if !strings.Contains(exec.Output, "echo: Write about solar flares") {
		t.Errorf("output = %q", exec.Output)
	}

	wantKinds := []EventKind{
		EventExecutionStarted,
		EventNodeStarted, EventNodeFinished,
		EventNodeStarted, EventNodeFinished,
		EventNodeStarted, EventNodeFinished,
		EventExecutionFinished,
	}
	gotKinds := pub.kinds()
	if len(gotKinds) != len(wantKinds) {
		t.Fatalf("event kinds = %v, want %v", gotKinds, wantKinds)
	}
	for i := range wantKinds {
		if gotKinds[i] != wantKinds[i] {
			t.Errorf("event[%d] = %q, want %q", i, gotKinds[i], wantKinds[i])
		}
	}
	for i, e := range pub.events {
		if e.Seq != uint64(i+1) {
			t.Errorf("event[%d].Seq = %d, want %d", i, e.Seq, i+1)
		}
	}
}

func TestRunInputDefaultsApply(t *testing.T) {
	llm := &echoLLM{}
	r := New(llm, nil, nil)

	exec, err := r.Run(context.Background(), "exec-2", linearDef(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !exec.Success {
		t.Fatalf("execution failed: %s", exec.Error)
	}
	if got := llm.requests[0].InputText; got != "Write about weather" {
		t.Errorf("prompt = %q, want configured default", got)
	}
}

func TestRunEmptyCanvasFailsOnRecord(t *testing.T) {
	r := New(nil, nil, nil)

	exec, err := r.Run(context.Background(), "exec-3", &canvas.Definition{}, Options{})
	if err != nil {
		t.Fatalf("empty canvas must fail on the record, not the error return: %v", err)
	}
	if exec.Status != core.ExecutionStatusFailed || exec.Success {
		t.Errorf("status = %q success = %v", exec.Status, exec.Success)
	}
	if !strings.Contains(exec.Error, "no nodes") {
		t.Errorf("error = %q", exec.Error)
	}
}

func TestRunProcessWithoutProviderFails(t *testing.T) {
	r := New(nil, nil, nil)

	exec, err := r.Run(context.Background(), "exec-4", linearDef(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != core.ExecutionStatusFailed {
		t.Fatalf("status = %q, want failed", exec.Status)
	}
	if !strings.Contains(exec.Error, "no LLM provider configured") {
		t.Errorf("error = %q", exec.Error)
	}

	// The input node succeeded before the process node failed.
	if len(exec.NodeResults) != 2 {
		t.Fatalf("node results = %+v", exec.NodeResults)
	}
	if exec.NodeResults[0].Status != core.NodeStatusSuccess {
		t.Errorf("input node status = %q", exec.NodeResults[0].Status)
	}
	if exec.NodeResults[1].Status != core.NodeStatusFailed || exec.NodeResults[1].Error == "" {
		t.Errorf("process node result = %+v", exec.NodeResults[1])
	}
}

func TestRunSkipsUnexecutableNodeTypes(t *testing.T) {
	def := &canvas.Definition{
		Nodes: []core.Node{
			{ID: "in", Type: core.NodeTypeInput, Name: "Seed"},
			{ID: "code", Type: core.NodeTypeCode, Name: "Script"},
			{ID: "out", Type: core.NodeTypeOutput, Name: "Result"},
		},
		Edges: []core.Edge{
			{Source: "in", Target: "code"},
			{Source: "code", Target: "out"},
		},
	}
	r := New(nil, nil, nil)

	exec, err := r.Run(context.Background(), "exec-5", def, Options{Inputs: map[string]any{"x": "1"}})
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != core.ExecutionStatusCompleted {
		t.Fatalf("status = %q, error = %q", exec.Status, exec.Error)
	}

	var skipped bool
	for _, nr := range exec.NodeResults {
		if nr.NodeID == "code" && nr.Status == core.NodeStatusSkipped {
			skipped = true
		}
	}
	if !skipped {
		t.Errorf("code node not skipped: %+v", exec.NodeResults)
	}
}

func TestRunCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(nil, nil, nil)

	_, err := r.Run(ctx, "exec-6", linearDef(), Options{})
	if err == nil || !strings.Contains(err.Error(), "canceled") {
		t.Fatalf("err = %v, want cancellation", err)
	}
}

func TestExecuteConditionTruthiness(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"true", true},
		{"yes", true},
		{"1", true},
		{"false", false},
		{"FALSE", false},
		{"0", false},
		{"", false},
		{"  ", false},
	}
	for _, tt := range tests {
		node := &core.Node{ID: "c", Type: core.NodeTypeCondition, Config: map[string]any{"expression": tt.expr}}
		out := executeCondition(node, nil)
		if out["result"] != tt.want {
			t.Errorf("expression %q = %v, want %v", tt.expr, out["result"], tt.want)
		}
	}
}

func TestRunMergeNodeCombinesUpstream(t *testing.T) {
	def := &canvas.Definition{
		Nodes: []core.Node{
			{ID: "a", Type: core.NodeTypeInput, Name: "Left"},
			{ID: "b", Type: core.NodeTypeInput, Name: "Right"},
			{ID: "m", Type: core.NodeTypeMerge, Name: "Join"},
		},
		Edges: []core.Edge{
			{Source: "a", Target: "m"},
			{Source: "b", Target: "m"},
		},
	}
	r := New(nil, nil, nil)

	exec, err := r.Run(context.Background(), "exec-7", def, Options{Inputs: map[string]any{"v": "x"}})
	if err != nil {
		t.Fatal(err)
	}
	if exec.Status != core.ExecutionStatusCompleted {
		t.Fatalf("status = %q, error = %q", exec.Status, exec.Error)
	}
	// Merge output is keyed by upstream node name.
	if !strings.Contains(exec.Output, `"Left"`) || !strings.Contains(exec.Output, `"Right"`) {
		t.Errorf("merge output = %q", exec.Output)
	}
}

func TestRunModelOverride(t *testing.T) {
	llm := &echoLLM{}
	r := New(llm, nil, nil)

	_, err := r.Run(context.Background(), "exec-8", linearDef(), Options{Model: "override-model"})
	if err != nil {
		t.Fatal(err)
	}
	if got := llm.requests[0].Model; got != "override-model" {
		t.Errorf("model = %q, want override", got)
	}
}
