package actions

import (
	"context"
	"testing"
	"time"

	"github.com/quillflow/quillflow/canvas"
	"github.com/quillflow/quillflow/core"
)

func newTestApplier(c *canvas.Canvas) *Applier {
	n := 0
	return New(c,
		WithClock(func() time.Time { return time.UnixMilli(1700000000000) }),
		WithSuffix(func() string {
			n++
			return string(rune('a' + n - 1))
		}),
	)
}

func TestApplyAddAndConnect(t *testing.T) {
	c := canvas.New()
	a := newTestApplier(c)

	result := a.Apply(context.Background(), []core.NodeAction{
		{Action: core.ActionAdd, NodeType: core.NodeTypeInput, NodeName: "Seed"},
		{Action: core.ActionAdd, NodeType: core.NodeTypeProcess, NodeName: "Draft"},
		{Action: core.ActionConnect, Source: "new_1", Target: "new_2"},
	})

	if c.NodeCount() != 2 {
		t.Fatalf("node count = %d, want 2", c.NodeCount())
	}
	if len(c.Edges()) != 1 {
		t.Fatalf("edge count = %d, want 1", len(c.Edges()))
	}
	if !result.GraphChanged {
		t.Errorf("GraphChanged = false, want true")
	}

	// Symbolic aliases are 1-indexed in add order.
	first, second := result.Aliases["new_1"], result.Aliases["new_2"]
	if first == "" || second == "" {
		t.Fatalf("aliases missing: %v", result.Aliases)
	}
	edge := c.Edges()[0]
	if edge.Source != first || edge.Target != second {
		t.Errorf("edge = %s -> %s, want %s -> %s", edge.Source, edge.Target, first, second)
	}
}

func TestApplyConnectUnresolvedEndpointSkipsSilently(t *testing.T) {
	c := canvas.New()
	if err := c.AddNode(&core.Node{ID: "a", Type: core.NodeTypeInput, Name: "A"}); err != nil {
		t.Fatal(err)
	}
	a := newTestApplier(c)

	result := a.Apply(context.Background(), []core.NodeAction{
		{Action: core.ActionConnect, Source: "a", Target: "ghost"},
		{Action: core.ActionConnect, Source: "new_1", Target: "a"},
	})

	if len(c.Edges()) != 0 {
		t.Fatalf("edge count = %d, want 0", len(c.Edges()))
	}
	for _, outcome := range result.Outcomes {
		if !outcome.Skipped {
			t.Errorf("outcome %+v not marked skipped", outcome)
		}
		if outcome.Error != "" {
			t.Errorf("skip should not carry an error, got %q", outcome.Error)
		}
	}
	if result.GraphChanged {
		t.Errorf("connect-only batch must not set GraphChanged")
	}
}

func TestApplyUpdateMergesConfig(t *testing.T) {
	c := canvas.New()
	if err := c.AddNode(&core.Node{
		ID: "p", Type: core.NodeTypeProcess, Name: "Draft",
		Config: map[string]any{"model": "claude", "temperature": 0.7},
	}); err != nil {
		t.Fatal(err)
	}
	a := newTestApplier(c)

	result := a.Apply(context.Background(), []core.NodeAction{
		{Action: core.ActionUpdate, NodeID: "p", NodeName: "Drafter", Config: map[string]any{"model": "gpt-4o"}},
	})

	node, _ := c.NodeByID("p")
	if node.Name != "Drafter" {
		t.Errorf("name = %q, want %q", node.Name, "Drafter")
	}
	if node.Config["model"] != "gpt-4o" {
		t.Errorf("model = %v, want gpt-4o", node.Config["model"])
	}
	if node.Config["temperature"] != 0.7 {
		t.Errorf("unspecified key temperature lost: %v", node.Config)
	}
	if !result.GraphChanged {
		t.Errorf("GraphChanged = false, want true")
	}
}

func TestApplyUpdateUnknownNodeLeavesCanvasUntouched(t *testing.T) {
	c := canvas.New()
	if err := c.AddNode(&core.Node{ID: "a", Type: core.NodeTypeInput, Name: "A"}); err != nil {
		t.Fatal(err)
	}
	a := newTestApplier(c)

	result := a.Apply(context.Background(), []core.NodeAction{
		{Action: core.ActionUpdate, NodeID: "ghost", Config: map[string]any{"x": 1}},
	})

	if result.GraphChanged {
		t.Errorf("failed update must not set GraphChanged")
	}
	if len(result.Outcomes) != 1 || result.Outcomes[0].Error == "" {
		t.Errorf("outcomes = %+v, want one error outcome", result.Outcomes)
	}
	node, _ := c.NodeByID("a")
	if node.Config != nil {
		t.Errorf("unrelated node mutated: %v", node.Config)
	}
}

func TestApplyDeleteRemovesEdges(t *testing.T) {
	c := canvas.New()
	for _, n := range []*core.Node{
		{ID: "a", Type: core.NodeTypeInput, Name: "A"},
		{ID: "b", Type: core.NodeTypeProcess, Name: "B"},
		{ID: "c", Type: core.NodeTypeOutput, Name: "C"},
	} {
		if err := c.AddNode(n); err != nil {
			t.Fatal(err)
		}
	}
	for _, e := range []core.Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "c"}} {
		if err := c.AddEdge(e); err != nil {
			t.Fatal(err)
		}
	}
	a := newTestApplier(c)

	a.Apply(context.Background(), []core.NodeAction{
		{Action: core.ActionDelete, NodeID: "b"},
	})

	if c.NodeCount() != 2 {
		t.Errorf("node count = %d, want 2", c.NodeCount())
	}
	if len(c.Edges()) != 0 {
		t.Errorf("edges touching the deleted node survived: %v", c.Edges())
	}
}

func TestApplyBadActionDoesNotAbortBatch(t *testing.T) {
	c := canvas.New()
	a := newTestApplier(c)

	result := a.Apply(context.Background(), []core.NodeAction{
		{Action: core.ActionDelete, NodeID: "ghost"},
		{Action: core.ActionAdd, NodeType: core.NodeTypeInput, NodeName: "Seed"},
	})

	if c.NodeCount() != 1 {
		t.Fatalf("node count = %d, want 1 (batch continues past a failed action)", c.NodeCount())
	}
	if result.Aliases["new_1"] == "" {
		t.Errorf("failed delete must not shift add aliases: %v", result.Aliases)
	}
}

func TestApplyAddFillsDefaults(t *testing.T) {
	c := canvas.New()
	a := newTestApplier(c)

	result := a.Apply(context.Background(), []core.NodeAction{
		{Action: core.ActionAdd, NodeType: core.NodeTypeProcess},
	})

	id := result.Aliases["new_1"]
	node, ok := c.NodeByID(id)
	if !ok {
		t.Fatalf("added node %q not found", id)
	}
	if node.Name != "process" {
		t.Errorf("name = %q, want type-derived default", node.Name)
	}
	if node.Config == nil {
		t.Errorf("config = nil, want registry default config")
	}
	if node.Position.X == 0 && node.Position.Y == 0 {
		t.Errorf("position not scattered: %+v", node.Position)
	}
}

func TestResolveEndpoint(t *testing.T) {
	c := canvas.New()
	if err := c.AddNode(&core.Node{ID: "real", Type: core.NodeTypeInput, Name: "Real"}); err != nil {
		t.Fatal(err)
	}
	a := newTestApplier(c)
	aliases := map[string]string{"new_1": "real"}

	tests := []struct {
		ref  string
		want string
	}{
		{"real", "real"},
		{"new_1", "real"},
		{"new_2", ""},
		{"new_x", ""},
		{"ghost", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := a.resolveEndpoint(tt.ref, aliases); got != tt.want {
			t.Errorf("resolveEndpoint(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}
