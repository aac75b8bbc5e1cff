package canvas

import (
	"testing"

	"github.com/quillflow/quillflow/core"
)

func diagCodes(diags []Diagnostic) []string {
	codes := make([]string, 0, len(diags))
	for _, d := range diags {
		codes = append(codes, d.Code)
	}
	return codes
}

func hasCode(diags []Diagnostic, code string) bool {
	for _, d := range diags {
		if d.Code == code {
			return true
		}
	}
	return false
}

func TestValidateCleanDefinition(t *testing.T) {
	def := &Definition{
		Nodes: []core.Node{
			{ID: "a", Type: core.NodeTypeInput, Name: "A"},
			{ID: "b", Type: core.NodeTypeOutput, Name: "B"},
		},
		Edges: []core.Edge{{Source: "a", Target: "b"}},
	}

	diags := def.Validate()
	if len(diags) != 0 {
		t.Errorf("diagnostics = %v, want none", diags)
	}
}

func TestValidateDiagnostics(t *testing.T) {
	tests := []struct {
		name     string
		def      Definition
		wantCode string
		severity string
	}{
		{
			name: "dangling edge source",
			def: Definition{
				Nodes: []core.Node{{ID: "a", Type: core.NodeTypeInput}},
				Edges: []core.Edge{{Source: "ghost", Target: "a"}},
			},
			wantCode: "CV-001",
			severity: SeverityError,
		},
		{
			name: "orphan node warns",
			def: Definition{
				Nodes: []core.Node{
					{ID: "a", Type: core.NodeTypeInput},
					{ID: "b", Type: core.NodeTypeOutput},
					{ID: "lonely", Type: core.NodeTypeProcess},
				},
				Edges: []core.Edge{{Source: "a", Target: "b"}},
			},
			wantCode: "CV-002",
			severity: SeverityWarning,
		},
		{
			name: "duplicate node IDs",
			def: Definition{
				Nodes: []core.Node{
					{ID: "a", Type: core.NodeTypeInput},
					{ID: "a", Type: core.NodeTypeOutput},
				},
			},
			wantCode: "CV-003",
			severity: SeverityError,
		},
		{
			name: "cycle warns",
			def: Definition{
				Nodes: []core.Node{
					{ID: "a", Type: core.NodeTypeProcess},
					{ID: "b", Type: core.NodeTypeProcess},
				},
				Edges: []core.Edge{
					{Source: "a", Target: "b"},
					{Source: "b", Target: "a"},
				},
			},
			wantCode: "CV-004",
			severity: SeverityWarning,
		},
		{
			name: "parent references missing node",
			def: Definition{
				Nodes: []core.Node{{ID: "a", Type: core.NodeTypeProcess, ParentID: "ghost"}},
			},
			wantCode: "CV-005",
			severity: SeverityError,
		},
		{
			name: "parent is not a group",
			def: Definition{
				Nodes: []core.Node{
					{ID: "p", Type: core.NodeTypeProcess},
					{ID: "a", Type: core.NodeTypeProcess, ParentID: "p"},
				},
				Edges: []core.Edge{{Source: "p", Target: "a"}},
			},
			wantCode: "CV-005",
			severity: SeverityError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := tt.def.Validate()
			if !hasCode(diags, tt.wantCode) {
				t.Fatalf("codes = %v, want %s", diagCodes(diags), tt.wantCode)
			}
			for _, d := range diags {
				if d.Code == tt.wantCode && d.Severity != tt.severity {
					t.Errorf("severity = %q, want %q", d.Severity, tt.severity)
				}
			}
		})
	}
}

func TestValidateCycleSkippedWhenEdgesDangling(t *testing.T) {
	def := &Definition{
		Nodes: []core.Node{{ID: "a", Type: core.NodeTypeProcess}},
		Edges: []core.Edge{{Source: "a", Target: "ghost"}},
	}
	diags := def.Validate()
	if hasCode(diags, "CV-004") {
		t.Errorf("cycle check should not run with dangling edges: %v", diagCodes(diags))
	}
}

func TestHasErrorsAndErrors(t *testing.T) {
	diags := []Diagnostic{
		{Code: "CV-002", Severity: SeverityWarning},
		{Code: "CV-001", Severity: SeverityError},
	}
	if !HasErrors(diags) {
		t.Error("HasErrors = false")
	}
	if got := Errors(diags); len(got) != 1 || got[0].Code != "CV-001" {
		t.Errorf("Errors = %v", got)
	}
	if HasErrors(nil) {
		t.Error("HasErrors(nil) = true")
	}
}

func TestValidateGroupChildrenNotOrphans(t *testing.T) {
	def := &Definition{
		Nodes: []core.Node{
			{ID: "grp", Type: core.NodeTypeGroup},
			{ID: "child", Type: core.NodeTypeProcess, ParentID: "grp"},
			{ID: "a", Type: core.NodeTypeInput},
			{ID: "b", Type: core.NodeTypeOutput},
		},
		Edges: []core.Edge{{Source: "a", Target: "b"}},
	}
	diags := def.Validate()
	if hasCode(diags, "CV-002") {
		t.Errorf("grouped or group nodes flagged as orphans: %v", diags)
	}
}
