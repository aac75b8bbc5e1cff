package loader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quillflow/quillflow/canvas"
)

const validJSON = `{
	"name": "digest",
	"nodes": [
		{"id": "in", "type": "input", "name": "Seed"},
		{"id": "out", "type": "output", "name": "Result"}
	],
	"edges": [
		{"id": "e1", "source": "in", "target": "out"}
	]
}`

const validYAML = `
name: digest
nodes:
  - id: in
    type: input
    name: Seed
  - id: out
    type: output
    name: Result
edges:
  - id: e1
    source: in
    target: out
`

func TestParseDefinitionJSON(t *testing.T) {
	def, err := ParseDefinition([]byte(validJSON), "workflow.json")
	if err != nil {
		t.Fatal(err)
	}
	if def.Name != "digest" || len(def.Nodes) != 2 || len(def.Edges) != 1 {
		t.Errorf("definition = %+v", def)
	}
}

func TestParseDefinitionYAML(t *testing.T) {
	for _, ext := range []string{"workflow.yaml", "workflow.yml", "WORKFLOW.YAML"} {
		def, err := ParseDefinition([]byte(validYAML), ext)
		if err != nil {
			t.Fatalf("%s: %v", ext, err)
		}
		if def.Name != "digest" || len(def.Nodes) != 2 {
			t.Errorf("%s: definition = %+v", ext, def)
		}
	}
}

func TestParseDefinitionMalformed(t *testing.T) {
	if _, err := ParseDefinition([]byte("{not json"), "workflow.json"); err == nil {
		t.Error("malformed JSON accepted")
	}
	if _, err := ParseDefinition([]byte(":\n\t- broken"), "workflow.yaml"); err == nil {
		t.Error("malformed YAML accepted")
	}
	// YAML bytes under a .json path fail the JSON parse.
	if _, err := ParseDefinition([]byte(validYAML), "workflow.json"); err == nil {
		t.Error("YAML content accepted as JSON")
	}
}

func TestParseDefinitionValidationFailure(t *testing.T) {
	bad := `{
		"nodes": [{"id": "a", "type": "process", "name": "A"}],
		"edges": [{"id": "e1", "source": "ghost", "target": "a"}]
	}`
	_, err := ParseDefinition([]byte(bad), "workflow.json")
	var diagErr *DiagnosticError
	if !errors.As(err, &diagErr) {
		t.Fatalf("err = %v, want *DiagnosticError", err)
	}
	if !canvas.HasErrors(diagErr.Diagnostics) {
		t.Errorf("diagnostics = %v", diagErr.Diagnostics)
	}
	if !strings.Contains(err.Error(), "validation error") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestParseDefinitionWarningsPass(t *testing.T) {
	// An orphan node is a warning, not an error; the definition loads.
	warned := `{
		"nodes": [
			{"id": "a", "type": "input", "name": "A"},
			{"id": "b", "type": "output", "name": "B"},
			{"id": "c", "type": "process", "name": "Orphan"}
		],
		"edges": [{"id": "e1", "source": "a", "target": "b"}]
	}`
	def, err := ParseDefinition([]byte(warned), "workflow.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(def.Nodes) != 3 {
		t.Errorf("definition = %+v", def)
	}
}

func TestLoadDefinition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	def, err := LoadDefinition(path)
	if err != nil {
		t.Fatal(err)
	}
	if def.Name != "digest" {
		t.Errorf("definition = %+v", def)
	}

	if _, err := LoadDefinition(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file loaded without error")
	}
}

func TestDiagnosticErrorMessage(t *testing.T) {
	tests := []struct {
		name  string
		diags []canvas.Diagnostic
		want  string
	}{
		{
			"no errors",
			[]canvas.Diagnostic{{Code: "CV-002", Severity: canvas.SeverityWarning, Message: "orphan"}},
			"validation failed",
		},
		{
			"single error",
			[]canvas.Diagnostic{{Code: "CV-001", Severity: canvas.SeverityError, Message: "bad edge"}},
			"validation error: bad edge",
		},
		{
			"multiple errors",
			[]canvas.Diagnostic{
				{Code: "CV-001", Severity: canvas.SeverityError, Message: "bad edge"},
				{Code: "CV-003", Severity: canvas.SeverityError, Message: "dup id"},
			},
			"2 validation errors (first: bad edge)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &DiagnosticError{Diagnostics: tt.diags}
			if got := err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}
