// Package loader reads workflow definition files in JSON or YAML form and
// returns validated canvas definitions.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quillflow/quillflow/canvas"
)

// LoadDefinition loads a workflow definition file, converting YAML to JSON
// when the extension calls for it, validates it, and returns the result.
func LoadDefinition(path string) (*canvas.Definition, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return ParseDefinition(data, path)
}

// ParseDefinition parses and validates definition bytes. The path is only
// used to pick the parse format from the extension.
func ParseDefinition(data []byte, path string) (*canvas.Definition, error) {
	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}

	var def canvas.Definition
	if err := json.Unmarshal(jsonData, &def); err != nil {
		return nil, fmt.Errorf("parsing workflow definition: %w", err)
	}

	diags := def.Validate()
	if canvas.HasErrors(diags) {
		return nil, &DiagnosticError{Diagnostics: diags}
	}
	return &def, nil
}

// toJSON converts data to JSON bytes, handling YAML conversion if the path
// indicates a YAML file.
func toJSON(data []byte, path string) ([]byte, error) {
	if isYAML(path) {
		return yamlToJSON(data)
	}
	return data, nil
}

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON converts raw bytes from YAML format to JSON bytes.
// YAML -> map[string]any -> JSON bytes -> typed struct.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return json.Marshal(raw)
}

// DiagnosticError wraps validation diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []canvas.Diagnostic
}

func (e *DiagnosticError) Error() string {
	errs := canvas.Errors(e.Diagnostics)
	if len(errs) == 0 {
		return "validation failed"
	}
	if len(errs) == 1 {
		return fmt.Sprintf("validation error: %s", errs[0].Message)
	}
	return fmt.Sprintf("%d validation errors (first: %s)", len(errs), errs[0].Message)
}
