package canvas

import (
	"fmt"

	"github.com/quillflow/quillflow/core"
)

// Diagnostic represents a validation error or warning produced by canvas
// validation.
type Diagnostic struct {
	Code     string `json:"code"`           // e.g. "CV-001"
	Severity string `json:"severity"`       // "error" or "warning"
	Message  string `json:"message"`        // human-readable description
	Path     string `json:"path,omitempty"` // JSON path to offending field
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Definition is the serializable representation of a workflow canvas.
// It is the `config` shape exchanged with the persistence API and the
// payload embedded in assistant chat requests as workflow context.
type Definition struct {
	Name  string      `json:"name,omitempty"`
	Nodes []core.Node `json:"nodes"`
	Edges []core.Edge `json:"edges"`
}

// Validate checks structural integrity of the definition:
//   - CV-001: edge source/target reference existing nodes
//   - CV-002: orphan nodes (warning)
//   - CV-003: duplicate node IDs
//   - CV-004: cycle detection (warning — user-created cycles are tolerated
//     by the resolver and runner, but usually unintended)
//   - CV-005: parentId references an existing node of type group
func (d *Definition) Validate() []Diagnostic {
	var diags []Diagnostic

	nodeIDs := make(map[string]bool, len(d.Nodes))
	nodeTypes := make(map[string]core.NodeType, len(d.Nodes))

	// CV-003: duplicate node IDs
	for i, node := range d.Nodes {
		if nodeIDs[node.ID] {
			diags = append(diags, Diagnostic{
				Code:     "CV-003",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Duplicate node ID %q", node.ID),
				Path:     fmt.Sprintf("nodes[%d].id", i),
			})
		}
		nodeIDs[node.ID] = true
		nodeTypes[node.ID] = node.Type
	}

	// CV-001: edge endpoints must reference existing nodes
	for i, edge := range d.Edges {
		if !nodeIDs[edge.Source] {
			diags = append(diags, Diagnostic{
				Code:     "CV-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge source %q references unknown node", edge.Source),
				Path:     fmt.Sprintf("edges[%d].source", i),
			})
		}
		if !nodeIDs[edge.Target] {
			diags = append(diags, Diagnostic{
				Code:     "CV-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge target %q references unknown node", edge.Target),
				Path:     fmt.Sprintf("edges[%d].target", i),
			})
		}
	}

	// CV-005: parentId must reference an existing group node
	for i, node := range d.Nodes {
		if node.ParentID == "" {
			continue
		}
		if !nodeIDs[node.ParentID] {
			diags = append(diags, Diagnostic{
				Code:     "CV-005",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node %q parent %q does not exist", node.ID, node.ParentID),
				Path:     fmt.Sprintf("nodes[%d].parentId", i),
			})
			continue
		}
		if nodeTypes[node.ParentID] != core.NodeTypeGroup {
			diags = append(diags, Diagnostic{
				Code:     "CV-005",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node %q parent %q is not a group node", node.ID, node.ParentID),
				Path:     fmt.Sprintf("nodes[%d].parentId", i),
			})
		}
	}

	// CV-002: orphan nodes — no inbound, no outbound, not in a group
	if len(d.Nodes) > 1 {
		hasInbound := make(map[string]bool)
		hasOutbound := make(map[string]bool)
		for _, edge := range d.Edges {
			hasOutbound[edge.Source] = true
			hasInbound[edge.Target] = true
		}
		for i, node := range d.Nodes {
			if node.ParentID != "" || node.Type == core.NodeTypeGroup {
				continue
			}
			if !hasInbound[node.ID] && !hasOutbound[node.ID] {
				diags = append(diags, Diagnostic{
					Code:     "CV-002",
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("Node %q has no inbound or outbound edges", node.ID),
					Path:     fmt.Sprintf("nodes[%d]", i),
				})
			}
		}
	}

	// CV-004: cycle detection via Kahn's algorithm.
	// Only run if edges reference valid nodes to avoid confusion.
	if !hasEdgeRefErrors(diags) {
		if cycle := d.detectCycle(); cycle != "" {
			diags = append(diags, Diagnostic{
				Code:     "CV-004",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Canvas contains a cycle: %s", cycle),
			})
		}
	}

	return diags
}

// hasEdgeRefErrors returns true if diagnostics contain CV-001 errors.
func hasEdgeRefErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Code == "CV-001" {
			return true
		}
	}
	return false
}

// detectCycle uses Kahn's algorithm to find cycles. Returns a description
// of the cycle if found, or empty string if the canvas is acyclic.
func (d *Definition) detectCycle() string {
	inDegree := make(map[string]int)
	successors := make(map[string][]string)
	for _, node := range d.Nodes {
		inDegree[node.ID] = 0
	}
	for _, edge := range d.Edges {
		successors[edge.Source] = append(successors[edge.Source], edge.Target)
		inDegree[edge.Target]++
	}

	queue := make([]string, 0)
	for _, node := range d.Nodes {
		if inDegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range successors[current] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited < len(d.Nodes) {
		var cycleNodes []string
		for _, node := range d.Nodes {
			if inDegree[node.ID] > 0 {
				cycleNodes = append(cycleNodes, node.ID)
			}
		}
		return fmt.Sprintf("nodes involved: %v", cycleNodes)
	}
	return ""
}
