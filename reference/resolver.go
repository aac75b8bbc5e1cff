// Package reference computes the upstream data references available to a
// canvas node. A reference is a {{NodeName.field}} template token resolved
// at execution time to an upstream value.
package reference

import (
	"fmt"

	"github.com/quillflow/quillflow/canvas"
	"github.com/quillflow/quillflow/core"
)

// Option is one selectable reference produced by an upstream node.
type Option struct {
	Label     string `json:"label"`     // display label, e.g. the field name
	Reference string `json:"reference"` // template token, e.g. "{{Draft.title}}"
}

// NodeReferences groups the reference options contributed by one upstream node.
type NodeReferences struct {
	NodeID   string        `json:"nodeId"`
	NodeName string        `json:"nodeName"`
	NodeType core.NodeType `json:"nodeType"`
	Options  []Option      `json:"options"`
}

// ComputeAvailableReferences returns the ordered set of references reachable
// upstream of the target node. Traversal is a reverse breadth-first walk
// over edges with a visited set, so user-created cycles terminate and a node
// is never expanded twice. An unknown target or a target with no
// predecessors yields an empty result; neither is an error.
func ComputeAvailableReferences(c *canvas.Canvas, targetNodeID string) []NodeReferences {
	if _, ok := c.NodeByID(targetNodeID); !ok {
		return nil
	}

	predecessors := collectPredecessors(c, targetNodeID)
	predecessors = expandGroups(c, predecessors)

	var result []NodeReferences
	for _, id := range predecessors {
		node, ok := c.NodeByID(id)
		if !ok || node.Type == core.NodeTypeGroup {
			continue
		}
		result = append(result, NodeReferences{
			NodeID:   node.ID,
			NodeName: node.Name,
			NodeType: node.Type,
			Options:  optionsFor(node),
		})
	}
	return result
}

// collectPredecessors walks edges backwards from the target, unwinding
// collapsed-group indirection as it goes. The returned IDs are in
// first-discovered order and never include the target itself.
func collectPredecessors(c *canvas.Canvas, targetNodeID string) []string {
	visited := map[string]bool{targetNodeID: true}
	found := make(map[string]bool)
	var order []string

	frontier := []string{targetNodeID}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		for _, src := range incomingSources(c, current) {
			if !found[src] && src != targetNodeID {
				found[src] = true
				order = append(order, src)
			}
			if !visited[src] {
				visited[src] = true
				frontier = append(frontier, src)
			}
		}
	}
	return order
}

// incomingSources returns the sources of edges feeding the given node,
// including edges that terminate at the node's enclosing group. A group
// edge with no recorded original target applies to every child; one with an
// original target applies only to that specific child.
func incomingSources(c *canvas.Canvas, nodeID string) []string {
	var sources []string
	for _, e := range c.EdgesInto(nodeID) {
		sources = append(sources, e.Source)
	}

	node, ok := c.NodeByID(nodeID)
	if !ok || node.ParentID == "" {
		return sources
	}

	for _, e := range c.EdgesInto(node.ParentID) {
		if e.Data != nil && e.Data.OriginalTarget != "" && e.Data.OriginalTarget != nodeID {
			continue
		}
		sources = append(sources, e.Source)
	}
	return sources
}

// expandGroups replaces group predecessors with their children, preserving
// order and deduplicating against nodes already present.
func expandGroups(c *canvas.Canvas, ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)

		node, ok := c.NodeByID(id)
		if !ok || node.Type != core.NodeTypeGroup {
			continue
		}
		for _, child := range c.ChildrenOf(id) {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			out = append(out, child.ID)
		}
	}
	return out
}

// optionsFor generates the reference options a single node contributes.
// Input nodes emit one reference per declared field; process nodes emit one
// per attached knowledge item plus the generic full-output reference; every
// other type emits only the generic reference.
func optionsFor(node *core.Node) []Option {
	switch node.Type {
	case core.NodeTypeInput:
		var opts []Option
		for _, name := range configItemNames(node.Config, "fields") {
			opts = append(opts, Option{
				Label:     name,
				Reference: fmt.Sprintf("{{%s.%s}}", node.Name, name),
			})
		}
		return opts

	case core.NodeTypeProcess:
		var opts []Option
		for _, name := range configItemNames(node.Config, "knowledge") {
			opts = append(opts, Option{
				Label:     name,
				Reference: fmt.Sprintf("{{%s.%s}}", node.Name, name),
			})
		}
		opts = append(opts, genericOption(node))
		return opts

	default:
		return []Option{genericOption(node)}
	}
}

func genericOption(node *core.Node) Option {
	return Option{
		Label:     node.Name,
		Reference: fmt.Sprintf("{{%s}}", node.Name),
	}
}

// configItemNames extracts the "name" of each entry in a config list such as
// an input node's fields or a process node's knowledge items.
func configItemNames(config map[string]any, key string) []string {
	items, ok := config[key].([]any)
	if !ok {
		return nil
	}
	var names []string
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, ok := m["name"].(string)
		if !ok || name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}
