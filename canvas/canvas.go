// Package canvas holds the mutable workflow graph: typed nodes connected by
// edges, with predecessor/successor indexes and a serializable Definition.
//
// The canvas is the single shared store mutated by the actions package; all
// other consumers (reference resolver, test runner, persistence) read it.
package canvas

import (
	"errors"
	"fmt"

	"github.com/quillflow/quillflow/core"
)

// Canvas errors.
var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrDuplicateNode = errors.New("duplicate node ID")
	ErrInvalidEdge   = errors.New("invalid edge")
)

// Canvas is the in-memory workflow graph store.
// It is not safe for concurrent mutation; the actions package applies
// batches synchronously and serially.
type Canvas struct {
	nodes        map[string]*core.Node
	nodeOrder    []string // preserves insertion order
	edges        []core.Edge
	successors   map[string][]string
	predecessors map[string][]string
}

// New creates an empty canvas.
func New() *Canvas {
	return &Canvas{
		nodes:        make(map[string]*core.Node),
		nodeOrder:    make([]string, 0),
		edges:        make([]core.Edge, 0),
		successors:   make(map[string][]string),
		predecessors: make(map[string][]string),
	}
}

// FromDefinition builds a canvas from a serialized definition.
// Edges referencing unknown nodes are rejected.
func FromDefinition(def *Definition) (*Canvas, error) {
	c := New()
	for i := range def.Nodes {
		n := def.Nodes[i]
		if err := c.AddNode(&n); err != nil {
			return nil, fmt.Errorf("adding node %q: %w", n.ID, err)
		}
	}
	for _, e := range def.Edges {
		if err := c.AddEdge(e); err != nil {
			return nil, fmt.Errorf("adding edge %s -> %s: %w", e.Source, e.Target, err)
		}
	}
	return c, nil
}

// Definition returns the serializable snapshot of the canvas.
func (c *Canvas) Definition() *Definition {
	def := &Definition{
		Nodes: make([]core.Node, 0, len(c.nodeOrder)),
		Edges: make([]core.Edge, len(c.edges)),
	}
	for _, id := range c.nodeOrder {
		def.Nodes = append(def.Nodes, *c.nodes[id])
	}
	copy(def.Edges, c.edges)
	return def
}

// Nodes returns all nodes in insertion order.
func (c *Canvas) Nodes() []*core.Node {
	nodes := make([]*core.Node, 0, len(c.nodeOrder))
	for _, id := range c.nodeOrder {
		nodes = append(nodes, c.nodes[id])
	}
	return nodes
}

// Edges returns all edges.
func (c *Canvas) Edges() []core.Edge {
	return c.edges
}

// NodeCount returns the number of nodes on the canvas.
func (c *Canvas) NodeCount() int {
	return len(c.nodeOrder)
}

// NodeByID retrieves a node by its ID.
func (c *Canvas) NodeByID(id string) (*core.Node, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// NodeByName retrieves the first node with the given display name.
// Reference templates address nodes by name, so lookups are name-first.
func (c *Canvas) NodeByName(name string) (*core.Node, bool) {
	for _, id := range c.nodeOrder {
		if c.nodes[id].Name == name {
			return c.nodes[id], true
		}
	}
	return nil, false
}

// Successors returns the IDs of nodes directly downstream of the given node.
func (c *Canvas) Successors(nodeID string) []string {
	return c.successors[nodeID]
}

// Predecessors returns the IDs of nodes directly upstream of the given node.
func (c *Canvas) Predecessors(nodeID string) []string {
	return c.predecessors[nodeID]
}

// ChildrenOf returns the nodes whose ParentID is the given group ID,
// in insertion order.
func (c *Canvas) ChildrenOf(groupID string) []*core.Node {
	var children []*core.Node
	for _, id := range c.nodeOrder {
		if c.nodes[id].ParentID == groupID {
			children = append(children, c.nodes[id])
		}
	}
	return children
}

// EdgesInto returns all edges whose target is the given node.
func (c *Canvas) EdgesInto(targetID string) []core.Edge {
	var result []core.Edge
	for _, e := range c.edges {
		if e.Target == targetID {
			result = append(result, e)
		}
	}
	return result
}

// AddNode adds a node to the canvas.
// Returns ErrDuplicateNode if a node with the same ID already exists.
func (c *Canvas) AddNode(node *core.Node) error {
	if node == nil {
		return errors.New("cannot add nil node")
	}
	if node.ID == "" {
		return errors.New("cannot add node with empty ID")
	}
	if _, exists := c.nodes[node.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
	}

	c.nodes[node.ID] = node
	c.nodeOrder = append(c.nodeOrder, node.ID)

	if c.successors[node.ID] == nil {
		c.successors[node.ID] = make([]string, 0)
	}
	if c.predecessors[node.ID] == nil {
		c.predecessors[node.ID] = make([]string, 0)
	}
	return nil
}

// UpdateNode applies a shallow config merge to the node: supplied keys
// override, unspecified keys persist. An optional new name is applied when
// non-empty. Returns ErrNodeNotFound if the node does not exist.
func (c *Canvas) UpdateNode(id string, config map[string]any, name string) error {
	node, ok := c.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if len(config) > 0 {
		if node.Config == nil {
			node.Config = make(map[string]any, len(config))
		}
		for k, v := range config {
			node.Config[k] = v
		}
	}
	if name != "" {
		node.Name = name
	}
	return nil
}

// RemoveNode deletes a node and every edge touching it.
// Returns ErrNodeNotFound if the node does not exist.
func (c *Canvas) RemoveNode(id string) error {
	if _, ok := c.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	delete(c.nodes, id)
	for i, ordered := range c.nodeOrder {
		if ordered == id {
			c.nodeOrder = append(c.nodeOrder[:i], c.nodeOrder[i+1:]...)
			break
		}
	}

	kept := c.edges[:0]
	for _, e := range c.edges {
		if e.Source == id || e.Target == id {
			continue
		}
		kept = append(kept, e)
	}
	c.edges = kept
	c.rebuildIndexes()
	return nil
}

// AddEdge adds a directed edge. Both endpoints must exist; a duplicate
// source/target/handle combination is a no-op. An empty edge ID is filled
// with a deterministic "{source}-{target}" identifier.
func (c *Canvas) AddEdge(edge core.Edge) error {
	if _, ok := c.nodes[edge.Source]; !ok {
		return fmt.Errorf("%w: source node %q not found", ErrInvalidEdge, edge.Source)
	}
	if _, ok := c.nodes[edge.Target]; !ok {
		return fmt.Errorf("%w: target node %q not found", ErrInvalidEdge, edge.Target)
	}

	for _, e := range c.edges {
		if e.Source == edge.Source && e.Target == edge.Target &&
			e.SourceHandle == edge.SourceHandle && e.TargetHandle == edge.TargetHandle {
			return nil
		}
	}

	if edge.ID == "" {
		edge.ID = fmt.Sprintf("%s-%s", edge.Source, edge.Target)
	}

	c.edges = append(c.edges, edge)
	c.successors[edge.Source] = append(c.successors[edge.Source], edge.Target)
	c.predecessors[edge.Target] = append(c.predecessors[edge.Target], edge.Source)
	return nil
}

// rebuildIndexes recomputes successor/predecessor maps from the edge list.
func (c *Canvas) rebuildIndexes() {
	c.successors = make(map[string][]string, len(c.nodes))
	c.predecessors = make(map[string][]string, len(c.nodes))
	for id := range c.nodes {
		c.successors[id] = make([]string, 0)
		c.predecessors[id] = make([]string, 0)
	}
	for _, e := range c.edges {
		c.successors[e.Source] = append(c.successors[e.Source], e.Target)
		c.predecessors[e.Target] = append(c.predecessors[e.Target], e.Source)
	}
}

// TopologicalOrder returns node IDs in dependency order via Kahn's
// algorithm. Nodes trapped in a cycle are appended after the sorted prefix
// in insertion order, so execution always terminates.
func (c *Canvas) TopologicalOrder() []string {
	inDegree := make(map[string]int, len(c.nodes))
	for id := range c.nodes {
		inDegree[id] = len(c.predecessors[id])
	}

	queue := make([]string, 0)
	for _, id := range c.nodeOrder {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]string, 0, len(c.nodes))
	seen := make(map[string]bool, len(c.nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)
		seen[current] = true
		for _, succ := range c.successors[current] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	for _, id := range c.nodeOrder {
		if !seen[id] {
			result = append(result, id)
		}
	}
	return result
}
