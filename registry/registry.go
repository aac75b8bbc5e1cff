// Package registry provides a global node-type registry for QuillFlow.
// It maps node types to metadata (category, ports, default config) used by
// the action applier, the server API, and canvas validation.
package registry

import (
	"sync"

	"github.com/quillflow/quillflow/core"
)

// NodeTypeDef describes a registered node type.
type NodeTypeDef struct {
	Type        core.NodeType `json:"type"`
	Category    string        `json:"category"` // "io", "ai", "control", "integration"
	DisplayName string        `json:"display_name"`
	Description string        `json:"description"`
	Ports       PortSchema    `json:"ports"`

	// DefaultConfig builds the config applied when an add action carries
	// none. One pure function per type; must return a fresh map each call.
	DefaultConfig func() map[string]any `json:"-"`
}

// PortSchema defines the input and output ports for a node type.
type PortSchema struct {
	Inputs  []PortDef `json:"inputs"`
	Outputs []PortDef `json:"outputs"`
}

// PortDef describes a single port on a node type.
type PortDef struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // "string", "object", "array", "any"
	Required bool   `json:"required"`
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the singleton registry instance. On first call it
// initializes the registry and auto-registers all built-in node types.
func Global() *Registry {
	globalOnce.Do(func() {
		global = newRegistry()
		registerBuiltins(global)
	})
	return global
}

// Registry holds all known node types.
type Registry struct {
	mu    sync.RWMutex
	types map[core.NodeType]NodeTypeDef
	order []core.NodeType // preserves registration order
}

func newRegistry() *Registry {
	return &Registry{
		types: make(map[core.NodeType]NodeTypeDef),
	}
}

// Register adds a node type definition. If a type with the same name
// already exists it is overwritten.
func (r *Registry) Register(def NodeTypeDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[def.Type]; !exists {
		r.order = append(r.order, def.Type)
	}
	r.types[def.Type] = def
}

// Get returns a node type definition by type.
func (r *Registry) Get(t core.NodeType) (NodeTypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[t]
	return def, ok
}

// Has returns true if the type is registered.
func (r *Registry) Has(t core.NodeType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[t]
	return ok
}

// DefaultConfig returns a fresh default config for the given type, or an
// empty map for unregistered types.
func (r *Registry) DefaultConfig(t core.NodeType) map[string]any {
	r.mu.RLock()
	def, ok := r.types[t]
	r.mu.RUnlock()
	if !ok || def.DefaultConfig == nil {
		return map[string]any{}
	}
	return def.DefaultConfig()
}

// All returns all registered node types in registration order.
// Used by the GET /api/node-types endpoint.
func (r *Registry) All() []NodeTypeDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]NodeTypeDef, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.types[name])
	}
	return result
}

// Len returns the number of registered node types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}
