package registry

import "github.com/quillflow/quillflow/core"

// registerBuiltins registers all built-in QuillFlow node types.
// Called once by Global() during singleton initialization.
func registerBuiltins(r *Registry) {
	r.Register(NodeTypeDef{
		Type:        core.NodeTypeInput,
		Category:    "io",
		DisplayName: "Input",
		Description: "Collect user-supplied fields that start the workflow",
		Ports: PortSchema{
			Outputs: []PortDef{{Name: "output", Type: "object"}},
		},
		DefaultConfig: func() map[string]any {
			return map[string]any{
				"fields": []any{
					map[string]any{"name": "input", "required": true},
				},
			}
		},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeProcess,
		Category:    "ai",
		DisplayName: "AI Process",
		Description: "Run a prompt against a language model",
		Ports: PortSchema{
			Inputs:  []PortDef{{Name: "input", Type: "string", Required: true}},
			Outputs: []PortDef{{Name: "output", Type: "string"}},
		},
		DefaultConfig: func() map[string]any {
			return map[string]any{
				"systemPrompt": "",
				"userPrompt":   "",
				"temperature":  0.7,
				"maxTokens":    2048,
				"tools":        []any{},
			}
		},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeCode,
		Category:    "control",
		DisplayName: "Code",
		Description: "Transform data with a user-provided script",
		Ports: PortSchema{
			Inputs:  []PortDef{{Name: "input", Type: "any", Required: true}},
			Outputs: []PortDef{{Name: "output", Type: "any"}},
		},
		DefaultConfig: func() map[string]any {
			return map[string]any{"language": "javascript", "code": ""}
		},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeOutput,
		Category:    "io",
		DisplayName: "Output",
		Description: "Deliver the final workflow result",
		Ports: PortSchema{
			Inputs: []PortDef{{Name: "input", Type: "any", Required: true}},
		},
		DefaultConfig: func() map[string]any {
			return map[string]any{"format": "text", "template": ""}
		},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeCondition,
		Category:    "control",
		DisplayName: "Condition",
		Description: "Branch on a boolean expression over upstream values",
		Ports: PortSchema{
			Inputs: []PortDef{{Name: "input", Type: "any", Required: true}},
			Outputs: []PortDef{
				{Name: "true", Type: "any"},
				{Name: "false", Type: "any"},
			},
		},
		DefaultConfig: func() map[string]any {
			return map[string]any{"expression": ""}
		},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeLoop,
		Category:    "control",
		DisplayName: "Loop",
		Description: "Repeat downstream nodes for each item of a collection",
		Ports: PortSchema{
			Inputs:  []PortDef{{Name: "input", Type: "array", Required: true}},
			Outputs: []PortDef{{Name: "output", Type: "array"}},
		},
		DefaultConfig: func() map[string]any {
			return map[string]any{"itemsRef": "", "maxIterations": 100}
		},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeHTTP,
		Category:    "integration",
		DisplayName: "HTTP Request",
		Description: "Call an external HTTP endpoint",
		Ports: PortSchema{
			Inputs:  []PortDef{{Name: "input", Type: "any"}},
			Outputs: []PortDef{{Name: "output", Type: "any"}},
		},
		DefaultConfig: func() map[string]any {
			return map[string]any{
				"method":  "GET",
				"url":     "",
				"headers": map[string]any{},
				"body":    "",
			}
		},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeMerge,
		Category:    "control",
		DisplayName: "Merge",
		Description: "Combine multiple upstream branches into one value",
		Ports: PortSchema{
			Inputs:  []PortDef{{Name: "input", Type: "any", Required: true}},
			Outputs: []PortDef{{Name: "output", Type: "any"}},
		},
		DefaultConfig: func() map[string]any {
			return map[string]any{"strategy": "concat", "separator": "\n"}
		},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeNotification,
		Category:    "integration",
		DisplayName: "Notification",
		Description: "Send the result to a notification channel",
		Ports: PortSchema{
			Inputs: []PortDef{{Name: "input", Type: "any", Required: true}},
		},
		DefaultConfig: func() map[string]any {
			return map[string]any{"channel": "webhook", "target": "", "messageTemplate": ""}
		},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeImageGen,
		Category:    "ai",
		DisplayName: "Image Generation",
		Description: "Generate an image from a prompt",
		Ports: PortSchema{
			Inputs:  []PortDef{{Name: "input", Type: "string", Required: true}},
			Outputs: []PortDef{{Name: "output", Type: "string"}},
		},
		DefaultConfig: func() map[string]any {
			return map[string]any{"prompt": "", "size": "1024x1024", "count": 1}
		},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeSwitch,
		Category:    "control",
		DisplayName: "Switch",
		Description: "Route to one of several branches by matching a value",
		Ports: PortSchema{
			Inputs:  []PortDef{{Name: "input", Type: "any", Required: true}},
			Outputs: []PortDef{{Name: "default", Type: "any"}},
		},
		DefaultConfig: func() map[string]any {
			return map[string]any{"valueRef": "", "cases": []any{}, "default": ""}
		},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeTrigger,
		Category:    "io",
		DisplayName: "Trigger",
		Description: "Start the workflow on an external event or schedule",
		Ports: PortSchema{
			Outputs: []PortDef{{Name: "output", Type: "object"}},
		},
		DefaultConfig: func() map[string]any {
			return map[string]any{"kind": "manual", "cron": ""}
		},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeGroup,
		Category:    "control",
		DisplayName: "Group",
		Description: "Visually group related nodes into a collapsible sub-graph",
		DefaultConfig: func() map[string]any {
			return map[string]any{"collapsed": false}
		},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeMCP,
		Category:    "integration",
		DisplayName: "MCP Tool",
		Description: "Invoke a tool exposed by an MCP server",
		Ports: PortSchema{
			Inputs:  []PortDef{{Name: "input", Type: "object"}},
			Outputs: []PortDef{{Name: "output", Type: "object"}},
		},
		DefaultConfig: func() map[string]any {
			return map[string]any{"server": "", "tool": "", "arguments": map[string]any{}}
		},
	})
}
