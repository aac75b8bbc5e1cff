package runner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// refPattern matches {{NodeName}} and {{NodeName.field}} templates.
var refPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// resolveTemplates substitutes every {{NodeName.field}} template in text with
// the corresponding upstream output. Unresolvable references are left in
// place so the raw template is visible in node output instead of silently
// turning into an empty string.
func resolveTemplates(text string, outputs map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return refPattern.ReplaceAllStringFunc(text, func(match string) string {
		ref := refPattern.FindStringSubmatch(match)[1]
		if val, ok := lookupReference(ref, outputs); ok {
			return stringify(val)
		}
		return match
	})
}

// lookupReference resolves "NodeName" or "NodeName.field.subfield" against
// the per-node output map keyed by node name.
func lookupReference(ref string, outputs map[string]any) (any, bool) {
	parts := strings.Split(ref, ".")
	val, ok := outputs[parts[0]]
	if !ok {
		return nil, false
	}
	for _, part := range parts[1:] {
		m, isMap := val.(map[string]any)
		if !isMap {
			return nil, false
		}
		val, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return val, true
}

// stringify renders a resolved value for template substitution. Scalars
// render plainly, composites as JSON.
func stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64, int, int64, bool:
		return fmt.Sprintf("%v", v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
