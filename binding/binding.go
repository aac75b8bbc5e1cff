// Package binding infers prompt slot bindings. A slot is a named
// placeholder in free-text prompt content, delimited by 【...】, bindable to
// an upstream {{...}} reference. All functions here are pure; failed
// lookups return empty results, never errors.
package binding

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	slotOpen  = '【'
	slotClose = '】'

	// maxSlotNameLen bounds the raw run accepted as a slot name.
	maxSlotNameLen = 80

	// maxSlotKeyLen bounds a sanitized slot key.
	maxSlotKeyLen = 40

	// maxCollisionSuffix bounds numeric disambiguation before falling back
	// to a timestamp suffix.
	maxCollisionSuffix = 99
)

// ExtractSlots scans prompt text for 【...】 delimited slot names, strips a
// trailing parenthetical annotation (full- or half-width, e.g. 「（可选）」 or
// "(optional)"), and returns the canonical names deduplicated in
// first-seen order. Runs longer than 80 characters are ignored.
func ExtractSlots(text string) []string {
	var slots []string
	seen := make(map[string]bool)

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != slotOpen {
			continue
		}
		end := -1
		for j := i + 1; j < len(runes); j++ {
			if runes[j] == slotClose {
				end = j
				break
			}
			if runes[j] == slotOpen {
				break
			}
		}
		if end < 0 {
			continue
		}
		raw := runes[i+1 : end]
		i = end
		if len(raw) == 0 || len(raw) > maxSlotNameLen {
			continue
		}
		name := stripAnnotation(strings.TrimSpace(string(raw)))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		slots = append(slots, name)
	}
	return slots
}

// NearestSlotBeforeCursor returns the slot whose opening bracket appears
// latest strictly before the cursor byte offset. Used to infer which slot
// heading the user is editing under when inserting a reference.
func NearestSlotBeforeCursor(text string, cursor int) (string, bool) {
	if cursor > len(text) {
		cursor = len(text)
	}
	if cursor <= 0 {
		return "", false
	}

	open := string(slotOpen)
	idx := strings.LastIndex(text[:cursor], open)
	if idx < 0 {
		return "", false
	}

	rest := text[idx+len(open):]
	closeIdx := strings.Index(rest, string(slotClose))
	if closeIdx < 0 {
		return "", false
	}
	raw := strings.TrimSpace(rest[:closeIdx])
	if raw == "" || len([]rune(raw)) > maxSlotNameLen {
		return "", false
	}
	name := stripAnnotation(raw)
	if name == "" {
		return "", false
	}
	return name, true
}

// stripAnnotation removes one trailing parenthetical annotation such as
// 「（可选）」 or "(optional)" from a slot name.
func stripAnnotation(name string) string {
	pairs := [][2]string{
		{"（", "）"},
		{"(", ")"},
	}
	for _, pair := range pairs {
		if !strings.HasSuffix(name, pair[1]) {
			continue
		}
		open := strings.LastIndex(name, pair[0])
		if open < 0 {
			continue
		}
		return strings.TrimSpace(name[:open])
	}
	return name
}

// SanitizeSlotKey normalizes a slot key: braces are stripped, dots are
// replaced with underscores to avoid nested-path ambiguity, the result is
// truncated to 40 characters, and an empty result becomes "input".
// Sanitization is idempotent.
func SanitizeSlotKey(s string) string {
	replacer := strings.NewReplacer("{", "", "}", "", ".", "_")
	out := strings.TrimSpace(replacer.Replace(s))
	if runes := []rune(out); len(runes) > maxSlotKeyLen {
		// Truncation can expose interior whitespace as a new trailing run;
		// trim again so sanitizing a sanitized key is a no-op.
		out = strings.TrimSpace(string(runes[:maxSlotKeyLen]))
	}
	if out == "" {
		return "input"
	}
	return out
}

// Upsert binds a reference into the binding map and returns the slot it
// landed under along with the resulting map.
//
// Resolution order:
//  1. A preferred slot, when given, wins: the reference is bound (or
//     re-bound) under the sanitized key.
//  2. If the reference is already bound under some slot, that slot is
//     reused and the ORIGINAL map is returned unchanged — callers rely on
//     referential equality to skip redundant updates.
//  3. Otherwise a slot key is derived from the reference itself
//     ("inputs.X" becomes "X", "Node.Field" becomes "Node_Field");
//     collisions are disambiguated with _2, _3, … and, past the bound,
//     a timestamp suffix.
func Upsert(bindings map[string]string, reference, preferredSlot string) (string, map[string]string) {
	if preferredSlot != "" {
		slot := SanitizeSlotKey(preferredSlot)
		if bindings[slot] == reference {
			return slot, bindings
		}
		next := cloneBindings(bindings)
		next[slot] = reference
		return slot, next
	}

	if slot, ok := slotForReference(bindings, reference); ok {
		return slot, bindings
	}

	slot := deriveSlotKey(bindings, reference)
	next := cloneBindings(bindings)
	next[slot] = reference
	return slot, next
}

// Slots returns the union of slots found in the prompt text and keys
// already present in the binding map: prompt-derived first, then
// binding-only keys, deduplicated.
func Slots(prompt string, bindings map[string]string) []string {
	slots := ExtractSlots(prompt)
	seen := make(map[string]bool, len(slots))
	for _, s := range slots {
		seen[s] = true
	}

	extra := make([]string, 0, len(bindings))
	for key := range bindings {
		if !seen[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	return append(slots, extra...)
}

// slotForReference finds the slot an identical reference is already bound
// under. Keys are scanned in sorted order so the answer is deterministic.
func slotForReference(bindings map[string]string, reference string) (string, bool) {
	keys := make([]string, 0, len(bindings))
	for key := range bindings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if bindings[key] == reference {
			return key, true
		}
	}
	return "", false
}

// deriveSlotKey builds a slot key from the reference template itself.
func deriveSlotKey(bindings map[string]string, reference string) string {
	inner := strings.TrimSpace(reference)
	inner = strings.TrimPrefix(inner, "{{")
	inner = strings.TrimSuffix(inner, "}}")
	inner = strings.TrimSpace(inner)
	inner = strings.TrimPrefix(inner, "inputs.")

	base := SanitizeSlotKey(inner)
	if _, taken := bindings[base]; !taken {
		return base
	}

	for n := 2; n <= maxCollisionSuffix; n++ {
		candidate := fmt.Sprintf("%s_%d", base, n)
		if _, taken := bindings[candidate]; !taken {
			return candidate
		}
	}
	return fmt.Sprintf("%s_%d", base, time.Now().UnixMilli())
}

func cloneBindings(bindings map[string]string) map[string]string {
	next := make(map[string]string, len(bindings)+1)
	for k, v := range bindings {
		next[k] = v
	}
	return next
}
