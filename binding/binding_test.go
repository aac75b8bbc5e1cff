package binding

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtractSlots(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "single slot",
			text: "Summarize:\n【article】\n",
			want: []string{"article"},
		},
		{
			name: "multiple slots in order",
			text: "【文章内容（可选）】\nhello\n【输出】\nworld\n",
			want: []string{"文章内容", "输出"},
		},
		{
			name: "duplicates collapse to first seen",
			text: "【topic】 and again 【topic】 then 【style】",
			want: []string{"topic", "style"},
		},
		{
			name: "half-width annotation stripped",
			text: "【context (optional)】",
			want: []string{"context"},
		},
		{
			name: "unclosed bracket ignored",
			text: "【dangling and then text",
			want: nil,
		},
		{
			name: "empty slot ignored",
			text: "【】【real】",
			want: []string{"real"},
		},
		{
			name: "overlong run ignored",
			text: "【" + strings.Repeat("x", 81) + "】【ok】",
			want: []string{"ok"},
		},
		{
			name: "no slots",
			text: "plain text without any markers",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractSlots(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractSlots(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractSlotsIdempotent(t *testing.T) {
	text := "【topic】\n【style（可选）】"
	first := ExtractSlots(text)
	second := ExtractSlots(text)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated extraction differs: %v vs %v", first, second)
	}
}

func TestNearestSlotBeforeCursor(t *testing.T) {
	text := "【文章内容（可选）】\nhello\n【输出】\nworld\n"

	tests := []struct {
		name   string
		cursor int
		want   string
		found  bool
	}{
		{name: "cursor at end picks last slot", cursor: len(text), want: "输出", found: true},
		{name: "cursor after first slot", cursor: strings.Index(text, "hello"), want: "文章内容", found: true},
		{name: "cursor at start", cursor: 0, found: false},
		{name: "cursor past end clamps", cursor: len(text) + 100, want: "输出", found: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := NearestSlotBeforeCursor(text, tt.cursor)
			if found != tt.found {
				t.Fatalf("found = %v, want %v", found, tt.found)
			}
			if got != tt.want {
				t.Errorf("slot = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNearestSlotBeforeCursorNoSlot(t *testing.T) {
	if got, found := NearestSlotBeforeCursor("no markers here", 10); found {
		t.Errorf("expected no slot, got %q", got)
	}
}

func TestSanitizeSlotKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"title", "title"},
		{"{{Node.field}}", "Node_field"},
		{"a.b.c", "a_b_c"},
		{"", "input"},
		{"{}.", "input"},
		{strings.Repeat("k", 50), strings.Repeat("k", 40)},
		// Truncation landing right after an interior space must not leave
		// trailing whitespace behind.
		{strings.Repeat("a", 39) + " b", strings.Repeat("a", 39)},
		{strings.Repeat("a", 38) + "  b", strings.Repeat("a", 38)},
	}

	for _, tt := range tests {
		got := SanitizeSlotKey(tt.in)
		if got != tt.want {
			t.Errorf("SanitizeSlotKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
		// Sanitization is idempotent.
		if again := SanitizeSlotKey(got); again != got {
			t.Errorf("SanitizeSlotKey(%q) = %q, not idempotent", got, again)
		}
	}
}

func TestUpsertPreferredSlot(t *testing.T) {
	bindings := map[string]string{"existing": "{{A}}"}

	slot, next := Upsert(bindings, "{{B.title}}", "章节")
	if slot != "章节" {
		t.Fatalf("slot = %q, want %q", slot, "章节")
	}
	if next["章节"] != "{{B.title}}" {
		t.Errorf("binding = %q, want %q", next["章节"], "{{B.title}}")
	}
	if next["existing"] != "{{A}}" {
		t.Errorf("existing binding lost")
	}
	if len(bindings) != 1 {
		t.Errorf("original map mutated: %v", bindings)
	}
}

func TestUpsertExistingReferenceReturnsSameMap(t *testing.T) {
	bindings := map[string]string{"title": "{{Draft.title}}"}

	slot, next := Upsert(bindings, "{{Draft.title}}", "")
	if slot != "title" {
		t.Fatalf("slot = %q, want %q", slot, "title")
	}
	if reflect.ValueOf(next).Pointer() != reflect.ValueOf(bindings).Pointer() {
		t.Errorf("expected the original map back for an already-bound reference")
	}
}

func TestUpsertPreferredSlotAlreadyBoundReturnsSameMap(t *testing.T) {
	bindings := map[string]string{"title": "{{Draft.title}}"}

	_, next := Upsert(bindings, "{{Draft.title}}", "title")
	if reflect.ValueOf(next).Pointer() != reflect.ValueOf(bindings).Pointer() {
		t.Errorf("expected the original map back when the preferred slot already holds the reference")
	}
}

func TestUpsertDerivesSlotKey(t *testing.T) {
	tests := []struct {
		name      string
		bindings  map[string]string
		reference string
		wantSlot  string
	}{
		{
			name:      "inputs prefix stripped",
			bindings:  map[string]string{},
			reference: "{{inputs.title}}",
			wantSlot:  "title",
		},
		{
			name:      "node field becomes underscore key",
			bindings:  map[string]string{},
			reference: "{{Draft.body}}",
			wantSlot:  "Draft_body",
		},
		{
			name:      "collision appends numeric suffix",
			bindings:  map[string]string{"title": "{{Other.title}}"},
			reference: "{{inputs.title}}",
			wantSlot:  "title_2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot, next := Upsert(tt.bindings, tt.reference, "")
			if slot != tt.wantSlot {
				t.Fatalf("slot = %q, want %q", slot, tt.wantSlot)
			}
			if next[slot] != tt.reference {
				t.Errorf("binding = %q, want %q", next[slot], tt.reference)
			}
		})
	}
}

func TestSlots(t *testing.T) {
	prompt := "【topic】 then 【style】"
	bindings := map[string]string{
		"zeta":  "{{Z}}",
		"alpha": "{{A}}",
		"topic": "{{T}}", // already in prompt, not repeated
	}

	got := Slots(prompt, bindings)
	want := []string{"topic", "style", "alpha", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Slots() = %v, want %v", got, want)
	}
}
