package templating_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notifyhub/notifyhub/internal/templating"
)

func TestExpand(t *testing.T) {
	cases := []struct {
		name string
		tmpl string
		vars map[string]any
		want string
	}{
		{"unknown kept verbatim", "Hi {{a}} {{b}}", map[string]any{"a": "X"}, "Hi X {{b}}"},
		{"repeated key", "{{n}}-{{n}}", map[string]any{"n": 7}, "7-7"},
		{"no placeholders", "plain text", map[string]any{"a": 1}, "plain text"},
		{"nil vars", "Hello {{name}}", nil, "Hello {{name}}"},
		{"non-string values", "{{ok}} {{ratio}}", map[string]any{"ok": true, "ratio": 0.5}, "true 0.5"},
		{"nil value", "[{{x}}]", map[string]any{"x": nil}, "[]"},
		{"unterminated tag", "Hi {{name", map[string]any{"name": "Z"}, "Hi {{name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, templating.Expand(tc.tmpl, tc.vars))
		})
	}
}

func TestExpand_Idempotent(t *testing.T) {
	vars := map[string]any{"a": "X"}
	once := templating.Expand("Hi {{a}} {{b}}", vars)
	assert.Equal(t, once, templating.Expand(once, vars))
}

func TestPlaceholders(t *testing.T) {
	got := templating.Placeholders("Hi {{name}}, order {{order}}", "{{name}} owes {{amount}} {{}}")
	assert.Equal(t, []string{"name", "order", "amount"}, got)
	assert.Empty(t, templating.Placeholders("nothing here"))
}
