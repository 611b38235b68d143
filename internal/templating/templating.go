// Package templating expands {{name}} placeholders in notification templates.
package templating

import (
	"fmt"
	"io"
	"strings"

	"github.com/valyala/fasttemplate"
)

const (
	startTag = "{{"
	endTag   = "}}"
)

// Expand replaces every {{key}} whose key is present in vars with the
// stringified value. Placeholders without a value are kept verbatim, so
// expanding the output again with the same vars yields the same string.
func Expand(tmpl string, vars map[string]any) string {
	if !strings.Contains(tmpl, startTag) {
		return tmpl
	}
	return fasttemplate.ExecuteFuncString(tmpl, startTag, endTag, func(w io.Writer, tag string) (int, error) {
		v, ok := vars[tag]
		if !ok {
			return io.WriteString(w, startTag+tag+endTag)
		}
		return io.WriteString(w, stringify(v))
	})
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Placeholders returns the distinct placeholder names in order of first
// appearance.
func Placeholders(tmpls ...string) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, tmpl := range tmpls {
		rest := tmpl
		for {
			i := strings.Index(rest, startTag)
			if i < 0 {
				break
			}
			rest = rest[i+len(startTag):]
			j := strings.Index(rest, endTag)
			if j < 0 {
				break
			}
			name := rest[:j]
			rest = rest[j+len(endTag):]
			if name == "" {
				continue
			}
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}
	return names
}
