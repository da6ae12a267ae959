package engine

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// Interpolate substitutes {{field}} placeholders in template using lookup.
// Unresolved placeholders render as empty strings. Field names may use dots
// to reach into nested maps when the lookup supports it.
func Interpolate(template string, lookup func(field string) (any, bool)) string {
	if template == "" || lookup == nil {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return ""
		}
		value, ok := lookup(groups[1])
		if !ok || value == nil {
			return ""
		}
		return fmt.Sprintf("%v", value)
	})
}

// PathLookup wraps a flat lookup with dotted-path traversal through nested
// map[string]any values.
func PathLookup(lookup func(field string) (any, bool)) func(string) (any, bool) {
	return func(field string) (any, bool) {
		if value, ok := lookup(field); ok {
			return value, true
		}
		parts := strings.Split(field, ".")
		if len(parts) < 2 {
			return nil, false
		}
		value, ok := lookup(parts[0])
		if !ok {
			return nil, false
		}
		for _, part := range parts[1:] {
			m, isMap := value.(map[string]any)
			if !isMap {
				return nil, false
			}
			value, ok = m[part]
			if !ok {
				return nil, false
			}
		}
		return value, true
	}
}
