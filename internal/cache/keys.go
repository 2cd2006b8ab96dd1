package cache

import (
	"fmt"
	"sort"
	"strings"
)

// Key derives a deterministic cache key from a resource name and its query
// parameters. Parameters are serialized in sorted field order so identical
// logical queries always produce the same key regardless of map iteration or
// construction order.
func Key(resource string, params map[string]any) string {
	if len(params) == 0 {
		return resource
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(resource)
	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(canonicalValue(params[k]))
	}
	return b.String()
}

// canonicalValue renders a parameter value in a stable form. Nested maps are
// flattened with the same sorted-field rule as the top level.
func canonicalValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte(':')
			b.WriteString(canonicalValue(val[k]))
		}
		b.WriteByte('}')
		return b.String()
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = canonicalValue(item)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}
