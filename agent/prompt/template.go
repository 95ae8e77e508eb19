package prompt

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// Render replaces {{KEY}} tokens with their bound values. A string value is
// inserted as is and a []string value is joined with newlines. Unknown keys
// are left verbatim.
func Render(template string, vars map[string]any) string {
	if len(vars) == 0 {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		key := placeholderPattern.FindStringSubmatch(token)[1]
		v, ok := vars[key]
		if !ok {
			return token
		}
		switch val := v.(type) {
		case string:
			return val
		case []string:
			return strings.Join(val, "\n")
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
			return strings.Join(parts, "\n")
		default:
			return token
		}
	})
}

// StringVars widens a string map for Render.
func StringVars(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
