// Package environment resolves {{variable}} placeholders in request fields
// against the shared-state variables, falling back to OS env vars.
package environment

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var varPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Resolve replaces {{variable}} placeholders in a string. Structured
// variable values are serialized to their JSON form. Unknown placeholders
// are left in place.
func Resolve(input string, vars map[string]any) string {
	return varPattern.ReplaceAllStringFunc(input, func(match string) string {
		key := strings.TrimPrefix(strings.TrimSuffix(match, "}}"), "{{")
		if v, ok := vars[key]; ok {
			return stringify(v)
		}
		if v := os.Getenv(key); v != "" {
			return v
		}
		return match // leave unreplaced
	})
}

// ResolveMap resolves placeholders in every key and value of a string map.
func ResolveMap(m map[string]string, vars map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[Resolve(k, vars)] = Resolve(v, vars)
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case json.Number:
		return t.String()
	case bool, int64, float64:
		return fmt.Sprint(t)
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(encoded)
}
