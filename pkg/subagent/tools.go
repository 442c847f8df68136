package subagent

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ResolveTools determines the tool keys a child may use. A non-empty
// allowed list keeps only parent keys matching one of its patterns;
// disallowed patterns are then removed. The delegation tool is always
// removed so children cannot nest.
func ResolveTools(allowed, disallowed, parentTools []string) []string {
	var base []string
	if len(allowed) > 0 {
		base = filterFunc(parentTools, func(key string) bool {
			return matchAny(allowed, key)
		})
	} else {
		base = append([]string(nil), parentTools...)
	}

	return filterFunc(base, func(key string) bool {
		return key != ToolKey && !matchAny(disallowed, key)
	})
}

// matchAny reports whether key matches one of the patterns. Patterns
// are doublestar globs over "<group>/<name>"; a bare group name matches
// every tool in that group.
func matchAny(patterns []string, key string) bool {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p == key {
			return true
		}
		if !strings.Contains(p, "/") && strings.HasPrefix(key, p+"/") {
			return true
		}
		if ok, err := doublestar.Match(p, key); err == nil && ok {
			return true
		}
	}
	return false
}

// filterFunc returns tools that match the predicate.
func filterFunc(tools []string, pred func(string) bool) []string {
	var result []string
	for _, t := range tools {
		if pred(t) {
			result = append(result, t)
		}
	}
	return result
}
