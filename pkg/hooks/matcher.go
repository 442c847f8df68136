package hooks

import "github.com/bmatcuk/doublestar/v4"

// matchTool checks a tool key ("power/bash") against a doublestar pattern.
// An empty pattern matches everything; an event without a tool matches too.
func matchTool(pattern, tool string) bool {
	if pattern == "" || tool == "" {
		return true
	}
	if pattern == tool {
		return true
	}
	matched, err := doublestar.Match(pattern, tool)
	return err == nil && matched
}

func validPattern(pattern string) bool {
	return doublestar.ValidatePattern(pattern)
}
