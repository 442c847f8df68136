package tools

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// globMaxResults bounds the listing handed back to the model.
const globMaxResults = 500

// GlobTool lists files in the working directory by doublestar pattern.
type GlobTool struct{}

func (g *GlobTool) Group() string { return "power" }
func (g *GlobTool) Name() string  { return "glob" }

func (g *GlobTool) Description() string {
	return `Lists files matching a glob pattern such as "**/*.go" or "cmd/*/main.go".

- Paths are relative to the task's working directory
- A pattern without "/" matches file names at any depth
- .git, .taskcore and node_modules are skipped`
}

func (g *GlobTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "The glob pattern to match files against",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Subdirectory to search in (default: working directory)",
			},
		},
		"required": []string{"pattern"},
	}
}

func (g *GlobTool) SideEffect() SideEffectType { return SideEffectNone }

func (g *GlobTool) Execute(ctx context.Context, env Env, input map[string]any) (ToolOutput, error) {
	pattern, _ := input["pattern"].(string)
	if pattern == "" {
		return errorOutput("pattern is required"), nil
	}
	root := env.Dir
	if p, ok := input["path"].(string); ok && p != "" {
		root = env.resolve(p)
	}
	if root == "" {
		return errorOutput("no working directory"), nil
	}

	var matches []string
	truncated := false
	err := walkFiles(ctx, root, pattern, func(_, rel string) error {
		if len(matches) == globMaxResults {
			truncated = true
			return fs.SkipAll
		}
		matches = append(matches, rel)
		return nil
	})
	if err != nil {
		return errorOutput("%s", err), nil
	}
	if len(matches) == 0 {
		return ToolOutput{Content: "No files matched the pattern."}, nil
	}

	sort.Strings(matches)
	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (stopped after %d files, narrow the pattern)", globMaxResults)
	}
	return ToolOutput{Content: out}, nil
}
