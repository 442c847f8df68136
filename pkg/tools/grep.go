package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
)

const (
	grepMaxOutput   = 100000 // characters
	grepMaxFileSize = 4 << 20
)

// Grep output modes.
const (
	grepFiles   = "files_with_matches"
	grepContent = "content"
	grepCount   = "count"
)

// GrepTool searches file contents in the working directory with Go
// regular expressions.
type GrepTool struct{}

func (g *GrepTool) Group() string { return "power" }
func (g *GrepTool) Name() string  { return "grep" }

func (g *GrepTool) Description() string {
	return `Searches file contents with a regular expression (Go RE2 syntax, e.g. "log.*Error", "func\s+\w+").

- Filter files with glob (e.g. "*.go", "internal/**/*.ts")
- Output modes: "files_with_matches" lists paths (default), "content" shows matching lines as path:line:text, "count" shows matches per file
- Binary files and files over 4MB are skipped`
}

func (g *GrepTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "The regular expression to search for",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Subdirectory to search in (default: working directory)",
			},
			"glob": map[string]any{
				"type":        "string",
				"description": "Glob pattern filtering the searched files",
			},
			"output_mode": map[string]any{
				"type":        "string",
				"enum":        []string{grepFiles, grepContent, grepCount},
				"description": "What to return (default files_with_matches)",
			},
			"ignore_case": map[string]any{
				"type":        "boolean",
				"description": "Case insensitive search",
			},
			"context": map[string]any{
				"type":        "number",
				"description": "Lines of context around each match in content mode",
			},
			"head_limit": map[string]any{
				"type":        "number",
				"description": "Return at most this many output lines",
			},
		},
		"required": []string{"pattern"},
	}
}

func (g *GrepTool) SideEffect() SideEffectType { return SideEffectNone }

// grepQuery is a parsed grep request.
type grepQuery struct {
	re      *regexp.Regexp
	mode    string
	context int
	limit   int
}

func parseGrepQuery(input map[string]any) (grepQuery, error) {
	pattern, _ := input["pattern"].(string)
	if pattern == "" {
		return grepQuery{}, fmt.Errorf("pattern is required")
	}
	if ci, _ := input["ignore_case"].(bool); ci {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return grepQuery{}, fmt.Errorf("invalid pattern: %w", err)
	}

	q := grepQuery{re: re, mode: grepFiles}
	if m, ok := input["output_mode"].(string); ok && m != "" {
		switch m {
		case grepFiles, grepContent, grepCount:
			q.mode = m
		default:
			return grepQuery{}, fmt.Errorf("unknown output_mode %q", m)
		}
	}
	if c, ok := input["context"].(float64); ok && c > 0 {
		q.context = int(c)
	}
	if l, ok := input["head_limit"].(float64); ok && l > 0 {
		q.limit = int(l)
	}
	return q, nil
}

func (g *GrepTool) Execute(ctx context.Context, env Env, input map[string]any) (ToolOutput, error) {
	q, err := parseGrepQuery(input)
	if err != nil {
		return errorOutput("%s", err), nil
	}
	root := env.Dir
	if p, ok := input["path"].(string); ok && p != "" {
		root = env.resolve(p)
	}
	if root == "" {
		return errorOutput("no working directory"), nil
	}
	glob, _ := input["glob"].(string)

	var out []string
	full := func() bool { return q.limit > 0 && len(out) >= q.limit }

	err = walkFiles(ctx, root, glob, func(path, rel string) error {
		if info, err := os.Stat(path); err != nil || info.Size() > grepMaxFileSize || isBinary(path) {
			return nil
		}
		lines, err := readLines(path)
		if err != nil {
			return nil
		}
		out = append(out, q.search(rel, lines)...)
		if full() {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return errorOutput("%s", err), nil
	}
	if len(out) == 0 {
		return ToolOutput{Content: "No matches found."}, nil
	}
	if q.limit > 0 && len(out) > q.limit {
		out = out[:q.limit]
	}

	result := strings.Join(out, "\n")
	if len(result) > grepMaxOutput {
		total := len(result)
		result = result[:grepMaxOutput] + fmt.Sprintf("\n... (truncated, %d total characters)", total)
	}
	return ToolOutput{Content: result}, nil
}

// search returns the output lines one file contributes.
func (q grepQuery) search(rel string, lines []string) []string {
	var hits []int
	for i, l := range lines {
		if q.re.MatchString(l) {
			hits = append(hits, i)
		}
	}
	switch {
	case len(hits) == 0:
		return nil
	case q.mode == grepFiles:
		return []string{rel}
	case q.mode == grepCount:
		return []string{fmt.Sprintf("%s:%d", rel, len(hits))}
	}

	// Content: merge overlapping context windows, separate gaps with "--".
	var out []string
	last := -1
	for _, h := range hits {
		from := max(h-q.context, last+1)
		to := min(h+q.context, len(lines)-1)
		if last >= 0 && from > last+1 {
			out = append(out, "--")
		}
		for i := from; i <= to; i++ {
			sep := "-"
			if q.re.MatchString(lines[i]) {
				sep = ":"
			}
			out = append(out, fmt.Sprintf("%s%s%d%s%s", rel, sep, i+1, sep, lines[i]))
		}
		last = max(last, to)
	}
	return out
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), grepMaxFileSize)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
