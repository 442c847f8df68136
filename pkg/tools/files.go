package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// writable resolves p for a mutating tool. Tasks with a working directory
// may only change files inside it, so a worktree task cannot write into
// the project it was branched from.
func (e Env) writable(p string) (string, error) {
	path := e.resolve(p)
	if e.Dir == "" {
		return path, nil
	}
	rel, err := filepath.Rel(filepath.Clean(e.Dir), path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the working directory %s", p, e.Dir)
	}
	return path, nil
}

// display returns path relative to the working directory when inside it.
func (e Env) display(path string) string {
	if e.Dir == "" {
		return path
	}
	if rel, err := filepath.Rel(e.Dir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}

func countLines(s string) int {
	n := strings.Count(s, "\n")
	if s != "" && !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// FileWriteTool creates or replaces a file.
type FileWriteTool struct{}

func (f *FileWriteTool) Group() string { return "power" }
func (f *FileWriteTool) Name() string  { return "file_write" }

func (f *FileWriteTool) Description() string {
	return `Writes a file, replacing any existing content. Missing parent directories are created.
Relative paths resolve against the task's working directory; files outside it cannot be written.`
}

func (f *FileWriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "The path of the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The full new content of the file",
			},
		},
		"required": []string{"file_path", "content"},
	}
}

func (f *FileWriteTool) SideEffect() SideEffectType { return SideEffectMutating }

func (f *FileWriteTool) Execute(_ context.Context, env Env, input map[string]any) (ToolOutput, error) {
	name, _ := input["file_path"].(string)
	if name == "" {
		return errorOutput("file_path is required"), nil
	}
	content, ok := input["content"].(string)
	if !ok {
		return errorOutput("content is required"), nil
	}
	path, err := env.writable(name)
	if err != nil {
		return errorOutput("%s", err), nil
	}

	verb := "Updated"
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return errorOutput("%s is a directory", env.display(path)), nil
		}
		mode = info.Mode().Perm()
	} else {
		verb = "Created"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errorOutput("creating directories: %s", err), nil
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return errorOutput("writing file: %s", err), nil
	}
	return ToolOutput{Content: fmt.Sprintf("%s %s (%d lines)", verb, env.display(path), countLines(content))}, nil
}

// FileEditTool replaces exact text in a file.
type FileEditTool struct{}

func (f *FileEditTool) Group() string { return "power" }
func (f *FileEditTool) Name() string  { return "file_edit" }

func (f *FileEditTool) Description() string {
	return `Replaces exact text in a file. old_string must occur exactly once unless replace_all is set; include surrounding lines to make it unique.
Relative paths resolve against the task's working directory; files outside it cannot be edited.`
}

func (f *FileEditTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "The path of the file to modify",
			},
			"old_string": map[string]any{
				"type":        "string",
				"description": "The exact text to replace",
			},
			"new_string": map[string]any{
				"type":        "string",
				"description": "The replacement text",
			},
			"replace_all": map[string]any{
				"type":        "boolean",
				"description": "Replace every occurrence (default false)",
			},
		},
		"required": []string{"file_path", "old_string", "new_string"},
	}
}

func (f *FileEditTool) SideEffect() SideEffectType { return SideEffectMutating }

func (f *FileEditTool) Execute(_ context.Context, env Env, input map[string]any) (ToolOutput, error) {
	name, _ := input["file_path"].(string)
	if name == "" {
		return errorOutput("file_path is required"), nil
	}
	oldText, okOld := input["old_string"].(string)
	newText, okNew := input["new_string"].(string)
	if !okOld || !okNew || oldText == "" {
		return errorOutput("old_string and new_string are required"), nil
	}
	if oldText == newText {
		return errorOutput("old_string and new_string must be different"), nil
	}
	all, _ := input["replace_all"].(bool)

	path, err := env.writable(name)
	if err != nil {
		return errorOutput("%s", err), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return errorOutput("%s", err), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errorOutput("%s", err), nil
	}
	content := string(data)

	n := strings.Count(content, oldText)
	switch {
	case n == 0:
		return errorOutput("old_string not found in %s", env.display(path)), nil
	case n > 1 && !all:
		return errorOutput("old_string occurs %d times in %s; add context or set replace_all", n, env.display(path)), nil
	}
	if !all {
		n = 1
	}
	content = strings.Replace(content, oldText, newText, n)

	if err := os.WriteFile(path, []byte(content), info.Mode().Perm()); err != nil {
		return errorOutput("writing file: %s", err), nil
	}
	return ToolOutput{Content: fmt.Sprintf("Replaced %d occurrence(s) in %s", n, env.display(path))}, nil
}
