package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jg-phare/taskcore/pkg/types"
)

var todoMarkers = map[string]string{
	types.TodoPending:    "[ ]",
	types.TodoInProgress: "[~]",
	types.TodoCompleted:  "[x]",
}

// TodoSetTool replaces the task's todo list.
type TodoSetTool struct{}

func (t *TodoSetTool) Group() string { return "todo" }
func (t *TodoSetTool) Name() string  { return "set_items" }

func (t *TodoSetTool) Description() string {
	return `Replaces the task's todo list. Use it to plan work of several steps and report progress as you go.
Keep at most one item in_progress. Give it an activeForm such as "Running tests" for display while it runs.
A single trivial request needs no list.`
}

func (t *TodoSetTool) InputSchema() map[string]any {
	item := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{"type": "string", "description": "What needs doing"},
			"status": map[string]any{
				"type": "string",
				"enum": []string{types.TodoPending, types.TodoInProgress, types.TodoCompleted},
			},
			"activeForm": map[string]any{"type": "string", "description": "Label shown while in progress"},
		},
		"required": []string{"content", "status"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{
				"type":        "array",
				"items":       item,
				"description": "The complete new list",
			},
		},
		"required": []string{"items"},
	}
}

func (t *TodoSetTool) SideEffect() SideEffectType { return SideEffectNone }

// decodeTodos converts the tool input into validated items.
func decodeTodos(raw any) ([]types.TodoItem, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("items must be an array")
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	var items []types.TodoItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("items must be objects: %w", err)
	}

	running := 0
	for i := range items {
		it := &items[i]
		it.Content = strings.TrimSpace(it.Content)
		if it.Content == "" {
			return nil, fmt.Errorf("items[%d].content is required", i)
		}
		if _, ok := todoMarkers[it.Status]; !ok {
			return nil, fmt.Errorf("items[%d].status %q is not pending, in_progress or completed", i, it.Status)
		}
		if it.Status == types.TodoInProgress {
			running++
		}
	}
	if running > 1 {
		return nil, fmt.Errorf("%d items are in_progress; keep at most one", running)
	}
	return items, nil
}

func (t *TodoSetTool) Execute(_ context.Context, env Env, input map[string]any) (ToolOutput, error) {
	if env.Todos == nil {
		return errorOutput("this task has no todo list"), nil
	}
	items, err := decodeTodos(input["items"])
	if err != nil {
		return errorOutput("%s", err), nil
	}
	if err := env.Todos.SetTodos(items); err != nil {
		return errorOutput("saving todo list: %s", err), nil
	}
	if len(items) == 0 {
		return ToolOutput{Content: "Todo list cleared."}, nil
	}
	done := 0
	for _, it := range items {
		if it.Status == types.TodoCompleted {
			done++
		}
	}
	return ToolOutput{Content: fmt.Sprintf("Todo list updated (%d/%d completed):\n%s", done, len(items), formatTodos(items))}, nil
}

// TodoGetTool returns the task's todo list.
type TodoGetTool struct{}

func (t *TodoGetTool) Group() string { return "todo" }
func (t *TodoGetTool) Name() string  { return "get_items" }

func (t *TodoGetTool) Description() string { return "Returns the task's current todo list." }

func (t *TodoGetTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *TodoGetTool) SideEffect() SideEffectType { return SideEffectNone }

func (t *TodoGetTool) Execute(_ context.Context, env Env, _ map[string]any) (ToolOutput, error) {
	if env.Todos == nil {
		return errorOutput("this task has no todo list"), nil
	}
	items := env.Todos.Todos()
	if len(items) == 0 {
		return ToolOutput{Content: "Todo list is empty."}, nil
	}
	return ToolOutput{Content: formatTodos(items)}, nil
}

func formatTodos(items []types.TodoItem) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = fmt.Sprintf("%d. %s %s (%s)", i+1, todoMarkers[it.Status], it.Content, it.Status)
	}
	return strings.Join(lines, "\n")
}
