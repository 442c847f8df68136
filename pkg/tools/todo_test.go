package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jg-phare/taskcore/pkg/types"
)

type memTodos struct{ items []types.TodoItem }

func (m *memTodos) Todos() []types.TodoItem { return m.items }

func (m *memTodos) SetTodos(items []types.TodoItem) error {
	m.items = items
	return nil
}

func TestTodo_SetAndGet(t *testing.T) {
	store := &memTodos{}
	env := Env{Todos: store}

	out := run(t, &TodoSetTool{}, env, map[string]any{"items": []any{
		map[string]any{"content": "write code", "status": "completed"},
		map[string]any{"content": "run tests", "status": "in_progress", "activeForm": "Running tests"},
		map[string]any{"content": "ship", "status": "pending"},
	}})
	require.False(t, out.IsError, out.Content)
	assert.True(t, strings.HasPrefix(out.Content, "Todo list updated (1/3 completed):\n1. [x] write code"))
	require.Len(t, store.items, 3)
	assert.Equal(t, "Running tests", store.items[1].ActiveForm)

	out = run(t, &TodoGetTool{}, env, nil)
	assert.Equal(t, "1. [x] write code (completed)\n2. [~] run tests (in_progress)\n3. [ ] ship (pending)", out.Content)
}

func TestTodo_Validation(t *testing.T) {
	env := Env{Todos: &memTodos{}}
	tests := []map[string]any{
		{},
		{"items": "nope"},
		{"items": []any{"x"}},
		{"items": []any{map[string]any{"status": "pending"}}},
		{"items": []any{map[string]any{"content": "a", "status": "done"}}},
		{"items": []any{
			map[string]any{"content": "a", "status": "in_progress"},
			map[string]any{"content": "b", "status": "in_progress"},
		}},
	}
	for _, in := range tests {
		out := run(t, &TodoSetTool{}, env, in)
		assert.True(t, out.IsError, "%v", in)
	}
}

func TestTodo_ClearAndUnavailable(t *testing.T) {
	store := &memTodos{items: []types.TodoItem{{Content: "a", Status: types.TodoPending}}}
	out := run(t, &TodoSetTool{}, Env{Todos: store}, map[string]any{"items": []any{}})
	assert.Equal(t, "Todo list cleared.", out.Content)
	assert.Empty(t, store.items)

	out = run(t, &TodoGetTool{}, Env{Todos: store}, nil)
	assert.Equal(t, "Todo list is empty.", out.Content)

	out = run(t, &TodoGetTool{}, Env{}, nil)
	assert.True(t, out.IsError)
}
