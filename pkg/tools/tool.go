// Package tools holds the tools a task's agent can call. Every tool is
// addressed by its key "<group>/<name>", which is also its approval key.
package tools

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jg-phare/taskcore/pkg/hooks"
	"github.com/jg-phare/taskcore/pkg/types"
)

// SideEffectType classifies a tool's impact on system state.
type SideEffectType int

const (
	SideEffectNone     SideEffectType = iota // file_read, glob, grep
	SideEffectMutating                       // bash, file_write, file_edit
	SideEffectNetwork                        // fetch
	SideEffectSpawns                         // subagents/run_task
)

// ToolOutput is the result of a tool execution.
type ToolOutput struct {
	Content string // text content for the tool result
	IsError bool   // when true, content is an error message
	// Subagent carries the child exchange of a delegation.
	Subagent *types.SubagentRun
}

// TodoStore persists a task's todo list.
type TodoStore interface {
	Todos() []types.TodoItem
	SetTodos(items []types.TodoItem) error
}

// Env is the calling task as seen by a tool.
type Env struct {
	TaskID     string
	ProjectDir string
	// Dir is the working directory: the project or the task's worktree.
	Dir    string
	CallID string
	Depth  int
	Models types.Models
	// ToolKeys are the keys available to the calling task.
	ToolKeys     []string
	History      func() []types.ContextMessage
	StepMessages func() []types.ContextMessage
	Todos        TodoStore
	// Ask puts a question to the user and waits for the answer.
	Ask   func(ctx context.Context, q types.Question) (types.Answer, error)
	Hooks hooks.Context
}

func (e Env) history() []types.ContextMessage {
	if e.History == nil {
		return nil
	}
	return e.History()
}

func (e Env) stepMessages() []types.ContextMessage {
	if e.StepMessages == nil {
		return nil
	}
	return e.StepMessages()
}

// resolve makes p absolute against the working directory.
func (e Env) resolve(p string) string {
	if filepath.IsAbs(p) || e.Dir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(e.Dir, p)
}

// Tool is the interface every tool must implement.
type Tool interface {
	Group() string
	Name() string
	Description() string
	InputSchema() map[string]any // JSON Schema object for the tools array
	SideEffect() SideEffectType
	Execute(ctx context.Context, env Env, input map[string]any) (ToolOutput, error)
}

// Key returns the "<group>/<name>" key of a tool.
func Key(t Tool) string {
	return types.ToolKey(t.Group(), t.Name())
}

func errorOutput(format string, args ...any) ToolOutput {
	return ToolOutput{Content: "Error: " + fmt.Sprintf(format, args...), IsError: true}
}
