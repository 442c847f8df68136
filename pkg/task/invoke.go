package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jg-phare/taskcore/pkg/approval"
	"github.com/jg-phare/taskcore/pkg/hooks"
	"github.com/jg-phare/taskcore/pkg/tools"
	"github.com/jg-phare/taskcore/pkg/types"
)

// InvokeTool records call as a pending tool message, resolves approval,
// runs the tool and records its result. It blocks until the tool finished
// or ctx is cancelled. Failures come back as "Error: ..." results.
func (t *Task) InvokeTool(ctx context.Context, call types.ToolCall) types.ToolResult {
	if call.ID == "" {
		call.ID = types.NewID()
	}
	key := call.Key()
	logger := t.logger.With("tool", key, "call_id", call.ID)

	var (
		env     tools.Env
		saveErr error
	)
	err := t.do(func() error {
		if t.closing {
			return ErrTaskClosed
		}
		env = t.toolEnv(call.ID)
		saveErr = t.append(types.NewToolMessage(call, nil))
		return nil
	})
	if err != nil {
		return types.ToolResult{CallID: call.ID, Content: "Error: " + err.Error(), IsError: true}
	}

	hc := t.hookContext()
	out := t.opts.hooks.Trigger(ctx, hooks.NewEvent(hooks.OnToolCalled, map[string]any{
		"tool":   key,
		"callId": call.ID,
		"args":   call.Args,
	}), hc)
	if out.Blocked {
		logger.Info("tool call blocked by hook")
		return t.finishTool(ctx, call, saveErr, failed("%s was blocked by a hook", key))
	}
	if args, ok := out.Event.Data["args"].(map[string]any); ok {
		call.Args = args
	}

	tool, ok := t.opts.tools.Get(key)
	if !ok {
		return t.finishTool(ctx, call, saveErr, failed("unknown tool %s", key))
	}

	res, err := t.opts.gate.Resolve(ctx, approval.Request{
		TaskID:  t.opts.approvalID,
		ToolKey: key,
		Text:    fmt.Sprintf("Allow %s?", key),
		Subject: describeArgs(call.Args),
		Args:    call.Args,
	}, hc, t.asker())
	if err != nil {
		return t.finishTool(ctx, call, saveErr, failed("%v", err))
	}
	if !res.Approved {
		logger.Info("tool call rejected", "source", string(res.Source))
		content := approval.DeniedMessage(key)
		if res.UserInput != "" {
			content = "User said: " + res.UserInput + "\n" + content
		}
		return t.finishTool(ctx, call, saveErr, tools.ToolOutput{Content: content, IsError: true})
	}
	if ctx.Err() != nil {
		return t.finishTool(ctx, call, saveErr, failed("cancelled"))
	}

	if err := t.do(func() error { return t.setToolStatus(call.ID, types.ToolExecuting) }); err != nil && saveErr == nil {
		saveErr = err
	}
	output, err := tool.Execute(ctx, env, call.Args)
	if err != nil {
		output = failed("%v", err)
	}
	if res.UserInput != "" {
		output.Content += "\n\nUser note: " + res.UserInput
	}
	return t.finishTool(ctx, call, saveErr, output)
}

func failed(format string, args ...any) tools.ToolOutput {
	return tools.ToolOutput{Content: "Error: " + fmt.Sprintf(format, args...), IsError: true}
}

func (t *Task) asker() approval.Asker {
	if t.opts.asker != nil {
		return t.opts.asker
	}
	return t
}

// finishTool records the result. A tool message that failed to persist at
// any point gets a warning log message next to it.
func (t *Task) finishTool(ctx context.Context, call types.ToolCall, saveErr error, out tools.ToolOutput) types.ToolResult {
	err := t.do(func() error {
		i := t.indexOf(call.ID)
		if i < 0 || t.messages[i].Tool == nil {
			return nil
		}
		p := t.messages[i].Tool
		p.Status = types.ToolFinished
		p.Args = call.Args
		p.Response = out.Content
		p.IsError = out.IsError
		p.Subagent = out.Subagent
		return t.update(i)
	})
	if saveErr == nil {
		saveErr = err
	}
	if saveErr != nil && !errors.Is(saveErr, ErrTaskClosed) {
		_ = t.do(func() error {
			warn := fmt.Sprintf("Tool call %s (%s) was not saved: %v", call.ID, call.Key(), saveErr)
			return t.append(types.NewLogMessage(types.LogWarning, warn, nil))
		})
	}

	t.opts.hooks.Trigger(context.WithoutCancel(ctx), hooks.NewEvent(hooks.OnToolFinished, map[string]any{
		"tool":    call.Key(),
		"callId":  call.ID,
		"result":  out.Content,
		"isError": out.IsError,
	}), t.hookContext())

	return types.ToolResult{CallID: call.ID, Content: out.Content, IsError: out.IsError}
}

func (t *Task) setToolStatus(id string, status types.ToolStatus) error {
	i := t.indexOf(id)
	if i < 0 || t.messages[i].Tool == nil {
		return nil
	}
	t.messages[i].Tool.Status = status
	return t.update(i)
}

// toolEnv describes the task to a tool. Called on the executor.
func (t *Task) toolEnv(callID string) tools.Env {
	return tools.Env{
		TaskID:     t.id,
		ProjectDir: t.projectDir,
		Dir:        t.dir,
		CallID:     callID,
		Depth:      t.opts.depth,
		Models:     t.meta.Models,
		ToolKeys:   t.opts.tools.Keys(),
		History: func() []types.ContextMessage {
			var out []types.ContextMessage
			_ = t.do(func() error {
				out = types.CloneMessages(t.messages[:min(t.stepStart, len(t.messages))])
				return nil
			})
			return out
		},
		StepMessages: func() []types.ContextMessage {
			var out []types.ContextMessage
			_ = t.do(func() error {
				out = types.CloneMessages(t.messages[min(t.stepStart, len(t.messages)):])
				return nil
			})
			return out
		},
		Todos: todoStore{t},
		Ask:   t.questioner(),
		Hooks: t.hookContext(),
	}
}

// questioner returns who answers the agent's questions: the parent for a
// delegated child, the task itself otherwise.
func (t *Task) questioner() func(context.Context, types.Question) (types.Answer, error) {
	if p, ok := t.opts.asker.(*Task); ok {
		return p.Ask
	}
	return t.Ask
}

// describeArgs renders tool arguments for an approval question.
func describeArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	if cmd, ok := args["command"].(string); ok {
		return cmd
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(args[k])
		if err != nil {
			continue
		}
		parts = append(parts, k+"="+string(v))
	}
	return strings.Join(parts, " ")
}

// todoStore keeps the todo list in the task metadata.
type todoStore struct{ t *Task }

func (s todoStore) Todos() []types.TodoItem {
	var out []types.TodoItem
	_ = s.t.do(func() error {
		out = append([]types.TodoItem(nil), s.t.meta.Todos...)
		return nil
	})
	return out
}

func (s todoStore) SetTodos(items []types.TodoItem) error {
	return s.t.do(func() error {
		s.t.meta.Todos = append([]types.TodoItem(nil), items...)
		s.t.publishMeta()
		return s.t.persistMeta()
	})
}
