package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/jg-phare/taskcore/pkg/subagent"
)

// Delegator runs a prompt in an isolated child task.
type Delegator interface {
	Delegate(ctx context.Context, req subagent.Request) (subagent.Result, error)
	Profiles() *subagent.Profiles
}

// AgentTool delegates work to a sub-agent profile.
type AgentTool struct {
	Delegator Delegator
}

func (a *AgentTool) Group() string { return subagent.ToolGroup }
func (a *AgentTool) Name() string  { return subagent.ToolName }

func (a *AgentTool) Description() string {
	return `Delegates a self-contained piece of work to a sub-agent that runs in its own isolated task.

- subagentId selects the sub-agent profile; an unknown id fails
- The sub-agent cannot see this conversation unless its profile keeps context from earlier runs, so the prompt must carry everything it needs
- The sub-agent's final answer is returned as the result; relay what matters to the user
- Sub-agents cannot delegate further`
}

func (a *AgentTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"subagentId": map[string]any{
				"type":        "string",
				"description": "The id of the sub-agent profile to run",
			},
			"prompt": map[string]any{
				"type":        "string",
				"description": "The task for the sub-agent to perform",
			},
		},
		"required": []string{"subagentId", "prompt"},
	}
}

func (a *AgentTool) SideEffect() SideEffectType { return SideEffectSpawns }

func (a *AgentTool) Execute(ctx context.Context, env Env, input map[string]any) (ToolOutput, error) {
	profileID, ok := input["subagentId"].(string)
	if !ok || profileID == "" {
		return errorOutput("subagentId is required%s", a.available(env)), nil
	}

	prompt, ok := input["prompt"].(string)
	if !ok || strings.TrimSpace(prompt) == "" {
		return errorOutput("prompt is required"), nil
	}

	if a.Delegator == nil {
		return errorOutput("sub-agents are not configured"), nil
	}

	res, err := a.Delegator.Delegate(ctx, subagent.Request{
		ParentID:     env.TaskID,
		ProjectDir:   env.ProjectDir,
		CallID:       env.CallID,
		ProfileID:    profileID,
		Prompt:       prompt,
		History:      env.history(),
		StepMessages: env.stepMessages(),
		ParentModels: env.Models,
		ParentTools:  env.ToolKeys,
		ParentDepth:  env.Depth,
		Hooks:        env.Hooks,
	})

	run := res.Run
	out := ToolOutput{Content: res.Final}
	if run.Group != nil {
		out.Subagent = &run
	}
	if err != nil {
		out.IsError = true
		out.Content = fmt.Sprintf("Error: %s", err)
		if res.Final != "" {
			out.Content += "\n\nPartial result:\n" + res.Final
		}
		return out, nil
	}
	if out.Content == "" {
		out.Content = "(sub-agent returned no result)"
	}
	return out, nil
}

func (a *AgentTool) available(env Env) string {
	if a.Delegator == nil || a.Delegator.Profiles() == nil {
		return ""
	}
	var ids []string
	for _, p := range a.Delegator.Profiles().List(env.ProjectDir) {
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return ""
	}
	return "; available: " + strings.Join(ids, ", ")
}
