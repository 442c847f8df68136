package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	shellTimeout    = 2 * time.Minute
	shellMaxTimeout = 10 * time.Minute
	shellOutput     = 30000
	shellWaitDelay  = 2 * time.Second
)

// BashTool runs a shell command in the task's working directory.
type BashTool struct{}

func (b *BashTool) Group() string { return "power" }
func (b *BashTool) Name() string  { return "bash" }

func (b *BashTool) Description() string {
	return `Runs a bash command in the task's working directory and returns combined stdout and stderr.
TASKCORE_TASK_ID and TASKCORE_PROJECT_DIR are set for the command. The default timeout is two minutes, at most ten.`
}

func (b *BashTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The command line to run",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Timeout in milliseconds (max 600000)",
			},
		},
		"required": []string{"command"},
	}
}

func (b *BashTool) SideEffect() SideEffectType { return SideEffectMutating }

func (b *BashTool) Execute(ctx context.Context, env Env, input map[string]any) (ToolOutput, error) {
	line, _ := input["command"].(string)
	if strings.TrimSpace(line) == "" {
		return errorOutput("command is required"), nil
	}
	timeout := shellTimeout
	if ms, ok := input["timeout"].(float64); ok && ms > 0 {
		timeout = min(time.Duration(ms)*time.Millisecond, shellMaxTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "bash", "-c", line)
	cmd.Dir = env.Dir
	cmd.Env = append(os.Environ(),
		"TASKCORE_TASK_ID="+env.TaskID,
		"TASKCORE_PROJECT_DIR="+env.ProjectDir,
	)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = shellWaitDelay

	err := cmd.Run()
	text := clip(strings.TrimRight(out.String(), "\n"))

	var exit *exec.ExitError
	switch {
	case err == nil:
		return ToolOutput{Content: text}, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errorOutput("command timed out after %s\n%s", timeout, text), nil
	case ctx.Err() != nil:
		return errorOutput("command cancelled"), nil
	case errors.As(err, &exit):
		return ToolOutput{Content: strings.TrimLeft(fmt.Sprintf("%s\n(exit code %d)", text, exit.ExitCode()), "\n"), IsError: true}, nil
	default:
		return errorOutput("%s", err), nil
	}
}

// clip keeps the start and end of long output.
func clip(s string) string {
	if len(s) <= shellOutput {
		return s
	}
	half := shellOutput / 2
	return fmt.Sprintf("%s\n... (%d characters omitted; pipe through head or tail to narrow) ...\n%s",
		s[:half], len(s)-2*half, s[len(s)-half:])
}
