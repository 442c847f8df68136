package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBash_SimpleCommand(t *testing.T) {
	out := run(t, &BashTool{}, Env{}, map[string]any{"command": "echo hello"})
	assert.False(t, out.IsError, out.Content)
	assert.Equal(t, "hello", out.Content)
}

func TestBash_RunsInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "marker.txt", "x")
	out := run(t, &BashTool{}, Env{Dir: dir}, map[string]any{"command": "ls"})
	assert.Contains(t, out.Content, "marker.txt")
}

func TestBash_StderrAndExitCode(t *testing.T) {
	out := run(t, &BashTool{}, Env{}, map[string]any{"command": "echo oops >&2; exit 3"})
	assert.True(t, out.IsError)
	assert.Equal(t, "oops\n(exit code 3)", out.Content)
}

func TestBash_TaskEnvironment(t *testing.T) {
	out := run(t, &BashTool{}, Env{TaskID: "t-1", ProjectDir: "/srv/app"}, map[string]any{"command": "echo $TASKCORE_TASK_ID $TASKCORE_PROJECT_DIR"})
	assert.Equal(t, "t-1 /srv/app", out.Content)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short"))
	long := strings.Repeat("a", shellOutput) + strings.Repeat("b", 100)
	got := clip(long)
	assert.True(t, strings.HasPrefix(got, "aaa"))
	assert.True(t, strings.HasSuffix(got, "bbb"))
	assert.Contains(t, got, "100 characters omitted")
}

func TestBash_MissingCommand(t *testing.T) {
	out := run(t, &BashTool{}, Env{}, map[string]any{})
	assert.True(t, out.IsError)
	assert.Equal(t, "Error: command is required", out.Content)
}

func TestBash_Timeout(t *testing.T) {
	start := time.Now()
	out := run(t, &BashTool{}, Env{}, map[string]any{"command": "sleep 5", "timeout": float64(100)})
	assert.True(t, out.IsError)
	assert.Contains(t, out.Content, "timed out")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestBash_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := (&BashTool{}).Execute(ctx, Env{}, map[string]any{"command": "echo never"})
	assert.NoError(t, err)
	assert.True(t, out.IsError)
}

func TestBash_Key(t *testing.T) {
	assert.Equal(t, "power/bash", Key(&BashTool{}))
}
