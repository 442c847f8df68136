package hooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jg-phare/taskcore/pkg/types"
)

// maxReadFile caps what ReadFile returns to a handler.
const maxReadFile = 1 << 20

// TaskContext is the standard Context implementation: a task id, the
// project directory that file and command access is confined to, and a
// history accessor.
type TaskContext struct {
	ID       string
	Dir      string
	Project  string // defaults to Dir
	Messages func() []types.ContextMessage
	Logger   *slog.Logger
}

func (c *TaskContext) TaskID() string { return c.ID }

func (c *TaskContext) ProjectDir() string {
	if c.Project != "" {
		return c.Project
	}
	return c.Dir
}

func (c *TaskContext) History() []types.ContextMessage {
	if c.Messages == nil {
		return nil
	}
	return c.Messages()
}

// ReadFile reads a file relative to the task directory. Paths escaping the
// directory are refused.
func (c *TaskContext) ReadFile(rel string) (string, error) {
	path, err := c.resolve(rel)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxReadFile))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RunCommand runs command with sh -c in the task directory and returns the
// combined output.
func (c *TaskContext) RunCommand(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = c.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

func (c *TaskContext) Log(level slog.Level, msg string) {
	if c.Logger == nil {
		return
	}
	c.Logger.Log(context.Background(), level, msg, "task_id", c.ID)
}

func (c *TaskContext) resolve(rel string) (string, error) {
	base, err := filepath.Abs(c.Dir)
	if err != nil {
		return "", err
	}
	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, rel)
	}
	path = filepath.Clean(path)
	if path != base && !strings.HasPrefix(path, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside %s", rel, base)
	}
	return path, nil
}

var _ Context = (*TaskContext)(nil)
