package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jg-phare/taskcore/pkg/task"
	"github.com/jg-phare/taskcore/pkg/types"
)

// Tasks resolves task ids. task.Manager implements it.
type Tasks interface {
	Get(id string) (*task.Task, error)
}

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	Tasks    Tasks
	Registry *Registry
	Logger   *slog.Logger
}

type handlerFunc func(ctx context.Context, t *task.Task, c *Connector, payload json.RawMessage) error

// Adapter turns subprocess events into calls on the owning task.
type Adapter struct {
	tasks    Tasks
	registry *Registry
	logger   *slog.Logger
	handlers map[InboundType]handlerFunc
}

// NewAdapter creates an Adapter.
func NewAdapter(cfg AdapterConfig) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	a := &Adapter{tasks: cfg.Tasks, registry: cfg.Registry, logger: cfg.Logger}
	a.handlers = map[InboundType]handlerFunc{
		InResponseChunk:        handleResponseChunk,
		InResponseCompleted:    handleResponseCompleted,
		InAppendContextMessage: handleAppendMessage,
		InAskQuestion:          handleAskQuestion,
		InSetModels:            handleSetModels,
		InUpdateContextFiles:   handleContextFiles,
		InAddFile:              handleAddFile,
		InDropFile:             handleDropFile,
		InCommandOutput:        handleCommandOutput,
		InTokensInfo:           handleTokensInfo,
		InToolTelemetry:        handleToolTelemetry,
		InPromptFinished:       handlePromptFinished,
		InRepoMapUpdated:       handleRepoMap,
		InLog:                  handleLog,
	}
	return a
}

// Registry returns the connector registry.
func (a *Adapter) Registry() *Registry { return a.registry }

// Handle routes one inbound event. Protocol errors are logged and
// returned; the session stays open either way.
func (a *Adapter) Handle(ctx context.Context, c *Connector, in Inbound) error {
	logger := a.logger.With("connector", c.ID(), "type", string(in.Type))

	if in.Type == InSessionInit {
		if err := a.sessionInit(ctx, c, in); err != nil {
			logger.Warn("session init failed", "task_id", in.TaskID, "error", err)
			return err
		}
		return nil
	}

	h, ok := a.handlers[in.Type]
	if !ok {
		logger.Debug("unknown event dropped")
		return fmt.Errorf("%w: %q", ErrUnknownEvent, in.Type)
	}

	taskID := in.TaskID
	if taskID == "" {
		taskID = c.TaskID()
	}
	if taskID == "" {
		logger.Warn("event before session init dropped")
		return ErrNoSession
	}
	t, err := a.tasks.Get(taskID)
	if err != nil {
		logger.Warn("event for unknown task dropped", "task_id", taskID, "error", err)
		return err
	}

	if err := h(ctx, t, c, in.Payload); err != nil {
		logger.Warn("event failed", "task_id", taskID, "error", err)
		return err
	}
	return nil
}

func (a *Adapter) sessionInit(ctx context.Context, c *Connector, in Inbound) error {
	if in.TaskID == "" {
		return ErrNoTask
	}
	var init SessionInit
	if err := decode(in.Payload, &init); err != nil {
		return fmt.Errorf("decode session-init: %w", err)
	}
	t, err := a.tasks.Get(in.TaskID)
	if err != nil {
		return err
	}

	if old := c.TaskID(); old != "" && old != in.TaskID {
		a.detach(ctx, old, c)
	}
	c.bind(in.TaskID, in.BaseDir, init.ListenTo)
	if prev := a.registry.Add(in.TaskID, c); prev != nil {
		a.logger.Info("connector replaced", "task_id", in.TaskID, "previous", prev.ID(), "connector", c.ID())
	}
	if err := t.ConnectorAttached(c); err != nil {
		a.registry.Remove(in.TaskID, c)
		return err
	}

	if len(init.ContextFiles) > 0 {
		if err := t.UpdateContextFiles(init.ContextFiles); err != nil {
			a.logger.Warn("storing context files failed", "task_id", in.TaskID, "error", err)
		}
	}
	if init.InputHistoryFile != "" {
		path := init.InputHistoryFile
		if !filepath.IsAbs(path) && in.BaseDir != "" {
			path = filepath.Join(in.BaseDir, path)
		}
		hist, err := ReadInputHistory(path)
		if err != nil {
			a.logger.Warn("reading input history failed", "path", path, "error", err)
		} else {
			c.setInputHistory(hist)
		}
	}
	a.logger.Info("connector attached", "task_id", in.TaskID, "connector", c.ID(), "base_dir", in.BaseDir)
	return nil
}

// Disconnected forgets c. The owning task is told only when c was still
// its connector; its state survives.
func (a *Adapter) Disconnected(ctx context.Context, c *Connector) {
	c.Close()
	if taskID := c.TaskID(); taskID != "" {
		a.detach(ctx, taskID, c)
	}
}

func (a *Adapter) detach(_ context.Context, taskID string, c *Connector) {
	if !a.registry.Remove(taskID, c) {
		return
	}
	t, err := a.tasks.Get(taskID)
	if err != nil {
		a.logger.Debug("detached connector of unknown task", "task_id", taskID, "error", err)
		return
	}
	if err := t.ConnectorDetached(c); err != nil {
		a.logger.Warn("detaching connector failed", "task_id", taskID, "error", err)
	}
	a.logger.Info("connector detached", "task_id", taskID, "connector", c.ID())
}

func handleResponseChunk(_ context.Context, t *task.Task, _ *Connector, raw json.RawMessage) error {
	var p responseChunk
	if err := decode(raw, &p); err != nil {
		return err
	}
	return t.ProcessStreamChunk(p.MessageID, p.Chunk)
}

func handleResponseCompleted(_ context.Context, t *task.Task, _ *Connector, raw json.RawMessage) error {
	var p responseCompleted
	if err := decode(raw, &p); err != nil {
		return err
	}
	return t.CompleteResponse(p.MessageID, p.Content, p.Usage)
}

func handleAppendMessage(_ context.Context, t *task.Task, _ *Connector, raw json.RawMessage) error {
	var m types.ContextMessage
	if err := decode(raw, &m); err != nil {
		return err
	}
	if m.Kind == "" {
		return fmt.Errorf("context message without kind")
	}
	return t.AppendMessage(m)
}

func handleAskQuestion(ctx context.Context, t *task.Task, _ *Connector, raw json.RawMessage) error {
	var q types.Question
	if err := decode(raw, &q); err != nil {
		return err
	}
	return t.AskQuestion(ctx, q)
}

func handleSetModels(_ context.Context, t *task.Task, _ *Connector, raw json.RawMessage) error {
	var m types.Models
	if err := decode(raw, &m); err != nil {
		return err
	}
	return t.SetModels(m)
}

func handleContextFiles(_ context.Context, t *task.Task, _ *Connector, raw json.RawMessage) error {
	var p contextFiles
	if err := decode(raw, &p); err != nil {
		return err
	}
	return t.UpdateContextFiles(p.Files)
}

func handleAddFile(_ context.Context, t *task.Task, _ *Connector, raw json.RawMessage) error {
	var p fileChange
	if err := decode(raw, &p); err != nil {
		return err
	}
	return t.ContextFileAdded(p.Path, p.ReadOnly)
}

func handleDropFile(_ context.Context, t *task.Task, _ *Connector, raw json.RawMessage) error {
	var p fileChange
	if err := decode(raw, &p); err != nil {
		return err
	}
	return t.ContextFileDropped(p.Path)
}

func handleCommandOutput(_ context.Context, t *task.Task, _ *Connector, raw json.RawMessage) error {
	var p commandOutput
	if err := decode(raw, &p); err != nil {
		return err
	}
	return t.CommandOutput(p.Phase, p.Text)
}

func handleTokensInfo(_ context.Context, t *task.Task, _ *Connector, raw json.RawMessage) error {
	var u types.Usage
	if err := decode(raw, &u); err != nil {
		return err
	}
	return t.AddUsage(u)
}

// handleToolTelemetry records a tool the subprocess ran on its own as a
// finished tool message.
func handleToolTelemetry(_ context.Context, t *task.Task, _ *Connector, raw json.RawMessage) error {
	var p toolTelemetry
	if err := decode(raw, &p); err != nil {
		return err
	}
	group, name := "subprocess", p.Tool
	if g, n, ok := strings.Cut(p.Tool, "/"); ok {
		group, name = g, n
	}
	msg := types.NewToolMessage(types.ToolCall{Group: group, Name: name, Args: p.Args}, nil)
	msg.Tool.Status = types.ToolFinished
	msg.Tool.Response = p.Response
	msg.Tool.IsError = p.IsError
	if err := t.AppendMessage(msg); err != nil {
		return err
	}
	if p.Usage != nil {
		return t.AddUsage(*p.Usage)
	}
	return nil
}

func handlePromptFinished(_ context.Context, t *task.Task, _ *Connector, raw json.RawMessage) error {
	var p promptFinished
	if err := decode(raw, &p); err != nil {
		return err
	}
	return t.PromptFinished(p.PromptID)
}

func handleRepoMap(_ context.Context, t *task.Task, _ *Connector, raw json.RawMessage) error {
	var p repoMap
	if err := decode(raw, &p); err != nil {
		return err
	}
	return t.UpdateRepoMap(p.RepoMap)
}

func handleLog(_ context.Context, t *task.Task, _ *Connector, raw json.RawMessage) error {
	var p logEntry
	if err := decode(raw, &p); err != nil {
		return err
	}
	if p.Level == "" {
		p.Level = types.LogInfo
	}
	return t.Log(p.Level, p.Message)
}
