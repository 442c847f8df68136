package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jg-phare/taskcore/pkg/agent"
	"github.com/jg-phare/taskcore/pkg/approval"
	"github.com/jg-phare/taskcore/pkg/hooks"
	"github.com/jg-phare/taskcore/pkg/store"
	"github.com/jg-phare/taskcore/pkg/subagent"
	"github.com/jg-phare/taskcore/pkg/tools"
	"github.com/jg-phare/taskcore/pkg/types"
	"github.com/jg-phare/taskcore/pkg/worktree"
)

// Config wires a Manager.
type Config struct {
	// Store persists tasks. Nil keeps tasks in memory only.
	Store *store.Store
	Hooks *hooks.Runner
	Gate  *approval.Gate
	// Tools is the registry every task starts from. Nil means the
	// built-in tools.
	Tools *tools.Registry
	// Profiles enables delegation when set.
	Profiles  *subagent.Profiles
	Model     agent.Model
	Worktrees *worktree.Manager
	Sink      Sink
	Logger    *slog.Logger

	SystemPrompt  string
	DefaultModels types.Models
	MaxTurns      int
	MaxDepth      int
	MaxConcurrent int
}

// CreateOptions describes a new task.
type CreateOptions struct {
	Name       string
	ProjectDir string
	WorkMode   types.WorkMode
	Models     types.Models
	Profile    string
	ParentID   string
}

// Manager is the registry of live tasks. Tasks are loaded from the store
// on first use and leave the registry when closed.
type Manager struct {
	cfg       Config
	logger    *slog.Logger
	gate      *approval.Gate
	tools     *tools.Registry
	delegator *subagent.Delegator

	mu       sync.Mutex
	tasks    map[string]*Task
	deleting map[string]bool
	closed   bool
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Gate == nil {
		cfg.Gate = approval.NewGate(approval.GateConfig{
			Policy: approval.DefaultPolicy(),
			Hooks:  cfg.Hooks,
			Logger: cfg.Logger,
		})
	}
	m := &Manager{
		cfg:    cfg,
		logger: cfg.Logger,
		gate:   cfg.Gate,
		tasks:    make(map[string]*Task),
		deleting: make(map[string]bool),
	}

	reg := cfg.Tools
	if reg == nil {
		reg = tools.DefaultRegistry(nil)
	}
	reg = reg.Without(subagent.ToolKey)
	if cfg.Profiles != nil {
		m.delegator = subagent.NewDelegator(subagent.DelegatorConfig{
			Profiles:      cfg.Profiles,
			Spawner:       m,
			Hooks:         cfg.Hooks,
			Logger:        cfg.Logger.With("component", "subagent"),
			MaxDepth:      cfg.MaxDepth,
			MaxConcurrent: cfg.MaxConcurrent,
		})
		reg.Register(&tools.AgentTool{Delegator: m.delegator})
	}
	m.tools = reg
	return m
}

// Gate returns the approval gate shared by all tasks.
func (m *Manager) Gate() *approval.Gate { return m.gate }

// Tools returns the registry tasks run with.
func (m *Manager) Tools() *tools.Registry { return m.tools }

func (m *Manager) options() options {
	return options{
		store:    m.cfg.Store,
		hooks:    m.cfg.Hooks,
		gate:     m.gate,
		tools:    m.tools,
		model:    m.cfg.Model,
		sink:     m.cfg.Sink,
		logger:   m.logger,
		system:   m.cfg.SystemPrompt,
		maxTurns: m.cfg.MaxTurns,
	}
}

// open registers a task for meta. Callers hold m.mu.
func (m *Manager) open(meta types.TaskMeta, msgs []types.ContextMessage) *Task {
	opts := m.options()
	var t *Task
	opts.onClose = func() {
		m.mu.Lock()
		if m.tasks[meta.ID] == t {
			delete(m.tasks, meta.ID)
		}
		m.mu.Unlock()
	}
	t = newTask(meta, msgs, opts)
	m.tasks[meta.ID] = t
	return t
}

// Create starts a new task. Worktree mode checks out a dedicated branch
// for it first.
func (m *Manager) Create(ctx context.Context, o CreateOptions) (*Task, error) {
	if o.ProjectDir == "" {
		return nil, errors.New("project directory is required")
	}
	projectDir, err := filepath.Abs(o.ProjectDir)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	meta := types.TaskMeta{
		ID:         types.NewID(),
		ParentID:   o.ParentID,
		Name:       o.Name,
		ProjectDir: projectDir,
		WorkMode:   o.WorkMode,
		Models:     m.models(o.Models),
		Profile:    o.Profile,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if meta.WorkMode == "" {
		meta.WorkMode = types.WorkModeLocal
	}

	if meta.WorkMode == types.WorkModeWorktree {
		if m.cfg.Worktrees == nil {
			return nil, errors.New("worktree mode is not available")
		}
		ws, err := m.cfg.Worktrees.Create(ctx, projectDir, meta.ID)
		if err != nil {
			return nil, fmt.Errorf("create worktree: %w", err)
		}
		meta.WorkspaceDir = ws
	}

	if m.cfg.Store != nil {
		if err := m.cfg.Store.Create(meta); err != nil {
			m.dropWorktree(ctx, meta)
			return nil, err
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrTaskClosed
	}
	t := m.open(meta, nil)
	m.mu.Unlock()

	m.cfg.Hooks.Trigger(ctx, hooks.NewEvent(hooks.OnTaskCreated, map[string]any{
		"taskId":   meta.ID,
		"name":     meta.Name,
		"workMode": string(meta.WorkMode),
	}), t.hookContext())
	m.publish(Event{Type: EventTaskCreated, TaskID: meta.ID, Meta: &meta})
	m.logger.Info("task created", "task_id", meta.ID, "project", projectDir, "work_mode", string(meta.WorkMode))
	return t, nil
}

func (m *Manager) models(o types.Models) types.Models {
	d := m.cfg.DefaultModels
	if o.Main != "" {
		d.Main = o.Main
	}
	if o.Editor != "" {
		d.Editor = o.Editor
	}
	if o.Weak != "" {
		d.Weak = o.Weak
	}
	return d
}

// Get returns the live task with id, loading it from the store if needed.
func (m *Manager) Get(id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrTaskClosed
	}
	if t, ok := m.tasks[id]; ok {
		return t, nil
	}
	if m.deleting[id] || m.cfg.Store == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	rec, err := m.cfg.Store.Load(id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) || errors.Is(err, store.ErrInvalidID) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, err
	}
	m.logger.Debug("task loaded", "task_id", id, "messages", len(rec.Messages))
	return m.open(rec.Meta, rec.Messages), nil
}

// List returns the metadata of every known task, most recently updated
// first. Live tasks report their in-memory state.
func (m *Manager) List() ([]types.TaskMeta, error) {
	byID := make(map[string]types.TaskMeta)
	if m.cfg.Store != nil {
		stored, err := m.cfg.Store.List()
		if err != nil {
			return nil, err
		}
		for _, meta := range stored {
			byID[meta.ID] = meta
		}
	}
	for _, t := range m.live() {
		byID[t.ID()] = t.Meta()
	}

	out := make([]types.TaskMeta, 0, len(byID))
	for _, meta := range byID {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *Manager) live() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out
}

// Duplicate creates a new task with a copy of id's history and metadata.
func (m *Manager) Duplicate(ctx context.Context, id string) (*Task, error) {
	src, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	meta := src.Meta()
	msgs, err := src.History(0, 0)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	meta.ID = types.NewID()
	if meta.Name != "" {
		meta.Name += " (copy)"
	}
	meta.Usage = types.Usage{}
	meta.CreatedAt = now
	meta.UpdatedAt = now
	meta.WorkspaceDir = ""
	if meta.WorkMode == types.WorkModeWorktree {
		if m.cfg.Worktrees == nil {
			return nil, errors.New("worktree mode is not available")
		}
		ws, err := m.cfg.Worktrees.Create(ctx, meta.ProjectDir, meta.ID)
		if err != nil {
			return nil, fmt.Errorf("create worktree: %w", err)
		}
		meta.WorkspaceDir = ws
	}

	if m.cfg.Store != nil {
		if err := m.cfg.Store.Create(meta); err != nil {
			m.dropWorktree(ctx, meta)
			return nil, err
		}
		if err := m.cfg.Store.Compact(meta.ID, msgs); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrTaskClosed
	}
	t := m.open(meta, msgs)
	m.mu.Unlock()

	m.publish(Event{Type: EventTaskCreated, TaskID: meta.ID, Meta: &meta})
	m.logger.Info("task duplicated", "task_id", meta.ID, "source", id)
	return t, nil
}

// Delete closes the task, removes its record and its worktree.
func (m *Manager) Delete(ctx context.Context, id string) error {
	t, err := m.Get(id)
	if err != nil {
		return err
	}
	meta := t.Meta()

	// Until the record is gone, Get must not load it back.
	m.mu.Lock()
	m.deleting[id] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.deleting, id)
		m.mu.Unlock()
	}()

	if err := t.Close(); err != nil {
		m.logger.Warn("closing deleted task", "task_id", id, "error", err)
	}
	if m.cfg.Store != nil {
		if err := m.cfg.Store.Delete(id); err != nil && !errors.Is(err, store.ErrRecordNotFound) {
			return err
		}
	}
	m.dropWorktree(ctx, meta)
	m.gate.Memory().Forget(id)
	m.publish(Event{Type: EventTaskDeleted, TaskID: id})
	m.logger.Info("task deleted", "task_id", id)
	return nil
}

func (m *Manager) dropWorktree(ctx context.Context, meta types.TaskMeta) {
	if meta.WorkMode != types.WorkModeWorktree || meta.WorkspaceDir == "" || m.cfg.Worktrees == nil {
		return
	}
	if err := m.cfg.Worktrees.Remove(ctx, meta.ProjectDir, meta.ID, true); err != nil {
		m.logger.Warn("removing worktree failed", "task_id", meta.ID, "error", err)
	}
}

// Restart clears a task's history.
func (m *Manager) Restart(id string) error {
	t, err := m.Get(id)
	if err != nil {
		return err
	}
	return t.Restart()
}

// Close closes every live task. The manager refuses new work afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for _, t := range m.live() {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", t.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) publish(ev Event) {
	if m.cfg.Sink != nil {
		m.cfg.Sink.Publish(ev)
	}
}

// SpawnChild creates an ephemeral task for a delegation. The child is not
// persisted or registered: its messages surface under the parent, its
// approvals are asked through the parent and its usage is billed there.
func (m *Manager) SpawnChild(ctx context.Context, spec subagent.ChildSpec) (subagent.Child, error) {
	m.mu.Lock()
	parent, ok := m.tasks[spec.ParentID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, spec.ParentID)
	}
	pmeta := parent.Meta()

	reg := m.tools.Only(spec.Tools)
	if !spec.Profile.EnableTodo {
		reg = reg.Without(reg.Filter("todo/*").Keys()...)
	}

	maxTurns := spec.Profile.MaxTurns
	if maxTurns <= 0 {
		maxTurns = subagent.DefaultMaxTurns
	}
	models := pmeta.Models
	if spec.Model != "" {
		models.Main = spec.Model
	}

	now := time.Now()
	meta := types.TaskMeta{
		ID:           types.NewID(),
		ParentID:     parent.id,
		Name:         spec.Profile.Name,
		ProjectDir:   pmeta.ProjectDir,
		WorkMode:     pmeta.WorkMode,
		WorkspaceDir: pmeta.WorkspaceDir,
		Models:       models,
		Profile:      spec.Profile.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var sink Sink
	if m.cfg.Sink != nil {
		sink = parentSink{parentID: parent.id, next: m.cfg.Sink}
	}
	t := newTask(meta, nil, options{
		hooks:         m.cfg.Hooks,
		gate:          m.gate,
		tools:         reg,
		model:         m.cfg.Model,
		sink:          sink,
		logger:        m.logger.With("parent_id", parent.id, "profile", spec.Profile.ID),
		system:        spec.Profile.SystemPrompt,
		maxTurns:      maxTurns,
		depth:         spec.Depth,
		promptContext: &types.PromptContext{ID: types.NewID(), Group: spec.Group},
		asker:         parent,
		approvalID:    parent.id,
		onUsage: func(u types.Usage) {
			if err := parent.AddUsage(u); err != nil {
				m.logger.Debug("billing child usage failed", "task_id", parent.id, "error", err)
			}
		},
	})
	return child{t}, nil
}

// child adapts an ephemeral task to subagent.Child.
type child struct{ t *Task }

func (c child) ID() string { return c.t.id }

func (c child) Run(ctx context.Context, seed []types.ContextMessage, prompt string) ([]types.ContextMessage, error) {
	return c.t.runChild(ctx, seed, prompt)
}

func (c child) Close() { _ = c.t.Close() }
