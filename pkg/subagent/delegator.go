package subagent

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jg-phare/taskcore/pkg/hooks"
	"github.com/jg-phare/taskcore/pkg/types"
)

// DefaultMaxConcurrent bounds simultaneously running children.
const DefaultMaxConcurrent = 10

// DefaultMaxDepth allows the main task to delegate and nobody below it.
const DefaultMaxDepth = 1

// ChildSpec describes the ephemeral task a delegation runs in.
type ChildSpec struct {
	ParentID   string
	ProjectDir string
	Profile    Profile
	Model      string
	// Tools are the tool keys the child may call.
	Tools []string
	Group *types.Group
	Depth int
}

// Child is a running isolated task. Run blocks until the child's agent
// finishes and returns the messages it produced, seed excluded.
type Child interface {
	ID() string
	Run(ctx context.Context, seed []types.ContextMessage, prompt string) ([]types.ContextMessage, error)
	Close()
}

// Spawner creates child tasks.
type Spawner interface {
	SpawnChild(ctx context.Context, spec ChildSpec) (Child, error)
}

// Request is one delegation from a parent task.
type Request struct {
	ParentID   string
	ProjectDir string
	CallID     string
	ProfileID  string
	Prompt     string
	History    []types.ContextMessage
	// StepMessages are messages of the current step not yet in History.
	StepMessages []types.ContextMessage
	ParentModels types.Models
	ParentTools  []string
	ParentDepth  int
	Hooks        hooks.Context
}

// Result is what a delegation returns to the parent's tool call.
type Result struct {
	Run   types.SubagentRun
	Final string
}

// DelegatorConfig configures a Delegator.
type DelegatorConfig struct {
	Profiles      *Profiles
	Spawner       Spawner
	Hooks         *hooks.Runner
	Logger        *slog.Logger
	MaxDepth      int
	MaxConcurrent int
}

// Delegator runs prompts in child tasks on behalf of a parent.
type Delegator struct {
	profiles *Profiles
	spawner  Spawner
	hooks    *hooks.Runner
	logger   *slog.Logger
	maxDepth int
	slots    chan struct{}
}

// NewDelegator creates a Delegator.
func NewDelegator(cfg DelegatorConfig) *Delegator {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Delegator{
		profiles: cfg.Profiles,
		spawner:  cfg.Spawner,
		hooks:    cfg.Hooks,
		logger:   cfg.Logger,
		maxDepth: cfg.MaxDepth,
		slots:    make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Profiles returns the profile registry.
func (d *Delegator) Profiles() *Profiles { return d.profiles }

// Delegate runs req.Prompt in a fresh child seeded according to the
// profile's context memory. The returned run's group is finished whether
// or not the child succeeded.
func (d *Delegator) Delegate(ctx context.Context, req Request) (Result, error) {
	if req.ParentDepth >= d.maxDepth {
		return Result{}, ErrDelegationDisabled
	}
	if d.spawner == nil {
		return Result{}, ErrNoSpawner
	}
	prof, ok := d.profiles.Get(req.ProjectDir, req.ProfileID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownProfile, req.ProfileID)
	}

	select {
	case d.slots <- struct{}{}:
		defer func() { <-d.slots }()
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	prompt := req.Prompt
	if d.hooks != nil {
		out := d.hooks.Trigger(ctx, hooks.NewEvent(hooks.OnSubagentStarted, map[string]any{
			"subagentId": prof.ID,
			"prompt":     prompt,
			"callId":     req.CallID,
		}), req.Hooks)
		if out.Blocked {
			return Result{}, fmt.Errorf("%w: %s", ErrBlocked, prof.ID)
		}
		if p := out.Event.String("prompt"); p != "" {
			prompt = p
		}
	}

	group := &types.Group{ID: types.NewID(), Name: prof.Name, Color: prof.Color}
	res := Result{Run: types.SubagentRun{ProfileID: prof.ID, Group: group}}

	msgs, err := d.run(ctx, req, prof, group, prompt)
	group.Finished = true
	res.Run.Messages = msgs
	res.Final = FinalResult(msgs)

	if d.hooks != nil {
		data := map[string]any{
			"subagentId": prof.ID,
			"callId":     req.CallID,
			"result":     res.Final,
		}
		if err != nil {
			data["error"] = err.Error()
		}
		d.hooks.Trigger(ctx, hooks.NewEvent(hooks.OnSubagentFinished, data), req.Hooks)
	}

	if err != nil {
		d.logger.Warn("subagent failed", "parent", req.ParentID, "profile", prof.ID, "error", err)
		return res, err
	}
	d.logger.Debug("subagent finished", "parent", req.ParentID, "profile", prof.ID, "messages", len(msgs))
	return res, nil
}

func (d *Delegator) run(ctx context.Context, req Request, prof Profile, group *types.Group, prompt string) ([]types.ContextMessage, error) {
	seed := Seed(prof.ContextMemory, BuildIndex(req.History, req.StepMessages), prof.ID)

	child, err := d.spawner.SpawnChild(ctx, ChildSpec{
		ParentID:   req.ParentID,
		ProjectDir: req.ProjectDir,
		Profile:    prof,
		Model:      ResolveModel(prof.Model, req.ParentModels),
		Tools:      ResolveTools(prof.Tools, prof.DisallowedTools, req.ParentTools),
		Group:      group,
		Depth:      req.ParentDepth + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("spawning subagent %s: %w", prof.ID, err)
	}
	defer child.Close()

	return child.Run(ctx, seed, prompt)
}
