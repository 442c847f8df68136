package subagent

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jg-phare/taskcore/pkg/hooks"
	"github.com/jg-phare/taskcore/pkg/types"
)

type fakeChild struct {
	spec   ChildSpec
	seed   []types.ContextMessage
	prompt string
	err    error
	closed bool
}

func (c *fakeChild) ID() string { return "child-1" }

func (c *fakeChild) Run(ctx context.Context, seed []types.ContextMessage, prompt string) ([]types.ContextMessage, error) {
	c.seed = seed
	c.prompt = prompt
	if c.err != nil {
		return nil, c.err
	}
	return exchange(prompt, "done: "+prompt), nil
}

func (c *fakeChild) Close() { c.closed = true }

type fakeSpawner struct {
	mu       sync.Mutex
	children []*fakeChild
	runErr   error
	spawnErr error
}

func (s *fakeSpawner) SpawnChild(ctx context.Context, spec ChildSpec) (Child, error) {
	if s.spawnErr != nil {
		return nil, s.spawnErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &fakeChild{spec: spec, err: s.runErr}
	s.children = append(s.children, c)
	return c, nil
}

func (s *fakeSpawner) last() *fakeChild {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.children[len(s.children)-1]
}

func testProject(t *testing.T) string {
	t.Helper()
	project := t.TempDir()
	writeProfile(t, filepath.Join(project, DefaultProjectSubdir), "reviewer.md", `---
name: Reviewer
description: Reviews code
contextMemory: full-context
color: blue
tools: power/file_read, power/grep
---
You review code.
`)
	return project
}

func newTestDelegator(sp Spawner, runner *hooks.Runner) *Delegator {
	return NewDelegator(DelegatorConfig{
		Profiles: NewProfiles(&Loader{}),
		Spawner:  sp,
		Hooks:    runner,
	})
}

func TestDelegate_RunsChild(t *testing.T) {
	project := testProject(t)
	sp := &fakeSpawner{}
	d := newTestDelegator(sp, nil)

	res, err := d.Delegate(context.Background(), Request{
		ParentID:     "parent",
		ProjectDir:   project,
		CallID:       "c1",
		ProfileID:    "reviewer",
		Prompt:       "review main.go",
		ParentModels: types.Models{Main: "openai/gpt-4o", Weak: "openai/gpt-5-nano"},
		ParentTools:  []string{"power/bash", "power/file_read", "power/grep", ToolKey},
	})
	require.NoError(t, err)

	child := sp.last()
	assert.True(t, child.closed)
	assert.Equal(t, "review main.go", child.prompt)
	assert.Empty(t, child.seed)
	assert.Equal(t, "parent", child.spec.ParentID)
	assert.Equal(t, "openai/gpt-4o", child.spec.Model)
	assert.Equal(t, []string{"power/file_read", "power/grep"}, child.spec.Tools)
	assert.Equal(t, 1, child.spec.Depth)
	assert.Equal(t, "You review code.", child.spec.Profile.SystemPrompt)

	assert.Equal(t, "done: review main.go", res.Final)
	assert.Equal(t, "reviewer", res.Run.ProfileID)
	require.NotNil(t, res.Run.Group)
	assert.True(t, res.Run.Group.Finished)
	assert.Equal(t, "Reviewer", res.Run.Group.Name)
	assert.Equal(t, "blue", res.Run.Group.Color)
	assert.Len(t, res.Run.Messages, 2)
}

func TestDelegate_FullContextSeesEarlierRuns(t *testing.T) {
	project := testProject(t)
	sp := &fakeSpawner{}
	d := newTestDelegator(sp, nil)
	ctx := context.Background()

	first, err := d.Delegate(ctx, Request{ProjectDir: project, CallID: "c1", ProfileID: "reviewer", Prompt: "review a"})
	require.NoError(t, err)

	msg := delegationMsg("c1", "reviewer", "review a", first.Final, first.Run.Messages)
	_, err = d.Delegate(ctx, Request{
		ProjectDir: project,
		CallID:     "c2",
		ProfileID:  "reviewer",
		Prompt:     "review b",
		History:    []types.ContextMessage{types.NewUserMessage("go", nil), msg},
	})
	require.NoError(t, err)

	seed := sp.last().seed
	require.Len(t, seed, 2)
	assert.Equal(t, "review a", seed[0].Content)
	assert.Equal(t, "done: review a", seed[1].Content)
}

func TestDelegate_Errors(t *testing.T) {
	project := testProject(t)
	ctx := context.Background()

	_, err := newTestDelegator(&fakeSpawner{}, nil).Delegate(ctx, Request{ProjectDir: project, ProfileID: "ghost"})
	assert.ErrorIs(t, err, ErrUnknownProfile)

	_, err = newTestDelegator(&fakeSpawner{}, nil).Delegate(ctx, Request{ProjectDir: project, ProfileID: "reviewer", ParentDepth: 1})
	assert.ErrorIs(t, err, ErrDelegationDisabled)

	_, err = newTestDelegator(nil, nil).Delegate(ctx, Request{ProjectDir: project, ProfileID: "reviewer"})
	assert.ErrorIs(t, err, ErrNoSpawner)

	spawnErr := errors.New("no room")
	_, err = newTestDelegator(&fakeSpawner{spawnErr: spawnErr}, nil).Delegate(ctx, Request{ProjectDir: project, ProfileID: "reviewer"})
	assert.ErrorIs(t, err, spawnErr)
}

func TestDelegate_ChildFailureFinishesGroup(t *testing.T) {
	project := testProject(t)
	runErr := errors.New("model exploded")
	sp := &fakeSpawner{runErr: runErr}

	res, err := newTestDelegator(sp, nil).Delegate(context.Background(), Request{ProjectDir: project, ProfileID: "reviewer", Prompt: "x"})
	assert.ErrorIs(t, err, runErr)
	require.NotNil(t, res.Run.Group)
	assert.True(t, res.Run.Group.Finished)
	assert.True(t, sp.last().closed)
}

func TestDelegate_Hooks(t *testing.T) {
	project := testProject(t)
	var finished hooks.Event
	runner := hooks.NewRunner(hooks.RunnerConfig{})
	runner.Swap(hooks.NewRegistry([]hooks.Handler{&hooks.Funcs{
		ID: "watch",
		On: map[hooks.EventName]hooks.HandleFunc{
			hooks.OnSubagentStarted: func(ctx context.Context, ev hooks.Event, hc hooks.Context) (hooks.Result, error) {
				if ev.String("prompt") == "forbidden" {
					return hooks.Block(), nil
				}
				return hooks.Continue(map[string]any{"prompt": ev.String("prompt") + " carefully"}), nil
			},
			hooks.OnSubagentFinished: func(ctx context.Context, ev hooks.Event, hc hooks.Context) (hooks.Result, error) {
				finished = ev
				return hooks.Continue(nil), nil
			},
		},
	}}, nil))

	sp := &fakeSpawner{}
	d := newTestDelegator(sp, runner)

	res, err := d.Delegate(context.Background(), Request{ProjectDir: project, CallID: "c1", ProfileID: "reviewer", Prompt: "review"})
	require.NoError(t, err)
	assert.Equal(t, "review carefully", sp.last().prompt)
	assert.Equal(t, "reviewer", finished.String("subagentId"))
	assert.Equal(t, res.Final, finished.String("result"))

	_, err = d.Delegate(context.Background(), Request{ProjectDir: project, ProfileID: "reviewer", Prompt: "forbidden"})
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Len(t, sp.children, 1, "blocked delegation spawns nothing")
}

func TestDelegate_CancelledWhileWaitingForSlot(t *testing.T) {
	project := testProject(t)
	d := NewDelegator(DelegatorConfig{Profiles: NewProfiles(&Loader{}), Spawner: &fakeSpawner{}, MaxConcurrent: 1})
	d.slots <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Delegate(ctx, Request{ProjectDir: project, ProfileID: "reviewer"})
	assert.ErrorIs(t, err, context.Canceled)
}
