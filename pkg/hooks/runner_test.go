package hooks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jg-phare/taskcore/pkg/types"
)

func testContext(t *testing.T) *TaskContext {
	t.Helper()
	dir := t.TempDir()
	return &TaskContext{
		ID:  "t1",
		Dir: dir,
		Messages: func() []types.ContextMessage {
			return []types.ContextMessage{types.NewUserMessage("hello", nil)}
		},
	}
}

func funcs(id string, ev EventName, fn HandleFunc) *Funcs {
	return &Funcs{ID: id, On: map[EventName]HandleFunc{ev: fn}}
}

func TestRunner_NoHandlers(t *testing.T) {
	r := NewRunner(RunnerConfig{})
	ev := NewEvent(OnToolCalled, map[string]any{"tool": "power/bash"})

	out := r.Trigger(context.Background(), ev, testContext(t))

	assert.False(t, out.Blocked)
	assert.False(t, out.Overridden)
	assert.Equal(t, 0, out.Handled)
	assert.Equal(t, "power/bash", out.Event.String("tool"))
}

func TestRunner_FoldsPatchesGlobalThenProject(t *testing.T) {
	hc := testContext(t)
	var seen []string

	global := funcs("g", OnPromptSubmitted, func(_ context.Context, e Event, _ Context) (Result, error) {
		seen = append(seen, "g:"+e.String("prompt"))
		return Continue(map[string]any{"prompt": e.String("prompt") + " +global"}), nil
	})
	project := funcs("p", OnPromptSubmitted, func(_ context.Context, e Event, _ Context) (Result, error) {
		seen = append(seen, "p:"+e.String("prompt"))
		return Continue(map[string]any{"prompt": e.String("prompt") + " +project"}), nil
	})
	other := funcs("o", OnPromptSubmitted, func(context.Context, Event, Context) (Result, error) {
		t.Error("handler of another project must not run")
		return Continue(nil), nil
	})

	r := NewRunner(RunnerConfig{})
	r.Swap(NewRegistry([]Handler{global}, map[string][]Handler{
		hc.Dir:      {project},
		"/elsewhere": {other},
	}))

	ev := NewEvent(OnPromptSubmitted, map[string]any{"prompt": "fix it"})
	out := r.Trigger(context.Background(), ev, hc)

	assert.Equal(t, []string{"g:fix it", "p:fix it +global"}, seen)
	assert.Equal(t, "fix it +global +project", out.Event.String("prompt"))
	assert.Equal(t, "fix it", ev.String("prompt"), "original event must stay unchanged")
	assert.Equal(t, 2, out.Handled)
}

func TestRunner_BlockShortCircuits(t *testing.T) {
	r := NewRunner(RunnerConfig{})
	r.Swap(NewRegistry([]Handler{
		funcs("a", OnToolCalled, func(context.Context, Event, Context) (Result, error) {
			return FromValue(OnToolCalled, false), nil
		}),
		funcs("b", OnToolCalled, func(context.Context, Event, Context) (Result, error) {
			t.Error("handler after block must not run")
			return Continue(nil), nil
		}),
	}, nil))

	out := r.Trigger(context.Background(), NewEvent(OnToolCalled, nil), testContext(t))
	assert.True(t, out.Blocked)
}

func TestRunner_ErrorAndPanicAreContinue(t *testing.T) {
	r := NewRunner(RunnerConfig{})
	r.Swap(NewRegistry([]Handler{
		funcs("err", OnToolCalled, func(context.Context, Event, Context) (Result, error) {
			return Block(), errors.New("boom")
		}),
		funcs("panic", OnToolCalled, func(context.Context, Event, Context) (Result, error) {
			panic("bad handler")
		}),
		funcs("ok", OnToolCalled, func(context.Context, Event, Context) (Result, error) {
			return Continue(map[string]any{"ok": true}), nil
		}),
	}, nil))

	out := r.Trigger(context.Background(), NewEvent(OnToolCalled, nil), testContext(t))

	assert.False(t, out.Blocked)
	assert.Equal(t, 1, out.Handled)
	assert.Equal(t, true, out.Event.Data["ok"])
}

func TestRunner_ApprovalOverride(t *testing.T) {
	r := NewRunner(RunnerConfig{})
	r.Swap(NewRegistry([]Handler{
		funcs("deny", OnHandleApproval, func(context.Context, Event, Context) (Result, error) {
			return FromValue(OnHandleApproval, false), nil
		}),
	}, nil))

	out := r.Trigger(context.Background(), NewEvent(OnHandleApproval, nil), testContext(t))

	approved, ok := out.Approval()
	require.True(t, ok)
	assert.False(t, approved)
	assert.False(t, out.Blocked)
}

func TestRunner_SwapDoesNotAffectRunningChain(t *testing.T) {
	r := NewRunner(RunnerConfig{})
	entered := make(chan struct{})
	release := make(chan struct{})

	first := funcs("first", OnToolCalled, func(context.Context, Event, Context) (Result, error) {
		close(entered)
		<-release
		return Continue(nil), nil
	})
	second := funcs("second", OnToolCalled, func(context.Context, Event, Context) (Result, error) {
		return Continue(map[string]any{"second": true}), nil
	})
	r.Swap(NewRegistry([]Handler{first, second}, nil))

	done := make(chan Outcome)
	go func() {
		done <- r.Trigger(context.Background(), NewEvent(OnToolCalled, nil), testContext(t))
	}()

	<-entered
	r.Swap(NewRegistry(nil, nil))
	close(release)

	out := <-done
	assert.Equal(t, true, out.Event.Data["second"])
	assert.Equal(t, 0, r.Registry().Len())
}

func TestWatcher_ReloadKeepsRunningLuaChain(t *testing.T) {
	global := t.TempDir()
	writeScript(t, global, "guard.lua", `function onToolCalled() return false end`)

	entered := make(chan struct{})
	release := make(chan struct{})
	slow := funcs("slow", OnToolCalled, func(context.Context, Event, Context) (Result, error) {
		close(entered)
		<-release
		return Continue(nil), nil
	})

	runner := NewRunner(RunnerConfig{})
	w := NewWatcher(&Loader{GlobalDir: global, Static: []Handler{slow}}, runner, WatcherConfig{})
	w.Reload()
	hs := runner.Registry().Handlers("")
	require.Len(t, hs, 2)
	guard, ok := hs[1].(*LuaHandler)
	require.True(t, ok)

	done := make(chan Outcome)
	go func() {
		done <- runner.Trigger(context.Background(), NewEvent(OnToolCalled, nil), testContext(t))
	}()

	<-entered
	w.Reload()
	close(release)

	out := <-done
	assert.True(t, out.Blocked)
	assert.Equal(t, 2, out.Handled)

	// The replaced script state is closed once the chain has finished.
	_, err := guard.Handle(context.Background(), NewEvent(OnToolCalled, nil), testContext(t))
	assert.ErrorIs(t, err, ErrHandlerClosed)
}

func TestRegistry_RetireWaitsForReferences(t *testing.T) {
	reg := NewRegistry(nil, nil)
	require.True(t, reg.acquire())

	released := false
	reg.retire(func() { released = true })
	assert.False(t, released)
	assert.False(t, reg.acquire())

	reg.done()
	assert.True(t, released)
}

func TestRunner_TimeoutCancelsHandler(t *testing.T) {
	r := NewRunner(RunnerConfig{Timeout: 20 * time.Millisecond})
	r.Swap(NewRegistry([]Handler{
		funcs("slow", OnToolCalled, func(ctx context.Context, _ Event, _ Context) (Result, error) {
			<-ctx.Done()
			return Block(), ctx.Err()
		}),
	}, nil))

	out := r.Trigger(context.Background(), NewEvent(OnToolCalled, nil), testContext(t))
	assert.False(t, out.Blocked)
}

func TestFromValue(t *testing.T) {
	tests := []struct {
		name  string
		event EventName
		value any
		want  ResultKind
		val   any
	}{
		{"nil", OnToolCalled, nil, KindContinue, nil},
		{"map", OnToolCalled, map[string]any{"a": 1}, KindContinue, nil},
		{"false blocks", OnToolCalled, false, KindBlock, nil},
		{"true continues", OnToolCalled, true, KindContinue, nil},
		{"string ignored", OnToolCalled, "y", KindContinue, nil},
		{"approval true", OnHandleApproval, true, KindOverride, true},
		{"approval false", OnHandleApproval, false, KindOverride, false},
		{"question string", OnQuestionAsked, "a", KindOverride, "a"},
		{"question false", OnQuestionAsked, false, KindOverride, false},
		{"approval string ignored", OnHandleApproval, "y", KindContinue, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := FromValue(tt.event, tt.value)
			assert.Equal(t, tt.want, res.Kind)
			assert.Equal(t, tt.val, res.Value)
		})
	}
}

func TestOutcome_Answer(t *testing.T) {
	a, ok := Outcome{Overridden: true, Value: "always"}.Answer()
	assert.True(t, ok)
	assert.Equal(t, "always", a)

	a, ok = Outcome{Overridden: true, Value: false}.Answer()
	assert.True(t, ok)
	assert.Equal(t, "n", a)

	_, ok = Outcome{}.Answer()
	assert.False(t, ok)
}

func TestTaskContext_ReadFileConfined(t *testing.T) {
	hc := testContext(t)
	require.NoError(t, os.WriteFile(filepath.Join(hc.Dir, "a.txt"), []byte("content"), 0o644))

	got, err := hc.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "content", got)

	_, err = hc.ReadFile("../outside.txt")
	assert.Error(t, err)
}

func TestTaskContext_RunCommand(t *testing.T) {
	hc := testContext(t)
	out, err := hc.RunCommand(context.Background(), "pwd")
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(hc.Dir)
	got, _ := filepath.EvalSymlinks(filepath.Clean(out[:len(out)-1]))
	assert.Equal(t, want, got)
}
