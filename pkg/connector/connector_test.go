package connector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/jg-phare/taskcore/pkg/agent"
	"github.com/jg-phare/taskcore/pkg/task"
	"github.com/jg-phare/taskcore/pkg/types"
)

// fakeWire records written frames.
type fakeWire struct {
	mu     sync.Mutex
	frames [][]byte
}

func (w *fakeWire) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, append([]byte(nil), p...))
	return nil
}

func (w *fakeWire) outbound(t *testing.T) []task.Outbound {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]task.Outbound, 0, len(w.frames))
	for _, f := range w.frames {
		var o task.Outbound
		require.NoError(t, json.Unmarshal(f, &o))
		out = append(out, o)
	}
	return out
}

type idleModel struct{}

func (idleModel) Complete(context.Context, agent.Request, func(string)) (agent.Response, error) {
	return agent.Response{Text: "ok"}, nil
}

func newManager(t *testing.T, sink task.Sink) *task.Manager {
	t.Helper()
	m := task.NewManager(task.Config{Model: idleModel{}, Sink: sink})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestRegistry_RemoveOnlyCurrent(t *testing.T) {
	r := NewRegistry()
	a := NewConnector("a", &fakeWire{}, nil)
	b := NewConnector("b", &fakeWire{}, nil)

	assert.Nil(t, r.Add("t1", a))
	assert.Same(t, a, r.Add("t1", b))

	assert.False(t, r.Remove("t1", a))
	got, ok := r.Get("t1")
	require.True(t, ok)
	assert.Same(t, b, got)

	assert.True(t, r.Remove("t1", b))
	assert.Zero(t, r.Len())
}

func TestConnector_Subscriptions(t *testing.T) {
	w := &fakeWire{}
	c := NewConnector("c1", w, nil)
	c.bind("t1", "/repo", []task.OutboundType{task.OutPrompt})
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, task.Outbound{Type: task.OutPrompt, TaskID: "t1", Text: "hi"}))
	require.NoError(t, c.Send(ctx, task.Outbound{Type: task.OutAddFile, TaskID: "t1", Path: "a.go"}))

	sent := w.outbound(t)
	require.Len(t, sent, 1)
	assert.Equal(t, "hi", sent[0].Text)

	c.Close()
	assert.ErrorIs(t, c.Send(ctx, task.Outbound{Type: task.OutPrompt}), ErrClosed)
}

func TestReadInputHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".aider.input.history")
	content := "\n# 2025-01-01 10:00:00.000001\n+first prompt\n\n# 2025-01-01 10:05:00.000001\n+multi\n+line\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	hist, err := ReadInputHistory(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"multi\nline", "first prompt"}, hist)

	hist, err = ReadInputHistory(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestAdapter_SessionAndRouting(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()
	tk, err := m.Create(ctx, task.CreateOptions{ProjectDir: t.TempDir()})
	require.NoError(t, err)

	histFile := filepath.Join(tk.Meta().ProjectDir, "history")
	require.NoError(t, os.WriteFile(histFile, []byte("# t\n+earlier\n"), 0o644))

	a := NewAdapter(AdapterConfig{Tasks: m})
	w := &fakeWire{}
	c := NewConnector("c1", w, nil)

	require.NoError(t, a.Handle(ctx, c, Inbound{
		Type:    InSessionInit,
		BaseDir: tk.Meta().ProjectDir,
		TaskID:  tk.ID(),
		Payload: payload(t, SessionInit{
			InputHistoryFile: "history",
			ContextFiles:     []types.ContextFile{{Path: "main.go"}},
		}),
	}))
	assert.True(t, tk.Connected())
	assert.Equal(t, []string{"earlier"}, c.InputHistory())
	assert.Equal(t, []types.ContextFile{{Path: "main.go"}}, tk.Meta().ContextFiles)

	// Events after session-init may omit the task id.
	events := []Inbound{
		{Type: InSetModels, Payload: payload(t, types.Models{Main: "sonnet", Weak: "haiku"})},
		{Type: InResponseChunk, Payload: payload(t, responseChunk{MessageID: "r1", Chunk: "Hel"})},
		{Type: InResponseChunk, Payload: payload(t, responseChunk{MessageID: "r1", Chunk: "lo"})},
		{Type: InResponseCompleted, Payload: payload(t, responseCompleted{MessageID: "r1"})},
		{Type: InResponseCompleted, Payload: payload(t, responseCompleted{MessageID: "r1"})},
		{Type: InTokensInfo, Payload: payload(t, types.Usage{InputTokens: 100, Cost: 0.01})},
		{Type: InRepoMapUpdated, Payload: payload(t, repoMap{RepoMap: "main.go"})},
		{Type: InCommandOutput, Payload: payload(t, commandOutput{Phase: "start", Text: "go test"})},
		{Type: InCommandOutput, Payload: payload(t, commandOutput{Phase: "chunk", Text: "ok\n"})},
		{Type: InCommandOutput, Payload: payload(t, commandOutput{Phase: "finish"})},
		{Type: InToolTelemetry, Payload: payload(t, toolTelemetry{Tool: "aider/run", Response: "done"})},
		{Type: InLog, Payload: payload(t, logEntry{Level: types.LogWarning, Message: "careful"})},
		{Type: InAddFile, Payload: payload(t, fileChange{Path: "util.go", ReadOnly: true})},
	}
	for _, in := range events {
		require.NoError(t, a.Handle(ctx, c, in), in.Type)
	}

	meta := tk.Meta()
	assert.Equal(t, "sonnet", meta.Models.Main)
	assert.Equal(t, "haiku", meta.Models.Weak)
	assert.Equal(t, 100, meta.Usage.InputTokens)
	assert.Equal(t, "main.go", meta.RepoMap)
	assert.Len(t, meta.ContextFiles, 2)

	msgs, err := tk.History(0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, types.KindCommand, msgs[1].Kind)
	assert.Equal(t, "ok\n", msgs[1].Tool.Response)
	assert.Equal(t, "aider/run", msgs[2].Tool.Key())
	assert.Equal(t, types.KindLog, msgs[3].Kind)
	assert.Equal(t, types.LogWarning, msgs[3].Level)
}

func TestAdapter_ProtocolErrorsAreDropped(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()
	a := NewAdapter(AdapterConfig{Tasks: m})
	c := NewConnector("c1", &fakeWire{}, nil)

	assert.ErrorIs(t, a.Handle(ctx, c, Inbound{Type: "mystery"}), ErrUnknownEvent)
	assert.ErrorIs(t, a.Handle(ctx, c, Inbound{Type: InLog}), ErrNoSession)
	assert.ErrorIs(t, a.Handle(ctx, c, Inbound{Type: InSessionInit}), ErrNoTask)
	assert.ErrorIs(t, a.Handle(ctx, c, Inbound{Type: InSessionInit, TaskID: "ghost"}), task.ErrTaskNotFound)

	tk, err := m.Create(ctx, task.CreateOptions{ProjectDir: t.TempDir()})
	require.NoError(t, err)
	bad := Inbound{Type: InResponseChunk, TaskID: tk.ID(), Payload: json.RawMessage(`{"messageId": 5}`)}
	assert.Error(t, a.Handle(ctx, c, bad))

	msgs, err := tk.History(0, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAdapter_PromptRoundTrip(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()
	tk, err := m.Create(ctx, task.CreateOptions{ProjectDir: t.TempDir()})
	require.NoError(t, err)

	a := NewAdapter(AdapterConfig{Tasks: m})
	w := &fakeWire{}
	c := NewConnector("c1", w, nil)
	require.NoError(t, a.Handle(ctx, c, Inbound{Type: InSessionInit, TaskID: tk.ID()}))

	require.NoError(t, tk.SubmitPrompt(ctx, "rename foo", task.ModeCode))
	var prompt task.Outbound
	require.Eventually(t, func() bool {
		for _, o := range w.outbound(t) {
			if o.Type == task.OutPrompt {
				prompt = o
				return true
			}
		}
		return false
	}, waitFor, pollEvery)

	require.NoError(t, a.Handle(ctx, c, Inbound{Type: InAskQuestion, Payload: payload(t, types.Question{ID: "q1", Text: "Create file?"})}))
	assert.Equal(t, types.StateAwaitingAnswer, tk.State())
	require.NoError(t, tk.AnswerQuestion(ctx, "q1", "y", ""))

	require.NoError(t, a.Handle(ctx, c, Inbound{Type: InPromptFinished, Payload: payload(t, promptFinished{PromptID: prompt.PromptID})}))
	require.Eventually(t, func() bool { return tk.State() == types.StateIdle }, waitFor, pollEvery)

	var answered bool
	for _, o := range w.outbound(t) {
		if o.Type == task.OutAnswerQuestion && o.QuestionID == "q1" {
			answered = true
		}
	}
	assert.True(t, answered)
}

func TestAdapter_DisconnectIdlesTask(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()
	tk, err := m.Create(ctx, task.CreateOptions{ProjectDir: t.TempDir()})
	require.NoError(t, err)

	a := NewAdapter(AdapterConfig{Tasks: m})
	old := NewConnector("old", &fakeWire{}, nil)
	cur := NewConnector("cur", &fakeWire{}, nil)
	require.NoError(t, a.Handle(ctx, old, Inbound{Type: InSessionInit, TaskID: tk.ID()}))
	require.NoError(t, a.Handle(ctx, cur, Inbound{Type: InSessionInit, TaskID: tk.ID()}))

	require.NoError(t, tk.SubmitPrompt(ctx, "go", task.ModeCode))
	require.NoError(t, a.Handle(ctx, cur, Inbound{Type: InResponseChunk, Payload: payload(t, responseChunk{MessageID: "r1", Chunk: "partial"})}))

	// The replaced session going away changes nothing.
	a.Disconnected(ctx, old)
	assert.True(t, tk.Connected())
	assert.Equal(t, types.StateRunning, tk.State())

	a.Disconnected(ctx, cur)
	require.Eventually(t, func() bool { return tk.State() == types.StateIdle }, waitFor, pollEvery)
	assert.False(t, tk.Connected())
	assert.Zero(t, a.Registry().Len())

	msgs, err := tk.History(0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[1].Content)
	assert.True(t, msgs[1].Finished)
}
