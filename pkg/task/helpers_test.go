package task

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jg-phare/taskcore/pkg/agent"
	"github.com/jg-phare/taskcore/pkg/approval"
	"github.com/jg-phare/taskcore/pkg/store"
	"github.com/jg-phare/taskcore/pkg/tools"
	"github.com/jg-phare/taskcore/pkg/types"
)

const waitFor = 2 * time.Second

// turnFunc answers one model request.
type turnFunc func(ctx context.Context, req agent.Request, onChunk func(string)) (agent.Response, error)

// fakeModel plays turns in order and then answers "done".
type fakeModel struct {
	mu    sync.Mutex
	turns []turnFunc
	reqs  []agent.Request
}

func (m *fakeModel) Complete(ctx context.Context, req agent.Request, onChunk func(string)) (agent.Response, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	var turn turnFunc
	if len(m.turns) > 0 {
		turn = m.turns[0]
		m.turns = m.turns[1:]
	}
	m.mu.Unlock()
	if turn == nil {
		return agent.Response{Text: "done"}, nil
	}
	return turn(ctx, req, onChunk)
}

func (m *fakeModel) requests() []agent.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]agent.Request(nil), m.reqs...)
}

func reply(text string) turnFunc {
	return func(_ context.Context, _ agent.Request, onChunk func(string)) (agent.Response, error) {
		if onChunk != nil {
			onChunk(text)
		}
		return agent.Response{Text: text, Usage: types.Usage{InputTokens: 10, OutputTokens: 5}}, nil
	}
}

func callTool(group, name string, args map[string]any) turnFunc {
	return func(context.Context, agent.Request, func(string)) (agent.Response, error) {
		return agent.Response{ToolCalls: []types.ToolCall{{ID: types.NewID(), Group: group, Name: name, Args: args}}}, nil
	}
}

func blockUntilCancelled(ctx context.Context, _ agent.Request, onChunk func(string)) (agent.Response, error) {
	onChunk("thinking")
	<-ctx.Done()
	return agent.Response{}, ctx.Err()
}

// echoTool returns its "text" argument and counts executions.
type echoTool struct {
	name  string
	calls atomic.Int32
}

func (e *echoTool) Group() string       { return "test" }
func (e *echoTool) Name() string        { return e.name }
func (e *echoTool) Description() string { return "echoes text" }
func (e *echoTool) InputSchema() map[string]any {
	return map[string]any{"type": "object"}
}
func (e *echoTool) SideEffect() tools.SideEffectType { return tools.SideEffectNone }
func (e *echoTool) Execute(_ context.Context, _ tools.Env, input map[string]any) (tools.ToolOutput, error) {
	e.calls.Add(1)
	text, _ := input["text"].(string)
	return tools.ToolOutput{Content: "echo: " + text}, nil
}

// recordingSink keeps every published event.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) ofType(typ EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// question waits for the next unanswered question event.
func (s *recordingSink) question(t *testing.T, seen int) types.Question {
	t.Helper()
	var q types.Question
	require.Eventually(t, func() bool {
		qs := s.ofType(EventQuestion)
		if len(qs) <= seen {
			return false
		}
		q = *qs[seen].Question
		return true
	}, waitFor, 5*time.Millisecond)
	return q
}

// fakeChannel records what a task sends to its subprocess.
type fakeChannel struct {
	mu   sync.Mutex
	sent []Outbound
	err  error
}

func (c *fakeChannel) Send(_ context.Context, msg Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) ofType(typ OutboundType) []Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Outbound
	for _, m := range c.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	task  *Task
	store *store.Store
	sink  *recordingSink
	model *fakeModel
	echo  *echoTool
}

type fixtureOption func(*options)

func withPolicy(p approval.Policy) fixtureOption {
	return func(o *options) {
		o.gate = approval.NewGate(approval.GateConfig{Policy: p, Hooks: o.hooks})
	}
}

func withLogger(l *slog.Logger) fixtureOption {
	return func(o *options) { o.logger = l }
}

// logBuffer collects log output written from any goroutine.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func withTools(reg *tools.Registry) fixtureOption {
	return func(o *options) { o.tools = reg }
}

func newFixture(t *testing.T, turns []turnFunc, opts ...fixtureOption) *fixture {
	t.Helper()
	st := store.New(t.TempDir())
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		store: st,
		sink:  &recordingSink{},
		model: &fakeModel{turns: turns},
		echo:  &echoTool{name: "echo"},
	}
	meta := types.TaskMeta{
		ID:         types.NewID(),
		ProjectDir: t.TempDir(),
		WorkMode:   types.WorkModeLocal,
		Models:     types.Models{Main: "test-model"},
		CreatedAt:  time.Now(),
	}
	require.NoError(t, st.Create(meta))

	o := options{
		store: st,
		tools: tools.NewRegistry(f.echo),
		model: f.model,
		sink:  f.sink,
	}
	for _, opt := range opts {
		opt(&o)
	}
	f.task = newTask(meta, nil, o)
	t.Cleanup(func() { _ = f.task.Close() })
	return f
}

func (f *fixture) history(t *testing.T) []types.ContextMessage {
	t.Helper()
	msgs, err := f.task.History(0, 0)
	require.NoError(t, err)
	return msgs
}

func (f *fixture) stored(t *testing.T) []types.ContextMessage {
	t.Helper()
	rec, err := f.store.Load(f.task.ID())
	require.NoError(t, err)
	return rec.Messages
}

func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.task.Wait(ctx))
	require.Equal(t, types.StateIdle, f.task.State())
}

func (f *fixture) waitState(t *testing.T, want types.TaskState) {
	t.Helper()
	require.Eventually(t, func() bool { return f.task.State() == want }, waitFor, 5*time.Millisecond)
}

func ids(msgs []types.ContextMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func ofKind(msgs []types.ContextMessage, kind types.MessageKind) []types.ContextMessage {
	var out []types.ContextMessage
	for _, m := range msgs {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}
