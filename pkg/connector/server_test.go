package connector

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/jg-phare/taskcore/pkg/task"
	"github.com/jg-phare/taskcore/pkg/types"
)

const (
	waitFor   = 2 * time.Second
	pollEvery = 5 * time.Millisecond
)

type testServer struct {
	url     string
	manager *task.Manager
	adapter *Adapter
	hub     *Hub
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	hub := NewHub(nil)
	m := newManager(t, hub)
	adapter := NewAdapter(AdapterConfig{Tasks: m})
	srv := httptest.NewServer(NewServer(ServerConfig{Manager: m, Adapter: adapter, Hub: hub}).Handler())
	t.Cleanup(srv.Close)
	return &testServer{
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		manager: m,
		adapter: adapter,
		hub:     hub,
	}
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

type testFrame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Event *task.Event     `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(testFrame) bool) testFrame {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var f testFrame
		require.NoError(t, json.Unmarshal(data, &f))
		if match(f) {
			return f
		}
	}
}

func response(id string) func(testFrame) bool {
	return func(f testFrame) bool { return f.Type == frameResponse && f.ID == id }
}

func TestServer_ConnectorAndUI(t *testing.T) {
	ts := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ui := dial(t, ctx, ts.url+"/ui")
	require.Eventually(t, func() bool { return ts.hub.Clients() == 1 }, waitFor, pollEvery)

	send(t, ctx, ui, Command{ID: "1", Type: CmdCreateTask, Name: "demo", ProjectDir: t.TempDir()})
	created := readUntil(t, ctx, ui, response("1"))
	require.Empty(t, created.Error)
	var meta types.TaskMeta
	require.NoError(t, json.Unmarshal(created.Data, &meta))
	require.NotEmpty(t, meta.ID)

	sub := dial(t, ctx, ts.url+"/connector")
	send(t, ctx, sub, Inbound{Type: InSessionInit, TaskID: meta.ID, BaseDir: meta.ProjectDir})
	send(t, ctx, sub, Inbound{Type: InResponseChunk, TaskID: meta.ID, Payload: payload(t, responseChunk{MessageID: "r1", Chunk: "Hello"})})
	send(t, ctx, sub, Inbound{Type: InResponseCompleted, TaskID: meta.ID, Payload: payload(t, responseCompleted{MessageID: "r1"})})

	chunk := readUntil(t, ctx, ui, func(f testFrame) bool {
		return f.Type == frameEvent && f.Event.Type == task.EventChunk
	})
	assert.Equal(t, meta.ID, chunk.Event.TaskID)
	assert.Equal(t, "Hello", chunk.Event.Chunk)

	tk, err := ts.manager.Get(meta.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs, _ := tk.History(0, 0)
		return len(msgs) == 1 && msgs[0].Finished
	}, waitFor, pollEvery)

	send(t, ctx, ui, Command{ID: "2", Type: CmdGetHistory, TaskID: meta.ID})
	hist := readUntil(t, ctx, ui, response("2"))
	var msgs []types.ContextMessage
	require.NoError(t, json.Unmarshal(hist.Data, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Content)

	send(t, ctx, ui, Command{ID: "3", Type: CmdSubmitPrompt, TaskID: meta.ID, Text: "go", Mode: "bogus"})
	bad := readUntil(t, ctx, ui, response("3"))
	assert.Contains(t, bad.Error, "invalid prompt mode")

	// Dropping the subprocess session leaves the task idle and disconnected.
	sub.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return !tk.Connected() }, waitFor, pollEvery)
	assert.Equal(t, types.StateIdle, tk.State())
	assert.Zero(t, ts.adapter.Registry().Len())
}

func TestServer_UnknownCommand(t *testing.T) {
	ts := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ui := dial(t, ctx, ts.url+"/ui")
	send(t, ctx, ui, Command{ID: "x", Type: CmdListTasks})
	list := readUntil(t, ctx, ui, response("x"))
	assert.Empty(t, list.Error)

	send(t, ctx, ui, Command{ID: "y", Type: CmdInterrupt, TaskID: "ghost"})
	missing := readUntil(t, ctx, ui, response("y"))
	assert.Contains(t, missing.Error, "task not found")
}

func TestHub_FollowFiltersEvents(t *testing.T) {
	h := NewHub(nil)
	all := &uiClient{id: "all", out: make(chan []byte, 4)}
	one := &uiClient{id: "one", out: make(chan []byte, 4)}
	one.follow("t1")
	h.add(all)
	h.add(one)

	h.Publish(task.Event{Type: task.EventState, TaskID: "t1", State: types.StateRunning})
	h.Publish(task.Event{Type: task.EventState, TaskID: "t2", State: types.StateRunning})

	assert.Len(t, all.out, 2)
	assert.Len(t, one.out, 1)

	// A full client never blocks the publisher.
	for i := 0; i < 10; i++ {
		h.Publish(task.Event{Type: task.EventState, TaskID: "t1"})
	}
	assert.Len(t, one.out, 4)
}
