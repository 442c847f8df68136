package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"nhooyr.io/websocket"

	"github.com/jg-phare/taskcore/pkg/task"
)

// ErrClosed is returned by Send after the session ended.
var ErrClosed = errors.New("connector closed")

// wire is the write side of a websocket connection.
type wire interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// Connector is one live subprocess session. It implements task.Channel.
// Messages are sent as text frames containing JSON.
type Connector struct {
	id     string
	wire   wire
	logger *slog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool

	mu           sync.RWMutex
	taskID       string
	baseDir      string
	listenTo     []task.OutboundType
	inputHistory []string
}

// NewConnector wraps the write side of a session.
func NewConnector(id string, w wire, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Connector{id: id, wire: w, logger: logger.With("connector", id)}
}

// ID returns the session id.
func (c *Connector) ID() string { return c.id }

// TaskID returns the task the session is bound to, empty before
// session-init.
func (c *Connector) TaskID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.taskID
}

// BaseDir returns the project directory the subprocess runs in.
func (c *Connector) BaseDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseDir
}

// InputHistory returns the prompts the subprocess remembers, newest first.
func (c *Connector) InputHistory() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.inputHistory)
}

func (c *Connector) bind(taskID, baseDir string, listenTo []task.OutboundType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskID = taskID
	c.baseDir = baseDir
	c.listenTo = slices.Clone(listenTo)
}

func (c *Connector) setInputHistory(h []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputHistory = h
}

// Subscribed reports whether the subprocess wants messages of typ.
func (c *Connector) Subscribed(typ task.OutboundType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listenTo) == 0 || slices.Contains(c.listenTo, typ)
}

// Send writes msg to the subprocess. Types it did not subscribe to are
// dropped silently.
func (c *Connector) Send(ctx context.Context, msg task.Outbound) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.Subscribed(msg.Type) {
		c.logger.Debug("outbound message not subscribed", "type", string(msg.Type))
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.wire.Write(ctx, websocket.MessageText, data)
}

// Close marks the session ended. Safe to call multiple times.
func (c *Connector) Close() {
	c.closed.Store(true)
}

var _ task.Channel = (*Connector)(nil)
