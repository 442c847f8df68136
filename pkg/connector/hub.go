package connector

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/jg-phare/taskcore/pkg/task"
)

// clientBuffer is how many frames a UI client may lag behind before
// events to it are dropped.
const clientBuffer = 256

// Hub fans task events out to connected UI clients. It implements
// task.Sink and never blocks the publisher.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*uiClient]struct{}
}

type uiClient struct {
	id  string
	out chan []byte
	// taskID filters events to one task when set.
	mu     sync.RWMutex
	taskID string
}

func (c *uiClient) wants(taskID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.taskID == "" || taskID == "" || c.taskID == taskID
}

func (c *uiClient) follow(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskID = taskID
}

// NewHub creates a Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{logger: logger, clients: make(map[*uiClient]struct{})}
}

func (h *Hub) add(c *uiClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *uiClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Clients returns the number of connected UI clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends ev to every interested client.
func (h *Hub) Publish(ev task.Event) {
	data, err := json.Marshal(uiFrame{Type: frameEvent, Event: &ev})
	if err != nil {
		h.logger.Warn("encoding task event failed", "type", string(ev.Type), "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev.TaskID) {
			continue
		}
		select {
		case c.out <- data:
		default:
			h.logger.Warn("ui client lagging, event dropped", "client", c.id, "type", string(ev.Type))
		}
	}
}

var _ task.Sink = (*Hub)(nil)
