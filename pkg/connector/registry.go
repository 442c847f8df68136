package connector

import (
	"sort"
	"sync"
)

// Registry maps task ids to their attached connector.
type Registry struct {
	mu     sync.RWMutex
	byTask map[string]*Connector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byTask: make(map[string]*Connector)}
}

// Add attaches c to taskID and returns the connector it replaced, if any.
func (r *Registry) Add(taskID string, c *Connector) *Connector {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.byTask[taskID]
	r.byTask[taskID] = c
	if prev == c {
		return nil
	}
	return prev
}

// Get returns the connector of taskID.
func (r *Registry) Get(taskID string) (*Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byTask[taskID]
	return c, ok
}

// Remove detaches c from taskID if it is still the registered connector.
// It reports whether it removed anything.
func (r *Registry) Remove(taskID string, c *Connector) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byTask[taskID]; !ok || cur != c {
		return false
	}
	delete(r.byTask, taskID)
	return true
}

// Len returns the number of attached connectors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTask)
}

// TaskIDs returns the ids of tasks with a connector, sorted.
func (r *Registry) TaskIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byTask))
	for id := range r.byTask {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
