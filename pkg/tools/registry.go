package tools

import (
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jg-phare/taskcore/pkg/agent"
)

// Registry holds available tools and resolves them by key.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing one with the same key.
func (r *Registry) Register(tool Tool) {
	r.tools[Key(tool)] = tool
}

// Get retrieves a tool by key.
func (r *Registry) Get(key string) (Tool, bool) {
	t, ok := r.tools[key]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.tools) }

// Keys returns all registered keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.tools))
	for k := range r.tools {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Only returns a registry restricted to the given keys.
func (r *Registry) Only(keys []string) *Registry {
	out := NewRegistry()
	for _, k := range keys {
		if t, ok := r.tools[k]; ok {
			out.tools[k] = t
		}
	}
	return out
}

// Without returns a registry lacking the given keys.
func (r *Registry) Without(keys ...string) *Registry {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	out := NewRegistry()
	for k, t := range r.tools {
		if !drop[k] {
			out.tools[k] = t
		}
	}
	return out
}

// Filter returns a registry of tools whose keys match one of the doublestar
// patterns.
func (r *Registry) Filter(patterns ...string) *Registry {
	out := NewRegistry()
	for k, t := range r.tools {
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, k); ok {
				out.tools[k] = t
				break
			}
		}
	}
	return out
}

// Specs returns model-facing definitions for all tools in key order.
func (r *Registry) Specs() []agent.ToolSpec {
	keys := r.Keys()
	specs := make([]agent.ToolSpec, 0, len(keys))
	for _, k := range keys {
		t := r.tools[k]
		specs = append(specs, agent.ToolSpec{
			Key:         k,
			Description: t.Description(),
			Schema:      t.InputSchema(),
		})
	}
	return specs
}

// DefaultRegistry returns every built-in tool. The delegation tool is
// registered only when delegator is non-nil.
func DefaultRegistry(delegator Delegator) *Registry {
	r := NewRegistry(
		&BashTool{},
		&AskTool{},
		&FileReadTool{},
		&FileWriteTool{},
		&FileEditTool{},
		&GlobTool{},
		&GrepTool{},
		&WebFetchTool{},
		&TodoSetTool{},
		&TodoGetTool{},
	)
	if delegator != nil {
		r.Register(&AgentTool{Delegator: delegator})
	}
	return r
}
