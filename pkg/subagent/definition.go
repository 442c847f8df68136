// Package subagent runs delegated prompts in isolated child tasks.
package subagent

import "fmt"

// ContextMemory selects how much of earlier delegations to the same
// profile a new child sees.
type ContextMemory string

const (
	MemoryOff         ContextMemory = "off"
	MemoryLastMessage ContextMemory = "last-message"
	MemoryFullContext ContextMemory = "full-context"
)

// ParseContextMemory accepts the kebab-case names plus their camel-case
// spellings. Empty means off.
func ParseContextMemory(s string) (ContextMemory, error) {
	switch s {
	case "", "off", "Off":
		return MemoryOff, nil
	case "last-message", "lastMessage", "LastMessage":
		return MemoryLastMessage, nil
	case "full-context", "fullContext", "FullContext":
		return MemoryFullContext, nil
	}
	return "", fmt.Errorf("unknown context memory %q", s)
}

// ProfileSource identifies where a profile came from.
type ProfileSource int

const (
	SourceBuiltin ProfileSource = iota
	SourceGlobal
	SourceProject
)

func (s ProfileSource) String() string {
	switch s {
	case SourceProject:
		return "project"
	case SourceGlobal:
		return "global"
	}
	return "builtin"
}

// Profile describes a sub-agent the main agent can delegate to.
type Profile struct {
	ID            string
	Name          string
	Description   string
	SystemPrompt  string
	Model         string
	ContextMemory ContextMemory
	MaxTurns      int
	Color         string
	// EnableTodo keeps the todo tools available to the child.
	EnableTodo bool
	// Tools restricts the child to matching tool keys (doublestar
	// patterns). Empty means every tool of the parent.
	Tools           []string
	DisallowedTools []string

	Source   ProfileSource
	FilePath string
}

// DefaultMaxTurns bounds a child run when the profile sets no limit.
const DefaultMaxTurns = 20
