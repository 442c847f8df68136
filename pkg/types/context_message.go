package types

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind is the discriminator for ContextMessage variants.
type MessageKind string

const (
	KindUser      MessageKind = "user"
	KindResponse  MessageKind = "response"
	KindTool      MessageKind = "tool"
	KindLog       MessageKind = "log"
	KindReflected MessageKind = "reflected"
	KindCommand   MessageKind = "command"
)

// ToolStatus tracks a tool message through its lifecycle. The message id
// does not change between statuses.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolExecuting ToolStatus = "executing"
	ToolFinished  ToolStatus = "finished"
)

// LogLevel classifies log messages.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
	LogLoading LogLevel = "loading"
)

// ContextMessage is a discriminated union for task history entries.
// Kind determines which other fields are populated.
//
// Invariants:
//   - kind="user", "reflected": Content is set
//   - kind="response": Content accumulates until Finished, then never changes
//   - kind="tool": Tool is set
//   - kind="log": Level and Content are set
//   - kind="command": Content holds the command line, Tool.Response its output
type ContextMessage struct {
	ID            string         `json:"id"`
	Kind          MessageKind    `json:"kind"`
	Content       string         `json:"content,omitempty"`
	Finished      bool           `json:"finished,omitempty"`
	Usage         *Usage         `json:"usage,omitempty"`
	Tool          *ToolPayload   `json:"tool,omitempty"`
	Level         LogLevel       `json:"level,omitempty"`
	PromptContext *PromptContext `json:"promptContext,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// ToolPayload is the tool invocation and its result.
type ToolPayload struct {
	CallID   string         `json:"callId"`
	Group    string         `json:"group"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args,omitempty"`
	Response string         `json:"response,omitempty"`
	Status   ToolStatus     `json:"status"`
	IsError  bool           `json:"isError,omitempty"`
	// Subagent holds the child exchange when the tool delegated work.
	Subagent *SubagentRun `json:"subagent,omitempty"`
}

// SubagentRun is the recorded exchange of one delegation.
type SubagentRun struct {
	ProfileID string           `json:"profileId"`
	Group     *Group           `json:"group,omitempty"`
	Messages  []ContextMessage `json:"messages,omitempty"`
}

// Key returns the approval key of the tool, "<group>/<name>".
func (p *ToolPayload) Key() string {
	return ToolKey(p.Group, p.Name)
}

// PromptContext correlates related messages. It is opaque to orchestration.
type PromptContext struct {
	ID    string `json:"id"`
	Group *Group `json:"group,omitempty"`
}

// Group clusters messages for presentation, e.g. one subagent run.
type Group struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Color    string `json:"color,omitempty"`
	Finished bool   `json:"finished,omitempty"`
}

// ToolKey joins a tool group and name into an approval key.
func ToolKey(group, name string) string {
	return group + "/" + name
}

// NewID returns a fresh message identifier.
func NewID() string {
	return uuid.New().String()
}

// Clone returns a deep copy of the message so callers outside the owning
// task can read it without racing the task's executor.
func (m ContextMessage) Clone() ContextMessage {
	c := m
	if m.Usage != nil {
		u := *m.Usage
		c.Usage = &u
	}
	if m.Tool != nil {
		t := *m.Tool
		if m.Tool.Args != nil {
			t.Args = make(map[string]any, len(m.Tool.Args))
			for k, v := range m.Tool.Args {
				t.Args[k] = v
			}
		}
		if m.Tool.Subagent != nil {
			run := *m.Tool.Subagent
			if run.Group != nil {
				g := *run.Group
				run.Group = &g
			}
			run.Messages = CloneMessages(run.Messages)
			t.Subagent = &run
		}
		c.Tool = &t
	}
	if m.PromptContext != nil {
		pc := *m.PromptContext
		if m.PromptContext.Group != nil {
			g := *m.PromptContext.Group
			pc.Group = &g
		}
		c.PromptContext = &pc
	}
	return c
}

// CloneMessages deep-copies a slice of messages.
func CloneMessages(msgs []ContextMessage) []ContextMessage {
	if msgs == nil {
		return nil
	}
	out := make([]ContextMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
