package types

import "time"

// NewUserMessage creates a user text message.
func NewUserMessage(content string, pc *PromptContext) ContextMessage {
	return ContextMessage{
		ID:            NewID(),
		Kind:          KindUser,
		Content:       content,
		PromptContext: pc,
		CreatedAt:     time.Now(),
	}
}

// NewResponseMessage opens a streamed assistant response with the given id.
func NewResponseMessage(id string, pc *PromptContext) ContextMessage {
	if id == "" {
		id = NewID()
	}
	return ContextMessage{
		ID:            id,
		Kind:          KindResponse,
		PromptContext: pc,
		CreatedAt:     time.Now(),
	}
}

// NewToolMessage creates a pending tool message for a call.
func NewToolMessage(call ToolCall, pc *PromptContext) ContextMessage {
	id := call.ID
	if id == "" {
		id = NewID()
	}
	return ContextMessage{
		ID:   id,
		Kind: KindTool,
		Tool: &ToolPayload{
			CallID: id,
			Group:  call.Group,
			Name:   call.Name,
			Args:   call.Args,
			Status: ToolPending,
		},
		PromptContext: pc,
		CreatedAt:     time.Now(),
	}
}

// NewLogMessage creates a log/diagnostic message.
func NewLogMessage(level LogLevel, content string, pc *PromptContext) ContextMessage {
	return ContextMessage{
		ID:            NewID(),
		Kind:          KindLog,
		Level:         level,
		Content:       content,
		PromptContext: pc,
		CreatedAt:     time.Now(),
	}
}

// NewReflectedMessage creates a reflected instruction, i.e. a follow-up
// prompt the subprocess generated for itself.
func NewReflectedMessage(content string, pc *PromptContext) ContextMessage {
	return ContextMessage{
		ID:            NewID(),
		Kind:          KindReflected,
		Content:       content,
		PromptContext: pc,
		CreatedAt:     time.Now(),
	}
}

// ToolCall is a tool invocation requested by an agent.
type ToolCall struct {
	ID    string         `json:"id"`
	Group string         `json:"group"`
	Name  string         `json:"name"`
	Args  map[string]any `json:"args,omitempty"`
}

// Key returns the approval key of the call.
func (c ToolCall) Key() string {
	return ToolKey(c.Group, c.Name)
}

// ToolResult is the outcome of a tool invocation as seen by the agent.
type ToolResult struct {
	CallID  string `json:"callId"`
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}
