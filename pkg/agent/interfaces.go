package agent

import (
	"context"

	"github.com/jg-phare/taskcore/pkg/types"
)

// Role is the author of a model-facing message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a model conversation.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []types.ToolCall // assistant only
	ToolCallID string           // tool only
}

// ToolSpec is a tool definition offered to the model.
type ToolSpec struct {
	Key         string
	Description string
	Schema      map[string]any
}

// Request is a single completion request.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolSpec
	Model    string
}

// Response is a finished completion.
type Response struct {
	Text      string
	ToolCalls []types.ToolCall
	Usage     types.Usage
}

// Model produces completions. onChunk receives streamed text in order and
// may be nil.
type Model interface {
	Complete(ctx context.Context, req Request, onChunk func(string)) (Response, error)
}

// Host is the task a step runs in. It owns history; the step only reads it
// and feeds events back through these calls.
type Host interface {
	History() []types.ContextMessage
	ProcessStreamChunk(ctx context.Context, messageID, chunk string) error
	ProcessStreamCompleted(ctx context.Context, messageID string, usage *types.Usage) error
	// InvokeTool records the call, resolves approval, runs the tool and
	// returns its result. It never fails: errors become result text.
	InvokeTool(ctx context.Context, call types.ToolCall) types.ToolResult
}
