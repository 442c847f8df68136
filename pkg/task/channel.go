package task

import (
	"context"
	"fmt"
)

// Mode selects who handles a prompt: the built-in agent or the attached
// code-editing subprocess.
type Mode string

const (
	ModeAgent     Mode = "agent"
	ModeCode      Mode = "code"
	ModeAsk       Mode = "ask"
	ModeArchitect Mode = "architect"
	ModeContext   Mode = "context"
)

// ParseMode validates a mode name. Empty means agent.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeAgent, nil
	case ModeAgent, ModeCode, ModeAsk, ModeArchitect, ModeContext:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// OutboundType discriminates messages sent to a connector.
type OutboundType string

const (
	OutPrompt         OutboundType = "prompt"
	OutAnswerQuestion OutboundType = "answer-question"
	OutInterrupt      OutboundType = "interrupt"
	OutAddFile        OutboundType = "add-file"
	OutDropFile       OutboundType = "drop-file"
)

// Outbound is a message from a task to its code-editing subprocess.
type Outbound struct {
	Type       OutboundType `json:"type"`
	TaskID     string       `json:"taskId"`
	PromptID   string       `json:"promptId,omitempty"`
	Mode       Mode         `json:"mode,omitempty"`
	Text       string       `json:"text,omitempty"`
	QuestionID string       `json:"questionId,omitempty"`
	Answer     string       `json:"answer,omitempty"`
	UserInput  string       `json:"userInput,omitempty"`
	Path       string       `json:"path,omitempty"`
	ReadOnly   bool         `json:"readOnly,omitempty"`
}

// Channel is the attached subprocess session of a task.
type Channel interface {
	Send(ctx context.Context, msg Outbound) error
}
