// Package connector routes traffic between tasks and the code-editing
// subprocesses attached to them over websocket sessions.
package connector

import (
	"encoding/json"
	"errors"

	"github.com/jg-phare/taskcore/pkg/task"
	"github.com/jg-phare/taskcore/pkg/types"
)

var (
	ErrUnknownEvent = errors.New("unknown connector event")
	ErrNoTask       = errors.New("connector event without task id")
	ErrNoSession    = errors.New("connector has no session")
)

// InboundType discriminates events sent by a subprocess.
type InboundType string

const (
	InSessionInit          InboundType = "session-init"
	InResponseChunk        InboundType = "response-chunk"
	InResponseCompleted    InboundType = "response-completed"
	InAppendContextMessage InboundType = "append-context-message"
	InAskQuestion          InboundType = "ask-question"
	InSetModels            InboundType = "set-models"
	InUpdateContextFiles   InboundType = "update-context-files"
	InAddFile              InboundType = "add-file"
	InDropFile             InboundType = "drop-file"
	InCommandOutput        InboundType = "command-output"
	InTokensInfo           InboundType = "tokens-info"
	InToolTelemetry        InboundType = "tool-telemetry"
	InPromptFinished       InboundType = "prompt-finished"
	InRepoMapUpdated       InboundType = "repo-map-updated"
	InLog                  InboundType = "log"
)

// Inbound is one event from a subprocess. Payload is decoded according to
// Type.
type Inbound struct {
	Type    InboundType     `json:"type"`
	BaseDir string          `json:"baseDir,omitempty"`
	TaskID  string          `json:"taskId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SessionInit opens a subprocess session for a task.
type SessionInit struct {
	// ListenTo restricts the outbound types the subprocess receives.
	// Empty means all.
	ListenTo         []task.OutboundType `json:"listenTo,omitempty"`
	InputHistoryFile string              `json:"inputHistoryFile,omitempty"`
	ContextFiles     []types.ContextFile `json:"contextFiles,omitempty"`
}

type responseChunk struct {
	MessageID string `json:"messageId"`
	Chunk     string `json:"chunk"`
}

type responseCompleted struct {
	MessageID string       `json:"messageId"`
	Content   string       `json:"content,omitempty"`
	Usage     *types.Usage `json:"usage,omitempty"`
}

type contextFiles struct {
	Files []types.ContextFile `json:"files"`
}

type fileChange struct {
	Path     string `json:"path"`
	ReadOnly bool   `json:"readOnly,omitempty"`
}

type commandOutput struct {
	Phase string `json:"phase"`
	Text  string `json:"text,omitempty"`
}

type toolTelemetry struct {
	Tool     string         `json:"tool"`
	Args     map[string]any `json:"args,omitempty"`
	Response string         `json:"response,omitempty"`
	IsError  bool           `json:"isError,omitempty"`
	Usage    *types.Usage   `json:"usage,omitempty"`
}

type promptFinished struct {
	PromptID string `json:"promptId"`
}

type repoMap struct {
	RepoMap string `json:"repoMap"`
}

type logEntry struct {
	Level   types.LogLevel `json:"level"`
	Message string         `json:"message"`
}

// decode unmarshals a payload; an absent payload leaves v untouched.
func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
