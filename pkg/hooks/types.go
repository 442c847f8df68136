package hooks

import (
	"context"
	"log/slog"
	"maps"

	"github.com/jg-phare/taskcore/pkg/types"
)

// EventName identifies a lifecycle event.
type EventName string

const (
	OnTaskCreated              EventName = "onTaskCreated"
	OnTaskClosed               EventName = "onTaskClosed"
	OnPromptSubmitted          EventName = "onPromptSubmitted"
	OnAgentStarted             EventName = "onAgentStarted"
	OnToolCalled               EventName = "onToolCalled"
	OnToolFinished             EventName = "onToolFinished"
	OnQuestionAsked            EventName = "onQuestionAsked"
	OnQuestionAnswered         EventName = "onQuestionAnswered"
	OnHandleApproval           EventName = "onHandleApproval"
	OnResponseMessageProcessed EventName = "onResponseMessageProcessed"
	OnSubagentStarted          EventName = "onSubagentStarted"
	OnSubagentFinished         EventName = "onSubagentFinished"
	OnFileAdded                EventName = "onFileAdded"
	OnFileDropped              EventName = "onFileDropped"
)

// AllEvents lists every event name in declaration order.
var AllEvents = []EventName{
	OnTaskCreated, OnTaskClosed, OnPromptSubmitted, OnAgentStarted,
	OnToolCalled, OnToolFinished, OnQuestionAsked, OnQuestionAnswered,
	OnHandleApproval, OnResponseMessageProcessed, OnSubagentStarted,
	OnSubagentFinished, OnFileAdded, OnFileDropped,
}

// IsDecision reports whether handlers of this event may answer it, i.e.
// a boolean result is an approval/rejection rather than continue/block.
func (n EventName) IsDecision() bool {
	return n == OnHandleApproval || n == OnQuestionAsked
}

// Event is an immutable event value passed along the handler chain.
type Event struct {
	Name EventName
	Data map[string]any
}

// NewEvent creates an event with a private copy of data.
func NewEvent(name EventName, data map[string]any) Event {
	return Event{Name: name, Data: maps.Clone(data)}
}

// With returns a copy of the event with patch merged into its data.
// The receiver is left untouched.
func (e Event) With(patch map[string]any) Event {
	data := make(map[string]any, len(e.Data)+len(patch))
	maps.Copy(data, e.Data)
	maps.Copy(data, patch)
	return Event{Name: e.Name, Data: data}
}

// String returns the string value stored under key, or "".
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Context is the view of the owning task exposed to handlers. It never
// gives access to other tasks.
type Context interface {
	TaskID() string
	ProjectDir() string
	History() []types.ContextMessage
	ReadFile(rel string) (string, error)
	RunCommand(ctx context.Context, command string) (string, error)
	Log(level slog.Level, msg string)
}

// Handler is one named set of event callbacks.
type Handler interface {
	Name() string
	Handles(event EventName) bool
	Handle(ctx context.Context, event Event, hc Context) (Result, error)
}

// HandleFunc is the signature of a Go event callback.
type HandleFunc func(ctx context.Context, event Event, hc Context) (Result, error)

// Funcs is a Handler backed by Go functions keyed by event.
type Funcs struct {
	ID string
	On map[EventName]HandleFunc
}

func (f *Funcs) Name() string { return f.ID }

func (f *Funcs) Handles(event EventName) bool {
	_, ok := f.On[event]
	return ok
}

func (f *Funcs) Handle(ctx context.Context, event Event, hc Context) (Result, error) {
	fn, ok := f.On[event.Name]
	if !ok {
		return Continue(nil), nil
	}
	return fn(ctx, event, hc)
}

var _ Handler = (*Funcs)(nil)
