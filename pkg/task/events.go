package task

import "github.com/jg-phare/taskcore/pkg/types"

// EventType discriminates outbound task events.
type EventType string

const (
	EventTaskCreated     EventType = "task-created"
	EventTaskDeleted     EventType = "task-deleted"
	EventMessage         EventType = "message" // appended or updated
	EventChunk           EventType = "chunk"
	EventMessagesRemoved EventType = "messages-removed"
	EventState           EventType = "state"
	EventQuestion        EventType = "question"
	EventQuestionClosed  EventType = "question-closed"
	EventMeta            EventType = "meta"
	EventConnector       EventType = "connector"
)

// Event is a change to a task, published to the UI collaborator.
type Event struct {
	Type       EventType             `json:"type"`
	TaskID     string                `json:"taskId"`
	Message    *types.ContextMessage `json:"message,omitempty"`
	MessageID  string                `json:"messageId,omitempty"`
	Chunk      string                `json:"chunk,omitempty"`
	MessageIDs []string              `json:"messageIds,omitempty"`
	State      types.TaskState       `json:"state,omitempty"`
	Question   *types.Question       `json:"question,omitempty"`
	Meta       *types.TaskMeta       `json:"meta,omitempty"`
	Connected  bool                  `json:"connected,omitempty"`
}

// Sink receives task events. Publish is called from a task's executor and
// must not block.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Publish(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ev)
		}
	}
}

// parentSink republishes a child's message events under its parent so the
// UI renders them inside the delegation group.
type parentSink struct {
	parentID string
	next     Sink
}

func (s parentSink) Publish(ev Event) {
	switch ev.Type {
	case EventMessage, EventChunk, EventMessagesRemoved:
		ev.TaskID = s.parentID
		s.next.Publish(ev)
	}
}
