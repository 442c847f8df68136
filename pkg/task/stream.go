package task

import (
	"context"
	"errors"
	"slices"

	"github.com/jg-phare/taskcore/pkg/hooks"
	"github.com/jg-phare/taskcore/pkg/types"
)

// ErrEmptyMessageID is returned for stream events without a message id.
var ErrEmptyMessageID = errors.New("stream event without message id")

// ProcessStreamChunk appends chunk to the response with messageID. An
// unknown id opens a new response and finalizes any other open one.
// Chunks for a completed response are ignored.
func (t *Task) ProcessStreamChunk(messageID, chunk string) error {
	return t.do(func() error { return t.streamChunk(messageID, chunk) })
}

// ProcessStreamCompleted finalizes the response with messageID. Repeated
// completions are no-ops.
func (t *Task) ProcessStreamCompleted(messageID string, usage *types.Usage) error {
	return t.CompleteResponse(messageID, "", usage)
}

// CompleteResponse finalizes a response. A non-empty content replaces what
// was streamed, which lets a subprocess that never streamed deliver its
// reply in one event.
func (t *Task) CompleteResponse(messageID, content string, usage *types.Usage) error {
	return t.do(func() error { return t.completeResponse(messageID, content, usage) })
}

func (t *Task) streamChunk(id, chunk string) error {
	if id == "" {
		return ErrEmptyMessageID
	}
	if t.wasCompleted(id) {
		t.logger.Debug("chunk for completed response dropped", "message_id", id)
		return nil
	}

	var perr error
	if t.openStream != id {
		if t.openStream != "" {
			perr = t.completeOpen(nil)
		}
		if i := t.indexOf(id); i < 0 {
			if err := t.append(types.NewResponseMessage(id, nil)); err != nil && perr == nil {
				perr = err
			}
		} else if t.messages[i].Kind != types.KindResponse {
			t.logger.Warn("chunk addressed to non-response message", "message_id", id)
			return perr
		}
		t.openStream = id
	}

	i := t.indexOf(id)
	t.messages[i].Content += chunk
	t.publish(Event{Type: EventChunk, MessageID: id, Chunk: chunk})
	return perr
}

func (t *Task) completeResponse(id, content string, usage *types.Usage) error {
	if id == "" {
		return ErrEmptyMessageID
	}
	if t.wasCompleted(id) {
		return nil
	}

	i := t.indexOf(id)
	if i < 0 {
		if content == "" {
			// Nothing was streamed and nothing arrived: remember the id only.
			t.logger.Debug("empty response completed; later chunks will be dropped", "message_id", id)
			t.remember(id)
			return nil
		}
		if t.openStream != "" {
			_ = t.completeOpen(nil)
		}
		t.messages = append(t.messages, types.NewResponseMessage(id, t.opts.promptContext))
		i = len(t.messages) - 1
	}
	m := &t.messages[i]
	if m.Kind != types.KindResponse {
		return nil
	}
	if content != "" {
		m.Content = content
	}
	m.Finished = true
	if usage != nil {
		u := *usage
		m.Usage = &u
	}
	if t.openStream == id {
		t.openStream = ""
	}
	t.remember(id)
	err := t.update(i)

	if t.opts.hooks != nil {
		ev := hooks.NewEvent(hooks.OnResponseMessageProcessed, map[string]any{
			"messageId": id,
			"content":   m.Content,
		})
		hc := t.hookContext()
		go t.opts.hooks.Trigger(t.baseCtx, ev, hc)
	}
	return err
}

// completeOpen finalizes the open stream with whatever it accumulated.
func (t *Task) completeOpen(usage *types.Usage) error {
	if t.openStream == "" {
		return nil
	}
	return t.completeResponse(t.openStream, "", usage)
}

func (t *Task) wasCompleted(id string) bool {
	if slices.Contains(t.recentDone, id) {
		return true
	}
	i := t.indexOf(id)
	return i >= 0 && t.messages[i].Kind == types.KindResponse && t.messages[i].Finished
}

func (t *Task) remember(id string) {
	t.recentDone = append(t.recentDone, id)
	if len(t.recentDone) > recentWindow {
		t.recentDone = t.recentDone[len(t.recentDone)-recentWindow:]
	}
}

// stepHost lets an agent step drive the task.
type stepHost struct{ t *Task }

func (h stepHost) History() []types.ContextMessage {
	msgs, _ := h.t.History(0, 0)
	return msgs
}

func (h stepHost) ProcessStreamChunk(_ context.Context, messageID, chunk string) error {
	return h.t.ProcessStreamChunk(messageID, chunk)
}

func (h stepHost) ProcessStreamCompleted(_ context.Context, messageID string, usage *types.Usage) error {
	return h.t.ProcessStreamCompleted(messageID, usage)
}

func (h stepHost) InvokeTool(ctx context.Context, call types.ToolCall) types.ToolResult {
	return h.t.InvokeTool(ctx, call)
}
