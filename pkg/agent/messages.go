package agent

import (
	"strings"

	"github.com/jg-phare/taskcore/pkg/types"
)

// unfinishedToolResult stands in for a tool call that never produced a
// result, e.g. after an interrupted step.
const unfinishedToolResult = "Error: tool call did not complete"

// BuildMessages converts task history into model messages. Tool messages
// attach to the nearest preceding assistant message as calls, and their
// results follow it. Log messages are not shown to the model.
func BuildMessages(history []types.ContextMessage) []Message {
	var out []Message
	// assistant is the index in out of the message tool calls attach to,
	// or -1 when a new one is needed.
	assistant := -1

	for _, m := range history {
		switch m.Kind {
		case types.KindUser, types.KindReflected:
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			out = append(out, Message{Role: RoleUser, Content: m.Content})
			assistant = -1

		case types.KindResponse:
			if m.Content == "" {
				continue
			}
			out = append(out, Message{Role: RoleAssistant, Content: m.Content})
			assistant = len(out) - 1

		case types.KindTool:
			if m.Tool == nil {
				continue
			}
			if assistant < 0 {
				out = append(out, Message{Role: RoleAssistant})
				assistant = len(out) - 1
			}
			out[assistant].ToolCalls = append(out[assistant].ToolCalls, types.ToolCall{
				ID:    m.Tool.CallID,
				Group: m.Tool.Group,
				Name:  m.Tool.Name,
				Args:  m.Tool.Args,
			})
			out = append(out, Message{Role: RoleTool, ToolCallID: m.Tool.CallID, Content: toolResultText(m.Tool)})

		case types.KindCommand:
			out = append(out, Message{Role: RoleUser, Content: commandText(m)})
			assistant = -1
		}
	}
	return out
}

func toolResultText(t *types.ToolPayload) string {
	if t.Status != types.ToolFinished {
		return unfinishedToolResult
	}
	return t.Response
}

func commandText(m types.ContextMessage) string {
	var b strings.Builder
	b.WriteString("$ ")
	b.WriteString(m.Content)
	if m.Tool != nil && m.Tool.Response != "" {
		b.WriteString("\n")
		b.WriteString(m.Tool.Response)
	}
	return b.String()
}
