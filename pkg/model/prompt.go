package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jg-phare/taskcore/pkg/agent"
	"github.com/jg-phare/taskcore/pkg/types"
)

// renderPrompt flattens the conversation into one prompt text, the form
// gollm's Generate accepts.
func renderPrompt(msgs []agent.Message) string {
	var parts []string
	for _, m := range msgs {
		switch m.Role {
		case agent.RoleUser:
			parts = append(parts, "[User]: "+m.Content)
		case agent.RoleAssistant:
			if m.Content != "" {
				parts = append(parts, "[Assistant]: "+m.Content)
			}
			for _, c := range m.ToolCalls {
				args, _ := json.Marshal(c.Args)
				parts = append(parts, fmt.Sprintf("[Tool Call %s %s]: %s", c.ID, c.Key(), args))
			}
		case agent.RoleTool:
			prefix := "[Tool Result " + m.ToolCallID + "]"
			if strings.HasPrefix(m.Content, "Error:") {
				prefix = "[Tool Error " + m.ToolCallID + "]"
			}
			parts = append(parts, prefix+": "+m.Content)
		}
	}
	text := strings.Join(parts, "\n\n")
	if text == "" {
		text = "Hello"
	}
	return text
}

// renderSystem appends the tool-calling protocol to the system prompt.
func renderSystem(system string, tools []agent.ToolSpec) string {
	if len(tools) == 0 {
		return system
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(system))
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString("You can call tools. To call tools, end your reply with a JSON array and nothing after it:\n")
	b.WriteString(`[{"name": "<tool>", "arguments": {...}}]`)
	b.WriteString("\nTool results arrive in the next message. Reply without a JSON array when you are done.\n\nTools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Key, t.Description)
		if len(t.Schema) > 0 {
			schema, _ := json.Marshal(t.Schema)
			fmt.Fprintf(&b, "  arguments schema: %s\n", schema)
		}
	}
	return b.String()
}

type rawCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// parseToolCalls extracts a trailing JSON array of tool calls from text and
// returns the text before it.
func parseToolCalls(text string) (string, []types.ToolCall) {
	for i := strings.Index(text, "[{"); i >= 0; {
		var raw []rawCall
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		if err := dec.Decode(&raw); err == nil && validCalls(raw) {
			return cleanText(text[:i]), toToolCalls(raw)
		}
		next := strings.Index(text[i+2:], "[{")
		if next < 0 {
			break
		}
		i += 2 + next
	}
	return text, nil
}

func validCalls(raw []rawCall) bool {
	if len(raw) == 0 {
		return false
	}
	for _, c := range raw {
		if c.Name == "" {
			return false
		}
	}
	return true
}

func toToolCalls(raw []rawCall) []types.ToolCall {
	calls := make([]types.ToolCall, 0, len(raw))
	for _, rc := range raw {
		group, name, ok := strings.Cut(rc.Name, "/")
		if !ok {
			group, name = "", rc.Name
		}
		id := rc.ID
		if id == "" {
			id = types.NewID()
		}
		calls = append(calls, types.ToolCall{ID: id, Group: group, Name: name, Args: decodeArgs(rc.Arguments)})
	}
	return calls
}

// decodeArgs accepts an object or a string holding an object.
func decodeArgs(raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return map[string]any{}
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			raw = []byte(s)
		}
	}
	args := map[string]any{}
	_ = json.Unmarshal(raw, &args)
	return args
}

func cleanText(s string) string {
	s = strings.TrimSpace(s)
	for _, fence := range []string{"```json", "```"} {
		s = strings.TrimSpace(strings.TrimSuffix(s, fence))
	}
	return s
}

// estimateTokens approximates token counts from text length. gollm does
// not expose provider usage.
func estimateTokens(s string) int {
	return len(s) / 4
}
