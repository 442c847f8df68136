package subagent

import (
	"strings"

	"github.com/jg-phare/taskcore/pkg/types"
)

// ToolGroup and ToolName address the delegation tool.
const (
	ToolGroup = "subagents"
	ToolName  = "run_task"
)

// ToolKey is the approval key of the delegation tool.
var ToolKey = types.ToolKey(ToolGroup, ToolName)

// Delegation is one finished run recorded in a message log.
type Delegation struct {
	CallID    string
	ProfileID string
	Prompt    string
	Messages  []types.ContextMessage
	Final     string
}

// Index maps tool-call ids to delegations. It is a pure view over the
// messages it was built from.
type Index struct {
	byCall map[string]Delegation
	order  []string
}

// BuildIndex scans message logs in order for finished delegation tool
// messages. A call id seen twice keeps its last occurrence at the position
// of its first.
func BuildIndex(logs ...[]types.ContextMessage) *Index {
	ix := &Index{byCall: make(map[string]Delegation)}
	for _, msgs := range logs {
		for _, m := range msgs {
			d, ok := delegationOf(m)
			if !ok {
				continue
			}
			if _, seen := ix.byCall[d.CallID]; !seen {
				ix.order = append(ix.order, d.CallID)
			}
			ix.byCall[d.CallID] = d
		}
	}
	return ix
}

func delegationOf(m types.ContextMessage) (Delegation, bool) {
	t := m.Tool
	if m.Kind != types.KindTool || t == nil || t.Key() != ToolKey {
		return Delegation{}, false
	}
	if t.Status != types.ToolFinished || t.IsError {
		return Delegation{}, false
	}

	profileID, _ := t.Args["subagentId"].(string)
	prompt, _ := t.Args["prompt"].(string)
	d := Delegation{
		CallID:    t.CallID,
		ProfileID: profileID,
		Prompt:    prompt,
		Final:     t.Response,
	}
	if t.Subagent != nil {
		if t.Subagent.ProfileID != "" {
			d.ProfileID = t.Subagent.ProfileID
		}
		d.Messages = t.Subagent.Messages
	}
	if d.ProfileID == "" || d.CallID == "" {
		return Delegation{}, false
	}
	return d, true
}

// Len returns the number of indexed delegations.
func (ix *Index) Len() int { return len(ix.order) }

// Get returns the delegation recorded for a tool-call id.
func (ix *Index) Get(callID string) (Delegation, bool) {
	d, ok := ix.byCall[callID]
	return d, ok
}

// ForProfile returns the delegations to profileID in log order.
func (ix *Index) ForProfile(profileID string) []Delegation {
	var out []Delegation
	for _, id := range ix.order {
		if d := ix.byCall[id]; d.ProfileID == profileID {
			out = append(out, d)
		}
	}
	return out
}

// Seed builds the context a new child starts with.
//
//	off           nothing
//	last-message  for each earlier delegation, its prompt and final result
//	full-context  for each earlier delegation, its whole exchange
func Seed(mode ContextMemory, ix *Index, profileID string) []types.ContextMessage {
	if mode == MemoryOff || mode == "" || ix == nil {
		return nil
	}

	var seed []types.ContextMessage
	for _, d := range ix.ForProfile(profileID) {
		if mode == MemoryFullContext && len(d.Messages) > 0 {
			seed = append(seed, types.CloneMessages(d.Messages)...)
			continue
		}
		seed = append(seed, summaryPair(d)...)
	}
	return seed
}

func summaryPair(d Delegation) []types.ContextMessage {
	var out []types.ContextMessage
	if strings.TrimSpace(d.Prompt) != "" {
		out = append(out, types.NewUserMessage(d.Prompt, nil))
	}
	if strings.TrimSpace(d.Final) != "" {
		resp := types.NewResponseMessage("", nil)
		resp.Content = d.Final
		resp.Finished = true
		out = append(out, resp)
	}
	return out
}

// FinalResult returns the content of the last non-empty finished response.
func FinalResult(msgs []types.ContextMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Kind == types.KindResponse && strings.TrimSpace(m.Content) != "" {
			return m.Content
		}
	}
	return ""
}
