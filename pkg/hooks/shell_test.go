package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandHandler_Directives(t *testing.T) {
	tests := []struct {
		name    string
		event   EventName
		command string
		want    Result
	}{
		{"empty output", OnToolCalled, "cat >/dev/null", Continue(nil)},
		{"block", OnToolCalled, `echo '{"block":true}'`, Block()},
		{"block approval is rejection", OnHandleApproval, `echo '{"block":true}'`, Override(false)},
		{"approve", OnHandleApproval, `echo '{"approve":true}'`, Override(true)},
		{"answer", OnQuestionAsked, `echo '{"answer":"n"}'`, Override("n")},
		{"patch", OnPromptSubmitted, `echo '{"patch":{"prompt":"rewritten"}}'`, Continue(map[string]any{"prompt": "rewritten"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewCommandHandler(CommandConfig{Name: "c", Command: tt.command})
			require.NoError(t, err)
			res, err := h.Handle(context.Background(), NewEvent(tt.event, nil), testContext(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
		})
	}
}

func TestCommandHandler_ReceivesPayload(t *testing.T) {
	h, err := NewCommandHandler(CommandConfig{
		Command: `grep -q '"tool":"power/bash"' && echo '{"block":true}' || true`,
	})
	require.NoError(t, err)

	res, err := h.Handle(context.Background(),
		NewEvent(OnToolCalled, map[string]any{"tool": "power/bash"}), testContext(t))
	require.NoError(t, err)
	assert.Equal(t, KindBlock, res.Kind)
}

func TestCommandHandler_MatcherAndEvents(t *testing.T) {
	h, err := NewCommandHandler(CommandConfig{
		Command: `echo '{"block":true}'`,
		Events:  []string{string(OnToolCalled)},
		Matcher: "power/*",
	})
	require.NoError(t, err)

	assert.True(t, h.Handles(OnToolCalled))
	assert.False(t, h.Handles(OnTaskCreated))

	res, err := h.Handle(context.Background(),
		NewEvent(OnToolCalled, map[string]any{"tool": "todo/set_items"}), testContext(t))
	require.NoError(t, err)
	assert.Equal(t, KindContinue, res.Kind)
}

func TestCommandHandler_FailureIsError(t *testing.T) {
	h, err := NewCommandHandler(CommandConfig{Command: "exit 3"})
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), NewEvent(OnToolCalled, nil), testContext(t))
	assert.ErrorIs(t, err, ErrCommandFailed)

	_, err = NewCommandHandler(CommandConfig{Command: " "})
	assert.Error(t, err)
	_, err = NewCommandHandler(CommandConfig{Command: "true", Matcher: "power/[a"})
	assert.Error(t, err)
}

func TestMatchTool(t *testing.T) {
	assert.True(t, matchTool("", "power/bash"))
	assert.True(t, matchTool("power/bash", "power/bash"))
	assert.True(t, matchTool("power/*", "power/bash"))
	assert.True(t, matchTool("**", "subagents/run_task"))
	assert.False(t, matchTool("todo/*", "power/bash"))
	assert.True(t, matchTool("todo/*", ""))
}
