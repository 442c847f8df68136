package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jg-phare/taskcore/pkg/types"
)

func TestAskTool(t *testing.T) {
	var asked types.Question
	env := Env{Ask: func(_ context.Context, q types.Question) (types.Answer, error) {
		asked = q
		return types.Answer{QuestionID: q.ID, Answer: "postgres"}, nil
	}}

	out := run(t, &AskTool{}, env, map[string]any{
		"question": "Which database?",
		"answers":  []any{"postgres", "sqlite"},
		"default":  "sqlite",
	})
	assert.False(t, out.IsError)
	assert.Equal(t, "User answered: postgres", out.Content)
	assert.Equal(t, "Which database?", asked.Text)
	assert.Equal(t, []string{"postgres", "sqlite"}, asked.Answers)
	assert.Equal(t, "sqlite", asked.DefaultAnswer)
}

func TestAskTool_FreeTextWins(t *testing.T) {
	env := Env{Ask: func(_ context.Context, q types.Question) (types.Answer, error) {
		return types.Answer{Answer: "y", UserInput: "use the existing pool"}, nil
	}}
	out := run(t, &AskTool{}, env, map[string]any{"question": "Proceed?"})
	assert.Equal(t, "User answered: use the existing pool", out.Content)
}

func TestAskTool_Errors(t *testing.T) {
	out := run(t, &AskTool{}, Env{}, map[string]any{"question": "Proceed?"})
	assert.True(t, out.IsError)

	failing := Env{Ask: func(context.Context, types.Question) (types.Answer, error) {
		return types.Answer{}, errors.New("interrupted")
	}}
	out = run(t, &AskTool{}, failing, map[string]any{"question": "Proceed?"})
	require.True(t, out.IsError)
	assert.Contains(t, out.Content, "interrupted")

	out = run(t, &AskTool{}, failing, map[string]any{"question": " "})
	assert.True(t, out.IsError)

	out = run(t, &AskTool{}, failing, map[string]any{"question": "Pick", "answers": []any{"a", 3}})
	assert.True(t, out.IsError)
}
