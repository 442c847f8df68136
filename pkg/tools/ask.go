package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/jg-phare/taskcore/pkg/types"
)

// AskTool puts a question to the user and blocks until it is answered or
// the step is interrupted.
type AskTool struct{}

func (a *AskTool) Group() string { return "power" }
func (a *AskTool) Name() string  { return "ask_question" }

func (a *AskTool) Description() string {
	return `Asks the user a question and waits for the answer. Use it to:
1. Clarify ambiguous instructions
2. Get a decision between implementation choices
3. Confirm assumptions before a large change

Offer answers when the choice is closed; the user can always reply with free text instead.`
}

func (a *AskTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{
				"type":        "string",
				"description": "The question to ask",
			},
			"answers": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"maxItems":    6,
				"description": "Suggested answers, most likely first",
			},
			"default": map[string]any{
				"type":        "string",
				"description": "Answer used when the user just confirms",
			},
		},
		"required": []string{"question"},
	}
}

func (a *AskTool) SideEffect() SideEffectType { return SideEffectNone }

func (a *AskTool) Execute(ctx context.Context, env Env, input map[string]any) (ToolOutput, error) {
	if env.Ask == nil {
		return errorOutput("user input not available in this context"), nil
	}
	question, _ := input["question"].(string)
	if strings.TrimSpace(question) == "" {
		return errorOutput("question is required"), nil
	}

	q := types.Question{Text: question}
	if raw, ok := input["answers"].([]any); ok {
		if len(raw) > 6 {
			return errorOutput("at most 6 answers allowed"), nil
		}
		for i, v := range raw {
			s, ok := v.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return errorOutput("answers[%d] must be a non-empty string", i), nil
			}
			q.Answers = append(q.Answers, s)
		}
	}
	q.DefaultAnswer, _ = input["default"].(string)

	ans, err := env.Ask(ctx, q)
	if err != nil {
		return errorOutput("getting user input: %s", err), nil
	}

	reply := strings.TrimSpace(ans.UserInput)
	if reply == "" {
		reply = ans.Answer
	}
	if reply == "" {
		reply = q.DefaultAnswer
	}
	if reply == "" {
		return ToolOutput{Content: "The user gave no answer."}, nil
	}
	return ToolOutput{Content: fmt.Sprintf("User answered: %s", reply)}, nil
}
