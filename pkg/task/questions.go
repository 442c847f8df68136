package task

import (
	"context"

	"github.com/jg-phare/taskcore/pkg/hooks"
	"github.com/jg-phare/taskcore/pkg/types"
)

// AskApproval suspends the caller until the user answers q. It implements
// approval.Asker. Cancelling ctx withdraws the question.
func (t *Task) AskApproval(ctx context.Context, q types.Question) (types.Answer, error) {
	q.IsApproval = true
	return t.ask(ctx, q, types.StateAwaitingApproval)
}

// Ask suspends the caller until the user answers a free-form question.
func (t *Task) Ask(ctx context.Context, q types.Question) (types.Answer, error) {
	return t.ask(ctx, q, types.StateAwaitingAnswer)
}

func (t *Task) ask(ctx context.Context, q types.Question, state types.TaskState) (types.Answer, error) {
	if q.ID == "" {
		q.ID = types.NewID()
	}
	hc := t.hookContext()
	out := t.opts.hooks.Trigger(ctx, questionEvent(hooks.OnQuestionAsked, q), hc)
	if answer, ok := out.Answer(); ok {
		t.logger.Debug("question answered by hook", "question_id", q.ID)
		return types.Answer{QuestionID: q.ID, Answer: answer}, nil
	}

	reply := make(chan types.Answer, 1)
	err := t.do(func() error {
		if t.closing {
			return ErrTaskClosed
		}
		t.questions[q.ID] = &pendingQuestion{q: q, reply: reply}
		t.setState(state)
		qc := q
		t.publish(Event{Type: EventQuestion, Question: &qc})
		return nil
	})
	if err != nil {
		return types.Answer{}, err
	}

	select {
	case ans := <-reply:
		data := map[string]any{
			"questionId": q.ID,
			"text":       q.Text,
			"answer":     ans.Answer,
			"userInput":  ans.UserInput,
		}
		t.opts.hooks.Trigger(context.WithoutCancel(ctx), hooks.NewEvent(hooks.OnQuestionAnswered, data), hc)
		return ans, nil
	case <-ctx.Done():
		_ = t.do(func() error {
			if _, ok := t.questions[q.ID]; ok {
				delete(t.questions, q.ID)
				t.publish(Event{Type: EventQuestionClosed, Question: &types.Question{ID: q.ID}})
				t.restoreState()
			}
			return nil
		})
		return types.Answer{}, ctx.Err()
	}
}

// AskQuestion registers a question raised by the connected subprocess.
// A hook may answer it on the spot; otherwise it waits for AnswerQuestion.
func (t *Task) AskQuestion(ctx context.Context, q types.Question) error {
	if q.ID == "" {
		q.ID = types.NewID()
	}
	out := t.opts.hooks.Trigger(ctx, questionEvent(hooks.OnQuestionAsked, q), t.hookContext())
	if answer, ok := out.Answer(); ok {
		var ch Channel
		_ = t.do(func() error { ch = t.connector; return nil })
		if ch == nil {
			return ErrNoConnector
		}
		return ch.Send(ctx, Outbound{
			Type:       OutAnswerQuestion,
			TaskID:     t.id,
			QuestionID: q.ID,
			Answer:     answer,
		})
	}

	return t.do(func() error {
		if t.closing {
			return ErrTaskClosed
		}
		t.questions[q.ID] = &pendingQuestion{q: q}
		if q.IsApproval {
			t.setState(types.StateAwaitingApproval)
		} else {
			t.setState(types.StateAwaitingAnswer)
		}
		qc := q
		t.publish(Event{Type: EventQuestion, Question: &qc})
		return nil
	})
}

// AnswerQuestion resolves a pending question. Questions raised by the
// subprocess are forwarded to it.
func (t *Task) AnswerQuestion(ctx context.Context, questionID, answer, userInput string) error {
	var (
		pq *pendingQuestion
		ch Channel
	)
	err := t.do(func() error {
		var ok bool
		pq, ok = t.questions[questionID]
		if !ok {
			return ErrQuestionNotFound
		}
		delete(t.questions, questionID)
		ch = t.connector
		t.publish(Event{Type: EventQuestionClosed, Question: &types.Question{ID: questionID}})
		t.restoreState()
		return nil
	})
	if err != nil {
		return err
	}

	ans := types.Answer{QuestionID: questionID, Answer: answer, UserInput: userInput}
	if pq.reply != nil {
		pq.reply <- ans
		return nil
	}

	t.opts.hooks.Trigger(ctx, hooks.NewEvent(hooks.OnQuestionAnswered, map[string]any{
		"questionId": questionID,
		"text":       pq.q.Text,
		"answer":     answer,
		"userInput":  userInput,
	}), t.hookContext())
	if ch == nil {
		return ErrNoConnector
	}
	return ch.Send(ctx, Outbound{
		Type:       OutAnswerQuestion,
		TaskID:     t.id,
		QuestionID: questionID,
		Answer:     answer,
		UserInput:  userInput,
	})
}

// PendingQuestions returns the questions the task waits on.
func (t *Task) PendingQuestions() []types.Question {
	var out []types.Question
	_ = t.do(func() error {
		for _, pq := range t.questions {
			out = append(out, pq.q)
		}
		return nil
	})
	return out
}

func questionEvent(name hooks.EventName, q types.Question) hooks.Event {
	return hooks.NewEvent(name, map[string]any{
		"questionId":    q.ID,
		"text":          q.Text,
		"subject":       q.Subject,
		"answers":       q.Answers,
		"defaultAnswer": q.DefaultAnswer,
		"isApproval":    q.IsApproval,
	})
}
