package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jg-phare/taskcore/pkg/agent"
	"github.com/jg-phare/taskcore/pkg/hooks"
	"github.com/jg-phare/taskcore/pkg/types"
)

// interruptTimeout bounds delivery of an interrupt to the subprocess.
const interruptTimeout = 5 * time.Second

// SubmitPrompt starts a step for text. Agent mode runs the built-in agent;
// any other mode hands the prompt to the attached subprocess. It returns
// once the step has started. If the prompt could not be stored the step
// still runs and the error wraps ErrNotPersisted.
func (t *Task) SubmitPrompt(ctx context.Context, text string, mode Mode) error {
	if mode == "" {
		mode = ModeAgent
	}
	busy := false
	if err := t.do(func() error {
		if t.closing {
			return ErrTaskClosed
		}
		busy = t.step != nil
		return nil
	}); err != nil {
		return err
	}
	if busy {
		return ErrTaskRunning
	}

	out := t.opts.hooks.Trigger(ctx, hooks.NewEvent(hooks.OnPromptSubmitted, map[string]any{
		"prompt": text,
		"mode":   string(mode),
	}), t.hookContext())
	if out.Blocked {
		t.logger.Info("prompt blocked by hook")
		return ErrBlocked
	}
	if p := out.Event.String("prompt"); p != "" {
		text = p
	}

	var (
		st      *step
		stepCtx context.Context
		ch      Channel
		saveErr error
	)
	err := t.do(func() error {
		if t.closing {
			return ErrTaskClosed
		}
		if t.step != nil {
			return ErrTaskRunning
		}
		if mode != ModeAgent && t.connector == nil {
			return ErrNoConnector
		}
		ch = t.connector

		saveErr = t.append(types.NewUserMessage(text, nil))
		t.stepStart = len(t.messages)

		var cancel context.CancelFunc
		stepCtx, cancel = context.WithCancel(t.baseCtx)
		st = &step{cancel: cancel, done: make(chan struct{}), mode: mode}
		if mode != ModeAgent {
			st.promptID = types.NewID()
		}
		t.step = st
		t.setState(types.StateRunning)
		return nil
	})
	if err != nil {
		return err
	}

	t.logger.Info("step started", "mode", string(mode))
	if mode == ModeAgent {
		go t.runAgent(stepCtx, st)
	} else {
		go t.runConnector(stepCtx, st, ch, text)
	}
	if saveErr != nil {
		return fmt.Errorf("%w: %w", ErrNotPersisted, saveErr)
	}
	return nil
}

func (t *Task) runAgent(ctx context.Context, st *step) {
	if _, err := t.execute(ctx, st); err != nil && !errors.Is(err, context.Canceled) {
		t.logger.Warn("step failed", "error", err)
	}
}

// execute runs one agent step on the task and records its outcome.
func (t *Task) execute(ctx context.Context, st *step) (agent.StepResult, error) {
	defer close(st.done)
	defer st.cancel()

	var cfg agent.Config
	if err := t.do(func() error {
		cfg = agent.Config{
			Model:     t.opts.model,
			ModelName: t.meta.Models.Main,
			System:    t.systemPrompt(),
			Tools:     t.opts.tools.Specs(),
			MaxTurns:  t.opts.maxTurns,
			Logger:    t.logger,
		}
		return nil
	}); err != nil {
		return agent.StepResult{}, err
	}

	t.opts.hooks.Trigger(ctx, hooks.NewEvent(hooks.OnAgentStarted, map[string]any{
		"model": cfg.ModelName,
	}), t.hookContext())

	res, err := agent.RunStep(ctx, cfg, stepHost{t})
	_ = t.do(func() error {
		t.finishStep(st, res, err)
		return nil
	})
	if res.Usage != (types.Usage{}) && t.opts.onUsage != nil {
		t.opts.onUsage(res.Usage)
	}
	return res, err
}

// finishStep records the outcome of an agent step. Runs on the executor.
func (t *Task) finishStep(st *step, res agent.StepResult, err error) {
	if t.step == st {
		t.endStep(st)
	}
	if res.Usage != (types.Usage{}) {
		t.meta.Usage = t.meta.Usage.Add(res.Usage)
		_ = t.persistMeta()
		t.publishMeta()
	}

	switch {
	case errors.Is(err, context.Canceled) || res.ExitReason == agent.ExitAborted:
		_ = t.append(types.NewLogMessage(types.LogInfo, "Interrupted.", nil))
	case err != nil:
		_ = t.append(types.NewLogMessage(types.LogError, err.Error(), nil))
	case res.ExitReason == agent.ExitMaxTurns:
		_ = t.append(types.NewLogMessage(types.LogWarning,
			fmt.Sprintf("Stopped after %d turns.", res.Turns), nil))
	}
	t.logger.Info("step finished", "turns", res.Turns, "tool_calls", res.ToolCalls, "exit", string(res.ExitReason))
}

// endStep clears st and returns the task to idle. Runs on the executor.
func (t *Task) endStep(st *step) {
	t.step = nil
	_ = t.completeOpen(nil)
	if st.mode != ModeAgent {
		for id, pq := range t.questions {
			if pq.reply == nil {
				delete(t.questions, id)
				t.publish(Event{Type: EventQuestionClosed, Question: &types.Question{ID: id}})
			}
		}
	}
	t.restoreState()
}

// runConnector hands the prompt to the subprocess and waits until the step
// ends. A step still current when its context ends was interrupted.
func (t *Task) runConnector(ctx context.Context, st *step, ch Channel, text string) {
	defer close(st.done)

	err := ch.Send(ctx, Outbound{
		Type:     OutPrompt,
		TaskID:   t.id,
		PromptID: st.promptID,
		Mode:     st.mode,
		Text:     text,
	})
	if err != nil && ctx.Err() == nil {
		t.logger.Warn("sending prompt failed", "error", err)
		_ = t.do(func() error {
			if t.step == st {
				t.endStep(st)
			}
			_ = t.append(types.NewLogMessage(types.LogError, "Sending prompt failed: "+err.Error(), nil))
			return nil
		})
		st.cancel()
		return
	}

	<-ctx.Done()
	interrupted := false
	_ = t.do(func() error {
		if t.step == st {
			interrupted = true
			t.endStep(st)
		}
		return nil
	})
	if !interrupted {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), interruptTimeout)
	defer cancel()
	if err := ch.Send(sendCtx, Outbound{Type: OutInterrupt, TaskID: t.id, PromptID: st.promptID}); err != nil {
		t.logger.Debug("sending interrupt failed", "error", err)
	}
}

// PromptFinished ends the subprocess step started for promptID. An empty
// id ends whatever subprocess step is running.
func (t *Task) PromptFinished(promptID string) error {
	return t.do(func() error {
		st := t.step
		if st == nil || st.mode == ModeAgent {
			return nil
		}
		if promptID != "" && st.promptID != promptID {
			t.logger.Debug("finish for stale prompt ignored", "prompt_id", promptID)
			return nil
		}
		t.endStep(st)
		st.cancel()
		return nil
	})
}

// Interrupt cancels the running step. It returns before the step has
// wound down.
func (t *Task) Interrupt() error {
	return t.do(func() error {
		if t.step != nil {
			t.step.cancel()
		}
		return nil
	})
}

// Wait blocks until no step is running or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	for {
		var done chan struct{}
		if err := t.do(func() error {
			if t.step != nil {
				done = t.step.done
			}
			return nil
		}); err != nil {
			return nil
		}
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runChild runs prompt as a synchronous agent step seeded with seed and
// returns the messages the step produced, seed excluded.
func (t *Task) runChild(ctx context.Context, seed []types.ContextMessage, prompt string) ([]types.ContextMessage, error) {
	stepCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(t.baseCtx, cancel)
	defer stop()

	var (
		st    *step
		start int
	)
	err := t.do(func() error {
		if t.closing {
			return ErrTaskClosed
		}
		if t.step != nil {
			return ErrTaskRunning
		}
		for _, m := range seed {
			t.messages = append(t.messages, m.Clone())
		}
		start = len(t.messages)
		_ = t.append(types.NewUserMessage(prompt, nil))
		t.stepStart = len(t.messages)
		st = &step{cancel: cancel, done: make(chan struct{}), mode: ModeAgent}
		t.step = st
		t.setState(types.StateRunning)
		return nil
	})
	if err != nil {
		cancel()
		return nil, err
	}

	_, runErr := t.execute(stepCtx, st)

	var out []types.ContextMessage
	_ = t.do(func() error {
		out = types.CloneMessages(t.messages[min(start, len(t.messages)):])
		return nil
	})
	return out, runErr
}
