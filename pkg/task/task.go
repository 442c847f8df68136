// Package task owns the lifecycle of a unit of work. Every task is an actor:
// one executor goroutine applies all mutations of its history and metadata
// in arrival order, and long-running work (agent steps, tool calls,
// questions) runs outside the executor and reports back through it.
package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jg-phare/taskcore/pkg/agent"
	"github.com/jg-phare/taskcore/pkg/approval"
	"github.com/jg-phare/taskcore/pkg/hooks"
	"github.com/jg-phare/taskcore/pkg/store"
	"github.com/jg-phare/taskcore/pkg/tools"
	"github.com/jg-phare/taskcore/pkg/types"
)

// recentWindow is how many completed response ids are remembered after
// their messages are gone, so late duplicate events stay no-ops.
const recentWindow = 64

// options is the wiring of one task.
type options struct {
	store    *store.Store // nil for ephemeral tasks
	hooks    *hooks.Runner
	gate     *approval.Gate
	tools    *tools.Registry
	model    agent.Model
	sink     Sink
	logger   *slog.Logger
	system   string
	maxTurns int
	depth    int
	// promptContext tags every message the task creates.
	promptContext *types.PromptContext
	// asker answers approvals; nil means the task itself.
	asker approval.Asker
	// approvalID keys "always" answers; children share their parent's.
	approvalID string
	onUsage    func(types.Usage)
	onClose    func()
}

// step is the unit of work currently running in a task.
type step struct {
	cancel   context.CancelFunc
	done     chan struct{}
	mode     Mode
	promptID string
}

type pendingQuestion struct {
	q     types.Question
	reply chan types.Answer // nil when the connector asked
}

// Task is one unit of AI-assisted work.
type Task struct {
	id         string
	projectDir string
	dir        string
	opts       options
	logger     *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	inbox     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the executor.
	meta       types.TaskMeta
	messages   []types.ContextMessage
	state      types.TaskState
	closing    bool
	openStream string
	recentDone []string
	stepStart  int
	step       *step
	questions  map[string]*pendingQuestion
	connector  Channel
	command    string
}

func newTask(meta types.TaskMeta, msgs []types.ContextMessage, opts options) *Task {
	if opts.logger == nil {
		opts.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.gate == nil {
		opts.gate = approval.NewGate(approval.GateConfig{Policy: approval.DefaultPolicy(), Hooks: opts.hooks})
	}
	if opts.tools == nil {
		opts.tools = tools.NewRegistry()
	}
	if opts.approvalID == "" {
		opts.approvalID = meta.ID
	}

	// A stream cannot survive a restart: what was persisted is final.
	for i := range msgs {
		if msgs[i].Kind == types.KindResponse && !msgs[i].Finished {
			msgs[i].Finished = true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		id:         meta.ID,
		projectDir: meta.ProjectDir,
		dir:        meta.Dir(),
		opts:       opts,
		logger:     opts.logger.With("task_id", meta.ID),
		baseCtx:    ctx,
		baseCancel: cancel,
		inbox:      make(chan func()),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		meta:       meta,
		messages:   msgs,
		state:      types.StateIdle,
		stepStart:  len(msgs),
		questions:  make(map[string]*pendingQuestion),
	}
	go t.run()
	return t
}

func (t *Task) run() {
	defer close(t.done)
	for {
		select {
		case fn := <-t.inbox:
			fn()
		case <-t.quit:
			return
		}
	}
}

// do runs fn on the executor and waits for it. fn must not call do.
func (t *Task) do(fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case t.inbox <- func() { errCh <- fn() }:
	case <-t.done:
		return ErrTaskClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-t.done:
		select {
		case err := <-errCh:
			return err
		default:
			return ErrTaskClosed
		}
	}
}

// ID returns the task id.
func (t *Task) ID() string { return t.id }

// Meta returns a copy of the task metadata.
func (t *Task) Meta() types.TaskMeta {
	var meta types.TaskMeta
	if err := t.do(func() error { meta = t.metaCopy(); return nil }); err != nil {
		return types.TaskMeta{ID: t.id, ProjectDir: t.projectDir}
	}
	return meta
}

// State returns the lifecycle state.
func (t *Task) State() types.TaskState {
	state := types.StateClosed
	_ = t.do(func() error { state = t.state; return nil })
	return state
}

// History returns up to limit messages starting at offset. A limit of zero
// or less returns everything after offset.
func (t *Task) History(offset, limit int) ([]types.ContextMessage, error) {
	var out []types.ContextMessage
	err := t.do(func() error {
		out = window(t.messages, offset, limit)
		return nil
	})
	return out, err
}

func window(msgs []types.ContextMessage, offset, limit int) []types.ContextMessage {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(msgs) {
		return []types.ContextMessage{}
	}
	end := len(msgs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return types.CloneMessages(msgs[offset:end])
}

// hookContext is the view of this task handed to hook handlers. It only
// reads immutable fields, so it is safe from any goroutine.
func (t *Task) hookContext() hooks.Context {
	return &hooks.TaskContext{
		ID:      t.id,
		Dir:     t.dir,
		Project: t.projectDir,
		Messages: func() []types.ContextMessage {
			msgs, _ := t.History(0, 0)
			return msgs
		},
		Logger: t.logger,
	}
}

// Close cancels the running step, finalizes any open stream, flushes state
// and stops the executor.
func (t *Task) Close() error {
	var st *step
	err := t.do(func() error {
		if t.closing {
			return ErrTaskClosed
		}
		t.closing = true
		st = t.step
		if st != nil {
			st.cancel()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTaskClosed) {
			return nil
		}
		return err
	}

	t.baseCancel()
	if st != nil {
		<-st.done
	}
	t.opts.hooks.Trigger(context.Background(), hooks.NewEvent(hooks.OnTaskClosed, map[string]any{
		"taskId": t.id,
	}), t.hookContext())

	var perr error
	_ = t.do(func() error {
		perr = t.completeOpen(nil)
		if t.command != "" {
			if err := t.finishCommand(""); err != nil && perr == nil {
				perr = err
			}
		}
		t.step = nil
		t.connector = nil
		t.questions = make(map[string]*pendingQuestion)
		t.setState(types.StateClosed)
		if err := t.persistMeta(); err != nil && perr == nil {
			perr = err
		}
		return nil
	})

	t.closeOnce.Do(func() { close(t.quit) })
	<-t.done
	if t.opts.onClose != nil {
		t.opts.onClose()
	}
	t.logger.Debug("task closed")
	return perr
}

// --- executor-only helpers ---

func (t *Task) metaCopy() types.TaskMeta {
	m := t.meta
	m.ContextFiles = append([]types.ContextFile(nil), t.meta.ContextFiles...)
	m.Todos = append([]types.TodoItem(nil), t.meta.Todos...)
	return m
}

func (t *Task) publish(ev Event) {
	if t.opts.sink == nil {
		return
	}
	ev.TaskID = t.id
	t.opts.sink.Publish(ev)
}

func (t *Task) publishMessage(m types.ContextMessage) {
	c := m.Clone()
	t.publish(Event{Type: EventMessage, Message: &c})
}

func (t *Task) publishMeta() {
	m := t.metaCopy()
	t.publish(Event{Type: EventMeta, Meta: &m})
}

func (t *Task) setState(s types.TaskState) {
	if t.state == s {
		return
	}
	t.state = s
	t.publish(Event{Type: EventState, State: s})
}

// restoreState leaves a waiting state once no question is pending.
func (t *Task) restoreState() {
	if t.closing || len(t.questions) > 0 {
		return
	}
	if t.step != nil {
		t.setState(types.StateRunning)
	} else {
		t.setState(types.StateIdle)
	}
}

func (t *Task) indexOf(id string) int {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// append adds msg to history, persists and publishes it. A persistence
// failure is logged and returned; the message stays in memory.
func (t *Task) append(msg types.ContextMessage) error {
	if msg.PromptContext == nil && t.opts.promptContext != nil {
		pc := *t.opts.promptContext
		msg.PromptContext = &pc
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	t.messages = append(t.messages, msg)
	t.publishMessage(msg)
	return t.persistMessage(msg)
}

// update persists and publishes the message at i after a change.
func (t *Task) update(i int) error {
	t.publishMessage(t.messages[i])
	return t.persistMessage(t.messages[i])
}

func (t *Task) persistMessage(msg types.ContextMessage) error {
	if t.opts.store == nil {
		return nil
	}
	if err := t.opts.store.PutMessage(t.id, msg); err != nil {
		t.logger.Warn("persisting message failed", "message_id", msg.ID, "error", err)
		return fmt.Errorf("persist message: %w", err)
	}
	return nil
}

func (t *Task) persistMeta() error {
	t.meta.UpdatedAt = time.Now()
	if t.opts.store == nil {
		return nil
	}
	if err := t.opts.store.SaveMeta(t.meta); err != nil {
		t.logger.Warn("persisting metadata failed", "error", err)
		return fmt.Errorf("persist metadata: %w", err)
	}
	return nil
}

// systemPrompt builds the agent's system prompt from the configured base
// and the task's working context.
func (t *Task) systemPrompt() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(t.opts.system))
	fmt.Fprintf(&b, "\n\nWorking directory: %s", t.dir)
	if len(t.meta.ContextFiles) > 0 {
		b.WriteString("\nFiles in context:")
		for _, f := range t.meta.ContextFiles {
			b.WriteString("\n- " + f.Path)
			if f.ReadOnly {
				b.WriteString(" (read-only)")
			}
		}
	}
	if t.meta.RepoMap != "" {
		b.WriteString("\n\nRepository map:\n")
		b.WriteString(t.meta.RepoMap)
	}
	return strings.TrimSpace(b.String())
}
