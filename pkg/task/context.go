package task

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jg-phare/taskcore/pkg/hooks"
	"github.com/jg-phare/taskcore/pkg/types"
)

// Command output phases.
const (
	CommandStart  = "start"
	CommandChunk  = "chunk"
	CommandFinish = "finish"
)

// AddFile puts path into the editing context and tells the attached
// subprocess. Without a subprocess only the metadata changes.
func (t *Task) AddFile(ctx context.Context, path string, readOnly bool) error {
	return t.changeFile(ctx, hooks.OnFileAdded, OutAddFile, path, readOnly)
}

// DropFile removes path from the editing context.
func (t *Task) DropFile(ctx context.Context, path string) error {
	return t.changeFile(ctx, hooks.OnFileDropped, OutDropFile, path, false)
}

func (t *Task) changeFile(ctx context.Context, name hooks.EventName, typ OutboundType, path string, readOnly bool) error {
	out := t.opts.hooks.Trigger(ctx, hooks.NewEvent(name, map[string]any{
		"path":     path,
		"readOnly": readOnly,
	}), t.hookContext())
	if out.Blocked {
		return ErrBlocked
	}
	if p := out.Event.String("path"); p != "" {
		path = p
	}

	var ch Channel
	err := t.do(func() error {
		if t.closing {
			return ErrTaskClosed
		}
		ch = t.connector
		if typ == OutAddFile {
			return t.addContextFile(path, readOnly)
		}
		return t.dropContextFile(path)
	})
	if err != nil || ch == nil {
		return err
	}
	return ch.Send(ctx, Outbound{Type: typ, TaskID: t.id, Path: t.relPath(path), ReadOnly: readOnly})
}

// ContextFileAdded records a file the subprocess added on its own.
func (t *Task) ContextFileAdded(path string, readOnly bool) error {
	return t.do(func() error { return t.addContextFile(path, readOnly) })
}

// ContextFileDropped records a file the subprocess dropped on its own.
func (t *Task) ContextFileDropped(path string) error {
	return t.do(func() error { return t.dropContextFile(path) })
}

func (t *Task) addContextFile(path string, readOnly bool) error {
	rel := t.relPath(path)
	for i, f := range t.meta.ContextFiles {
		if f.Path == rel {
			if f.ReadOnly == readOnly {
				return nil
			}
			t.meta.ContextFiles[i].ReadOnly = readOnly
			return t.saveMeta()
		}
	}
	t.meta.ContextFiles = append(t.meta.ContextFiles, types.ContextFile{Path: rel, ReadOnly: readOnly})
	return t.saveMeta()
}

func (t *Task) dropContextFile(path string) error {
	rel := t.relPath(path)
	n := len(t.meta.ContextFiles)
	t.meta.ContextFiles = slices.DeleteFunc(t.meta.ContextFiles, func(f types.ContextFile) bool {
		return f.Path == rel
	})
	if len(t.meta.ContextFiles) == n {
		return nil
	}
	return t.saveMeta()
}

// relPath expresses path relative to the working directory when it lies
// inside it.
func (t *Task) relPath(path string) string {
	if !filepath.IsAbs(path) || t.dir == "" {
		return filepath.ToSlash(filepath.Clean(path))
	}
	rel, err := filepath.Rel(t.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Clean(path))
	}
	return filepath.ToSlash(rel)
}

// UpdateContextFiles replaces the editing context with files.
func (t *Task) UpdateContextFiles(files []types.ContextFile) error {
	return t.do(func() error {
		t.meta.ContextFiles = make([]types.ContextFile, 0, len(files))
		for _, f := range files {
			f.Path = t.relPath(f.Path)
			t.meta.ContextFiles = append(t.meta.ContextFiles, f)
		}
		return t.saveMeta()
	})
}

// SetModels records the models in use. Empty fields keep their value.
func (t *Task) SetModels(m types.Models) error {
	return t.do(func() error {
		if m.Main != "" {
			t.meta.Models.Main = m.Main
		}
		if m.Editor != "" {
			t.meta.Models.Editor = m.Editor
		}
		if m.Weak != "" {
			t.meta.Models.Weak = m.Weak
		}
		return t.saveMeta()
	})
}

// UpdateRepoMap stores the repository map the subprocess computed.
func (t *Task) UpdateRepoMap(repoMap string) error {
	return t.do(func() error {
		t.meta.RepoMap = repoMap
		return t.saveMeta()
	})
}

// AddUsage adds u to the task's cost counters.
func (t *Task) AddUsage(u types.Usage) error {
	return t.do(func() error {
		t.meta.Usage = t.meta.Usage.Add(u)
		return t.saveMeta()
	})
}

// Rename sets the display name.
func (t *Task) Rename(name string) error {
	return t.do(func() error {
		t.meta.Name = name
		return t.saveMeta()
	})
}

func (t *Task) saveMeta() error {
	err := t.persistMeta()
	t.publishMeta()
	return err
}

// AppendMessage adds msg to history. A message whose id is already present
// replaces it in place.
func (t *Task) AppendMessage(msg types.ContextMessage) error {
	if msg.ID == "" {
		msg.ID = types.NewID()
	}
	return t.do(func() error {
		if t.closing {
			return ErrTaskClosed
		}
		if i := t.indexOf(msg.ID); i >= 0 {
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = t.messages[i].CreatedAt
			}
			t.messages[i] = msg
			return t.update(i)
		}
		return t.append(msg)
	})
}

// Log appends a log message.
func (t *Task) Log(level types.LogLevel, text string) error {
	return t.do(func() error {
		return t.append(types.NewLogMessage(level, text, nil))
	})
}

// CommandOutput records output of a command the subprocess runs. start
// opens a command message for the command line in text, chunk appends
// output, finish closes it with optional trailing output.
func (t *Task) CommandOutput(phase, text string) error {
	return t.do(func() error {
		switch phase {
		case CommandStart:
			var err error
			if t.command != "" {
				err = t.finishCommand("")
			}
			msg := types.ContextMessage{
				ID:      types.NewID(),
				Kind:    types.KindCommand,
				Content: text,
				Tool:    &types.ToolPayload{Name: "command", Status: types.ToolExecuting},
			}
			t.command = msg.ID
			if aerr := t.append(msg); aerr != nil && err == nil {
				err = aerr
			}
			return err
		case CommandChunk:
			if t.command == "" {
				if err := t.append(types.ContextMessage{
					ID:   types.NewID(),
					Kind: types.KindCommand,
					Tool: &types.ToolPayload{Name: "command", Status: types.ToolExecuting},
				}); err != nil {
					return err
				}
				t.command = t.messages[len(t.messages)-1].ID
			}
			i := t.indexOf(t.command)
			t.messages[i].Tool.Response += text
			t.publish(Event{Type: EventChunk, MessageID: t.command, Chunk: text})
			return nil
		case CommandFinish:
			return t.finishCommand(text)
		}
		t.logger.Debug("unknown command output phase", "phase", phase)
		return nil
	})
}

func (t *Task) finishCommand(text string) error {
	if t.command == "" {
		return nil
	}
	i := t.indexOf(t.command)
	t.command = ""
	if i < 0 {
		return nil
	}
	p := t.messages[i].Tool
	p.Response += text
	p.Status = types.ToolFinished
	return t.update(i)
}

// RemoveMessages drops the messages with ids from history. It is refused
// while one of them is still streaming.
func (t *Task) RemoveMessages(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return t.do(func() error {
		if t.openStream != "" && slices.Contains(ids, t.openStream) {
			return ErrStreamOpen
		}
		if t.command != "" && slices.Contains(ids, t.command) {
			return ErrStreamOpen
		}
		drop := make(map[string]bool, len(ids))
		for _, id := range ids {
			drop[id] = true
		}
		kept := t.messages[:0]
		start := t.stepStart
		for i, m := range t.messages {
			if drop[m.ID] {
				if i < t.stepStart {
					start--
				}
				continue
			}
			kept = append(kept, m)
		}
		clear(t.messages[len(kept):])
		t.messages = kept
		t.stepStart = start

		t.publish(Event{Type: EventMessagesRemoved, MessageIDs: slices.Clone(ids)})
		if t.opts.store == nil {
			return nil
		}
		return t.opts.store.RemoveMessages(t.id, ids)
	})
}

// Restart clears the history and keeps the metadata.
func (t *Task) Restart() error {
	return t.do(func() error {
		if t.closing {
			return ErrTaskClosed
		}
		if t.step != nil {
			return ErrTaskRunning
		}
		ids := make([]string, len(t.messages))
		for i, m := range t.messages {
			ids[i] = m.ID
		}
		t.messages = nil
		t.stepStart = 0
		t.openStream = ""
		t.command = ""
		if len(ids) > 0 {
			t.publish(Event{Type: EventMessagesRemoved, MessageIDs: ids})
		}
		t.meta.Todos = nil
		var err error
		if t.opts.store != nil {
			err = t.opts.store.Clear(t.id)
		}
		if merr := t.saveMeta(); merr != nil && err == nil {
			err = merr
		}
		return err
	})
}

// ConnectorAttached routes subprocess traffic of this task to ch. A new
// connector replaces the previous one.
func (t *Task) ConnectorAttached(ch Channel) error {
	return t.do(func() error {
		if t.closing {
			return ErrTaskClosed
		}
		t.connector = ch
		t.publish(Event{Type: EventConnector, Connected: true})
		return nil
	})
}

// ConnectorDetached forgets ch if it is still the task's connector. The
// open stream is finalized with what it accumulated and a subprocess step
// ends; the history stays.
func (t *Task) ConnectorDetached(ch Channel) error {
	var st *step
	err := t.do(func() error {
		if t.connector != ch {
			return nil
		}
		t.connector = nil
		var err error
		if t.openStream != "" {
			err = t.completeOpen(nil)
		}
		if t.command != "" {
			if cerr := t.finishCommand(""); cerr != nil && err == nil {
				err = cerr
			}
		}
		if t.step != nil && t.step.mode != ModeAgent {
			st = t.step
			t.endStep(st)
		}
		for id, pq := range t.questions {
			if pq.reply == nil {
				delete(t.questions, id)
				t.publish(Event{Type: EventQuestionClosed, Question: &types.Question{ID: id}})
			}
		}
		t.restoreState()
		t.publish(Event{Type: EventConnector, Connected: false})
		return err
	})
	if st != nil {
		st.cancel()
	}
	return err
}

// Connected reports whether a subprocess is attached.
func (t *Task) Connected() bool {
	connected := false
	_ = t.do(func() error { connected = t.connector != nil; return nil })
	return connected
}
