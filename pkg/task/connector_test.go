package task

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jg-phare/taskcore/pkg/types"
)

func TestConnectorMode_RequiresConnector(t *testing.T) {
	f := newFixture(t, nil)

	err := f.task.SubmitPrompt(context.Background(), "refactor", ModeCode)
	assert.ErrorIs(t, err, ErrNoConnector)
	assert.Empty(t, f.history(t))
	assert.Equal(t, types.StateIdle, f.task.State())
}

func TestConnectorMode_PromptFinished(t *testing.T) {
	f := newFixture(t, nil)
	ch := &fakeChannel{}
	require.NoError(t, f.task.ConnectorAttached(ch))
	assert.True(t, f.task.Connected())

	require.NoError(t, f.task.SubmitPrompt(context.Background(), "refactor", ModeCode))
	var prompt Outbound
	require.Eventually(t, func() bool {
		sent := ch.ofType(OutPrompt)
		if len(sent) == 0 {
			return false
		}
		prompt = sent[0]
		return true
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, ModeCode, prompt.Mode)
	assert.Equal(t, "refactor", prompt.Text)
	assert.NotEmpty(t, prompt.PromptID)
	assert.Equal(t, types.StateRunning, f.task.State())

	require.NoError(t, f.task.ProcessStreamChunk("r1", "Done."))
	require.NoError(t, f.task.PromptFinished("stale"))
	assert.Equal(t, types.StateRunning, f.task.State())

	require.NoError(t, f.task.PromptFinished(prompt.PromptID))
	f.waitIdle(t)

	msgs := f.history(t)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].Finished)
	assert.Empty(t, ch.ofType(OutInterrupt))
}

func TestConnectorMode_InterruptIsForwarded(t *testing.T) {
	f := newFixture(t, nil)
	ch := &fakeChannel{}
	require.NoError(t, f.task.ConnectorAttached(ch))

	require.NoError(t, f.task.SubmitPrompt(context.Background(), "explain", ModeAsk))
	require.Eventually(t, func() bool { return len(ch.ofType(OutPrompt)) == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, f.task.Interrupt())
	f.waitIdle(t)

	interrupts := ch.ofType(OutInterrupt)
	require.Len(t, interrupts, 1)
	assert.Equal(t, ch.ofType(OutPrompt)[0].PromptID, interrupts[0].PromptID)
}

func TestConnectorMode_SendFailureEndsStep(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.task.ConnectorAttached(&fakeChannel{err: errors.New("broken pipe")}))

	require.NoError(t, f.task.SubmitPrompt(context.Background(), "go", ModeCode))
	f.waitIdle(t)

	logs := ofKind(f.history(t), types.KindLog)
	require.Len(t, logs, 1)
	assert.Equal(t, types.LogError, logs[0].Level)
	assert.Contains(t, logs[0].Content, "broken pipe")
}

func TestConnectorDetached_FinalizesStreamAndIdles(t *testing.T) {
	f := newFixture(t, nil)
	ch := &fakeChannel{}
	require.NoError(t, f.task.ConnectorAttached(ch))
	require.NoError(t, f.task.SubmitPrompt(context.Background(), "go", ModeCode))
	require.NoError(t, f.task.ProcessStreamChunk("r1", "half a sent"))

	// A stale channel does not detach the current one.
	require.NoError(t, f.task.ConnectorDetached(&fakeChannel{}))
	assert.True(t, f.task.Connected())

	require.NoError(t, f.task.ConnectorDetached(ch))
	f.waitIdle(t)
	assert.False(t, f.task.Connected())

	msgs := f.history(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "half a sent", msgs[1].Content)
	assert.True(t, msgs[1].Finished)
	assert.Empty(t, ch.ofType(OutInterrupt))

	// History survives and a new connector resumes routing.
	ch2 := &fakeChannel{}
	require.NoError(t, f.task.ConnectorAttached(ch2))
	require.NoError(t, f.task.SubmitPrompt(context.Background(), "again", ModeCode))
	require.Eventually(t, func() bool { return len(ch2.ofType(OutPrompt)) == 1 }, waitFor, 5*time.Millisecond)
}

func TestConnectorQuestion_AnswerIsForwarded(t *testing.T) {
	f := newFixture(t, nil)
	ch := &fakeChannel{}
	require.NoError(t, f.task.ConnectorAttached(ch))
	ctx := context.Background()

	require.NoError(t, f.task.AskQuestion(ctx, types.Question{ID: "q1", Text: "Add file?", Answers: []string{"y", "n"}}))
	assert.Equal(t, types.StateAwaitingAnswer, f.task.State())
	require.Len(t, f.task.PendingQuestions(), 1)

	require.NoError(t, f.task.AnswerQuestion(ctx, "q1", "y", ""))
	answers := ch.ofType(OutAnswerQuestion)
	require.Len(t, answers, 1)
	assert.Equal(t, "q1", answers[0].QuestionID)
	assert.Equal(t, "y", answers[0].Answer)
	assert.Equal(t, types.StateIdle, f.task.State())

	assert.ErrorIs(t, f.task.AnswerQuestion(ctx, "q1", "y", ""), ErrQuestionNotFound)
}

func TestAddDropFile(t *testing.T) {
	f := newFixture(t, nil)
	ch := &fakeChannel{}
	ctx := context.Background()
	dir := f.task.Meta().ProjectDir

	// Without a connector only the metadata changes.
	require.NoError(t, f.task.AddFile(ctx, filepath.Join(dir, "main.go"), false))
	assert.Equal(t, []types.ContextFile{{Path: "main.go"}}, f.task.Meta().ContextFiles)

	require.NoError(t, f.task.ConnectorAttached(ch))
	require.NoError(t, f.task.AddFile(ctx, "docs/README.md", true))
	require.NoError(t, f.task.AddFile(ctx, "docs/README.md", true))
	added := ch.ofType(OutAddFile)
	require.Len(t, added, 2)
	assert.Equal(t, "docs/README.md", added[0].Path)
	assert.True(t, added[0].ReadOnly)
	assert.Len(t, f.task.Meta().ContextFiles, 2)

	require.NoError(t, f.task.DropFile(ctx, "main.go"))
	assert.Len(t, ch.ofType(OutDropFile), 1)
	assert.Equal(t, []types.ContextFile{{Path: "docs/README.md", ReadOnly: true}}, f.task.Meta().ContextFiles)

	meta, err := f.store.LoadMeta(f.task.ID())
	require.NoError(t, err)
	assert.Equal(t, f.task.Meta().ContextFiles, meta.ContextFiles)
}

func TestMetadataUpdates(t *testing.T) {
	f := newFixture(t, nil)
	tk := f.task

	require.NoError(t, tk.SetModels(types.Models{Editor: "gpt-5-mini"}))
	require.NoError(t, tk.UpdateRepoMap("main.go:\n  func main()"))
	require.NoError(t, tk.AddUsage(types.Usage{InputTokens: 7, Cost: 0.5}))
	require.NoError(t, tk.AddUsage(types.Usage{InputTokens: 3, Cost: 0.25}))

	meta := tk.Meta()
	assert.Equal(t, "test-model", meta.Models.Main)
	assert.Equal(t, "gpt-5-mini", meta.Models.Editor)
	assert.Equal(t, "main.go:\n  func main()", meta.RepoMap)
	assert.Equal(t, 10, meta.Usage.InputTokens)
	assert.InDelta(t, 0.75, meta.Usage.Cost, 1e-9)

	stored, err := f.store.LoadMeta(tk.ID())
	require.NoError(t, err)
	assert.Equal(t, meta.Usage, stored.Usage)
	assert.NotEmpty(t, f.sink.ofType(EventMeta))
}

func TestRestart_ClearsHistoryKeepsMeta(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.task.AppendMessage(types.NewUserMessage("hi", nil)))
	require.NoError(t, f.task.UpdateRepoMap("map"))

	require.NoError(t, f.task.Restart())

	assert.Empty(t, f.history(t))
	assert.Empty(t, f.stored(t))
	assert.Equal(t, "map", f.task.Meta().RepoMap)
}
