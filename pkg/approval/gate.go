package approval

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/jg-phare/taskcore/pkg/hooks"
	"github.com/jg-phare/taskcore/pkg/types"
)

// Asker suspends the caller until the user answers an approval question.
// The owning task implements it.
type Asker interface {
	AskApproval(ctx context.Context, q types.Question) (types.Answer, error)
}

// Source records which layer produced a result.
type Source string

const (
	SourceHook      Source = "hook"
	SourcePolicy    Source = "policy"
	SourceSession   Source = "session"
	SourceUser      Source = "user"
	SourceCancelled Source = "cancelled"
	SourceHeadless  Source = "headless"
)

// Request describes one tool invocation awaiting approval.
type Request struct {
	TaskID  string
	ToolKey string
	Text    string
	Subject string
	Args    map[string]any
}

// Result is the gate's decision.
type Result struct {
	Approved  bool
	UserInput string
	Source    Source
}

// Approval answers.
const (
	AnswerYes    = "y"
	AnswerNo     = "n"
	AnswerAlways = "a"
)

// DeniedMessage is the tool result reported to the agent after a rejection.
func DeniedMessage(key string) string {
	return "Execution of " + key + " cancelled by user."
}

// SessionMemory remembers "always" answers per task for the lifetime of
// the process.
type SessionMemory struct {
	mu     sync.RWMutex
	always map[string]map[string]bool
}

// NewSessionMemory creates an empty memory.
func NewSessionMemory() *SessionMemory {
	return &SessionMemory{always: make(map[string]map[string]bool)}
}

// Remember marks key as always approved for taskID.
func (m *SessionMemory) Remember(taskID, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.always[taskID]
	if keys == nil {
		keys = make(map[string]bool)
		m.always[taskID] = keys
	}
	keys[key] = true
}

// Allowed reports whether key was remembered for taskID.
func (m *SessionMemory) Allowed(taskID, key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.always[taskID][key]
}

// Forget drops everything remembered for taskID.
func (m *SessionMemory) Forget(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.always, taskID)
}

// GateConfig configures a Gate.
type GateConfig struct {
	Policy Policy
	Hooks  *hooks.Runner
	Memory *SessionMemory
	Logger *slog.Logger
}

// Gate resolves approvals: hook, then stored policy, then the user.
type Gate struct {
	mu     sync.RWMutex
	policy Policy

	hooks  *hooks.Runner
	memory *SessionMemory
	logger *slog.Logger
}

// NewGate creates a Gate.
func NewGate(config GateConfig) *Gate {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	memory := config.Memory
	if memory == nil {
		memory = NewSessionMemory()
	}
	return &Gate{
		policy: config.Policy,
		hooks:  config.Hooks,
		memory: memory,
		logger: logger,
	}
}

// SetPolicy replaces the stored policy.
func (g *Gate) SetPolicy(p Policy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policy = p
}

// Policy returns the stored policy.
func (g *Gate) Policy() Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.policy
}

// Memory returns the session memory.
func (g *Gate) Memory() *SessionMemory { return g.memory }

// Resolve decides a request. A definite answer from an onHandleApproval
// hook wins; otherwise Always approves, Never rejects and Ask suspends on
// asker. Cancellation while waiting resolves as rejected. A nil asker
// rejects Ask decisions.
func (g *Gate) Resolve(ctx context.Context, req Request, hc hooks.Context, asker Asker) (Result, error) {
	if req.ToolKey == "" {
		return Result{}, ErrEmptyKey
	}
	logger := g.logger.With("task_id", req.TaskID, "tool", req.ToolKey)

	if g.hooks != nil {
		out := g.hooks.Trigger(ctx, hooks.NewEvent(hooks.OnHandleApproval, map[string]any{
			"tool":    req.ToolKey,
			"text":    req.Text,
			"subject": req.Subject,
			"args":    req.Args,
		}), hc)
		if approved, ok := out.Approval(); ok {
			logger.Debug("approval decided by hook", "approved", approved)
			return Result{Approved: approved, Source: SourceHook}, nil
		}
		if out.Blocked {
			return Result{Approved: false, Source: SourceHook}, nil
		}
	}

	switch g.Policy().Lookup(req.ToolKey) {
	case Always:
		return Result{Approved: true, Source: SourcePolicy}, nil
	case Never:
		return Result{Approved: false, Source: SourcePolicy}, nil
	}

	if g.memory.Allowed(req.TaskID, req.ToolKey) {
		return Result{Approved: true, Source: SourceSession}, nil
	}

	if asker == nil {
		logger.Warn("approval required but nobody can answer")
		return Result{Approved: false, Source: SourceHeadless}, nil
	}

	if err := ctx.Err(); err != nil {
		return Result{Approved: false, Source: SourceCancelled}, nil
	}

	ans, err := asker.AskApproval(ctx, types.Question{
		ID:            types.NewID(),
		Text:          req.Text,
		Subject:       req.Subject,
		Answers:       []string{AnswerYes, AnswerNo, AnswerAlways},
		DefaultAnswer: AnswerYes,
		IsApproval:    true,
	})
	if err != nil {
		logger.Debug("approval question cancelled", "error", err)
		return Result{Approved: false, Source: SourceCancelled}, nil
	}

	approved, always := ParseAnswer(ans.Answer)
	if always {
		g.memory.Remember(req.TaskID, req.ToolKey)
	}
	return Result{Approved: approved, UserInput: ans.UserInput, Source: SourceUser}, nil
}

// ParseAnswer interprets an approval answer. Anything other than yes or
// always is a rejection.
func ParseAnswer(answer string) (approved, always bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, false
	case "a", "always":
		return true, true
	default:
		return false, false
	}
}
