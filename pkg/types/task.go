package types

import "time"

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	StateIdle             TaskState = "idle"
	StateRunning          TaskState = "running"
	StateAwaitingApproval TaskState = "awaiting-approval"
	StateAwaitingAnswer   TaskState = "awaiting-answer"
	StateClosed           TaskState = "closed"
)

// Busy reports whether a step is in flight.
func (s TaskState) Busy() bool {
	switch s {
	case StateRunning, StateAwaitingApproval, StateAwaitingAnswer:
		return true
	}
	return false
}

// WorkMode selects where a task edits files.
type WorkMode string

const (
	WorkModeLocal    WorkMode = "local"
	WorkModeWorktree WorkMode = "worktree"
)

// Usage accumulates token and cost counters.
type Usage struct {
	InputTokens      int     `json:"inputTokens"`
	OutputTokens     int     `json:"outputTokens"`
	CacheReadTokens  int     `json:"cacheReadTokens,omitempty"`
	CacheWriteTokens int     `json:"cacheWriteTokens,omitempty"`
	Cost             float64 `json:"cost"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + o.InputTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens + o.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
		Cost:             u.Cost + o.Cost,
	}
}

// Models is the model selection of a task.
type Models struct {
	Main   string `json:"main,omitempty"`
	Editor string `json:"editor,omitempty"`
	Weak   string `json:"weak,omitempty"`
}

// ContextFile is a file the subprocess keeps in its editing context.
type ContextFile struct {
	Path     string `json:"path"`
	ReadOnly bool   `json:"readOnly,omitempty"`
}

// TaskMeta is the persisted metadata of a task.
type TaskMeta struct {
	ID           string        `json:"id"`
	ParentID     string        `json:"parentId,omitempty"`
	Name         string        `json:"name,omitempty"`
	ProjectDir   string        `json:"projectDir"`
	WorkMode     WorkMode      `json:"workMode"`
	WorkspaceDir string        `json:"workspaceDir,omitempty"`
	Models       Models        `json:"models"`
	Profile      string        `json:"profile,omitempty"`
	ContextFiles []ContextFile `json:"contextFiles,omitempty"`
	RepoMap      string        `json:"repoMap,omitempty"`
	Todos        []TodoItem    `json:"todos,omitempty"`
	Usage        Usage         `json:"usage"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Dir returns the directory the task works in: the isolated workspace when
// one exists, the project directory otherwise.
func (m TaskMeta) Dir() string {
	if m.WorkMode == WorkModeWorktree && m.WorkspaceDir != "" {
		return m.WorkspaceDir
	}
	return m.ProjectDir
}

// Todo statuses.
const (
	TodoPending    = "pending"
	TodoInProgress = "in_progress"
	TodoCompleted  = "completed"
)

// TodoItem is one entry of a task's todo list.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm,omitempty"`
}

// Question is a question the task is waiting on.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Subject       string   `json:"subject,omitempty"`
	Answers       []string `json:"answers,omitempty"`
	DefaultAnswer string   `json:"defaultAnswer,omitempty"`
	IsApproval    bool     `json:"isApproval,omitempty"`
}

// Answer is the response to a Question.
type Answer struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
	UserInput  string `json:"userInput,omitempty"`
}
