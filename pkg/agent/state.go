package agent

import "github.com/jg-phare/taskcore/pkg/types"

// ExitReason describes why a step terminated.
type ExitReason string

const (
	ExitEndTurn  ExitReason = "end_turn"
	ExitMaxTurns ExitReason = "max_turns"
	ExitAborted  ExitReason = "aborted"
	ExitError    ExitReason = "error"
)

// StepResult summarizes a finished step.
type StepResult struct {
	Turns      int
	ToolCalls  int
	Usage      types.Usage
	ExitReason ExitReason
	// LastResponseID is the id of the final response message.
	LastResponseID string
}
