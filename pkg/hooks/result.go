package hooks

// ResultKind discriminates Result.
type ResultKind int

const (
	KindContinue ResultKind = iota
	KindBlock
	KindOverride
)

func (k ResultKind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindOverride:
		return "override"
	default:
		return "continue"
	}
}

// Result is what a single handler returns: continue with an optional patch,
// block the event, or override it with a definite value.
type Result struct {
	Kind  ResultKind
	Patch map[string]any
	Value any
}

// Continue lets the chain proceed, merging patch into the event.
func Continue(patch map[string]any) Result {
	return Result{Kind: KindContinue, Patch: patch}
}

// Block stops the chain and vetoes the event.
func Block() Result {
	return Result{Kind: KindBlock}
}

// Override stops the chain with a definite value (approval or answer).
func Override(value any) Result {
	return Result{Kind: KindOverride, Value: value}
}

// FromValue maps a raw handler return value to a Result:
//
//	nil            continue
//	map            continue, merged into the payload
//	false          block, or a negative answer for decision events
//	true           positive answer for decision events, continue otherwise
//	string         auto-answer for onQuestionAsked, continue otherwise
func FromValue(event EventName, v any) Result {
	switch val := v.(type) {
	case nil:
		return Continue(nil)
	case map[string]any:
		return Continue(val)
	case bool:
		if event.IsDecision() {
			return Override(val)
		}
		if !val {
			return Block()
		}
		return Continue(nil)
	case string:
		if event == OnQuestionAsked {
			return Override(val)
		}
		return Continue(nil)
	default:
		return Continue(nil)
	}
}

// Outcome is the folded result of running a chain.
type Outcome struct {
	// Event is the final event value after all patches were applied.
	Event Event
	// Blocked is set when a handler vetoed the event.
	Blocked bool
	// Overridden is set when a handler supplied a definite value.
	Overridden bool
	Value      any
	// Handled counts handlers that ran without error.
	Handled int
}

// Approval returns the boolean decision if a handler made one.
func (o Outcome) Approval() (approved, ok bool) {
	if !o.Overridden {
		return false, false
	}
	b, isBool := o.Value.(bool)
	return b, isBool
}

// Answer returns the auto-answer for a question if a handler supplied one.
// A boolean override maps to "y" or "n".
func (o Outcome) Answer() (string, bool) {
	if !o.Overridden {
		return "", false
	}
	switch v := o.Value.(type) {
	case string:
		return v, true
	case bool:
		if v {
			return "y", true
		}
		return "n", true
	}
	return "", false
}
