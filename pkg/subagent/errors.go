package subagent

import "errors"

var (
	ErrUnknownProfile     = errors.New("unknown subagent profile")
	ErrDelegationDisabled = errors.New("subagent delegation disabled for this task")
	ErrBlocked            = errors.New("subagent blocked by hook")
	ErrNoSpawner          = errors.New("no child spawner configured")
)
