package task

import "errors"

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrTaskRunning      = errors.New("task is running")
	ErrTaskClosed       = errors.New("task closed")
	ErrStreamOpen       = errors.New("message has an open stream")
	ErrNoConnector      = errors.New("no connector attached")
	ErrQuestionNotFound = errors.New("question not found")
	ErrInvalidMode      = errors.New("invalid prompt mode")
	ErrBlocked          = errors.New("blocked by hook")
	ErrNotPersisted     = errors.New("change applied but not persisted")
)
