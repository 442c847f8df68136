package store

import "errors"

var (
	ErrRecordNotFound = errors.New("task record not found")
	ErrRecordExists   = errors.New("task record already exists")
	ErrInvalidID      = errors.New("invalid task id")
	ErrLockTimeout    = errors.New("lock acquisition timeout")
	ErrClosed         = errors.New("store closed")
)
