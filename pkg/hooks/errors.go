package hooks

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrHandlerPanic wraps a recovered panic from a handler.
	ErrHandlerPanic = errors.New("hook handler panicked")

	// ErrHandlerClosed is returned by a Lua handler after Close.
	ErrHandlerClosed = errors.New("hook handler closed")

	// ErrCommandFailed is returned when a command hook exits non-zero.
	ErrCommandFailed = errors.New("hook command failed")
)

// FileError records a handler file that failed to load.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error { return e.Err }

// LoadReport summarizes one load pass. Errors are isolated per file.
type LoadReport struct {
	Loaded []string
	Errors []FileError
}

// Err joins the per-file errors, or returns nil.
func (r LoadReport) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%d hook file(s) failed to load: %s", len(r.Errors), strings.Join(msgs, "; "))
}

func (r *LoadReport) merge(o LoadReport) {
	r.Loaded = append(r.Loaded, o.Loaded...)
	r.Errors = append(r.Errors, o.Errors...)
}
