package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyModel is returned when neither the request nor the config names a model.
var ErrEmptyModel = errors.New("no model name")

// Error is a classified provider failure.
type Error struct {
	Provider  string
	Kind      string // authentication_failed, rate_limit, server_error, ...
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("model: %s (%s): %v", e.Kind, e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classify maps a provider error to an Error. gollm surfaces HTTP failures
// as plain strings, so classification goes by message content.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	msg := strings.ToLower(err.Error())
	kind, retryable := "unknown", false
	switch {
	case containsAny(msg, "401", "unauthorized", "invalid api key", "invalid key"):
		kind = "authentication_failed"
	case containsAny(msg, "402", "403", "forbidden", "billing"):
		kind = "billing_error"
	case containsAny(msg, "429", "529", "rate limit", "overloaded"):
		kind, retryable = "rate_limit", true
	case containsAny(msg, "context length", "too many tokens"):
		kind = "context_length"
	case containsAny(msg, "500", "502", "503", "internal server"):
		kind, retryable = "server_error", true
	case containsAny(msg, "timeout", "connection reset", "eof"):
		kind, retryable = "network", true
	case containsAny(msg, "400", "422", "invalid request"):
		kind = "invalid_request"
	}
	return &Error{Provider: provider, Kind: kind, Retryable: retryable, Err: err}
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
