package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors classified at the proxy edge into HTTP responses.
var (
	ErrUpstreamNotFound = errors.New("upstream not found")
	ErrUpstreamDisabled = errors.New("upstream disabled")
	ErrNoCredential     = errors.New("no eligible credential")
	ErrRateLimited      = errors.New("rate limited")
	ErrQuotaExhausted   = errors.New("credential quota exhausted")
	ErrNotFound         = errors.New("not found")
)

// ScriptErrorClass classifies a script evaluation failure.
type ScriptErrorClass string

const (
	ScriptTimeout            ScriptErrorClass = "timeout"
	ScriptCompileError       ScriptErrorClass = "compile_error"
	ScriptRuntimeError       ScriptErrorClass = "runtime_error"
	ScriptUnsupportedDialect ScriptErrorClass = "unsupported_dialect"
)

// ScriptError is a failed header-script evaluation. The assembler maps it
// through the config's fallback policy; only fallback=fail surfaces it.
type ScriptError struct {
	Err   error
	Class ScriptErrorClass
}

func (e *ScriptError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("script %s", e.Class)
	}
	return fmt.Sprintf("script %s: %v", e.Class, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// NewScriptError wraps err with a classification.
func NewScriptError(class ScriptErrorClass, err error) *ScriptError {
	return &ScriptError{Class: class, Err: err}
}

// RateLimitError carries the denying window so the proxy can surface
// Retry-After.
type RateLimitError struct {
	Window        string
	Limit         int
	RetryAfterSec int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s window (limit %d)", e.Window, e.Limit)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// TransportError is a dispatch failure after the retry budget is spent.
type TransportError struct {
	Err      error
	Attempts int
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream unreachable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
