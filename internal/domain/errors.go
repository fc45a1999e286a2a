package domain

import (
	"errors"
	"fmt"
)

// ErrSessionExpired is returned when a runtime call references a session
// that is unknown or has been evicted by the idle sweep.
var ErrSessionExpired = errors.New("session expired")

// ErrRerunCancelled marks a rerun that was superseded by a newer
// generation. It never leaves the scheduler.
var ErrRerunCancelled = errors.New("rerun cancelled")

// DuplicateWidgetKeyError reports two widget calls in the same rerun
// resolving to the same identity. It is fatal to the rerun.
type DuplicateWidgetKeyError struct {
	Identity string
}

func (e *DuplicateWidgetKeyError) Error() string {
	return fmt.Sprintf("duplicate widget key %q", e.Identity)
}

// NotCacheableError reports a cached-call argument that cannot be
// content-fingerprinted. Raised synchronously at the call site.
type NotCacheableError struct {
	Func string
	Err  error
}

func (e *NotCacheableError) Error() string {
	return fmt.Sprintf("arguments of %q are not cacheable: %v", e.Func, e.Err)
}

func (e *NotCacheableError) Unwrap() error { return e.Err }

// ScriptError wraps an uncaught error or panic raised by the user
// script during a rerun.
type ScriptError struct {
	Err error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script error: %v", e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// Error codes carried by ErrorDescriptor frames.
const (
	CodeSessionExpired     = "session_expired"
	CodeDuplicateWidgetKey = "duplicate_widget_key"
	CodeNotCacheable       = "not_cacheable"
	CodeScriptError        = "script_error"
)

// ErrorDescriptor is the structured, user-visible form of a failed
// rerun. The renderer receives either a UI tree or a descriptor,
// never both.
type ErrorDescriptor struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Describe maps a rerun error onto its descriptor. Cancellation is
// internal and must be filtered out by the caller before this point.
func Describe(err error) *ErrorDescriptor {
	var dup *DuplicateWidgetKeyError
	var nc *NotCacheableError

	switch {
	case errors.Is(err, ErrSessionExpired):
		return &ErrorDescriptor{Code: CodeSessionExpired, Message: err.Error()}
	case errors.As(err, &dup):
		return &ErrorDescriptor{Code: CodeDuplicateWidgetKey, Message: dup.Error()}
	case errors.As(err, &nc):
		return &ErrorDescriptor{Code: CodeNotCacheable, Message: nc.Error()}
	default:
		return &ErrorDescriptor{Code: CodeScriptError, Message: err.Error()}
	}
}
