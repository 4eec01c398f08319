package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies pipeline failures. The string value doubles as the
// machine-readable error code in NDJSON output.
type ErrorKind string

const (
	KindProcessFailure     ErrorKind = "PROCESS_FAILURE"
	KindProcessTimeout     ErrorKind = "PROCESS_TIMEOUT"
	KindUnexpectedOutput   ErrorKind = "UNEXPECTED_OUTPUT"
	KindProcessNotRunning  ErrorKind = "PROCESS_NOT_RUNNING"
	KindDependencyMissing  ErrorKind = "DEPENDENCY_MISSING"
	KindDeviceNotConnected ErrorKind = "DEVICE_NOT_CONNECTED"
	KindAttachFailure      ErrorKind = "ATTACH_FAILURE"
	KindUnsupportedVersion ErrorKind = "UNSUPPORTED_VERSION"
	KindCancelled          ErrorKind = "CANCELLED"
)

// Sentinels for errors.Is; matching is by kind only.
var (
	ErrProcessFailure     = &Error{Kind: KindProcessFailure}
	ErrProcessTimeout     = &Error{Kind: KindProcessTimeout}
	ErrUnexpectedOutput   = &Error{Kind: KindUnexpectedOutput}
	ErrProcessNotRunning  = &Error{Kind: KindProcessNotRunning}
	ErrDependencyMissing  = &Error{Kind: KindDependencyMissing}
	ErrDeviceNotConnected = &Error{Kind: KindDeviceNotConnected}
	ErrAttachFailure      = &Error{Kind: KindAttachFailure}
	ErrUnsupportedVersion = &Error{Kind: KindUnsupportedVersion}
	ErrCancelled          = &Error{Kind: KindCancelled}
)

// Error is the single terminal error type surfaced by the pipeline.
type Error struct {
	Kind ErrorKind
	// Context is the human readable prefix added by the orchestrator,
	// e.g. "could not connect to device ABCD".
	Context string
	// Detail is the specific failure reason, usually the trailing
	// non-empty line of the helper's output.
	Detail   string
	ExitCode int
	// Transcript is whatever output the failing helper produced.
	Transcript string
	Err        error
}

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func (e *Error) Error() string {
	var parts []string
	if e.Context != "" {
		parts = append(parts, e.Context)
	}
	parts = append(parts, e.reason())
	return strings.Join(parts, ": ")
}

func (e *Error) reason() string {
	var msg string
	switch e.Kind {
	case KindProcessFailure:
		msg = fmt.Sprintf("helper exited with code %d", e.ExitCode)
	case KindProcessTimeout:
		msg = "helper timed out"
	case KindUnexpectedOutput:
		msg = "unexpected helper output"
	case KindProcessNotRunning:
		msg = "process is not running"
	case KindDependencyMissing:
		msg = "missing dependency"
	case KindDeviceNotConnected:
		msg = "device is not connected"
	case KindAttachFailure:
		msg = "debugger failed to attach"
	case KindUnsupportedVersion:
		msg = "unsupported iOS version"
	case KindCancelled:
		msg = "cancelled"
	default:
		msg = "failed"
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil && e.Detail == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can test against the
// Err* sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Hint is a short remediation suggestion suitable for direct display.
func (e *Error) Hint() string {
	switch e.Kind {
	case KindProcessTimeout:
		return "make sure the device is unlocked and trusts this computer, then retry"
	case KindDependencyMissing:
		return "install the helper tools (pip install pymobiledevice3) or fix env_path"
	case KindDeviceNotConnected:
		return "connect the device over USB or join the same network and retry"
	case KindAttachFailure:
		return "make sure the app is a development build and is running in the foreground"
	case KindProcessNotRunning:
		return "launch the app on the device first, or pass its PID"
	case KindUnsupportedVersion:
		return "tunnel-based JIT requires iOS 17 or later"
	case KindUnexpectedOutput:
		return "run with --verbose to see the full helper output"
	}
	return ""
}

// KindOf returns the kind of err, or "" if err is not a pipeline error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Annotate prefixes err with a contextual message while keeping its kind.
// Errors that are not yet *Error are classified first.
func Annotate(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	prefix := fmt.Sprintf(format, args...)
	var e *Error
	if !errors.As(err, &e) {
		e = Classify(err)
	}
	out := *e
	if out.Context != "" {
		out.Context = prefix + ": " + out.Context
	} else {
		out.Context = prefix
	}
	return &out
}

// Classify converts an arbitrary error into a pipeline error.
func Classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCancelled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindProcessTimeout, Err: err}
	}
	return &Error{Kind: KindProcessFailure, ExitCode: -1, Err: err}
}
