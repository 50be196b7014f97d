package bridge

import (
	"errors"
	"fmt"
)

// Kind classifies invocation failures.
type Kind string

const (
	// KindPathResolution: the worker program could not be located.
	KindPathResolution Kind = "path_resolution"
	// KindSpawn: the worker process could not be started.
	KindSpawn Kind = "spawn"
	// KindRuntime: the worker exited nonzero.
	KindRuntime Kind = "runtime"
	// KindParse: the worker exited zero but its output was not one JSON document.
	KindParse Kind = "parse"
	// KindTimeout: the deadline elapsed while queued or running.
	KindTimeout Kind = "timeout"
)

// Error is the only error type returned by Bridge.Invoke.
type Error struct {
	Kind          Kind
	CorrelationID string
	// ExitCode is the worker exit status, or -1 when the worker did not exit on its own.
	ExitCode int
	// Diagnostic is human-readable detail: stderr, the parse failure and raw
	// output, or the search trail of the locator.
	Diagnostic string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("worker %s failure", e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind carried by err, or "" when err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

func newError(kind Kind, err error, diagnostic string) *Error {
	return &Error{Kind: kind, ExitCode: -1, Err: err, Diagnostic: diagnostic}
}

// TerminalState maps a failure kind onto the invocation state it ends in.
func (k Kind) TerminalState() State {
	switch k {
	case KindRuntime:
		return StateRuntimeFailed
	case KindParse:
		return StateParseFailed
	case KindTimeout:
		return StateTimedOut
	default:
		return StateSpawnFailed
	}
}
