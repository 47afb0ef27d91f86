// Package sandbox executes untrusted user snippets in an isolated Python
// subprocess, with an optional remote executor tried first.
package sandbox

import (
	"errors"
	"fmt"
)

// FailureKind classifies sandbox failures. The graph engine surfaces them as
// node evaluation failures with the kind preserved in the error detail.
type FailureKind string

const (
	// KindSecurityViolation marks a snippet rejected by static analysis
	// before any execution.
	KindSecurityViolation FailureKind = "security_violation"

	// KindTimeout marks a snippet stopped by the soft alarm or the hard kill.
	KindTimeout FailureKind = "timeout"

	// KindRuntimeFault marks a snippet that raised, or a subprocess that died
	// without producing a parseable result.
	KindRuntimeFault FailureKind = "runtime_fault"

	// KindMalformedResult marks a snippet missing the process() entry point
	// or returning a value that cannot be serialized.
	KindMalformedResult FailureKind = "malformed_result"
)

// Error is a typed sandbox failure.
type Error struct {
	Kind   FailureKind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sandbox %s: %s", e.Kind, e.Detail)
}

func newError(kind FailureKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the failure kind of a sandbox error, or "" for other errors.
func KindOf(err error) FailureKind {
	var sandboxErr *Error
	if errors.As(err, &sandboxErr) {
		return sandboxErr.Kind
	}

	return ""
}
