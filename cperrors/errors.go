// Package cperrors provides the structured error taxonomy shared by every
// control-plane operation. No tool handler lets a raw Go error or panic
// escape to the transport: every failure is classified into a Kind and
// carries a human-readable message plus an optional wrapped cause, so
// callers can branch on errors.Is/errors.As while the transport still
// serializes a flat "error" string.
package cperrors

import "fmt"

// Kind classifies a control-plane failure. The taxonomy is closed: new
// failure modes should map onto one of these, not invent ad-hoc strings.
type Kind string

const (
	// KindInvalidInput covers malformed JSON, missing required fields, or an
	// invalid document path.
	KindInvalidInput Kind = "invalid_input"
	// KindDependencyMissing covers an adapter that is not configured/available.
	KindDependencyMissing Kind = "dependency_missing"
	// KindConnectionFailed covers failure to reach the document store or the
	// agent-runtime service.
	KindConnectionFailed Kind = "connection_failed"
	// KindNotFound covers a key or entity that does not exist.
	KindNotFound Kind = "not_found"
	// KindSchemaError covers JSON-Schema validation failures (validator exit 1).
	KindSchemaError Kind = "schema_error"
	// KindUnresolvedReference covers an agent/skill reference that does not
	// resolve (validator exit 2).
	KindUnresolvedReference Kind = "unresolved_reference"
	// KindGraphError covers invalid transitions, missing StartAt, or terminal
	// conflicts (validator exit 3).
	KindGraphError Kind = "graph_error"
	// KindLeaseHeld covers acquiring a lease already held by another owner.
	KindLeaseHeld Kind = "lease_held"
	// KindLeaseMismatch covers a CAS lease-token mismatch on update/renew/release.
	KindLeaseMismatch Kind = "lease_mismatch"
	// KindLeaseExpired covers a renew against a lease whose TTL has elapsed.
	KindLeaseExpired Kind = "lease_expired"
	// KindOwnerMismatch covers acquiring a state already bound to a different
	// agent in WorkflowMeta.agents.
	KindOwnerMismatch Kind = "owner_mismatch"
	// KindNotReady covers an acquire/notify attempted before all upstream
	// states reached succeeded.
	KindNotReady Kind = "not_ready"
	// KindConflict covers an optimistic-concurrency write collision; the
	// caller may retry.
	KindConflict Kind = "conflict"
	// KindBackendError covers any other failure surfaced by the document
	// store or the agent-runtime adapter.
	KindBackendError Kind = "backend_error"
)

// Error is the structured failure type returned (never panicked) by every
// control-plane operation. It implements Unwrap so errors.Is/errors.As
// compose across layers, mirroring the teacher's ToolError cause chain but
// adding the Kind field the spec's taxonomy requires.
type Error struct {
	// Kind classifies the failure for programmatic branching (retry on
	// KindConflict, surface KindNotFound as 404-equivalent, etc).
	Kind Kind
	// Message is the human-readable summary of the failure.
	Message string
	// Cause is the wrapped underlying error, if any.
	Cause error
}

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind that wraps cause. If format
// yields an empty message, cause's own message is reused.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, supporting errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, &cperrors.Error{Kind: cperrors.KindConflict}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, returning
// KindBackendError for any other error and "" for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if ok := asError(err, &ce); ok {
		return ce.Kind
	}
	return KindBackendError
}

func asError(err error, target **Error) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
