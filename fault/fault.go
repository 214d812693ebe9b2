// Package fault defines the structured error taxonomy shared by the
// storage bridge and the library manager.
package fault

import "errors"

// Kind is a stable category for programmatic error handling.
//
// These categories are intended to remain stable across versions.
// Callers should branch on Kind rather than matching error strings.
//
// NOTE: Error() strings are intentionally kept human-readable and may evolve.
// Use errors.As to extract *Error for structured handling.
type Kind string

const (
	// HelperUnavailable: the helper executable is missing or non-functional.
	HelperUnavailable Kind = "HelperUnavailable"
	// DaemonUnreachable: the helper ran but could not reach the storage daemon.
	DaemonUnreachable Kind = "DaemonUnreachable"
	// VersionIncompatible: the daemon version is below the required floor.
	VersionIncompatible Kind = "VersionIncompatible"
	// Timeout: a helper invocation exceeded its deadline.
	Timeout Kind = "Timeout"
	// MalformedResponse: the helper emitted an envelope that could not be
	// parsed or was missing required fields.
	MalformedResponse Kind = "MalformedResponse"
	// OperationFailed: the daemon reported success=false.
	OperationFailed Kind = "OperationFailed"
	// NotFound: a name did not resolve, or a lookup missed.
	NotFound Kind = "NotFound"
	// AlreadyExists: a local record or key already exists under the name.
	AlreadyExists Kind = "AlreadyExists"
	// MalformedCatalog: fetched or stored catalog bytes failed validation.
	MalformedCatalog Kind = "MalformedCatalog"
	// InvalidArgument: the caller supplied an argument that fails
	// validation before any I/O is attempted.
	InvalidArgument Kind = "InvalidArgument"
)

// Error is the library's structured error type.
//
// Op names the operation that failed (e.g. "bridge.ResolveName",
// "library.Create"). Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Op == "" {
		return string(e.Kind) + ": " + e.Message
	}
	return e.Op + ": " + string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

func Wrap(kind Kind, op, msg string, cause error) error {
	if cause == nil {
		return New(kind, op, msg)
	}
	return &Error{Kind: kind, Op: op, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind for a structured error, or "" if unknown.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}
