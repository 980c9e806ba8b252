// Package apperr defines the tagged error taxonomy shared by the storage
// layer and the message channel. Every failure that crosses the channel is
// one of these kinds; no condition is allowed to crash the process.
package apperr

import (
	"errors"
	"fmt"
)

// Kind tags an error with its protocol-level category.
type Kind string

const (
	// ValidationError marks malformed caller input. Never retried.
	ValidationError Kind = "ValidationError"
	// InvalidPath marks a traversal attempt or an unencodable path.
	// It is a ValidationError subtype.
	InvalidPath Kind = "InvalidPath"
	// IOError marks an unreachable/unwritable storage root. Not
	// auto-retried: network-mount failures tend to be long-lived.
	IOError Kind = "IOError"
	// MissingField and TypeMismatch are produced by the request validator.
	MissingField Kind = "MissingField"
	TypeMismatch Kind = "TypeMismatch"
	// UnknownAction marks a request whose action has no schema.
	UnknownAction Kind = "UnknownAction"
	// SchemaVersionMismatch marks an unrecognized schema version.
	SchemaVersionMismatch Kind = "SchemaVersionMismatch"
	// CorruptState marks unreadable coordination or annotation data.
	// Readers treat it as absent; the next successful write repairs it.
	CorruptState Kind = "CorruptState"
)

// Error is a kind-tagged error suitable for direct serialization onto
// the channel.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.err }

// New creates a tagged error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error, keeping it reachable via Unwrap.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), err: err}
}

// KindOf returns the kind of err, or IOError when err carries no tag:
// untagged failures are, by construction, filesystem surprises.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return IOError
}

// IsKind reports whether err carries the given kind. The caller-input
// kinds (InvalidPath, MissingField, TypeMismatch, UnknownAction and
// SchemaVersionMismatch) also satisfy ValidationError.
func IsKind(err error, kind Kind) bool {
	k := KindOf(err)
	if k == kind {
		return true
	}
	if kind == ValidationError {
		switch k {
		case InvalidPath, MissingField, TypeMismatch, UnknownAction, SchemaVersionMismatch:
			return true
		}
	}
	return false
}
