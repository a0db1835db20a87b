// Package apierr defines the closed error-kind taxonomy shared by every
// facehive component that crosses the bus boundary. A Kind is encoded onto
// the wire as a stable "Kind: message" string prefix and decoded back into
// a typed *Error on the producer side.
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a closed set of error categories. New kinds require updating
// allKinds and the HTTP status mapping in internal/gateway.
type Kind string

const (
	InvalidInput   Kind = "InvalidInput"
	NotFound       Kind = "NotFound"
	NoFaceDetected Kind = "NoFaceDetected"
	Conflict       Kind = "Conflict"
	Timeout        Kind = "Timeout"
	BusUnavailable Kind = "BusUnavailable"
	BusReset       Kind = "BusReset"
	WorkerError    Kind = "WorkerError"
	Internal       Kind = "Internal"
)

var allKinds = map[Kind]bool{
	InvalidInput:   true,
	NotFound:       true,
	NoFaceDetected: true,
	Conflict:       true,
	Timeout:        true,
	BusUnavailable: true,
	BusReset:       true,
	WorkerError:    true,
	Internal:       true,
}

// Error is a typed, wire-stable error. Cause is set only on the side that
// originated the error; it never crosses the bus.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind. Panics if kind is not one of the
// closed set — this is a programmer error, never a runtime condition.
func New(kind Kind, format string, args ...any) *Error {
	if !allKinds[kind] {
		panic(fmt.Sprintf("apierr: unknown kind %q", kind))
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and cause, keeping cause local (never serialized).
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	e := New(kind, format, args...)
	e.Cause = cause
	return e
}

// Encode renders an error onto the wire envelope's error field. Non-*Error
// values are encoded as Internal.
func Encode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return fmt.Sprintf("%s: %s", Internal, err.Error())
}

// Decode parses a wire-encoded error string back into a typed *Error. An
// unrecognized or malformed prefix decodes to Internal, never panics —
// the producer must never crash on a response it didn't originate.
func Decode(s string) *Error {
	kindStr, msg, found := strings.Cut(s, ": ")
	if !found {
		return &Error{Kind: Internal, Message: s}
	}
	kind := Kind(kindStr)
	if !allKinds[kind] {
		return &Error{Kind: Internal, Message: s}
	}
	return &Error{Kind: kind, Message: msg}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
