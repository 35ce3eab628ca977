// Package fault carries the error taxonomy shared by the scheduling and
// queue engines. Every public operation returns one of these kinds; the
// HTTP layer maps them to status codes.
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation: malformed identifier, unparsable date, missing field.
	KindValidation
	// KindNotFound: appointment, ticket, doctor or patient absent.
	KindNotFound
	// KindConflict: scheduling overlap, duplicate check-in, already cancelled.
	KindConflict
	// KindState: operation illegal for the record's current status.
	KindState
	// KindWindow: confirmation or check-in outside the allowed time range.
	KindWindow
	// KindUpstream: identity service unreachable or returned an unexpected shape.
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindState:
		return "state"
	case KindWindow:
		return "window"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Kind() Kind { return e.kind }

// Message returns the human-readable reason without the wrapped cause.
func (e *Error) Message() string { return e.msg }

func New(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// KindOf extracts the taxonomy kind, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return KindUnknown
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsState(err error) bool      { return KindOf(err) == KindState }
func IsWindow(err error) bool     { return KindOf(err) == KindWindow }
func IsUpstream(err error) bool   { return KindOf(err) == KindUpstream }
