// Package faodel holds the small, widely shared value types every Kelpie
// layer depends on: error codes, NodeID, Bucket, Key, and ResourceURL.
package faodel

import "fmt"

// Code is the tagged error kind surfaced to callers, per the error handling
// design: Ok is never actually returned as an error (a nil error means Ok).
type Code int

const (
	// CodeWaiting means the operation registered a callback and has not
	// completed yet; it is not a failure.
	CodeWaiting Code = iota + 1
	// CodeNotFound means the requested resource does not exist (ENOENT).
	CodeNotFound
	// CodeInvalidInput means the request was malformed: a bad URL, a
	// wildcard where one is forbidden, a missing compute function.
	CodeInvalidInput
	// CodeAlreadyExists means a Define/HostNewDir target path already exists.
	CodeAlreadyExists
	// CodeUnavailable means the handle is not initialized (Unconfigured pool).
	CodeUnavailable
	// CodeCommunicationError means Connect failed or a message could not
	// be delivered.
	CodeCommunicationError
	// CodeFatal means an invariant was violated; callers should abort.
	CodeFatal
)

func (c Code) String() string {
	switch c {
	case CodeWaiting:
		return "Waiting"
	case CodeNotFound:
		return "NotFound"
	case CodeInvalidInput:
		return "InvalidInput"
	case CodeAlreadyExists:
		return "AlreadyExists"
	case CodeUnavailable:
		return "Unavailable"
	case CodeCommunicationError:
		return "CommunicationError"
	case CodeFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error is the error type every Kelpie API returns. It carries a Code so
// callers can branch on failure kind without string matching, and an
// optional wrapped cause for %w-style chains.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, faodel.ErrNotFound) style sentinel comparisons
// by matching on Code alone (message/cause are ignored).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError constructs an *Error with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error that carries an underlying cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinels for errors.Is matching against a bare code, e.g.
// errors.Is(err, faodel.ErrNotFound).
var (
	ErrWaiting            = &Error{Code: CodeWaiting, Message: "waiting"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidInput       = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrAlreadyExists      = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrUnavailable        = &Error{Code: CodeUnavailable, Message: "unavailable"}
	ErrCommunicationError = &Error{Code: CodeCommunicationError, Message: "communication error"}
	ErrFatal              = &Error{Code: CodeFatal, Message: "fatal"}
)

// CodeOf extracts the Code from err, or 0 if err is nil or not a *Error.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return 0
}
