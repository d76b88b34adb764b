// Package rfberr provides typed, wrapped errors for the connection
// engine's failure taxonomy (spec.md §7).
package rfberr

import (
	"errors"
	"fmt"
)

// Code categorizes an error by the kind of failure it represents.
type Code int

const (
	Protocol Code = iota
	Authentication
	Network
	Configuration
	Timeout
	Validation
)

func (c Code) String() string {
	switch c {
	case Protocol:
		return "protocol"
	case Authentication:
		return "authentication"
	case Network:
		return "network"
	case Configuration:
		return "configuration"
	case Timeout:
		return "timeout"
	case Validation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a structured, wrappable error carrying an operation name and a
// Code so callers can classify failures without string matching.
type Error struct {
	Op      string
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rfbengine %s: %s: %s: %v", e.Code, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("rfbengine %s: %s: %s", e.Code, e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code && e.Op == other.Op
	}
	return false
}

// New creates a new Error.
func New(op string, code Code, message string, err error) *Error {
	return &Error{Op: op, Code: code, Message: message, Err: err}
}

// Wrap returns nil if err is nil, otherwise a new Error wrapping it.
func Wrap(op string, code Code, message string, err error) error {
	if err == nil {
		return nil
	}
	return New(op, code, message, err)
}

// Is reports whether err is an *Error, optionally matching one of codes.
func Is(err error, codes ...Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, c := range codes {
		if e.Code == c {
			return true
		}
	}
	return false
}

// Protocolf, Authenticationf, etc. build an Error of the matching Code;
// callers use these instead of calling New directly. Unlike Wrap, these
// always return a non-nil error, even when err is nil: a nil err here means
// "no underlying cause", not "nothing went wrong".
func Protocolf(op, msg string, err error) error       { return New(op, Protocol, msg, err) }
func Authenticationf(op, msg string, err error) error { return New(op, Authentication, msg, err) }
func Networkf(op, msg string, err error) error        { return New(op, Network, msg, err) }
func Configurationf(op, msg string, err error) error  { return New(op, Configuration, msg, err) }
func Timeoutf(op, msg string, err error) error        { return New(op, Timeout, msg, err) }
func Validationf(op, msg string, err error) error     { return New(op, Validation, msg, err) }
