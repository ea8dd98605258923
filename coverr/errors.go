// Package coverr defines the failure taxonomy for the coverage conformance harness.
//
// Every error surfaced by staging, invocation, normalization, golden comparison or
// profile corruption maps to exactly one FailureClass, which determines the CLI
// exit code and lets tests check why something failed, not just that it did.
package coverr

import (
	"errors"
	"fmt"
)

// FailureClass is a stable failure category.
type FailureClass string

const (
	Setup          FailureClass = "SETUP"
	ToolFailure    FailureClass = "TOOL_FAILURE"
	Normalize      FailureClass = "NORMALIZE"
	GoldenMismatch FailureClass = "GOLDEN_MISMATCH"
	ProfileMagic   FailureClass = "PROFILE_MAGIC"
	CLIUsage       FailureClass = "CLI_USAGE"
	Config         FailureClass = "CONFIG"
	InternalIO     FailureClass = "INTERNAL_IO"
)

// ExitCode returns the process exit code for this failure class.
func (fc FailureClass) ExitCode() int {
	switch fc {
	case CLIUsage, Config:
		return 2
	case Setup:
		return 3
	case ToolFailure:
		return 4
	case Normalize:
		return 5
	case GoldenMismatch:
		return 6
	case ProfileMagic:
		return 70
	default:
		return 10
	}
}

// Error is the structured error type for all harness failures.
type Error struct {
	Class   FailureClass
	Path    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("coverr: %s: %s: %s", e.Class, e.Path, msg)
	}
	return fmt.Sprintf("coverr: %s: %s", e.Class, msg)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given class and message.
func New(class FailureClass, path, message string) *Error {
	return &Error{Class: class, Path: path, Message: message}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(class FailureClass, path, message string, cause error) *Error {
	return &Error{Class: class, Path: path, Message: message, Cause: cause}
}

// ClassOf returns the class of the first *Error in err's chain.
// Unclassified non-nil errors report InternalIO.
func ClassOf(err error) FailureClass {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return InternalIO
}

// Is reports whether err carries the given class.
func Is(err error, class FailureClass) bool {
	return err != nil && ClassOf(err) == class
}
