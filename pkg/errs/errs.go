// Package errs defines the error taxonomy shared by every subsystem.
//
// Every error that reaches a decision point (retry loop, top-level handler,
// skill result rendering) is classifiable into one of five classes. Errors
// created by this package carry their class explicitly; foreign errors are
// classified by inspection.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Class partitions all errors for retry and exit decisions.
type Class string

const (
	// ClassFatal means the process cannot continue (OOM, corrupted state).
	ClassFatal Class = "fatal"
	// ClassConfig means an operator must fix configuration or input.
	ClassConfig Class = "config"
	// ClassTransient means a retry may help (network, rate limits).
	ClassTransient Class = "transient"
	// ClassAbort means expected cancellation.
	ClassAbort Class = "abort"
	// ClassUnknown is everything else; surfaced and exited at top level.
	ClassUnknown Class = "unknown"
)

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Klass Class
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a classified error without a cause.
func New(class Class, msg string) error {
	return &Error{Klass: class, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(class Class, format string, args ...interface{}) error {
	return &Error{Klass: class, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a class and message to an existing error.
func Wrap(class Class, msg string, cause error) error {
	return &Error{Klass: class, Msg: msg, Cause: cause}
}

// Config creates a config-class error. The message should name the field,
// "<field>: <reason>".
func Config(field, reason string) error {
	return &Error{Klass: ClassConfig, Msg: field + ": " + reason}
}

// transientSubstrings covers platform error strings that do not surface as
// typed syscall errors (DNS temp failures, library-specific wrappers).
var transientSubstrings = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"temporary failure",
	"TLS handshake timeout",
	"too many open files",
	"database is locked",
}

// Classify determines the class of an arbitrary error.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Klass
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassAbort
	}

	// An aggregate with any transient child is transient.
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, child := range joined.Unwrap() {
			if Classify(child) == ClassTransient {
				return ClassTransient
			}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout) {
		return ClassTransient
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return ClassTransient
	}

	msg := err.Error()
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return ClassTransient
		}
	}

	return ClassUnknown
}

// IsTransient reports whether a retry may help.
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// IsAbort reports whether the error is an expected cancellation.
func IsAbort(err error) bool {
	return Classify(err) == ClassAbort
}

// ShouldExit reports whether the top level handler must terminate the
// process for this error class.
func ShouldExit(err error) bool {
	switch Classify(err) {
	case ClassFatal, ClassConfig, ClassUnknown:
		return true
	default:
		return false
	}
}
