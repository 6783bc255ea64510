// Package errtax implements the error taxonomy of spec.md §7: a fixed
// set of error codes every core component reports through, carried on
// a ComplexError in the same shape lazydocker's pkg/commands/errors.go
// uses (a code plus an xerrors.Frame for the call-site stack).
package errtax

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
	"golang.org/x/xerrors"
)

// Code names one of the taxonomy's error classes (spec.md §7).
type Code int

const (
	// Internal covers anything not otherwise classified.
	Internal Code = iota
	// TransientIO is a retryable I/O failure (disk, network).
	TransientIO
	// NotFound is a requested key or entry that does not exist.
	NotFound
	// HashMismatch is a computed hash not matching a claimed key.
	HashMismatch
	// InvalidRequest is a malformed or out-of-bounds caller request.
	InvalidRequest
	// IncompatibleLibc is a restore request whose host cannot run the
	// required libc fingerprint.
	IncompatibleLibc
	// LockContention is a failure to acquire the workspace advisory
	// lock.
	LockContention
	// RelocatabilityParseFailure is a dep-info or build-script stream
	// that failed to parse.
	RelocatabilityParseFailure
	// Corruption is a stored blob or record that fails integrity
	// checks on read.
	Corruption
)

func (c Code) String() string {
	switch c {
	case TransientIO:
		return "transient-io"
	case NotFound:
		return "not-found"
	case HashMismatch:
		return "hash-mismatch"
	case InvalidRequest:
		return "invalid-request"
	case IncompatibleLibc:
		return "incompatible-libc"
	case LockContention:
		return "lock-contention"
	case RelocatabilityParseFailure:
		return "relocatability-parse-failure"
	case Corruption:
		return "corruption"
	default:
		return "internal"
	}
}

// ComplexError carries a taxonomy Code so calling code can switch on
// classification without string-matching, the way lazydocker's
// ComplexError carries a numeric code.
type ComplexError struct {
	Message string
	Code    Code
	frame   xerrors.Frame
}

// FormatError implements xerrors.Formatter.
func (ce ComplexError) FormatError(p xerrors.Printer) error {
	p.Printf("%s: %s", ce.Code, ce.Message)
	ce.frame.Format(p)
	return nil
}

// Format implements fmt.Formatter.
func (ce ComplexError) Format(f fmt.State, c rune) {
	xerrors.FormatError(ce, f, c)
}

func (ce ComplexError) Error() string {
	return fmt.Sprint(ce)
}

// New returns a ComplexError of the given code.
func New(code Code, message string) error {
	return ComplexError{Message: message, Code: code, frame: xerrors.Caller(1)}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...any) error {
	return ComplexError{Message: fmt.Sprintf(format, args...), Code: code, frame: xerrors.Caller(1)}
}

// Wrap tags err with code, preserving its message as the ComplexError
// message. A nil err returns nil, matching lazydocker's WrapError
// convention of not manufacturing an error from nothing.
func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	return ComplexError{Message: err.Error(), Code: code, frame: xerrors.Caller(1)}
}

// Is reports whether err is (or wraps) a ComplexError of the given
// code.
func Is(err error, code Code) bool {
	var ce ComplexError
	if xerrors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// CodeOf extracts the Code of err, returning Internal if err is not a
// ComplexError.
func CodeOf(err error) Code {
	var ce ComplexError
	if xerrors.As(err, &ce) {
		return ce.Code
	}
	return Internal
}

// WithStack wraps err for a top-level stack trace the way the
// teacher's WrapError does, without losing its taxonomy Code.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, 1)
}
