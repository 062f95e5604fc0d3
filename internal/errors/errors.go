// Package errors defines the application error taxonomy shared by the
// service layer, the HTTP server, and the CLI.
//
// Every error that crosses a public boundary is classified into a Kind so
// callers (and the HTTP layer) can decide how to present it without string
// matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an application error.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindValidation    Kind = "validation"
	KindProcess       Kind = "process"
	KindLookup        Kind = "lookup"
	KindIO            Kind = "io"
	KindSecurity      Kind = "security"
	KindInternal      Kind = "internal"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Configuration reports a missing pipeline entry point, interpreter, or
// unusable configuration.
func Configuration(op, format string, args ...any) *Error {
	return newError(KindConfiguration, op, format, args...)
}

// Validation reports malformed caller input.
func Validation(op, format string, args ...any) *Error {
	return newError(KindValidation, op, format, args...)
}

// Lookup reports an unknown job id or a missing artifact.
func Lookup(op, format string, args ...any) *Error {
	return newError(KindLookup, op, format, args...)
}

// Security reports a rejected path-escape or forged artifact name.
func Security(op, format string, args ...any) *Error {
	return newError(KindSecurity, op, format, args...)
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// WrapIO classifies a filesystem or copy failure.
func WrapIO(op string, err error, message string) error {
	return Wrap(KindIO, op, err, message)
}

// WrapProcess classifies a spawn or exit failure.
func WrapProcess(op string, err error, message string) error {
	return Wrap(KindProcess, op, err, message)
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when the chain carries no classification.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
