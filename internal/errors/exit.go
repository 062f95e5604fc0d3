package errors

import (
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
)

// ExitError carries an explicit process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Exit wraps err with a foundry exit code.
func Exit(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// Exitf builds an ExitError from a formatted message.
func Exitf(code int, format string, args ...any) error {
	return &ExitError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ExitCodeFor returns the process exit code for err. An explicit ExitError
// wins; otherwise the error kind decides.
func ExitCodeFor(err error) int {
	if err == nil {
		return foundry.ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch KindOf(err) {
	case KindValidation:
		return foundry.ExitInvalidArgument
	case KindLookup:
		return foundry.ExitFileNotFound
	case KindSecurity:
		return foundry.ExitSecurityViolation
	case KindConfiguration:
		return foundry.ExitConfigInvalid
	case KindProcess:
		return foundry.ExitTransformationFailed
	case KindIO:
		return foundry.ExitFileWriteError
	default:
		return foundry.ExitFailure
	}
}
