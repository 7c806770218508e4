package eventhub

import (
	"errors"
	"fmt"
)

// Error codes reported by this package.
const (
	ArgumentError = iota

	AuthorizationError

	ConnectionError

	LinkAttachError

	ObjectDisposedError

	TimedOutError

	UnknownError
)

// Error is a typed client error carrying one of the package error codes and,
// when available, the underlying cause.
type Error struct {
	Code    int
	message string
	cause   error
}

func errorName(errorCode int) string {
	switch errorCode {
	case ArgumentError:
		return "ArgumentError"
	case AuthorizationError:
		return "AuthorizationError"
	case ConnectionError:
		return "ConnectionError"
	case LinkAttachError:
		return "LinkAttachError"
	case ObjectDisposedError:
		return "ObjectDisposedError"
	case TimedOutError:
		return "TimedOutError"
	default:
		return "UnknownError"
	}
}

func (err *Error) Error() string {
	if err == nil {
		return "UnknownError"
	}
	if err.message != "" {
		return fmt.Sprintf("%s: %s", errorName(err.Code), err.message)
	}
	return errorName(err.Code)
}

// Unwrap exposes the underlying cause for errors.Is and errors.As.
func (err *Error) Unwrap() error {
	if err == nil {
		return nil
	}
	return err.cause
}

// NewError returns a typed error for the given code with an optional message.
// When the message is itself an error it is retained as the cause.
func NewError(errorCode int, message ...interface{}) error {
	err := &Error{Code: errorCode}

	if len(message) > 0 {
		err.message = fmt.Sprintf("%v", message[0])
		if cause, isError := message[0].(error); isError {
			err.cause = cause
		}
	}

	return err
}

// HasErrorCode reports whether err carries the given package error code.
func HasErrorCode(err error, errorCode int) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code == errorCode
	}
	return false
}
