package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable code surfaced to clients in an error event.
type ErrorCode string

const (
	CodeAuthentication ErrorCode = "authentication_error"
	CodeAuthorization  ErrorCode = "authorization_error"
	CodeValidation     ErrorCode = "validation_error"
	CodeRateLimited    ErrorCode = "rate_limited"
	CodeNotFound       ErrorCode = "not_found"
	CodeStateConflict  ErrorCode = "state_conflict"
	CodeInternal       ErrorCode = "internal_error"
)

// Error is a gateway error carrying a client-facing code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound)
// works for every not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrAuthentication = &Error{Code: CodeAuthentication, Message: "authentication failed"}
	ErrAuthorization  = &Error{Code: CodeAuthorization, Message: "not allowed"}
	ErrValidation     = &Error{Code: CodeValidation, Message: "invalid payload"}
	ErrRateLimited    = &Error{Code: CodeRateLimited, Message: "rate limit exceeded"}
	ErrNotFound       = &Error{Code: CodeNotFound, Message: "not found"}
	ErrStateConflict  = &Error{Code: CodeStateConflict, Message: "state conflict"}
	ErrInternal       = &Error{Code: CodeInternal, Message: "internal error"}
)

func newError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Unauthenticated(format string, args ...interface{}) *Error {
	return newError(CodeAuthentication, format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return newError(CodeAuthorization, format, args...)
}

func Invalid(format string, args ...interface{}) *Error {
	return newError(CodeValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newError(CodeNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newError(CodeStateConflict, format, args...)
}

// Internal wraps a collaborator failure (usually the store).
func Internal(err error, format string, args ...interface{}) *Error {
	e := newError(CodeInternal, format, args...)
	e.Err = err
	return e
}

// CodeOf returns the code of err, or CodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the client-safe message of err. Foreign errors are not
// leaked to clients.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ErrInternal.Message
}
