package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// AuthError means the caller could not be identified: no credential, or one that failed verification.
type AuthError struct {
	msg string
}

func NewAuthError(msg string) *AuthError { return &AuthError{msg: msg} }

func (err AuthError) Error() string { return err.msg }

// PermissionError means the caller is identified but their role or ownership does not allow the operation.
type PermissionError struct {
	msg string
}

func NewPermissionError(msg string) *PermissionError { return &PermissionError{msg: msg} }

func (err PermissionError) Error() string { return err.msg }

type NotFoundError struct {
	msg string
}

func NewNotFoundError(msg string) *NotFoundError { return &NotFoundError{msg: msg} }

func (err NotFoundError) Error() string { return err.msg }

// ConflictError means the operation clashes with the current state (duplicates, capacity reached...).
type ConflictError struct {
	msg string
}

func NewConflictError(msg string) *ConflictError { return &ConflictError{msg: msg} }

func (err ConflictError) Error() string { return err.msg }

var ErrPermissionDenied = NewPermissionError("permission denied")

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

func IsConflict(err error) bool {
	_, ok := errors.Cause(err).(*ConflictError)
	return ok
}

func IsPermission(err error) bool {
	_, ok := errors.Cause(err).(*PermissionError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
