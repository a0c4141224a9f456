// Package apperrors defines the error taxonomy shared by the pipeline and the
// HTTP layer. Duplicate is deliberately not treated as a failure: idempotent
// re-delivery is a normal outcome and is surfaced as a status flag.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindValidation Kind = iota
	KindDuplicate
	KindNotFound
	KindTransientStore
	KindConsistency
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func TransientStore(msg string, err error) *Error {
	return &Error{Kind: KindTransientStore, Message: msg, Err: err}
}

func Consistency(format string, args ...any) *Error {
	return &Error{Kind: KindConsistency, Message: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps an error to the response code the handler should use.
// Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTransientStore:
		return http.StatusServiceUnavailable
	case KindConsistency:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}
