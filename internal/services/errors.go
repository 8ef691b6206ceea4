package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies service failures so callers can tell retryable
// conditions apart from permanent rejections.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation_error"
	KindStaleEvent        ErrorKind = "stale_event"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindConflict          ErrorKind = "conflict"
	KindNotFound          ErrorKind = "not_found"
	KindUnavailable       ErrorKind = "dependency_unavailable"
)

// ServiceError carries a stable kind plus a human-readable message.
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Errf builds a ServiceError with a formatted message.
func Errf(kind ErrorKind, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr attaches a kind and context message to an underlying error.
func WrapErr(kind ErrorKind, err error, message string) *ServiceError {
	return &ServiceError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from err. Plain errors report an empty kind.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// Retryable reports whether the caller may retry the failed operation.
// Validation, transition and not-found rejections are permanent.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindUnavailable:
		return true
	}
	return false
}
