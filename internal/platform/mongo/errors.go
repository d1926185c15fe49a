package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// writeConflictCode is the server error for concurrent writes inside transactions.
const writeConflictCode = 112

// transientTransactionLabel marks errors after which the whole transaction may be retried.
const transientTransactionLabel = "TransientTransactionError"

// Error implements repositories.RepositoryError for MongoDB backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

// Unwrap returns the driver error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether no document matched.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports duplicate keys, write conflicts, and failed optimistic guards.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports network failures and timeouts.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// NotFound builds a not-found error for conditions detected in repository code.
func NotFound(op string, err error) error {
	return &Error{op: op, err: err, notFound: true}
}

// Conflict builds a conflict error, e.g. for a version mismatch.
func Conflict(op string, err error) error {
	return &Error{op: op, err: err, conflict: true}
}

// WrapError classifies driver errors. Context errors pass through unchanged.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}

	wrapped := &Error{op: op, err: err}
	var serverErr mongo.ServerError
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		wrapped.notFound = true
	case mongo.IsDuplicateKeyError(err):
		wrapped.conflict = true
	case errors.As(err, &serverErr) && (serverErr.HasErrorCode(writeConflictCode) || serverErr.HasErrorLabel(transientTransactionLabel)):
		wrapped.conflict = true
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, mongo.ErrClientDisconnected):
		wrapped.unavailable = true
	}
	return wrapped
}
