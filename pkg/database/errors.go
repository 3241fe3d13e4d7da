package database

import (
	"errors"
	"fmt"
)

// Sentinels matched by QueryError through errors.Is.
var (
	// ErrNotConnected is returned when a query is attempted while the
	// connection manager is not Ready.
	ErrNotConnected = errors.New("database not connected")

	// ErrQueryTimeout is returned when the query budget elapsed. The outcome
	// of the statement is unknown.
	ErrQueryTimeout = errors.New("query timeout")

	// ErrQueryFailed is returned when the store rejected or lost the statement.
	ErrQueryFailed = errors.New("query failed")

	// ErrManagerClosed is returned by WaitReady after Close.
	ErrManagerClosed = errors.New("connection manager closed")
)

// ErrorKind classifies query execution failures.
type ErrorKind string

const (
	// KindNotConnected means nothing was sent to the store.
	KindNotConnected ErrorKind = "not_connected"

	// KindTimeout means the statement may or may not have been applied.
	KindTimeout ErrorKind = "timeout"

	// KindFailed means the store returned an error for the statement.
	KindFailed ErrorKind = "failed"
)

// QueryError is the single error type returned by Executor.
type QueryError struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.sentinel(), e.Err)
	}
	return e.sentinel().Error()
}

// Unwrap exposes the underlying driver error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrQueryTimeout) and friends match on Kind.
func (e *QueryError) Is(target error) bool {
	return target == e.sentinel()
}

// OutcomeUnknown reports whether a write may have been applied despite the error.
func (e *QueryError) OutcomeUnknown() bool {
	return e.Kind == KindTimeout
}

func (e *QueryError) sentinel() error {
	switch e.Kind {
	case KindNotConnected:
		return ErrNotConnected
	case KindTimeout:
		return ErrQueryTimeout
	default:
		return ErrQueryFailed
	}
}

// KindOf extracts the ErrorKind of err, or "" when err is not a QueryError.
func KindOf(err error) ErrorKind {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ""
}
