package fetch

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrUpstreamFetchFailed matches every *UpstreamError through errors.Is.
	ErrUpstreamFetchFailed = errors.New("upstream fetch failed")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrCooldownActive is the cause when a request is blocked by an upstream cooldown.
	ErrCooldownActive = errors.New("upstream cooldown active")
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and active cooldowns.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// UpstreamError describes a failed upstream request.
type UpstreamError struct {
	// StatusCode is 0 when no response was received.
	StatusCode int
	ErrorClass ErrorClass
	// Body is the (truncated) response body of a non-2xx response.
	Body string
	Err  error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("upstream %s error", e.ErrorClass)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrUpstreamFetchFailed.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamFetchFailed
}

// classifyStatus maps a non-2xx status code to an error class.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == 429:
		return ErrorClassRateLimit
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassNetwork:
		return true
	case ErrorClassRateLimit:
		// The cooldown tracker decides when to try again
		return false
	default:
		return false
	}
}

// classOf returns the error class of err, or "" if err is not an *UpstreamError.
func classOf(err error) ErrorClass {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.ErrorClass
	}
	return ""
}
