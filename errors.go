package main

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies a failed operation
type ErrorCode string

const (
	ErrorContentEmpty    ErrorCode = "CONTENT_EMPTY"
	ErrorContentTooLong  ErrorCode = "CONTENT_TOO_LONG"
	ErrorValidation      ErrorCode = "VALIDATION_ERROR"
	ErrorRateLimited     ErrorCode = "RATE_LIMITED"
	ErrorTransport       ErrorCode = "TRANSPORT_ERROR"
	ErrorStream          ErrorCode = "STREAM_ERROR"
	ErrorNotFound        ErrorCode = "NOT_FOUND"
	ErrorBusy            ErrorCode = "BUSY"
	ErrorAPI             ErrorCode = "API_ERROR"
	serverRateLimitCode            = "RATE_LIMIT_EXCEEDED"
)

// Error is the error type returned by the store and the API client
type Error struct {
	Code       ErrorCode
	Reason     string
	Status     int
	RetryAfter time.Duration
	MaxLength  int // limit a CONTENT_TOO_LONG error was checked against
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("council: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("council: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// ErrorCodeOf returns the code carried by err, or "" if err is not an *Error
func ErrorCodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err was rejected locally or by server validation
func IsValidation(err error) bool {
	switch ErrorCodeOf(err) {
	case ErrorContentEmpty, ErrorContentTooLong, ErrorValidation:
		return true
	}
	return false
}

// UserMessage turns err into a short, actionable message for display
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Something went wrong. Please try again."
	}
	switch e.Code {
	case ErrorContentEmpty:
		return "Message cannot be empty."
	case ErrorContentTooLong:
		limit := e.MaxLength
		if limit <= 0 {
			limit = MaxMessageLength
		}
		return fmt.Sprintf("Message cannot exceed %d characters.", limit)
	case ErrorRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("Too many requests, please try again in %s.", e.RetryAfter)
		}
		return "Too many requests, please try again later."
	case ErrorBusy:
		return "A message is already being answered in this conversation."
	case ErrorNotFound:
		return "Conversation not found."
	case ErrorStream:
		return fmt.Sprintf("The council stopped early: %s", e.Reason)
	default:
		return "Something went wrong. Please try again."
	}
}
