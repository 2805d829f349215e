package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// TestErrorFormatting tests the error string and unwrapping
func TestErrorFormatting(t *testing.T) {
	cause := errors.New("connection reset")
	err := newError(ErrorTransport, "stream_interrupted", cause)

	if got := err.Error(); got != "council: TRANSPORT_ERROR (stream_interrupted): connection reset" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}

	wrapped := fmt.Errorf("send failed: %w", newError(ErrorBusy, "send_in_progress", nil))
	if ErrorCodeOf(wrapped) != ErrorBusy {
		t.Errorf("ErrorCodeOf(wrapped) = %q", ErrorCodeOf(wrapped))
	}
	if ErrorCodeOf(cause) != "" {
		t.Error("plain errors carry no code")
	}
}

// TestUserMessage tests the display messages
func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{newError(ErrorContentEmpty, "content_empty", nil), "empty"},
		{newError(ErrorContentTooLong, "content_too_long", nil), fmt.Sprint(MaxMessageLength)},
		{&Error{Code: ErrorContentTooLong, MaxLength: 42}, "exceed 42 characters"},
		{&Error{Code: ErrorRateLimited, RetryAfter: time.Minute}, "1m0s"},
		{&Error{Code: ErrorRateLimited}, "later"},
		{newError(ErrorBusy, "send_in_progress", nil), "already"},
		{newError(ErrorStream, "Stage 2 failed", nil), "Stage 2 failed"},
		{errors.New("unexpected"), "Something went wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := UserMessage(tt.err); !strings.Contains(got, tt.want) {
				t.Errorf("UserMessage() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

// TestIsValidation tests validation classification
func TestIsValidation(t *testing.T) {
	for _, code := range []ErrorCode{ErrorContentEmpty, ErrorContentTooLong, ErrorValidation} {
		if !IsValidation(newError(code, "", nil)) {
			t.Errorf("%s should be a validation error", code)
		}
	}
	if IsValidation(newError(ErrorTransport, "", nil)) {
		t.Error("transport errors are not validation errors")
	}
}
