package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrorConfiguration  ErrorCode = "CONFIGURATION_ERROR"
	ErrorInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrorClassification ErrorCode = "CLASSIFICATION_ERROR"
	ErrorSynthesis      ErrorCode = "SYNTHESIS_ERROR"
	ErrorRateLimited    ErrorCode = "RATE_LIMITED"
	ErrorInternal       ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
	// SessionID is set when a turn failed after its session was resolved.
	SessionID string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UserMessage is safe to show to an end user. It never includes wrapped
// upstream errors.
func (e *Error) UserMessage() string {
	if e == nil {
		return ""
	}
	switch e.Code {
	case ErrorInvalidInput:
		switch e.Reason {
		case "empty_question":
			return "Please enter a question."
		case "question_too_long":
			return "Your question is too long. Please shorten it and try again."
		}
		return "The request could not be processed."
	case ErrorClassification:
		return "Error: I could not work out how to handle that question. Please try again."
	case ErrorSynthesis:
		return "Error: I could not generate an answer. Please try again."
	case ErrorRateLimited:
		return "Error: the assistant is busy right now. Please try again in a moment."
	case ErrorConfiguration:
		return "Error: the assistant is not configured correctly."
	default:
		return "Error: something went wrong. Please try again."
	}
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// ConfigurationError reports a startup failure such as missing credentials.
func ConfigurationError(reason string, err error) *Error {
	return newError(ErrorConfiguration, reason, err)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// upstreamError classifies a failed model call made by stage. A 429 from the
// provider becomes RATE_LIMITED, anything else keeps code.
func upstreamError(code ErrorCode, stage string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return newError(ErrorRateLimited, stage+"_rate_limited", err)
	}
	return newError(code, stage+"_error", err)
}
