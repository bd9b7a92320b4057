package domain

import (
	"errors"
	"fmt"
)

// ErrEmptyCompletion marks a provider reply without usable content.
var ErrEmptyCompletion = errors.New("provider returned an empty completion")

type ErrorCode string

const (
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorRateLimited       ErrorCode = "RATE_LIMITED"
	ErrorThrottled         ErrorCode = "THROTTLED"
	ErrorUpstream          ErrorCode = "UPSTREAM_ERROR"
	ErrorMalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	ErrorExhausted         ErrorCode = "EXHAUSTED"
	ErrorCancelled         ErrorCode = "CANCELLED"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("translator: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("translator: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
