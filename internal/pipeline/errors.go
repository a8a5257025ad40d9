package pipeline

import (
	"fmt"
	"time"

	"github.com/ardiansr/wa-bridge/internal/ratelimit"
)

// Code is the machine-readable error kind surfaced to callers.
type Code string

const (
	CodeInvalidJID    Code = "INVALID_JID"
	CodeNotConnected  Code = "NOT_CONNECTED"
	CodeHibernating   Code = "HIBERNATING"
	CodeWarmupLimit   Code = "WARMUP_LIMIT"
	CodeRateLimited   Code = "RATE_LIMITED"
	CodeCanceled      Code = "CANCELED"
	CodeProtocolError Code = "PROTOCOL_ERROR"
)

// SendError carries the structured failure contract of the send pipeline.
type SendError struct {
	Code      Code
	Message   string
	Wait      time.Duration   // RATE_LIMITED only
	Scope     ratelimit.Scope // RATE_LIMITED only
	Remaining int             // WARMUP_LIMIT only
	Retryable bool            // PROTOCOL_ERROR only
	Cause     error
}

func (e *SendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SendError) Unwrap() error { return e.Cause }

func errInvalidJID(raw string) *SendError {
	return &SendError{Code: CodeInvalidJID, Message: fmt.Sprintf("recipient %q is not a valid phone number", raw)}
}

func errNotConnected(state string) *SendError {
	return &SendError{Code: CodeNotConnected, Message: fmt.Sprintf("connection state is %s", state)}
}

func errHibernating() *SendError {
	return &SendError{Code: CodeHibernating, Message: "sending is hibernated due to elevated ban risk"}
}

func errWarmupLimit(remaining int) *SendError {
	return &SendError{
		Code:      CodeWarmupLimit,
		Message:   "per-day budget for this recipient is exhausted",
		Remaining: remaining,
	}
}

func errRateLimited(d ratelimit.Decision) *SendError {
	return &SendError{
		Code:    CodeRateLimited,
		Message: fmt.Sprintf("rate limited (%s), retry in %s", d.Scope, d.Wait.Round(time.Second)),
		Wait:    d.Wait,
		Scope:   d.Scope,
	}
}

func errCanceled(cause error) *SendError {
	return &SendError{Code: CodeCanceled, Message: "send canceled before delivery", Cause: cause}
}

func errProtocol(cause error) *SendError {
	return &SendError{Code: CodeProtocolError, Message: "protocol send failed", Retryable: true, Cause: cause}
}
