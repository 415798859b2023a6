// Package durable implements the Context façade exposed to user
// handler code: state access, sleep, awakeables, RPC calls, side
// effects with durable retry, and promise combinators. Every
// operation either replays a prior journal entry or appends a new one
// and awaits its completion.
package durable

import (
	"fmt"

	"github.com/BaSui01/durableflow/wire"
)

// TerminalError ends the invocation with an Output failure message.
// It is raised explicitly by user code (via NewTerminalError) or by the Context
// itself for forbidden operations.
type TerminalError struct {
	Code    wire.FailureCode
	Message string
}

func (e *TerminalError) Error() string { return e.Message }

func NewTerminalError(msg string) *TerminalError {
	return &TerminalError{Code: wire.FailureCodeTerminal, Message: msg}
}

func newInternalError(msg string) *TerminalError {
	return &TerminalError{Code: wire.FailureCodeInternal, Message: msg}
}

// RetryableError is only meaningful inside sideEffect: it triggers a
// durable retry+sleep and never surfaces as Output unless the retry
// policy's maxRetries is exhausted.
type RetryableError struct {
	Message string
	Cause   error
}

func (e *RetryableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error { return e.Cause }

func NewRetryableError(msg string, cause error) *RetryableError {
	return &RetryableError{Message: msg, Cause: cause}
}

// TimeoutError is produced by OrTimeout; terminal.
type TimeoutError struct{}

func (e *TimeoutError) Error() string { return "operation timed out" }

func forbiddenInSideEffectError(opName string) *TerminalError {
	return &TerminalError{
		Code:    wire.FailureCodeTerminal,
		Message: fmt.Sprintf("You cannot do %s calls from within a side effect.", opName),
	}
}
