package domain

import (
	"errors"
	"fmt"
)

// Category sentinels shared across subsystems.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrDisabled     = fmt.Errorf("disabled")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrRateLimited  = fmt.Errorf("rate limit exceeded")
	ErrStoreWrite   = fmt.Errorf("store write failed")
)

// ErrorKind classifies an execution failure for retry eligibility.
type ErrorKind string

const (
	KindTransient  ErrorKind = "transient"
	KindTimeout    ErrorKind = "timeout"
	KindResource   ErrorKind = "resource" // rate limit, network
	KindPermanent  ErrorKind = "permanent"
	KindValidation ErrorKind = "validation"
	KindUserCancel ErrorKind = "user_cancel"
)

// Retryable reports whether a failure of this kind may succeed on retry.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransient, KindTimeout, KindResource:
		return true
	default:
		return false
	}
}

// ExecutionError is a classified failure returned by an Executor.
type ExecutionError struct {
	Kind    ErrorKind
	Message string
	Err     error // underlying cause, may be nil
}

func (e *ExecutionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NewExecutionError builds a classified execution error.
func NewExecutionError(kind ErrorKind, err error) *ExecutionError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &ExecutionError{Kind: kind, Message: msg, Err: err}
}

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "registry.Create")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
