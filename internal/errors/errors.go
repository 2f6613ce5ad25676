package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType classifies failures so callers can tell them apart without string matching.
type ErrorType string

const (
	ErrorTypeInvalidParameters        ErrorType = "invalid_parameters"
	ErrorTypeNotBuilt                 ErrorType = "not_built"
	ErrorTypeUnsupportedOperation     ErrorType = "unsupported_operation"
	ErrorTypeIOFailure                ErrorType = "io_failure"
	ErrorTypeDistributedInconsistency ErrorType = "distributed_inconsistency"
	ErrorTypeConfiguration            ErrorType = "configuration"
)

// StructuredError provides rich error context
type StructuredError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Stack     []uintptr
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// Is matches another StructuredError by type only, so sentinel comparisons such as
// errors.Is(err, ErrNotBuilt) work regardless of operation or message.
func (e *StructuredError) Is(target error) bool {
	t, ok := target.(*StructuredError)
	if !ok {
		return false
	}
	return t.Operation == "" && t.Message == "" && t.Type == e.Type
}

// New creates a new structured error
func New(errType ErrorType, operation, message string) *StructuredError {
	return &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}
}

// Newf is New with a formatted message.
func Newf(errType ErrorType, operation, format string, args ...interface{}) *StructuredError {
	se := New(errType, operation, fmt.Sprintf(format, args...))
	se.Stack = captureStack()
	return se
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, operation, message string) *StructuredError {
	if err == nil {
		return nil
	}

	return &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}
}

// WithContext adds context information to an error
func (e *StructuredError) WithContext(key string, value interface{}) *StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// captureStack captures the current stack trace
func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[:n]
}

// TypeOf returns the ErrorType of the outermost StructuredError in err's chain, or "" if none.
func TypeOf(err error) ErrorType {
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Type
	}
	return ""
}

// IsType reports whether any StructuredError in err's chain carries the given ErrorType.
func IsType(err error, t ErrorType) bool {
	if t == "" {
		return false
	}
	return errors.Is(err, &StructuredError{Type: t})
}

// Sentinels for errors.Is. They carry no operation so any error of the same type matches.
var (
	ErrInvalidParameters        = &StructuredError{Type: ErrorTypeInvalidParameters}
	ErrNotBuilt                 = &StructuredError{Type: ErrorTypeNotBuilt}
	ErrUnsupportedOperation     = &StructuredError{Type: ErrorTypeUnsupportedOperation}
	ErrIOFailure                = &StructuredError{Type: ErrorTypeIOFailure}
	ErrDistributedInconsistency = &StructuredError{Type: ErrorTypeDistributedInconsistency}
)

// Common error constructors for frequent use cases

// NewInvalidParameters creates an invalid-parameters error
func NewInvalidParameters(operation, format string, args ...interface{}) *StructuredError {
	return New(ErrorTypeInvalidParameters, operation, fmt.Sprintf(format, args...))
}

// NewNotBuilt creates a not-built error
func NewNotBuilt(operation string) *StructuredError {
	return New(ErrorTypeNotBuilt, operation, "index has not been built")
}

// NewUnsupported creates an unsupported-operation error
func NewUnsupported(operation, message string) *StructuredError {
	return New(ErrorTypeUnsupportedOperation, operation, message)
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(operation, message string) *StructuredError {
	return New(ErrorTypeConfiguration, operation, message)
}

// WrapInvalidParameters wraps an error as invalid parameters
func WrapInvalidParameters(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeInvalidParameters, operation, message)
}

// WrapIOFailure wraps an error as an I/O failure
func WrapIOFailure(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeIOFailure, operation, message)
}

// WrapDistributed wraps an error as a distributed inconsistency
func WrapDistributed(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeDistributedInconsistency, operation, message)
}

// WrapConfigurationError wraps an error as a configuration error
func WrapConfigurationError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeConfiguration, operation, message)
}
