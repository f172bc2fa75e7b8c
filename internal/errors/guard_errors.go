package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCategory represents different types of errors that can occur
type ErrorCategory string

const (
	// Refuse to run
	ErrorCategoryFatal         ErrorCategory = "FATAL"
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"

	// Handled locally by failing closed toward the safer mode
	ErrorCategoryInput      ErrorCategory = "INPUT"
	ErrorCategoryExternalIO ErrorCategory = "EXTERNAL_IO"
	ErrorCategoryTimeout    ErrorCategory = "TIMEOUT"

	// Degenerate numeric inputs; callers get a well-defined degenerate result
	ErrorCategoryComputation ErrorCategory = "COMPUTATION"
)

// GuardError represents a categorized error with context
type GuardError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
}

// Error implements the error interface
func (e *GuardError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *GuardError) Unwrap() error {
	return e.Underlying
}

// IsFatal returns whether this error must keep the guardian out of RUNNING
func (e *GuardError) IsFatal() bool {
	return e.Category == ErrorCategoryFatal || e.Category == ErrorCategoryConfiguration
}

// FailsClosed returns whether the error must be treated as stale / unsafe input
func (e *GuardError) FailsClosed() bool {
	switch e.Category {
	case ErrorCategoryInput, ErrorCategoryExternalIO, ErrorCategoryTimeout:
		return true
	}
	return false
}

// WithContext adds context information to the error
func (e *GuardError) WithContext(key string, value interface{}) *GuardError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewGuardError creates a new categorized error
func NewGuardError(category ErrorCategory, component, operation, message string) *GuardError {
	return &GuardError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with guard error context
func WrapError(err error, category ErrorCategory, component, operation string) *GuardError {
	if err == nil {
		return nil
	}
	return &GuardError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewConfigurationError(component, operation, message string) *GuardError {
	return NewGuardError(ErrorCategoryConfiguration, component, operation, message)
}

func NewInputError(component, operation, message string) *GuardError {
	return NewGuardError(ErrorCategoryInput, component, operation, message)
}

func NewComputationError(component, operation, message string) *GuardError {
	return NewGuardError(ErrorCategoryComputation, component, operation, message)
}

func NewFatalError(component, operation, message string) *GuardError {
	return NewGuardError(ErrorCategoryFatal, component, operation, message)
}

// WrapExternal classifies an error coming back from a data feed or exchange.
// Deadline errors become TIMEOUT, everything else EXTERNAL_IO.
func WrapExternal(err error, component, operation string) *GuardError {
	if err == nil {
		return nil
	}
	var ge *GuardError
	if stderrors.As(err, &ge) {
		return ge
	}
	if stderrors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return WrapError(err, ErrorCategoryTimeout, component, operation)
	}
	return WrapError(err, ErrorCategoryExternalIO, component, operation)
}

// IsFatal reports whether err (or anything it wraps) is a fatal guard error
func IsFatal(err error) bool {
	var ge *GuardError
	if stderrors.As(err, &ge) {
		return ge.IsFatal()
	}
	return false
}

// FailsClosed reports whether err should be treated like stale input.
// Unknown errors fail closed.
func FailsClosed(err error) bool {
	if err == nil {
		return false
	}
	var ge *GuardError
	if stderrors.As(err, &ge) {
		return ge.FailsClosed() || ge.IsFatal()
	}
	return true
}

// CategoryOf returns the category of err, or "" when it is not a guard error
func CategoryOf(err error) ErrorCategory {
	var ge *GuardError
	if stderrors.As(err, &ge) {
		return ge.Category
	}
	return ""
}

// ConfigErrors collects every configuration problem found in one validation pass
type ConfigErrors struct {
	Component string
	Problems  []string
}

// Add records one problem
func (c *ConfigErrors) Add(format string, args ...interface{}) {
	c.Problems = append(c.Problems, fmt.Sprintf(format, args...))
}

// Err returns nil when no problems were recorded, otherwise a CONFIG GuardError
func (c *ConfigErrors) Err() error {
	if len(c.Problems) == 0 {
		return nil
	}
	return NewConfigurationError(c.Component, "validate", strings.Join(c.Problems, "; ")).
		WithContext("problems", len(c.Problems))
}
