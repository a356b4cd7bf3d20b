// Package errors provides the categorised internal errors of the toolchain.
// User-facing problems in analysed programs are diagnostics; these errors
// describe malformed input, unsupported schemas and runtime faults.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryInput    ErrorCategory = "INPUT"
	CategorySchema   ErrorCategory = "SCHEMA"
	CategoryRuntime  ErrorCategory = "RUNTIME"
	CategoryOverflow ErrorCategory = "OVERFLOW"
	CategoryInternal ErrorCategory = "INTERNAL"
)

// StandardError provides a consistent error format
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
	Err      error
}

// Error implements the error interface
func (e *StandardError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

func (e *StandardError) Unwrap() error { return e.Err }

// NewStandardError creates a new standardized error
func NewStandardError(category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	pc, _, _, ok := runtime.Caller(1)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// Wrap attaches cause to the error.
func (e *StandardError) Wrap(cause error) *StandardError {
	e.Err = cause
	return e
}

// Is reports whether err is a StandardError of the given category.
func Is(err error, category ErrorCategory) bool {
	var se *StandardError
	return errors.As(err, &se) && se.Category == category
}

// Common error constructors
func InvalidInput(what string, cause error) *StandardError {
	return NewStandardError(CategoryInput, "INVALID_INPUT",
		fmt.Sprintf("Invalid %s", what),
		map[string]interface{}{"input": what}).Wrap(cause)
}

func UnsupportedSchema(version, constraint string) *StandardError {
	return NewStandardError(CategorySchema, "UNSUPPORTED_SCHEMA",
		fmt.Sprintf("Schema version %s does not satisfy %s", version, constraint),
		map[string]interface{}{"version": version, "constraint": constraint})
}

func IntegerOverflow(operation string, values ...interface{}) *StandardError {
	return NewStandardError(CategoryOverflow, "INTEGER_OVERFLOW",
		fmt.Sprintf("Integer overflow in %s operation", operation),
		map[string]interface{}{"operation": operation, "values": values})
}

func DivisionByZero(operation string) *StandardError {
	return NewStandardError(CategoryRuntime, "DIVISION_BY_ZERO",
		fmt.Sprintf("Division by zero in %s", operation),
		map[string]interface{}{"operation": operation})
}

func UnknownFunction(name string) *StandardError {
	return NewStandardError(CategoryRuntime, "UNKNOWN_FUNCTION",
		fmt.Sprintf("No function or host binding named %s", name),
		map[string]interface{}{"function": name})
}

func Internal(format string, args ...interface{}) *StandardError {
	return NewStandardError(CategoryInternal, "INTERNAL", fmt.Sprintf(format, args...), nil)
}
