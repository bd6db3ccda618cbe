// Package piperrors provides structured error handling for scholarpipe.
// Errors carry a category, key-value context, and the call stack at the
// point of creation, so a partition failure can be reported with its
// partition key and underlying cause intact.
//
// The pipeline's propagation policy is encoded in the types:
//
//   - ErrorTypeDecode: a shard line is not valid JSON or is missing a
//     required field. Fatal for the enclosing partition; never skipped.
//   - ErrorTypeWorker: a worker failed while transforming one document.
//     Fatal for the containing batch; never retried.
//   - ErrorTypeResource: a memory-utilization sample could not be obtained.
//     The governor fails open on these, so they are logged, not fatal.
//
// Nothing in the core retries automatically.
package piperrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType categorizes an error for handling and reporting.
type ErrorType string

const (
	// ErrorTypeInternal represents internal invariant violations
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeDecode represents shard decode errors
	ErrorTypeDecode ErrorType = "decode"
	// ErrorTypeWorker represents document transformation failures
	ErrorTypeWorker ErrorType = "worker"
	// ErrorTypeResource represents resource sampling failures
	ErrorTypeResource ErrorType = "resource"
	// ErrorTypeFile represents file operation errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeWrite represents output write errors
	ErrorTypeWrite ErrorType = "write"
)

// Error is a structured error with category, context details, cause, and
// the call stack captured at creation.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is a single frame of the captured call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key-value context entry. Chainable.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given type, capturing the call stack.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Wrap wraps err with a category and message, preserving it as the cause.
// If err is already a structured Error its stack is kept. Returns nil for a
// nil err.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existing.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType reports whether err (or anything in its chain) is a structured
// Error of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
