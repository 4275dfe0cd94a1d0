// Package gcperrors provides structured error handling for gcpkit with error
// categorization, key-value context, and stack capture.
//
// Every helper in this library returns errors of type *Error so callers can
// branch on the category instead of string-matching cloud SDK messages:
//
//	if err := bqc.CreateTable(ctx, ds, tbl, schema, nil); err != nil {
//	    if gcperrors.IsType(err, gcperrors.ErrorTypeConflict) {
//	        // table already exists, fine
//	    }
//	}
//
// Errors wrap their cause, so errors.Is/errors.As keep working against the
// underlying SDK error.
package gcperrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType categorizes an error for handling strategies and logging.
type ErrorType string

const (
	// ErrorTypeInternal represents internal library errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents caller input errors (e.g. malformed timestamps)
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection represents transport or API call failures
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypePermission represents IAM permission errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeNotFound represents missing buckets, blobs, datasets, or secrets
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict represents already-exists errors
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeTimeout represents exceeded deadlines, including the trigger
	// retry threshold
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeData represents data conversion or load-job errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeNotification represents alert delivery failures; these are
	// logged and absorbed by the trigger guard, never propagated
	ErrorTypeNotification ErrorType = "notification"
)

// Error is a categorized error with optional key-value details and the call
// stack captured at creation.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is a single frame of the call stack at error creation.
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

// Unwrap returns the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key-value pair to the error. Chainable.
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

// Newf creates an error of the given type with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with a category and message, preserving the
// original as the cause. If err is already a *Error its stack is preserved.
// Returns nil if err is nil.
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

// IsType reports whether err is (or wraps) an Error of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// IsRetryable reports whether the error category is worth retrying.
// Connection and timeout errors are; everything else is not.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Type {
	case ErrorTypeConnection, ErrorTypeTimeout:
		return true
	default:
		return false
	}
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
