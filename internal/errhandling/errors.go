// Package errhandling provides error types and classification for pipeline runs.
// It defines error categories, the structured errors raised by transforms, sources
// and sinks, and helpers used by the runner to decide whether a run must abort.
package errhandling

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// ErrorCategory represents the type/category of an error.
type ErrorCategory string

// Error categories for classification.
const (
	// CategoryConfiguration represents construction-time problems: a missing
	// value transform, an unknown column, an invalid dictionary path.
	// Configuration errors are always fatal.
	CategoryConfiguration ErrorCategory = "configuration"

	// CategoryParse represents a value a transform could not interpret.
	// Parse errors abort the run.
	CategoryParse ErrorCategory = "parse"

	// CategoryIO represents read/write failures on sources, sinks and dictionaries.
	CategoryIO ErrorCategory = "io"

	// CategoryFinalize represents failures raised while closing components
	// after the stream is drained. They are reported but do not undo delivery.
	CategoryFinalize ErrorCategory = "finalize"

	// CategoryCanceled represents a run interrupted by its context.
	CategoryCanceled ErrorCategory = "canceled"

	// CategoryUnknown represents unclassified errors.
	CategoryUnknown ErrorCategory = "unknown"
)

// ClassifiedError wraps an error with classification metadata.
type ClassifiedError struct {
	// Category is the error classification category.
	Category ErrorCategory

	// Fatal indicates whether the error aborts the run.
	Fatal bool

	// Message is a human-readable error message.
	Message string

	// OriginalErr is the underlying error that was classified.
	OriginalErr error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

// Unwrap returns the original error for use with errors.Is and errors.As.
func (e *ClassifiedError) Unwrap() error {
	return e.OriginalErr
}

// ConfigError reports an invalid pipeline assembly. It is raised when a
// component is constructed, never while records flow.
type ConfigError struct {
	// Component names the module type or config section at fault.
	Component string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Component != "" {
		msg = fmt.Sprintf("%s: %s", e.Component, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", msg, e.Err)
	}
	return "configuration error: " + msg
}

// Unwrap returns the wrapped error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ParseError reports a value that a transform could not interpret.
// Column and Key are filled in by the column adapter when the transform
// itself does not know them.
type ParseError struct {
	// Column is the column being processed.
	Column string
	// Key is the natural key of the record (its identifying column).
	Key string
	// Value is the offending raw value.
	Value string
	// Message describes what was expected.
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse error: %s: %q", e.Message, e.Value)
	if e.Column != "" {
		msg += fmt.Sprintf(" (column %s", e.Column)
		if e.Key != "" {
			msg += fmt.Sprintf(", record %q", e.Key)
		}
		msg += ")"
	} else if e.Key != "" {
		msg += fmt.Sprintf(" (record %q)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// FinalizeError reports failures raised while closing pipeline components.
type FinalizeError struct {
	Err error
}

// Error implements the error interface.
func (e *FinalizeError) Error() string {
	return "finalize error: " + e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *FinalizeError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a ConfigError.
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{Component: component, Message: message, Err: err}
}

// NewParseError creates a ParseError for a raw value.
func NewParseError(value, message string) *ParseError {
	return &ParseError{Value: value, Message: message}
}

// NewIOError creates a ClassifiedError for read/write failures.
func NewIOError(message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryIO,
		Fatal:       true,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// ClassifyError classifies any error into a ClassifiedError.
// Structured errors map to their category; filesystem errors map to io.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{
			Category: CategoryUnknown,
			Message:  "nil error",
		}
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return &ClassifiedError{Category: CategoryConfiguration, Fatal: true, Message: err.Error(), OriginalErr: err}
	}

	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return &ClassifiedError{Category: CategoryParse, Fatal: true, Message: err.Error(), OriginalErr: err}
	}

	var finErr *FinalizeError
	if errors.As(err, &finErr) {
		return &ClassifiedError{Category: CategoryFinalize, Fatal: false, Message: err.Error(), OriginalErr: err}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Category: CategoryCanceled, Fatal: true, Message: err.Error(), OriginalErr: err}
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return &ClassifiedError{Category: CategoryIO, Fatal: true, Message: err.Error(), OriginalErr: err}
	}

	// Unknown errors raised while records flow abort the run.
	return &ClassifiedError{
		Category:    CategoryUnknown,
		Fatal:       true,
		Message:     err.Error(),
		OriginalErr: err,
	}
}

// IsFatal returns true if the error aborts a run.
// Nil errors and finalize errors return false.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err).Fatal
}

// GetErrorCategory returns the error category for a given error.
// Returns CategoryUnknown for nil errors.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	return ClassifyError(err).Category
}
