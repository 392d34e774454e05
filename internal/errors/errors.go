package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type for crawldex.
// It carries enough context to log the failure and to map it onto a
// caller-facing response.
type Error struct {
	// Code is the unique error code (e.g., "ERR_301_ENGINE_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Extraction, Transport, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Category and severity are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause:    cause,
	}
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ExtractionError creates a per-file extraction error.
func ExtractionError(path string, cause error) *Error {
	return New(ErrCodeExtractionFailed, fmt.Sprintf("cannot extract %s", path), cause).
		WithDetail("path", path)
}

// TransportError creates an error for a request the index engine did not
// complete.
func TransportError(message string, cause error) *Error {
	return New(ErrCodeEngineUnavailable, message, cause)
}

// ValidationError creates a caller input error.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeMissingParameter, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	e, ok := As(err)
	return ok && e.Severity == SeverityFatal
}

// GetCode extracts the error code from an Error in err's chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// GetCategory extracts the category from an Error in err's chain.
// Errors that are not *Error are internal.
func GetCategory(err error) Category {
	if e, ok := As(err); ok {
		return e.Category
	}
	return CategoryInternal
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return err != nil && GetCategory(err) == CategoryTransport
}
