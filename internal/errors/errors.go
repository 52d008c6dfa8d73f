// Package errors provides structured error types for vibewatch.
// Every error carries a category, code, message and retryable flag so that
// callers (CLI, HTTP, gRPC) can map failures consistently.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCategory classifies errors by failure class.
type ErrorCategory string

const (
	ErrCategoryInput       ErrorCategory = "INPUT"        // malformed or missing source data, fatal for the batch
	ErrCategoryDataQuality ErrorCategory = "DATA_QUALITY" // gaps recovered locally
	ErrCategoryModel       ErrorCategory = "MODEL"        // model or attribution shape problems
	ErrCategoryStorage     ErrorCategory = "STORAGE"
	ErrCategoryManifest    ErrorCategory = "MANIFEST"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Input codes
	CodeMissingFile      = "MISSING_FILE"
	CodeMissingColumn    = "MISSING_COLUMN"
	CodeUnparseableDate  = "UNPARSEABLE_DATE"
	CodeUnparseableValue = "UNPARSEABLE_VALUE"
	CodeUnknownCategory  = "UNKNOWN_CATEGORY"
	CodeEmptyInput       = "EMPTY_INPUT"
	CodeNegativeAge      = "NEGATIVE_AGE"

	// Data quality codes
	CodeImputed = "IMPUTED"

	// Model codes
	CodeShapeMismatch = "SHAPE_MISMATCH"
	CodeNotFitted     = "NOT_FITTED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeWriteFailed    = "WRITE_FAILED"

	// Manifest codes
	CodeWriteConflict = "WRITE_CONFLICT"
	CodeRunNotFound   = "RUN_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// PipelineError is the structured error type used throughout the system.
type PipelineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string. Details are rendered in key order so
// that messages are stable.
func (e *PipelineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s] %s", e.Category, e.Code, e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Details[k])
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(category ErrorCategory, code, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details merged in.
func (e *PipelineError) WithDetails(details map[string]interface{}) *PipelineError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+len(details))
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	for k, v := range details {
		cp.Details[k] = v
	}
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCategory(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryManifest && code == CodeWriteConflict:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

// NewInputError reports malformed source data for the given file.
func NewInputError(code, file, message string) *PipelineError {
	return New(ErrCategoryInput, code, message).WithDetails(map[string]interface{}{"file": file})
}

// NewColumnError reports a problem with one column of one file.
func NewColumnError(code, file, column, message string) *PipelineError {
	return New(ErrCategoryInput, code, message).WithDetails(map[string]interface{}{
		"file":   file,
		"column": column,
	})
}

func NewModelError(code, message string) *PipelineError {
	return New(ErrCategoryModel, code, message)
}

func NewStorageError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewManifestError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryManifest, code, message, cause)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
