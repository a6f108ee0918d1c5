// Package errors provides structured error types for the Tallyline engine.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategorySource     ErrorCategory = "SOURCE"
	ErrCategoryLinkage    ErrorCategory = "LINKAGE"
	ErrCategoryProjection ErrorCategory = "PROJECTION"
	ErrCategoryParity     ErrorCategory = "PARITY"
	ErrCategoryRun        ErrorCategory = "RUN"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeMalformedPayload = "MALFORMED_PAYLOAD"
	CodeNoIdentifier     = "NO_IDENTIFIER"

	// Source codes
	CodeSourceUnavailable = "SOURCE_UNAVAILABLE"
	CodeSourceTimeout     = "SOURCE_TIMEOUT"
	CodeVersionQuery      = "VERSION_QUERY_FAILED"

	// Linkage codes
	CodeDuplicateMatch = "DUPLICATE_MATCH"

	// Projection codes
	CodeWriteFailed = "PROJECTION_WRITE_FAILED"
	CodeSwapFailed  = "PROJECTION_SWAP_FAILED"

	// Parity codes
	CodeAuditFailed = "AUDIT_FAILED"

	// Run codes
	CodeRunNotFound       = "RUN_NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// TallyError is the structured error type used throughout the engine.
type TallyError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *TallyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *TallyError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *TallyError) Is(target error) bool {
	var t *TallyError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new TallyError.
func New(category ErrorCategory, code, message string) *TallyError {
	return &TallyError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new TallyError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *TallyError {
	return &TallyError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *TallyError) WithDetails(details map[string]interface{}) *TallyError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var te *TallyError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a TallyError.
func GetCategory(err error) ErrorCategory {
	var te *TallyError
	if errors.As(err, &te) {
		return te.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a TallyError.
func GetCode(err error) string {
	var te *TallyError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. Retrying is the
// caller's job (the engine never retries mid-run), so the flag only guides
// the external scheduler.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategorySource && code == CodeSourceUnavailable:
		return true
	case category == ErrCategorySource && code == CodeSourceTimeout:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *TallyError {
	return New(ErrCategoryValidation, code, message)
}

func NewSourceError(code, message string, cause error) *TallyError {
	return Wrap(ErrCategorySource, code, message, cause)
}

func NewLinkageError(code, message string) *TallyError {
	return New(ErrCategoryLinkage, code, message)
}

func NewProjectionError(code, message string, cause error) *TallyError {
	return Wrap(ErrCategoryProjection, code, message, cause)
}

func NewParityError(message string, cause error) *TallyError {
	return Wrap(ErrCategoryParity, CodeAuditFailed, message, cause)
}

func NewRunError(code, message string) *TallyError {
	return New(ErrCategoryRun, code, message)
}

func NewStorageError(code, message string, cause error) *TallyError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *TallyError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
