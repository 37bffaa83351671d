// Package errors provides structured error types for the Tracefold engine.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by engine component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryIngest     ErrorCategory = "INGEST"
	ErrCategoryStore      ErrorCategory = "STORE"
	ErrCategoryRecovery   ErrorCategory = "RECOVERY"
	ErrCategoryRetention  ErrorCategory = "RETENTION"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidEvent  = "INVALID_EVENT"
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeEmptyBatch    = "EMPTY_BATCH"

	// Ingest codes
	CodeQueueFull       = "QUEUE_FULL"
	CodeQueueClosed     = "QUEUE_CLOSED"
	CodeSubmitCancelled = "SUBMIT_CANCELLED"

	// Store codes
	CodeWriteFailed      = "WRITE_FAILED"
	CodeCommitConflict   = "COMMIT_CONFLICT"
	CodePayloadCorrupt   = "PAYLOAD_CORRUPT"
	CodeRetriesExhausted = "RETRIES_EXHAUSTED"

	// Recovery codes
	CodeCorruptStore = "CORRUPT_STORE"
	CodeNotRecovered = "NOT_RECOVERED"

	// Retention codes
	CodeSweepFailed = "SWEEP_FAILED"

	// Query codes
	CodeBadFilter = "BAD_FILTER"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// EngineError is the structured error type used throughout the engine.
type EngineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *EngineError) Is(target error) bool {
	var t *EngineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new EngineError.
func New(category ErrorCategory, code, message string) *EngineError {
	return &EngineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new EngineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *EngineError {
	return &EngineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *EngineError) WithDetails(details map[string]interface{}) *EngineError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an EngineError.
func GetCategory(err error) ErrorCategory {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an EngineError.
func GetCode(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// isRetryable determines if an error code represents a transient condition.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryIngest && code == CodeQueueFull:
		return true
	case category == ErrCategoryStore && code == CodeWriteFailed:
		return true
	case category == ErrCategoryStore && code == CodeCommitConflict:
		return true
	case category == ErrCategoryRetention && code == CodeSweepFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *EngineError {
	return New(ErrCategoryValidation, code, message)
}

func NewIngestError(code, message string) *EngineError {
	return New(ErrCategoryIngest, code, message)
}

func NewStoreError(code, message string, cause error) *EngineError {
	return Wrap(ErrCategoryStore, code, message, cause)
}

func NewRecoveryError(code, message string, cause error) *EngineError {
	return Wrap(ErrCategoryRecovery, code, message, cause)
}

func NewRetentionError(message string, cause error) *EngineError {
	return Wrap(ErrCategoryRetention, CodeSweepFailed, message, cause)
}

func NewQueryError(code, message string) *EngineError {
	return New(ErrCategoryQuery, code, message)
}

func NewInternalError(message string, cause error) *EngineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
