// Package errors provides error code definitions for the local ledger store.
package errors

import "fmt"

// ErrorCode identifies a class of failure surfaced by the storage engine.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Storage errors
	ErrDatabase      ErrorCode = "DATABASE_ERROR"
	ErrPoolExhausted ErrorCode = "POOL_EXHAUSTED"
	ErrPoolClosed    ErrorCode = "POOL_CLOSED"
	ErrConstraint    ErrorCode = "CONSTRAINT_VIOLATION"
	ErrMissingTable  ErrorCode = "MISSING_TABLE"

	// Migration errors
	ErrMigration         ErrorCode = "MIGRATION_FAILED"
	ErrChecksumMismatch  ErrorCode = "MIGRATION_CHECKSUM_MISMATCH"
	ErrMigrationNotFound ErrorCode = "MIGRATION_NOT_FOUND"

	// Sync queue errors
	ErrQueueItemNotFound ErrorCode = "QUEUE_ITEM_NOT_FOUND"
	ErrQueueItemState    ErrorCode = "QUEUE_ITEM_STATE"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the error code of err, or ErrInternal if err is not an AppError.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}
