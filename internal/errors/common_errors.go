package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeConfig       ErrorType = "CONFIGURATION"
	ErrTypeNotFound     ErrorType = "NOT_FOUND"
	ErrTypeMissingCol   ErrorType = "MISSING_COLUMN"
	ErrTypeParsing      ErrorType = "PARSE"
	ErrTypeDuplicateKey ErrorType = "DUPLICATE_KEY"
	ErrTypeRowAlignment ErrorType = "ROW_ALIGNMENT"
	ErrTypeLagJoin      ErrorType = "LAG_JOIN"
	ErrTypeStorage      ErrorType = "STORAGE"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// typed is implemented by every error in this package that carries an
// ErrorType.
type typed interface {
	errorType() ErrorType
}

func (e *AppError) errorType() ErrorType { return e.Type }

// TypeOf returns the ErrorType of the first typed error in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var t typed
	if errors.As(err, &t) {
		return t.errorType(), true
	}
	return "", false
}

// IsType reports whether err's chain carries an error of type errType.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		if t, ok := err.(typed); ok && t.errorType() == errType {
			return true
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				if IsType(e, errType) {
					return true
				}
			}
			return false
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Helper functions for common error types

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// NewParsingError creates a parsing-related error
func NewParsingError(message string, cause error) *AppError {
	return NewAppError(ErrTypeParsing, message, cause)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewLagJoinError records the failure of a single lag. It is recoverable:
// the batch continues without output for that lag.
func NewLagJoinError(lag int, cause error) *AppError {
	return NewAppError(ErrTypeLagJoin, fmt.Sprintf("lag %d failed", lag), cause).
		WithContext("lag", lag)
}
