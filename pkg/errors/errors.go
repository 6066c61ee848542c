package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common application errors
var (
	// Input/output errors
	ErrFileNotFound = errors.New("input file not found")
	ErrIO           = errors.New("output write failed")

	// Data errors
	ErrSchemaMismatch = errors.New("required canonical column missing")
	ErrCoercion       = errors.New("non-numeric value in numeric column")
	ErrInvalidInput   = errors.New("invalid input data")
	ErrInvalidFormat  = errors.New("invalid file format")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrConfigurationLoad    = errors.New("failed to load configuration")

	// Storage errors
	ErrStorageConnectionFailed = errors.New("storage connection failed")
	ErrStorageWriteFailed      = errors.New("storage write failed")
	ErrStorageReadFailed       = errors.New("storage read failed")

	// Internal errors
	ErrInternal = errors.New("internal error")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeFileNotFound   ErrorType = "file_not_found"
	ErrorTypeIO             ErrorType = "io"
	ErrorTypeSchemaMismatch ErrorType = "schema_mismatch"
	ErrorTypeCoercion       ErrorType = "coercion"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeConfiguration  ErrorType = "configuration"
	ErrorTypeStorage        ErrorType = "storage"
	ErrorTypeInternal       ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details string                 `json:"details,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s - %s", msg, e.Details)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError of the same type and code, or the
// sentinel that corresponds to this error's type.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.Type == t.Type && e.Code == t.Code
	}
	return target != nil && target == sentinelFor(e.Type)
}

// Fatal reports whether the error must abort a pipeline run.
func (e *AppError) Fatal() bool {
	return e.Type != ErrorTypeCoercion
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// NewFileNotFoundError reports a missing input path.
func NewFileNotFoundError(path string) *AppError {
	return NewAppError(ErrorTypeFileNotFound, CodeFileNotFound, "input file does not exist").
		WithContext("path", path).
		WithDetails(path)
}

// NewIOError wraps a failure to write the output destination.
func NewIOError(err error, dest string) *AppError {
	return WrapError(err, ErrorTypeIO, CodeWriteFailed, fmt.Sprintf("failed to write %s", dest)).
		WithContext("destination", dest)
}

// NewSchemaMismatchError lists canonical columns absent after reconciliation.
func NewSchemaMismatchError(missing []string) *AppError {
	sorted := append([]string(nil), missing...)
	sort.Strings(sorted)
	return NewAppError(ErrorTypeSchemaMismatch, CodeSchemaMismatch, "required columns missing after reconciliation").
		WithDetails(strings.Join(sorted, ", ")).
		WithContext("missing", sorted)
}

// NewCoercionWarning records non-numeric cells coerced to missing.
func NewCoercionWarning(column string, count int) *AppError {
	return NewAppError(ErrorTypeCoercion, CodeCoerced, "non-numeric values coerced to missing").
		WithDetails(fmt.Sprintf("%s: %d", column, count)).
		WithContext("column", column).
		WithContext("count", count)
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return NewAppError(ErrorTypeValidation, code, message)
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(code, message string) *AppError {
	return NewAppError(ErrorTypeConfiguration, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, CodeInternalError, message)
}

// TypeOf returns the ErrorType of the first AppError in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type, true
	}
	return "", false
}

// AsAppError returns the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func sentinelFor(errType ErrorType) error {
	switch errType {
	case ErrorTypeFileNotFound:
		return ErrFileNotFound
	case ErrorTypeIO:
		return ErrIO
	case ErrorTypeSchemaMismatch:
		return ErrSchemaMismatch
	case ErrorTypeCoercion:
		return ErrCoercion
	case ErrorTypeValidation:
		return ErrInvalidInput
	case ErrorTypeConfiguration:
		return ErrInvalidConfiguration
	case ErrorTypeInternal:
		return ErrInternal
	default:
		return nil
	}
}

// ValidationErrorDetail represents detailed validation error information
type ValidationErrorDetail struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
}

// ValidationErrors represents multiple validation errors
type ValidationErrors struct {
	Message string                  `json:"message"`
	Errors  []ValidationErrorDetail `json:"errors"`
}

// Error implements the error interface for ValidationErrors
func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return ve.Message
	}
	parts := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return fmt.Sprintf("%s: %s", ve.Message, strings.Join(parts, "; "))
}

// Is lets callers match ValidationErrors against ErrInvalidConfiguration.
func (ve *ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// Add adds a validation error
func (ve *ValidationErrors) Add(field, code, message string, value interface{}) {
	ve.Errors = append(ve.Errors, ValidationErrorDetail{
		Field:   field,
		Value:   value,
		Message: message,
		Code:    code,
	})
}

// HasErrors checks if there are any validation errors
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// NewValidationErrors creates a new ValidationErrors instance
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Message: "Validation failed",
		Errors:  make([]ValidationErrorDetail, 0),
	}
}

// Error codes for different error scenarios
const (
	// Input/output error codes
	CodeFileNotFound = "FILE_NOT_FOUND"
	CodeReadFailed   = "READ_FAILED"
	CodeWriteFailed  = "WRITE_FAILED"

	// Data error codes
	CodeInvalidInput   = "INVALID_INPUT"
	CodeInvalidFormat  = "INVALID_FORMAT"
	CodeMissingField   = "MISSING_FIELD"
	CodeOutOfRange     = "OUT_OF_RANGE"
	CodeSchemaMismatch = "SCHEMA_MISMATCH"
	CodeCoerced        = "COERCED_TO_MISSING"
	CodeDuplicateName  = "DUPLICATE_COLUMN"
	CodeLengthMismatch = "LENGTH_MISMATCH"

	// Warning codes
	CodeLowConfidence   = "LOW_CONFIDENCE_MATCH"
	CodeUnmappedValue   = "UNMAPPED_VALUE"
	CodeIncompleteValue = "INCOMPLETE_NORMALIZATION"

	// Configuration error codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Storage error codes
	CodeStorageError     = "STORAGE_ERROR"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeUnsupportedType  = "UNSUPPORTED_TYPE"

	// Internal error codes
	CodeInternalError = "INTERNAL_ERROR"
)
