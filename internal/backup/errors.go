package backup

import (
	"errors"
	"fmt"
)

// OrchestrationError represents errors that occur during backup orchestration
type OrchestrationError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *OrchestrationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *OrchestrationError) Unwrap() error {
	return e.Cause
}

// ErrorType represents different classes of orchestration errors
type ErrorType string

const (
	ErrorTypeSourceRead     ErrorType = "SOURCE_READ_ERROR"
	ErrorTypeTransform      ErrorType = "TRANSFORM_ERROR"
	ErrorTypeStorageWrite   ErrorType = "STORAGE_WRITE_ERROR"
	ErrorTypeStorageRead    ErrorType = "STORAGE_READ_ERROR"
	ErrorTypeManifest       ErrorType = "MANIFEST_CONFLICT_ERROR"
	ErrorTypeLockContention ErrorType = "LOCK_CONTENTION_ERROR"
	ErrorTypeRetention      ErrorType = "RETENTION_POLICY_ERROR"
	ErrorTypeReconciliation ErrorType = "RECONCILIATION_ERROR"
	ErrorTypeValidation     ErrorType = "VALIDATION_ERROR"
	ErrorTypeConfiguration  ErrorType = "CONFIGURATION_ERROR"
	ErrorTypeNotFound       ErrorType = "NOT_FOUND_ERROR"
)

// NewOrchestrationError creates a new OrchestrationError
func NewOrchestrationError(errorType ErrorType, message string, cause error) *OrchestrationError {
	return &OrchestrationError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *OrchestrationError) WithContext(key string, value interface{}) *OrchestrationError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Common error constructors

func NewSourceReadError(message string, cause error) *OrchestrationError {
	return NewOrchestrationError(ErrorTypeSourceRead, message, cause)
}

func NewTransformError(message string, cause error) *OrchestrationError {
	return NewOrchestrationError(ErrorTypeTransform, message, cause)
}

func NewStorageWriteError(message string, cause error) *OrchestrationError {
	return NewOrchestrationError(ErrorTypeStorageWrite, message, cause)
}

func NewStorageReadError(message string, cause error) *OrchestrationError {
	return NewOrchestrationError(ErrorTypeStorageRead, message, cause)
}

func NewManifestConflictError(message string, cause error) *OrchestrationError {
	return NewOrchestrationError(ErrorTypeManifest, message, cause)
}

func NewLockContentionError(message string, cause error) *OrchestrationError {
	return NewOrchestrationError(ErrorTypeLockContention, message, cause)
}

func NewRetentionPolicyError(message string, cause error) *OrchestrationError {
	return NewOrchestrationError(ErrorTypeRetention, message, cause)
}

func NewReconciliationError(message string, cause error) *OrchestrationError {
	return NewOrchestrationError(ErrorTypeReconciliation, message, cause)
}

func NewValidationError(message string, cause error) *OrchestrationError {
	return NewOrchestrationError(ErrorTypeValidation, message, cause)
}

func NewConfigurationError(message string, cause error) *OrchestrationError {
	return NewOrchestrationError(ErrorTypeConfiguration, message, cause)
}

func NewNotFoundError(message string, cause error) *OrchestrationError {
	return NewOrchestrationError(ErrorTypeNotFound, message, cause)
}

// IsErrorType reports whether err (or anything it wraps) carries the given type
func IsErrorType(err error, errorType ErrorType) bool {
	var oerr *OrchestrationError
	if errors.As(err, &oerr) {
		return oerr.Type == errorType
	}
	return false
}

// IsLockContention reports whether err is the "already running" signal
func IsLockContention(err error) bool {
	return IsErrorType(err, ErrorTypeLockContention)
}

// ValidationError represents validation-specific errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// IsRetryable determines if an error is worth retrying on the next trigger
func IsRetryable(err error) bool {
	var oerr *OrchestrationError
	if errors.As(err, &oerr) {
		switch oerr.Type {
		case ErrorTypeStorageWrite, ErrorTypeStorageRead, ErrorTypeSourceRead:
			return true
		default:
			return false
		}
	}
	return false
}

// IsPermanent determines if an error is permanent and should not be retried
func IsPermanent(err error) bool {
	var oerr *OrchestrationError
	if errors.As(err, &oerr) {
		switch oerr.Type {
		case ErrorTypeValidation, ErrorTypeConfiguration, ErrorTypeManifest, ErrorTypeRetention:
			return true
		default:
			return false
		}
	}
	return false
}
