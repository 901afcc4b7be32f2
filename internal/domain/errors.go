package domain

import (
	"fmt"
	"time"
)

// ScreeningError represents a standardized error response
type ScreeningError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *ScreeningError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput       = "INVALID_INPUT"
	ErrValidation         = "VALIDATION_ERROR"
	ErrDatabaseError      = "DATABASE_ERROR"
	ErrSourceUnavailable  = "SOURCE_UNAVAILABLE"
	ErrInvariant          = "INVARIANT_VIOLATION"
	ErrNotFoundCode       = "NOT_FOUND"
	ErrRateLimit          = "RATE_LIMIT_EXCEEDED"
	ErrInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrRequestTimeoutCode = "REQUEST_TIMEOUT"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewScreeningError creates a new ScreeningError with timestamp
func NewScreeningError(code, message, details, requestID string) *ScreeningError {
	return &ScreeningError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// InvariantError wraps ErrInvariantViolation with the stage and patient it occurred in.
func InvariantError(stage, patientID, format string, args ...interface{}) error {
	return fmt.Errorf("%s: patient %s: %s: %w", stage, patientID, fmt.Sprintf(format, args...), ErrInvariantViolation)
}
