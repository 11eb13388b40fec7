package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeBudget       ErrorType = "budget"
	ErrorTypeBlocked      ErrorType = "blocked"
	ErrorTypeBackend      ErrorType = "backend"
	ErrorTypeExhausted    ErrorType = "exhausted"
	ErrorTypePersistence  ErrorType = "persistence"
	ErrorTypeInternal     ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrBackendNotFound = NewDomainError(ErrorTypeNotFound, "backend not found in registry", nil)
	ErrOutcomeNotFound = NewDomainError(ErrorTypeNotFound, "task outcome not found", nil)
	ErrTaskNotFound    = NewDomainError(ErrorTypeNotFound, "task not found", nil)

	// Validation Errors
	ErrInvalidInput     = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrEmptyDescription = NewDomainError(ErrorTypeValidation, "task description cannot be empty", nil)
	ErrInvalidMode      = NewDomainError(ErrorTypeValidation, "invalid task mode", nil)
	ErrInvalidRegistry  = NewDomainError(ErrorTypeValidation, "invalid backend registry", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)

	// Rate Limit Errors
	ErrRateLimited = NewDomainError(ErrorTypeRateLimit, "backend rate limit reached", nil)

	// Budget Errors
	ErrBudgetExhausted = NewDomainError(ErrorTypeBudget, "daily budget exhausted", nil)

	// Blocking Errors
	ErrTaskBlocked = NewDomainError(ErrorTypeBlocked, "task requires primary capability unavailable during fallback", nil)

	// Backend Execution Errors
	ErrBackendUnavailable = NewDomainError(ErrorTypeBackend, "backend unavailable", nil)
	ErrBackendTimeout     = NewDomainError(ErrorTypeBackend, "backend call timed out", nil)
	ErrBackendFailed      = NewDomainError(ErrorTypeBackend, "backend call failed", nil)

	// Exhaustion Errors
	ErrAllBackendsFailed = NewDomainError(ErrorTypeExhausted, "every backend in the fallback chain failed", nil)

	// Persistence Errors
	ErrPersistence = NewDomainError(ErrorTypePersistence, "persistence failure", nil)

	// Internal Errors
	ErrInternal = NewDomainError(ErrorTypeInternal, "internal error", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeNotFound
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeValidation
	}
	return false
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeUnauthorized
	}
	return false
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeRateLimit
	}
	return false
}

// IsBudgetError checks if an error is a budget error
func IsBudgetError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeBudget
	}
	return false
}

// IsBlockedError checks if an error is a blocked-by-policy error
func IsBlockedError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeBlocked
	}
	return false
}

// IsBackendError checks if an error is a backend execution error
func IsBackendError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeBackend
	}
	return false
}

// IsExhaustedError checks if an error is a chain exhaustion error
func IsExhaustedError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeExhausted
	}
	return false
}

// IsPersistenceError checks if an error is a persistence error
func IsPersistenceError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypePersistence
	}
	return false
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeInternal
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapPersistence wraps an error as a persistence error
func WrapPersistence(message string, err error) error {
	return NewDomainError(ErrorTypePersistence, message, err)
}

// WrapBackend wraps an error as a backend execution error
func WrapBackend(message string, err error) error {
	return NewDomainError(ErrorTypeBackend, message, err)
}
