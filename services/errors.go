package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	// Provider-call taxonomy used by the orchestrator
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeTransient     ErrorType = "transient"
	ErrorTypeRateLimited   ErrorType = "rate_limited"
	ErrorTypeSerious       ErrorType = "serious"
	ErrorTypeTotalOutage   ErrorType = "total_outage"

	// HTTP surface
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
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
	// Provider errors
	ErrUnknownProvider    = NewDomainError(ErrorTypeConfiguration, "unknown provider", nil)
	ErrMissingCredential  = NewDomainError(ErrorTypeConfiguration, "provider credential missing", nil)
	ErrProviderTimeout    = NewDomainError(ErrorTypeTransient, "provider timeout", nil)
	ErrMalformedResponse  = NewDomainError(ErrorTypeTransient, "malformed provider response", nil)
	ErrProviderThrottled  = NewDomainError(ErrorTypeRateLimited, "provider rate limited", nil)
	ErrProviderFault      = NewDomainError(ErrorTypeSerious, "provider fault", nil)
	ErrAllProvidersFailed = NewDomainError(ErrorTypeTotalOutage, "all providers unavailable", nil)

	// Request errors
	ErrInvalidInput   = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrEmptyMessages  = NewDomainError(ErrorTypeValidation, "messages cannot be empty", nil)
	ErrUnauthorized   = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken   = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrNotFound       = NewDomainError(ErrorTypeNotFound, "resource not found", nil)
	ErrInternal       = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrCacheFailed    = NewDomainError(ErrorTypeInternal, "cache operation failed", nil)
	ErrDatabaseError  = NewDomainError(ErrorTypeInternal, "database error", nil)
)

// Error type checking helper functions

func isType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	return isType(err, ErrorTypeConfiguration)
}

// IsTransientError checks if an error is a transient network error
func IsTransientError(err error) bool {
	return isType(err, ErrorTypeTransient)
}

// IsRateLimitedError checks if an error is a rate limit error
func IsRateLimitedError(err error) bool {
	return isType(err, ErrorTypeRateLimited)
}

// IsSeriousError checks if an error is a serious provider error
func IsSeriousError(err error) bool {
	return isType(err, ErrorTypeSerious)
}

// IsTotalOutageError checks if an error reports that every provider failed
func IsTotalOutageError(err error) bool {
	return isType(err, ErrorTypeTotalOutage)
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return isType(err, ErrorTypeUnauthorized)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
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
