// Package errors provides the structured error type used across the
// evolution loop, distinguishing configuration/invariant failures from
// recoverable operational failures and safety violations.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// Validation errors (3xxx)
	ErrCodeInvalidInput     ErrorCode = "VAL_3001"
	ErrCodeMissingParameter ErrorCode = "VAL_3002"
	ErrCodeOutOfRange       ErrorCode = "VAL_3004"

	// Resource errors (4xxx)
	ErrCodeNotFound ErrorCode = "RES_4001"
	ErrCodeConflict ErrorCode = "RES_4003"

	// Service errors (5xxx)
	ErrCodeInternal          ErrorCode = "SVC_5001"
	ErrCodeTimeout           ErrorCode = "SVC_5005"
	ErrCodeRateLimitExceeded ErrorCode = "SVC_5006"

	// Core evolution-loop errors (8xxx): configuration/invariant, gate,
	// ledger-integrity, and router failures — see §7 error taxonomy.
	ErrCodeConfigInvalid      ErrorCode = "CORE_8001"
	ErrCodeGateViolation      ErrorCode = "CORE_8002"
	ErrCodeLedgerIntegrity    ErrorCode = "CORE_8003"
	ErrCodeNoProviderAvailable ErrorCode = "CORE_8004"
	ErrCodeBudgetExceeded     ErrorCode = "CORE_8005"
)

// ServiceError represents a structured error with code, message, and HTTP status.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Validation errors

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func OutOfRange(field string, minValue, maxValue interface{}) *ServiceError {
	return New(ErrCodeOutOfRange, "value out of range", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("min", minValue).
		WithDetails("max", maxValue)
}

// Resource errors

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// Service errors

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimitExceeded, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Core errors

// ConfigInvalid reports a configuration-validation failure. Fatal at
// startup per the error taxonomy; never swallowed.
func ConfigInvalid(reason string) *ServiceError {
	return New(ErrCodeConfigInvalid, "configuration invalid", http.StatusUnprocessableEntity).
		WithDetails("reason", reason)
}

// GateViolation reports a failed safety gate. The cycle driver turns this
// into a ROLLBACK or CYCLE_ABORT ledger record, never a promoted state.
func GateViolation(gate string, value, threshold float64) *ServiceError {
	return New(ErrCodeGateViolation, "safety gate failed", http.StatusUnprocessableEntity).
		WithDetails("gate", gate).
		WithDetails("value", value).
		WithDetails("threshold", threshold)
}

// LedgerIntegrity reports a hash-chain break found by chain verification.
func LedgerIntegrity(rowID int64, reason string) *ServiceError {
	return New(ErrCodeLedgerIntegrity, "ledger integrity violation", http.StatusInternalServerError).
		WithDetails("row_id", rowID).
		WithDetails("reason", reason)
}

// NoProviderAvailable reports that every provider and fallback was
// exhausted. The router recovers everything up to this point locally;
// only this terminal outcome reaches the cycle driver.
func NoProviderAvailable(attempted []string) *ServiceError {
	return New(ErrCodeNoProviderAvailable, "no provider available", http.StatusServiceUnavailable).
		WithDetails("attempted", attempted)
}

// BudgetExceeded reports a hard daily-budget block.
func BudgetExceeded(spent, limit float64) *ServiceError {
	return New(ErrCodeBudgetExceeded, "daily budget exceeded", http.StatusPaymentRequired).
		WithDetails("spent", spent).
		WithDetails("limit", limit)
}

// Helper functions

// IsServiceError checks if an error is a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
