package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
// Business-limit outcomes (Deny reasons) are NOT errors and never appear here;
// these codes cover validation, configuration, not-found, conflict, and
// infrastructure failures only.
type ErrorCode string

const (
	// Validation (400)
	ErrCodeValidationUnknownMetric ErrorCode = "validation_unknown_metric"
	ErrCodeValidationUnits         ErrorCode = "validation_units_not_positive"
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"

	// Configuration (startup/load-time failures; surfacing one of these
	// mid-request indicates a wiring bug, so they map to 500)
	ErrCodeConfigUnknownTier ErrorCode = "config_unknown_tier"
	ErrCodeConfigCatalog     ErrorCode = "config_invalid_catalog"
	ErrCodeConfigQuietHours  ErrorCode = "config_invalid_quiet_hours"

	// Not Found (404)
	ErrCodeNotFoundTenant ErrorCode = "not_found_tenant"
	ErrCodeNotFoundBump   ErrorCode = "not_found_bump_record"

	// Conflict (409)
	ErrCodeConflictBumpExists          ErrorCode = "conflict_bump_already_recorded"
	ErrCodeConflictForgivenessConsumed ErrorCode = "conflict_forgiveness_already_used"
	ErrCodeConflictIdempotency         ErrorCode = "conflict_idempotency_mismatch"

	// Internal/Upstream (500/502). Transient storage failures must be retried
	// by callers with backoff; they are never a business Deny.
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalTxTimeout  ErrorCode = "internal_transaction_timeout"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamBilling    ErrorCode = "upstream_billing_unavailable"
	ErrCodeUpstreamEvents     ErrorCode = "upstream_event_bus_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Transient reports whether the error class is a retriable infrastructure
// failure, as opposed to a permanent validation/config/conflict outcome.
func (c ErrorCode) Transient() bool {
	switch c {
	case ErrCodeInternalDB, ErrCodeInternalTxTimeout,
		ErrCodeUpstreamBilling, ErrCodeUpstreamEvents:
		return true
	}
	return false
}

// AppError is the standard application error type used throughout the engine.
// All domain and handler errors are expressed as AppError to enable consistent
// formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
