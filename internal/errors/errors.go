// Package errors defines the typed error taxonomy surfaced by the paywall
// services and mapped onto HTTP responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	CodeIdentityRequired   ErrorCode = "IDENTITY_REQUIRED"
	CodeAlreadyUnlocked    ErrorCode = "ALREADY_UNLOCKED"
	CodeSettlementRejected ErrorCode = "SETTLEMENT_REJECTED"
	CodeRecordWriteFailed  ErrorCode = "RECORD_WRITE_FAILED"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeValidation         ErrorCode = "VALIDATION_FAILED"
	CodeConflict           ErrorCode = "CONFLICT"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeForbidden          ErrorCode = "FORBIDDEN"
	CodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	CodeRateLimitExceeded  ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeUnavailable        ErrorCode = "UNAVAILABLE"
	CodeInternal           ErrorCode = "INTERNAL"
)

// ServiceError carries a code, a user-safe message and the HTTP status it maps
// to. The wrapped Err is for logs only and is never rendered to clients.
type ServiceError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches service errors by code so errors.Is works against the sentinels
// below.
func (e *ServiceError) Is(target error) bool {
	var other *ServiceError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// WithDetails returns a copy with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	clone := *e
	clone.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	clone.Details[key] = value
	return &clone
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrIdentityRequired   = newError(CodeIdentityRequired, http.StatusUnauthorized, "identity required", nil)
	ErrSettlementRejected = newError(CodeSettlementRejected, http.StatusPaymentRequired, "payment was not completed", nil)
	ErrRecordWriteFailed  = newError(CodeRecordWriteFailed, http.StatusInternalServerError, "payment received but unlock could not be recorded", nil)
	ErrNotFound           = newError(CodeNotFound, http.StatusNotFound, "not found", nil)
	ErrValidation         = newError(CodeValidation, http.StatusBadRequest, "validation failed", nil)
	ErrConflict           = newError(CodeConflict, http.StatusConflict, "conflict", nil)
	ErrUnauthorized       = newError(CodeUnauthorized, http.StatusUnauthorized, "authentication required", nil)
	ErrInvalidToken       = newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", nil)
	ErrInternal           = newError(CodeInternal, http.StatusInternalServerError, "internal error", nil)
)

func IdentityRequired() *ServiceError {
	return newError(CodeIdentityRequired, http.StatusUnauthorized, "connect a wallet to continue", nil)
}

// AlreadyUnlocked is informational; the caller already has access.
func AlreadyUnlocked(postID string) *ServiceError {
	return newError(CodeAlreadyUnlocked, http.StatusOK, "post already unlocked", nil).WithDetails("post_id", postID)
}

// SettlementRejected carries the settlement's reason verbatim as a detail.
func SettlementRejected(reason string) *ServiceError {
	return newError(CodeSettlementRejected, http.StatusPaymentRequired, "payment was not completed", nil).WithDetails("reason", reason)
}

// RecordWriteFailed keeps the settlement reference so support can reconcile.
func RecordWriteFailed(reference string, err error) *ServiceError {
	return newError(CodeRecordWriteFailed, http.StatusInternalServerError,
		"payment received but unlock could not be recorded", err).WithDetails("reference", reference)
}

func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource), nil).WithDetails("id", id)
}

func Validation(message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil)
}

func Conflict(message string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, nil)
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "forbidden"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", err)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimitExceeded, http.StatusTooManyRequests, "too many requests", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Unavailable reports a feature that is not configured on this deployment.
func Unavailable(feature string) *ServiceError {
	return newError(CodeUnavailable, http.StatusServiceUnavailable, feature+" is not available", nil)
}

func Internal(message string, err error) *ServiceError {
	if message == "" {
		message = "internal error"
	}
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError extracts a ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// HTTPStatus returns the status for err, defaulting to 500.
func HTTPStatus(err error) int {
	if svcErr := GetServiceError(err); svcErr != nil && svcErr.HTTPStatus != 0 {
		return svcErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
