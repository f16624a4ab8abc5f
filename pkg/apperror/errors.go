package apperror

import (
	"fmt"
	"net/http"
	"time"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Chain providers (CHAIN) ----

func ErrProviderRateLimited(provider string, retryAfter time.Duration) *AppError {
	return New("CHAIN_001",
		fmt.Sprintf("%s is rate limited, retry in %s", provider, retryAfter.Round(time.Second)),
		http.StatusTooManyRequests)
}

func ErrProviderUnavailable(provider string, err error) *AppError {
	return Wrap("CHAIN_002", fmt.Sprintf("%s is unavailable", provider), http.StatusBadGateway, err)
}

// ---- Payment Business Logic (PAY) ----

func ErrNotFound(entity string) *AppError {
	return New("PAY_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrMalformedAmount(err error) *AppError {
	return Wrap("PAY_008", "Expected amount is not a valid decimal", http.StatusUnprocessableEntity, err)
}

// Validation returns a PAY_002-style validation error.
func Validation(message string) *AppError {
	return New("PAY_002", message, http.StatusBadRequest)
}

// ---- Security & Authentication (SEC / AUTH) ----

func ErrInvalidWebhookCredentials() *AppError {
	return New("SEC_001", "Invalid webhook credentials", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Configuration (CFG) ----

func ErrConfigurationMissing(setting string) *AppError {
	return New("CFG_001", fmt.Sprintf("missing required setting %s", setting), http.StatusInternalServerError)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
