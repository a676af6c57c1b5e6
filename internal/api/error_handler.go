package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tgauth/internal/auth"
	"tgauth/internal/users"
)

// ErrorCode represents different error types
type ErrorCode string

const (
	ErrCodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT"
	ErrCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeValidationError    ErrorCode = "VALIDATION_ERROR"
	ErrCodeTooLarge           ErrorCode = "REQUEST_TOO_LARGE"
)

// Rejected init data never says which check failed.
const invalidAuthMessage = "invalid authentication data"

// APIError represents a structured API error
type APIError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ErrorResponse represents the complete error response
type ErrorResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Error   *APIError `json:"error"`
}

type ErrorHandler struct {
	log *zap.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(log *zap.Logger) *ErrorHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ErrorHandler{log: log}
}

// HandleError classifies err and writes the error envelope.
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, status := classifyError(err)
	apiErr.RequestID = middleware.GetReqID(r.Context())

	if status >= http.StatusInternalServerError {
		eh.log.Error("request failed",
			zap.String("request_id", apiErr.RequestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("error_code", string(apiErr.Code)),
			zap.Error(err),
		)
	}

	writeErrorResponse(w, apiErr, status)
}

func classifyError(err error) (*APIError, int) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		cp := *apiErr
		if cp.Timestamp.IsZero() {
			cp.Timestamp = time.Now()
		}
		return &cp, statusForError(&cp)
	}

	switch {
	case errors.Is(err, auth.ErrMalformed):
		return newAPIError(ErrCodeInvalidRequest, invalidAuthMessage), http.StatusBadRequest
	case errors.Is(err, auth.ErrMissingUser):
		return newAPIError(ErrCodeInvalidRequest, "user data not found"), http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidSignature), errors.Is(err, auth.ErrExpired):
		return newAPIError(ErrCodeUnauthorized, invalidAuthMessage), http.StatusUnauthorized
	case errors.Is(err, auth.ErrInvalidToken):
		return newAPIError(ErrCodeUnauthorized, "invalid token"), http.StatusUnauthorized
	case errors.Is(err, users.ErrNotFound):
		return newAPIError(ErrCodeNotFound, "user not found"), http.StatusNotFound
	case errors.Is(err, auth.ErrStoreUnavailable):
		return newAPIError(ErrCodeServiceUnavailable, "user store unavailable"), http.StatusBadGateway
	default:
		return newAPIError(ErrCodeInternalError, "internal server error"), http.StatusInternalServerError
	}
}

func statusForError(e *APIError) int {
	switch e.Code {
	case ErrCodeInvalidRequest, ErrCodeValidationError:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErrorResponse(w http.ResponseWriter, apiErr *APIError, status int) {
	writeJSON(w, status, ErrorResponse{
		Success: false,
		Message: apiErr.Message,
		Error:   apiErr,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RecoveryMiddleware turns panics into a 500 envelope.
func (eh *ErrorHandler) RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			eh.log.Error("panic recovered",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			apiErr := NewInternalError("internal server error")
			apiErr.RequestID = middleware.GetReqID(r.Context())
			writeErrorResponse(w, apiErr, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

func newAPIError(code ErrorCode, message string) *APIError {
	return &APIError{Code: code, Message: message, Timestamp: time.Now()}
}

func NewInvalidRequestError(message string) *APIError {
	return newAPIError(ErrCodeInvalidRequest, message)
}

func NewUnauthorizedError(message string) *APIError {
	return newAPIError(ErrCodeUnauthorized, message)
}

func NewNotFoundError(message string) *APIError {
	return newAPIError(ErrCodeNotFound, message)
}

func NewRateLimitError() *APIError {
	return newAPIError(ErrCodeRateLimit, "too many requests")
}

func NewTooLargeError() *APIError {
	return newAPIError(ErrCodeTooLarge, "request body too large")
}

func NewInternalError(message string) *APIError {
	return newAPIError(ErrCodeInternalError, message)
}
