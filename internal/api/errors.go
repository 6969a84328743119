package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/p-arndt/sandkastendb/internal/pool"
	"github.com/p-arndt/sandkastendb/internal/sandbox"
	"github.com/p-arndt/sandkastendb/internal/store"
)

// Error codes returned in API responses
const (
	ErrCodePoolExhausted      = "POOL_EXHAUSTED"
	ErrCodePoolClosed         = "POOL_CLOSED"
	ErrCodeInvalidKey         = "INVALID_KEY"
	ErrCodeRemoteOpenDisabled = "REMOTE_OPEN_DISABLED"
	ErrCodeConnectionFailed   = "CONNECTION_FAILED"
	ErrCodeStatementFailed    = "STATEMENT_FAILED"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeCanceled           = "CANCELED"
	ErrCodeSandboxNotFound    = "SANDBOX_NOT_FOUND"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string                 `json:"error_code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeAPIError writes a structured error response with appropriate HTTP status
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr APIError
	statusCode := http.StatusInternalServerError
	var createErr *pool.CreateError

	switch {
	case errors.Is(err, pool.ErrExhausted):
		apiErr = APIError{Code: ErrCodePoolExhausted, Message: err.Error()}
		statusCode = http.StatusServiceUnavailable

	case errors.Is(err, pool.ErrClosed):
		apiErr = APIError{Code: ErrCodePoolClosed, Message: err.Error()}
		statusCode = http.StatusServiceUnavailable

	case errors.Is(err, sandbox.ErrInvalidKey):
		apiErr = APIError{Code: ErrCodeInvalidKey, Message: err.Error()}
		statusCode = http.StatusBadRequest

	case errors.As(err, &createErr):
		apiErr = APIError{
			Code:    ErrCodeConnectionFailed,
			Message: err.Error(),
			Details: map[string]interface{}{"key": createErr.Key},
		}
		statusCode = http.StatusBadGateway

	case errors.Is(err, context.DeadlineExceeded):
		apiErr = APIError{Code: ErrCodeTimeout, Message: err.Error()}
		statusCode = http.StatusGatewayTimeout

	case errors.Is(err, context.Canceled):
		apiErr = APIError{Code: ErrCodeCanceled, Message: err.Error()}
		statusCode = http.StatusServiceUnavailable

	case errors.Is(err, store.ErrNotFound):
		apiErr = APIError{Code: ErrCodeSandboxNotFound, Message: err.Error()}
		statusCode = http.StatusNotFound

	default:
		apiErr = APIError{Code: ErrCodeInternalError, Message: err.Error()}
		statusCode = http.StatusInternalServerError
	}

	writeError(w, statusCode, apiErr)
}

// writeValidationError writes a 400 Bad Request with validation details
func writeValidationError(w http.ResponseWriter, message string, details map[string]interface{}) {
	writeError(w, http.StatusBadRequest, APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	})
}

// writeUnauthorizedError writes a 401 Unauthorized error
func writeUnauthorizedError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	})
}

func writeError(w http.ResponseWriter, status int, apiErr APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiErr)
}
