package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/auth"
	"github.com/ebogdum/bundlefs/core"
	"github.com/ebogdum/bundlefs/server/middleware"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// errorStatus maps an error to its HTTP status and error code
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrAuthenticationFailed):
		return http.StatusUnauthorized, "AUTHENTICATION_FAILED"
	case errors.Is(err, auth.ErrPermissionDenied):
		return http.StatusForbidden, "PERMISSION_DENIED"
	}

	switch core.KindOf(err) {
	case core.ErrInvalidInput:
		return http.StatusBadRequest, "INVALID_INPUT"
	case core.ErrSizeMismatch:
		return http.StatusBadRequest, "SIZE_MISMATCH"
	case core.ErrInvalidPath:
		return http.StatusBadRequest, "INVALID_PATH"
	case core.ErrAlreadyExists:
		return http.StatusConflict, "FILE_ALREADY_EXISTS"
	case core.ErrResourceLocked:
		return http.StatusLocked, "RESOURCE_LOCKED"
	case core.ErrForbidden:
		return http.StatusForbidden, "FORBIDDEN"
	case core.ErrServiceUnavailable:
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// SendErrorResponse sends a standardized JSON error response
func SendErrorResponse(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	statusCode, errorCode := errorStatus(err)

	response := ErrorResponse{
		Code:      errorCode,
		Message:   err.Error(),
		RequestID: w.Header().Get(middleware.RequestIDHeader),
	}
	if statusCode == http.StatusInternalServerError {
		// causes may carry backend paths; only the commit message is shown
		response.Message = "internal error"
		var commitErr *core.CommitError
		if errors.As(err, &commitErr) && commitErr.Message != "" {
			response.Message = commitErr.Message
		}
	}
	if statusCode == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("Failed to encode error response", zap.Error(err))
	}

	logger.Info("Error response sent",
		zap.String("method", r.Method),
		zap.String("error_code", errorCode),
		zap.Int("status_code", statusCode),
		zap.Error(err))
}

// SendJSONResponse sends a JSON response with any data structure
func SendJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}
