package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/auth"
	"github.com/ebogdum/bundlefs/core/log"
)

type contextKey string

const userIDKey contextKey = "userID"

// V1AuthMiddleware creates middleware for API key authentication
func V1AuthMiddleware(authenticator auth.Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Debug("Missing Authorization header")
				sendErrorResponse(w, logger, auth.ErrAuthenticationFailed, http.StatusUnauthorized)
				return
			}

			userID, err := authenticator.Authenticate(r.Context(), authHeader)
			if err != nil {
				logger.Debug("Authentication failed", zap.Error(err))
				sendErrorResponse(w, logger, auth.ErrAuthenticationFailed, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			logger.Debug("User authenticated", zap.String("user_id", log.SanitizeUserID(userID)))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID extracts the user ID from request context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok
}

// WithUserID returns a context carrying userID, as V1AuthMiddleware does
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// sendErrorResponse sends a JSON error response
func sendErrorResponse(w http.ResponseWriter, logger *zap.Logger, err error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	var errorCode string
	switch err {
	case auth.ErrAuthenticationFailed:
		errorCode = "AUTHENTICATION_FAILED"
	case auth.ErrPermissionDenied:
		errorCode = "PERMISSION_DENIED"
	case errRateLimited:
		errorCode = "RATE_LIMIT_EXCEEDED"
	default:
		errorCode = "INTERNAL_ERROR"
	}

	response := map[string]string{
		"code":    errorCode,
		"message": err.Error(),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}

	logger.Info("Error response sent",
		zap.String("error_code", errorCode),
		zap.Int("status_code", statusCode),
		zap.Error(err))
}
