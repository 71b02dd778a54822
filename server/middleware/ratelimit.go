package middleware

import (
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var errRateLimited = errors.New("rate limit exceeded")

// V1UserRateLimitMiddleware gives each authenticated user its own limiter.
// It must run after V1AuthMiddleware.
func V1UserRateLimitMiddleware(limit rate.Limit, burst int, logger *zap.Logger) func(http.Handler) http.Handler {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limiterFor := func(userID string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[userID]
		if !ok {
			l = rate.NewLimiter(limit, burst)
			limiters[userID] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _ := GetUserID(r.Context())
			if !limiterFor(userID).Allow() {
				logRateLimited(logger, r)
				sendErrorResponse(w, logger, errRateLimited, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func logRateLimited(logger *zap.Logger, r *http.Request) {
	logger.Warn("Request rate limited",
		zap.String("method", r.Method),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()))
}
