// Package server wires the HTTP surface of bundlefs.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ebogdum/bundlefs/auth"
	"github.com/ebogdum/bundlefs/config"
	"github.com/ebogdum/bundlefs/core"
	"github.com/ebogdum/bundlefs/hooks"
	"github.com/ebogdum/bundlefs/metrics"
	"github.com/ebogdum/bundlefs/server/handlers"
	authMiddleware "github.com/ebogdum/bundlefs/server/middleware"
)

// RouterDeps holds everything the router hands to its handlers
type RouterDeps struct {
	Engine        *core.Engine
	Authenticator auth.Authenticator
	Authorizer    auth.Authorizer
	// Notifier receives commit events; nil disables them
	Notifier hooks.Notifier
	// Events serves /v1/events when set
	Events *hooks.Broadcaster
	Upload config.UploadConfig
	// ServeMetrics mounts /metrics on this router
	ServeMetrics bool
}

// NewRouter creates and configures the HTTP router
func NewRouter(deps RouterDeps, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(authMiddleware.V1RequestIDMiddleware())
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(authMiddleware.V1SecurityHeaders())
	r.Use(requestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := handlers.SendJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"}); err != nil {
			logger.Error("Failed to write health check response", zap.Error(err))
		}
	})

	if deps.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.V1AuthMiddleware(deps.Authenticator, logger))

		if deps.Events != nil {
			r.Get("/events", deps.Events.ServeHTTP)
		}

		r.Route("/bundle", func(r chi.Router) {
			if deps.Upload.RateLimit > 0 {
				r.Use(authMiddleware.V1UserRateLimitMiddleware(rate.Limit(deps.Upload.RateLimit), deps.Upload.RateBurst, logger))
			}
			r.Put("/*", handlers.V1PutBundle(deps.Engine, deps.Authorizer, deps.Notifier, deps.Upload, logger))
		})

		r.Post("/files/*", handlers.V1PostFile(deps.Engine, logger))
	})

	logger.Info("HTTP router configured successfully")
	return r
}

// requestLogger records HTTP metrics and logs each request. Metrics are
// labelled by route pattern so file paths never become label values.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", duration),
				zap.Int("bytes_written", ww.BytesWritten()),
				zap.String("request_id", authMiddleware.GetRequestID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}
