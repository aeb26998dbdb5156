package server

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/grantline/grantline/pkg/telemetry"
)

// requestLogger logs one line per request with method, path, status, and
// duration.
func requestLogger(log *telemetry.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", ww.Status()).
				WithField("duration_ms", time.Since(start).Milliseconds()).
				WithField("request_id", chimiddleware.GetReqID(r.Context())).
				Debug("http request")
		})
	}
}

// rateLimiter applies a process-wide token bucket to all requests. The API is
// an internal control plane, so one shared bucket is sufficient.
func rateLimiter(limit float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
