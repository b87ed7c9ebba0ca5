package middleware

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"

	"imageConverter/dto"
	"imageConverter/ratelimit"
)

// RateLimit gates mutating endpoints with the per-client token bucket.
// Denied requests short-circuit before any validation work runs.
func RateLimit(limiter *ratelimit.Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := clientAddr(r)
			decision := limiter.Check(clientID, 1)
			if !decision.Allowed {
				logger.Warn("Request rate limited",
					zap.String("trace_id", GetTraceID(r.Context())),
					zap.String("client", clientID),
					zap.Float64("retry_after", decision.RetryAfterSeconds),
				)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", decision.RetryAfterSeconds+0.5))
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(dto.ErrorResponse{
					Error:   fmt.Sprintf("rate limit exceeded, retry after %.1f seconds", decision.RetryAfterSeconds),
					Code:    "RATE_LIMITED",
					TraceID: GetTraceID(r.Context()),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr keys buckets by remote IP, ignoring the ephemeral port.
func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
