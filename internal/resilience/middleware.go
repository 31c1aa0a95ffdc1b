package resilience

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
)

// RateLimitMiddleware rejects requests over the per-client limit with 429.
// Clients are keyed by remote IP; mount it after chi's RealIP middleware.
// onReject, when set, is called for every rejected request.
func RateLimitMiddleware(limiter RateLimiter, onReject func(), logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				// Fail open.
				logger.Warn("rate limiter error", "error", err, "client", key)
				allowed = true
			}
			if !allowed {
				if onReject != nil {
					onReject()
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"msg": "Too many requests."})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
