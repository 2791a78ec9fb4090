package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	domainerrors "github.com/barcodedrop/barcodedrop-server/internal/errors"
	"github.com/barcodedrop/barcodedrop-server/internal/http/response"
	"github.com/barcodedrop/barcodedrop-server/internal/ratelimit"
)

// RateLimitMiddleware limits mutating requests (POST and DELETE) per client IP.
// Reads and WebSocket upgrades pass through. Returns 429 when the limit is
// exceeded.
func RateLimitMiddleware(limiter *ratelimit.KeyedRateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isMutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			key := getClientIP(r)
			if !limiter.Allow(key) {
				logger.Warn("Rate limit exceeded",
					"ip", key,
					"path", r.URL.Path,
				)
				response.Error(w, domainerrors.RateLimited("too many requests, please try again later"), logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isMutating(method string) bool {
	return method == http.MethodPost || method == http.MethodDelete
}

// getClientIP extracts the client IP from the request.
// Checks X-Forwarded-For and X-Real-IP headers before falling back to RemoteAddr.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
